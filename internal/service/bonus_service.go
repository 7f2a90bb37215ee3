package service

import (
	"context"
	"math/big"

	"github.com/google/uuid"

	"github.com/claim-pipeline/internal/config"
	"github.com/claim-pipeline/internal/ledger"
	"github.com/claim-pipeline/internal/logging"
	"github.com/claim-pipeline/internal/models"
	"github.com/claim-pipeline/internal/storage"
	"github.com/claim-pipeline/internal/types"
)

// BonusStore records granted referral bonuses
type BonusStore interface {
	Record(ctx context.Context, bonus *models.ReferralBonus) (bool, error)
	UpdateTransactionRef(ctx context.Context, claimAddress, ref string) error
}

// BonusService mints referral bonuses after confirmed claims. The whole
// path is best effort: a bonus failure is logged and never touches the
// state of the primary claim.
type BonusService struct {
	store   BonusStore
	gateway ledger.Gateway
	events  storage.ClaimEventLog
	cfg     config.BonusConfig
	logger  *logging.Logger
}

// NewBonusService creates a new bonus service
func NewBonusService(
	store BonusStore,
	gateway ledger.Gateway,
	events storage.ClaimEventLog,
	cfg config.BonusConfig,
	logger *logging.Logger,
) *BonusService {
	return &BonusService{
		store:   store,
		gateway: gateway,
		events:  events,
		cfg:     cfg,
		logger:  logger,
	}
}

// Grant mints the bonus owed for a freshly confirmed claim. With a
// referrer on record the bonus goes to the referrer and is recorded;
// without one, the configured fallback address receives the silent
// amount and nothing is recorded.
func (b *BonusService) Grant(ctx context.Context, claim *models.ClaimRecord) {
	log := b.logger.WithField("address", claim.Address)

	if !claim.HasReferrer() {
		b.grantSilent(ctx, log)
		return
	}

	amount, err := b.bonusAmount(claim.MintAmount)
	if err != nil {
		log.WithError(err).Warn("Cannot compute bonus amount, skipping bonus")
		return
	}
	if amount.Sign() <= 0 {
		return
	}

	// Reserve the bonus row before minting. The insert deduplicates:
	// whoever wins the insert owns the mint, everyone else backs off.
	bonus := &models.ReferralBonus{
		ID:              uuid.New().String(),
		ClaimAddress:    claim.Address,
		ReferrerAddress: *claim.ReferrerAddress,
		ReferrerCode:    claim.ReferrerCode,
		BonusAmount:     amount.String(),
		TransactionRef:  "",
	}

	inserted, err := b.store.Record(ctx, bonus)
	if err != nil {
		log.WithError(err).Warn("Failed to reserve bonus, skipping")
		return
	}
	if !inserted {
		return
	}

	txHash, err := b.gateway.Mint(ctx, *claim.ReferrerAddress, amount)
	if err != nil {
		log.WithError(err).WithField("referrer", *claim.ReferrerAddress).Warn("Bonus mint failed")
		return
	}

	ref := types.RealTx(txHash)
	if err := b.store.UpdateTransactionRef(ctx, claim.Address, ref.String()); err != nil {
		log.WithError(err).Warn("Failed to record bonus mint ref")
	}

	if b.events != nil {
		b.events.Record(ctx, &models.ClaimEvent{
			Address:        claim.Address,
			EventType:      models.ClaimEventBonusPaid,
			ToStatus:       types.StatusConfirmed,
			TransactionRef: ref.String(),
		})
	}

	log.WithFields(map[string]interface{}{
		"referrer": *claim.ReferrerAddress,
		"amount":   amount.String(),
		"tx":       txHash,
	}).Info("Referral bonus minted")
}

// grantSilent mints the configured amount to the fallback address.
// Intentionally unrecorded.
func (b *BonusService) grantSilent(ctx context.Context, log *logging.Logger) {
	if b.cfg.FallbackAddress == "" || b.cfg.SilentAmount == "" {
		return
	}

	amount, ok := new(big.Int).SetString(b.cfg.SilentAmount, 10)
	if !ok || amount.Sign() <= 0 {
		return
	}

	if _, err := b.gateway.Mint(ctx, b.cfg.FallbackAddress, amount); err != nil {
		log.WithError(err).Warn("Silent bonus mint failed")
	}
}

// bonusAmount computes the bonus for a claim of the given size
func (b *BonusService) bonusAmount(mintAmount string) (*big.Int, error) {
	switch b.cfg.Mode {
	case config.BonusModePercent:
		base, err := parseAmount(mintAmount)
		if err != nil {
			return nil, err
		}
		bonus := new(big.Int).Mul(base, big.NewInt(int64(b.cfg.PercentBps)))
		return bonus.Div(bonus, big.NewInt(10000)), nil
	default:
		return parseAmount(b.cfg.FixedAmount)
	}
}
