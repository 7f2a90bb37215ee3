package service

import (
	"context"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/claim-pipeline/internal/address"
	pkgerrors "github.com/claim-pipeline/internal/errors"
	"github.com/claim-pipeline/internal/ledger"
	"github.com/claim-pipeline/internal/logging"
	"github.com/claim-pipeline/internal/models"
	"github.com/claim-pipeline/internal/retry"
	"github.com/claim-pipeline/internal/storage"
	"github.com/claim-pipeline/internal/types"
)

// ClaimStore is the durable claim state the service transitions through
type ClaimStore interface {
	BeginClaim(ctx context.Context, address, mintAmount string) (*storage.BeginClaimResult, error)
	RecordSubmission(ctx context.Context, address string, ref types.TransactionRef) error
	FinalizeSuccess(ctx context.Context, address string, ref types.TransactionRef) (bool, error)
	FinalizeFailure(ctx context.Context, address string) (bool, error)
	ResetForRetry(ctx context.Context, address string) (*models.ClaimRecord, error)
	RegisterIntent(ctx context.Context, address, mintAmount string) error
	SetReferrer(ctx context.Context, address, referrerAddress, referrerCode string) error
	Get(ctx context.Context, address string) (*models.ClaimRecord, error)
	ListTerminalFailed(ctx context.Context) ([]*models.ClaimRecord, error)
}

// StatusCache is an optional read-through cache in front of Get
type StatusCache interface {
	Get(ctx context.Context, address string) *models.ClaimRecord
	Put(ctx context.Context, record *models.ClaimRecord)
	Invalidate(ctx context.Context, address string)
}

// ClaimServiceConfig holds the knobs of the claim orchestration flow
type ClaimServiceConfig struct {
	// SubmitWait is how long a claim request blocks waiting for
	// confirmation before detaching to the background
	SubmitWait time.Duration

	// ReceiptPollInterval is the cadence of receipt polling after a
	// submission was accepted
	ReceiptPollInterval time.Duration

	// ReceiptPollBudget bounds background receipt polling per claim.
	// A submission still unconfirmed after the budget stays pending
	// for the reconciliation sweeper to resolve.
	ReceiptPollBudget time.Duration

	// SkipBalanceCheck disables the pre-mint balance probe
	SkipBalanceCheck bool
}

// ClaimService orchestrates the claim lifecycle: one in-flight
// submission per wallet, a bounded wait for confirmation, and a
// detached background completion path for slow chains.
type ClaimService struct {
	store   ClaimStore
	gateway ledger.Gateway
	bonus   *BonusService
	cache   StatusCache
	events  storage.ClaimEventLog
	clock   clockwork.Clock
	cfg     ClaimServiceConfig
	logger  *logging.Logger
}

// NewClaimService creates a new claim service. Bonus and cache may be
// nil; both are optional side paths.
func NewClaimService(
	store ClaimStore,
	gateway ledger.Gateway,
	bonus *BonusService,
	cache StatusCache,
	events storage.ClaimEventLog,
	clock clockwork.Clock,
	cfg ClaimServiceConfig,
	logger *logging.Logger,
) *ClaimService {
	if events == nil {
		events = storage.NewNoopEventLog()
	}
	return &ClaimService{
		store:   store,
		gateway: gateway,
		bonus:   bonus,
		cache:   cache,
		events:  events,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// ClaimInput represents a wallet's claim request
type ClaimInput struct {
	Address         string `json:"address"`
	Amount          string `json:"amount"`
	ReferrerAddress string `json:"referrerAddress,omitempty"`
	ReferrerCode    string `json:"referrerCode,omitempty"`
}

// ClaimOutcome labels what the claim request produced
type ClaimOutcome string

const (
	// OutcomeConfirmed means the mint confirmed within the wait window
	OutcomeConfirmed ClaimOutcome = "confirmed"
	// OutcomePending means the submission detached and will complete in
	// the background
	OutcomePending ClaimOutcome = "pending"
	// OutcomeAlreadyClaimed means a previous claim already confirmed
	OutcomeAlreadyClaimed ClaimOutcome = "already_claimed"
	// OutcomeFailed means the submission was rejected within the wait
	OutcomeFailed ClaimOutcome = "failed"
)

// ClaimResult is what a claim request returns to the wallet
type ClaimResult struct {
	Outcome        ClaimOutcome      `json:"outcome"`
	Address        string            `json:"address"`
	Status         types.ClaimStatus `json:"status"`
	TransactionRef *string           `json:"transactionRef,omitempty"`
}

// SubmitClaim runs the claim flow for a wallet. The call blocks up to
// SubmitWait; if the chain is slower than that, the submission detaches
// and the wallet polls GetStatus for the final state.
func (s *ClaimService) SubmitClaim(ctx context.Context, input *ClaimInput) (*ClaimResult, error) {
	addr, err := address.Normalize(input.Address)
	if err != nil {
		return nil, err
	}

	amount, err := parseAmount(input.Amount)
	if err != nil {
		return nil, err
	}

	begin, err := s.store.BeginClaim(ctx, addr, amount.String())
	if err != nil {
		return nil, err
	}

	switch begin.Outcome {
	case storage.BeginAlreadyConfirmed:
		return &ClaimResult{
			Outcome:        OutcomeAlreadyClaimed,
			Address:        addr,
			Status:         types.StatusConfirmed,
			TransactionRef: begin.Record.TransactionRef,
		}, nil

	case storage.BeginInFlight:
		return nil, pkgerrors.NewInFlightError(addr)

	case storage.BeginRetryRequired:
		return nil, pkgerrors.NewRetryRequiredError(addr, begin.Record.Status)
	}

	// Ownership acquired: this goroutine is the only submitter for the
	// address until the record leaves pending.
	s.recordReferrer(ctx, addr, input.ReferrerAddress, input.ReferrerCode)
	s.invalidateCache(ctx, addr)
	s.events.Record(ctx, &models.ClaimEvent{
		Address:    addr,
		EventType:  models.ClaimEventStarted,
		FromStatus: types.StatusUnclaimed,
		ToStatus:   types.StatusPending,
	})

	return s.runSubmission(ctx, addr, amount)
}

// RetryClaim re-opens a failed or timed-out claim and submits again
func (s *ClaimService) RetryClaim(ctx context.Context, rawAddress string) (*ClaimResult, error) {
	addr, err := address.Normalize(rawAddress)
	if err != nil {
		return nil, err
	}

	record, err := s.store.ResetForRetry(ctx, addr)
	if err != nil {
		return nil, err
	}

	amount, err := parseAmount(record.MintAmount)
	if err != nil {
		return nil, pkgerrors.NewInternalError("stored mint amount is malformed", err)
	}

	s.invalidateCache(ctx, addr)
	s.events.Record(ctx, &models.ClaimEvent{
		Address:   addr,
		EventType: models.ClaimEventRetried,
		ToStatus:  types.StatusPending,
	})

	return s.runSubmission(ctx, addr, amount)
}

// RegisterIntent records a wallet before it claims, so the batch
// scheduler can mint for it later
func (s *ClaimService) RegisterIntent(ctx context.Context, input *ClaimInput) error {
	addr, err := address.Normalize(input.Address)
	if err != nil {
		return err
	}

	amount, err := parseAmount(input.Amount)
	if err != nil {
		return err
	}

	if err := s.store.RegisterIntent(ctx, addr, amount.String()); err != nil {
		return err
	}

	s.recordReferrer(ctx, addr, input.ReferrerAddress, input.ReferrerCode)
	s.events.Record(ctx, &models.ClaimEvent{
		Address:   addr,
		EventType: models.ClaimEventRegistered,
		ToStatus:  types.StatusUnclaimed,
	})

	return nil
}

// GetStatus returns the current claim record for a wallet
func (s *ClaimService) GetStatus(ctx context.Context, rawAddress string) (*models.ClaimRecord, error) {
	addr, err := address.Normalize(rawAddress)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if cached := s.cache.Get(ctx, addr); cached != nil {
			return cached, nil
		}
	}

	record, err := s.store.Get(ctx, addr)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Put(ctx, record)
	}

	return record, nil
}

// ListRetryable returns claims sitting in failed or timeout, the
// candidates for the explicit retry trigger
func (s *ClaimService) ListRetryable(ctx context.Context) ([]*models.ClaimRecord, error) {
	return s.store.ListTerminalFailed(ctx)
}

// runSubmission starts the mint in the background and waits up to
// SubmitWait for it to reach a terminal outcome. The background
// goroutine keeps going after the wait expires; it owns the record
// until it finishes or gives up and leaves it for the sweeper.
func (s *ClaimService) runSubmission(ctx context.Context, addr string, amount *big.Int) (*ClaimResult, error) {
	done := make(chan *ClaimResult, 1)

	// The mint must not die with the request context
	bgCtx := context.WithoutCancel(ctx)

	go func() {
		done <- s.mintAndFinalize(bgCtx, addr, amount)
	}()

	select {
	case result := <-done:
		if result.Outcome == OutcomeFailed {
			return result, pkgerrors.NewSubmissionRejectedError("mint", nil)
		}
		return result, nil
	case <-s.clock.After(s.cfg.SubmitWait):
		s.logger.WithField("address", addr).Info("Claim wait expired, submission detached")
		return &ClaimResult{
			Outcome: OutcomePending,
			Address: addr,
			Status:  types.StatusPending,
		}, nil
	case <-ctx.Done():
		// Caller went away; the background goroutine carries on
		return &ClaimResult{
			Outcome: OutcomePending,
			Address: addr,
			Status:  types.StatusPending,
		}, nil
	}
}

// mintAndFinalize drives one submission to a terminal record state, or
// leaves it pending for the sweeper when the chain is too slow
func (s *ClaimService) mintAndFinalize(ctx context.Context, addr string, amount *big.Int) *ClaimResult {
	log := s.logger.WithField("address", addr)

	// A prior ambiguous submission may have landed. If tokens are
	// already there, minting again would double-pay.
	if !s.cfg.SkipBalanceCheck {
		if funded, ok := s.alreadyFunded(ctx, addr, amount); ok && funded {
			ref := types.AlreadyFunded()
			return s.confirm(ctx, addr, ref, "balance already covers claim")
		}
	}

	txHash, err := s.gateway.Mint(ctx, addr, amount)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeSubmissionRejected) {
			log.WithError(err).Warn("Mint rejected by chain")
			if _, ferr := s.store.FinalizeFailure(ctx, addr); ferr != nil {
				log.WithError(ferr).Error("Failed to record mint rejection")
			}
			s.invalidateCache(ctx, addr)
			s.events.Record(ctx, &models.ClaimEvent{
				Address:    addr,
				EventType:  models.ClaimEventFailed,
				FromStatus: types.StatusPending,
				ToStatus:   types.StatusFailed,
				Detail:     err.Error(),
			})
			return &ClaimResult{Outcome: OutcomeFailed, Address: addr, Status: types.StatusFailed}
		}

		// Connectivity failure: the transaction may or may not have
		// reached the network. Never resubmit here; leave the record
		// pending and let the sweeper or the balance probe on retry
		// decide.
		log.WithError(err).Warn("Mint submission outcome unknown, leaving pending")
		return &ClaimResult{Outcome: OutcomePending, Address: addr, Status: types.StatusPending}
	}

	ref := types.RealTx(txHash)
	if err := s.store.RecordSubmission(ctx, addr, ref); err != nil {
		log.WithError(err).Error("Failed to record submission ref")
	}
	s.invalidateCache(ctx, addr)
	s.events.Record(ctx, &models.ClaimEvent{
		Address:        addr,
		EventType:      models.ClaimEventSubmitted,
		ToStatus:       types.StatusPending,
		TransactionRef: ref.String(),
	})

	return s.awaitReceipt(ctx, addr, ref)
}

// awaitReceipt polls the chain until the submission confirms, reverts,
// or the polling budget runs out
func (s *ClaimService) awaitReceipt(ctx context.Context, addr string, ref types.TransactionRef) *ClaimResult {
	log := s.logger.WithFields(map[string]interface{}{
		"address": addr,
		"tx":      ref.Hash,
	})

	deadline := s.clock.Now().Add(s.cfg.ReceiptPollBudget)

	for s.clock.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return &ClaimResult{Outcome: OutcomePending, Address: addr, Status: types.StatusPending}
		case <-s.clock.After(s.cfg.ReceiptPollInterval):
		}

		status, err := s.gateway.GetReceipt(ctx, ref.Hash)
		if err != nil {
			log.WithError(err).Debug("Receipt poll failed")
			continue
		}

		switch status {
		case types.ReceiptSuccess:
			return s.confirm(ctx, addr, ref, "")
		case types.ReceiptReverted:
			log.Warn("Mint reverted on chain")
			if _, err := s.store.FinalizeFailure(ctx, addr); err != nil {
				log.WithError(err).Error("Failed to record revert")
			}
			s.invalidateCache(ctx, addr)
			s.events.Record(ctx, &models.ClaimEvent{
				Address:        addr,
				EventType:      models.ClaimEventFailed,
				FromStatus:     types.StatusPending,
				ToStatus:       types.StatusFailed,
				TransactionRef: ref.String(),
				Detail:         "transaction reverted",
			})
			return &ClaimResult{Outcome: OutcomeFailed, Address: addr, Status: types.StatusFailed}
		}
	}

	log.Info("Receipt poll budget exhausted, leaving for sweeper")
	return &ClaimResult{Outcome: OutcomePending, Address: addr, Status: types.StatusPending}
}

// confirm finalizes a successful mint and fires the bonus side path
// when this call performed the transition
func (s *ClaimService) confirm(ctx context.Context, addr string, ref types.TransactionRef, detail string) *ClaimResult {
	// The mint is on chain at this point; the durable write must land
	// or the record stays pending despite tokens having moved
	var transitioned bool
	err := retry.WithRetry(ctx, func(ctx context.Context, attempt int) error {
		var ferr error
		transitioned, ferr = s.store.FinalizeSuccess(ctx, addr, ref)
		return ferr
	})
	if err != nil {
		s.logger.WithError(err).WithField("address", addr).Error("Failed to finalize confirmed mint")
		return &ClaimResult{Outcome: OutcomePending, Address: addr, Status: types.StatusPending}
	}
	s.invalidateCache(ctx, addr)

	if transitioned {
		s.events.Record(ctx, &models.ClaimEvent{
			Address:        addr,
			EventType:      models.ClaimEventConfirmed,
			FromStatus:     types.StatusPending,
			ToStatus:       types.StatusConfirmed,
			TransactionRef: ref.String(),
			Detail:         detail,
		})

		if s.bonus != nil {
			record, err := s.store.Get(ctx, addr)
			if err != nil {
				s.logger.WithError(err).WithField("address", addr).Warn("Skipping bonus, record read failed")
			} else {
				s.bonus.Grant(ctx, record)
			}
		}
	}

	refStr := ref.String()
	return &ClaimResult{
		Outcome:        OutcomeConfirmed,
		Address:        addr,
		Status:         types.StatusConfirmed,
		TransactionRef: &refStr,
	}
}

// alreadyFunded probes the wallet's balance. The second return reports
// whether the probe produced an answer at all.
func (s *ClaimService) alreadyFunded(ctx context.Context, addr string, amount *big.Int) (bool, bool) {
	balance, err := s.gateway.BalanceOf(ctx, addr)
	if err != nil {
		s.logger.WithError(err).WithField("address", addr).Debug("Balance probe failed, proceeding with mint")
		return false, false
	}
	return balance.Cmp(amount) >= 0, true
}

func (s *ClaimService) recordReferrer(ctx context.Context, addr, referrerAddress, referrerCode string) {
	if referrerAddress == "" {
		return
	}

	normalized, err := address.Normalize(referrerAddress)
	if err != nil {
		s.logger.WithField("address", addr).Warn("Ignoring malformed referrer address")
		return
	}
	if normalized == addr {
		s.logger.WithField("address", addr).Warn("Ignoring self-referral")
		return
	}

	if err := s.store.SetReferrer(ctx, addr, normalized, referrerCode); err != nil {
		s.logger.WithError(err).WithField("address", addr).Warn("Failed to record referrer")
	}
}

func (s *ClaimService) invalidateCache(ctx context.Context, addr string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, addr)
	}
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, pkgerrors.NewInvalidAmountError(raw)
	}
	return amount, nil
}
