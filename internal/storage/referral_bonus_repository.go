package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	pkgerrors "github.com/claim-pipeline/internal/errors"
	"github.com/claim-pipeline/internal/models"
)

// ReferralBonusRepository records bonus mints issued after confirmed
// claims. One bonus per claim address: the unique constraint makes the
// best-effort bonus path idempotent across retries.
type ReferralBonusRepository struct {
	db *PostgresDB
}

// NewReferralBonusRepository creates a new referral bonus repository
func NewReferralBonusRepository(db *PostgresDB) *ReferralBonusRepository {
	return &ReferralBonusRepository{db: db}
}

// Record inserts a bonus row for a confirmed claim. A conflict on the
// claim address means the bonus was already granted; the duplicate is
// reported so callers can skip the mint.
func (r *ReferralBonusRepository) Record(ctx context.Context, bonus *models.ReferralBonus) (bool, error) {
	result, err := r.db.Pool().Exec(ctx, `
		INSERT INTO referral_bonuses
			(id, claim_address, referrer_address, referrer_code, bonus_amount, transaction_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (claim_address) DO NOTHING`,
		bonus.ID, bonus.ClaimAddress, bonus.ReferrerAddress,
		bonus.ReferrerCode, bonus.BonusAmount, bonus.TransactionRef,
	)
	if err != nil {
		return false, pkgerrors.NewDatabaseError("recordBonus", err)
	}

	return result.RowsAffected() > 0, nil
}

// UpdateTransactionRef fills in the mint reference once the reserved
// bonus has been submitted on chain
func (r *ReferralBonusRepository) UpdateTransactionRef(ctx context.Context, claimAddress, ref string) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE referral_bonuses
		SET transaction_ref = $2
		WHERE claim_address = $1`,
		claimAddress, ref,
	)
	if err != nil {
		return pkgerrors.NewDatabaseError("updateBonusRef", err)
	}
	return nil
}

// GetByClaimAddress retrieves the bonus granted for a claim, if any
func (r *ReferralBonusRepository) GetByClaimAddress(ctx context.Context, claimAddress string) (*models.ReferralBonus, error) {
	row := r.db.Pool().QueryRow(ctx, `
		SELECT id, claim_address, referrer_address, referrer_code,
			bonus_amount, transaction_ref, created_at
		FROM referral_bonuses
		WHERE claim_address = $1`,
		claimAddress,
	)

	var b models.ReferralBonus
	err := row.Scan(&b.ID, &b.ClaimAddress, &b.ReferrerAddress,
		&b.ReferrerCode, &b.BonusAmount, &b.TransactionRef, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, pkgerrors.NewDatabaseError("getBonus", err)
	}

	return &b, nil
}

// ListByReferrer returns all bonuses credited to a referrer address
func (r *ReferralBonusRepository) ListByReferrer(ctx context.Context, referrerAddress string) ([]*models.ReferralBonus, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, claim_address, referrer_address, referrer_code,
			bonus_amount, transaction_ref, created_at
		FROM referral_bonuses
		WHERE referrer_address = $1
		ORDER BY created_at`,
		referrerAddress,
	)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("listBonuses", err)
	}
	defer rows.Close()

	var bonuses []*models.ReferralBonus
	for rows.Next() {
		var b models.ReferralBonus
		if err := rows.Scan(&b.ID, &b.ClaimAddress, &b.ReferrerAddress,
			&b.ReferrerCode, &b.BonusAmount, &b.TransactionRef, &b.CreatedAt); err != nil {
			return nil, pkgerrors.NewDatabaseError("listBonuses", err)
		}
		bonuses = append(bonuses, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("listBonuses", err)
	}

	return bonuses, nil
}
