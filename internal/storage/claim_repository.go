package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	pkgerrors "github.com/claim-pipeline/internal/errors"
	"github.com/claim-pipeline/internal/models"
	"github.com/claim-pipeline/internal/types"
)

// BeginClaimOutcome describes what BeginClaim found for the address
type BeginClaimOutcome string

const (
	// BeginStarted means the record is now pending and the caller owns the submission
	BeginStarted BeginClaimOutcome = "started"
	// BeginAlreadyConfirmed means the claim already succeeded; idempotent no-op
	BeginAlreadyConfirmed BeginClaimOutcome = "already_confirmed"
	// BeginInFlight means another submission is in progress for this address
	BeginInFlight BeginClaimOutcome = "in_flight"
	// BeginRetryRequired means the record is failed/timeout and needs an explicit retry
	BeginRetryRequired BeginClaimOutcome = "retry_required"
)

// BeginClaimResult is the outcome of the atomic check-and-transition
type BeginClaimResult struct {
	Outcome BeginClaimOutcome
	Record  *models.ClaimRecord
}

// ClaimRepository is the durable store of claim records. Each mutation is
// atomic with respect to a single record: transitions run inside a
// transaction holding a row lock, or as conditional single-statement
// updates. This is the pipeline's sole serialization point per wallet.
type ClaimRepository struct {
	db *PostgresDB
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(db *PostgresDB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

const claimColumns = `address, status, transaction_ref, mint_amount,
	referrer_address, referrer_code, submitted_at, confirmed_at,
	created_at, updated_at`

func scanClaim(row pgx.Row) (*models.ClaimRecord, error) {
	var c models.ClaimRecord
	err := row.Scan(
		&c.Address,
		&c.Status,
		&c.TransactionRef,
		&c.MintAmount,
		&c.ReferrerAddress,
		&c.ReferrerCode,
		&c.SubmittedAt,
		&c.ConfirmedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// BeginClaim atomically claims the right to submit a mint for an address.
// It inserts a pending record if none exists, promotes an unclaimed
// record to pending, and otherwise reports the blocking state. A pending
// record blocks regardless of whether a transaction ref has been written
// yet: the first caller may be between begin and mint-return.
func (r *ClaimRepository) BeginClaim(ctx context.Context, address, mintAmount string) (*BeginClaimResult, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("beginClaim", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck // no-op after commit

	row := tx.QueryRow(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE address = $1 FOR UPDATE`,
		address,
	)

	existing, err := scanClaim(row)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, pkgerrors.NewDatabaseError("beginClaim", err)
	}

	if existing == nil {
		row := tx.QueryRow(ctx, `
			INSERT INTO claims (address, status, mint_amount, submitted_at)
			VALUES ($1, $2, $3, now())
			RETURNING `+claimColumns,
			address, types.StatusPending, mintAmount,
		)
		created, err := scanClaim(row)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("beginClaim", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, pkgerrors.NewDatabaseError("beginClaim", err)
		}
		return &BeginClaimResult{Outcome: BeginStarted, Record: created}, nil
	}

	switch existing.Status {
	case types.StatusUnclaimed:
		row := tx.QueryRow(ctx, `
			UPDATE claims
			SET status = $2, mint_amount = $3, submitted_at = now(), updated_at = now()
			WHERE address = $1
			RETURNING `+claimColumns,
			address, types.StatusPending, mintAmount,
		)
		updated, err := scanClaim(row)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("beginClaim", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, pkgerrors.NewDatabaseError("beginClaim", err)
		}
		return &BeginClaimResult{Outcome: BeginStarted, Record: updated}, nil

	case types.StatusPending:
		return &BeginClaimResult{Outcome: BeginInFlight, Record: existing}, nil

	case types.StatusConfirmed:
		return &BeginClaimResult{Outcome: BeginAlreadyConfirmed, Record: existing}, nil

	case types.StatusFailed, types.StatusTimeout:
		return &BeginClaimResult{Outcome: BeginRetryRequired, Record: existing}, nil
	}

	return nil, pkgerrors.NewInternalError(
		fmt.Sprintf("claim for %s has unknown status %s", address, existing.Status), nil)
}

// RecordSubmission stores the transaction reference for an accepted
// submission while the record is still pending. A record that has already
// left pending (sweeper raced us) is left untouched.
func (r *ClaimRepository) RecordSubmission(ctx context.Context, address string, ref types.TransactionRef) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE claims
		SET transaction_ref = $2, updated_at = now()
		WHERE address = $1 AND status = $3`,
		address, ref.String(), types.StatusPending,
	)
	if err != nil {
		return pkgerrors.NewDatabaseError("recordSubmission", err)
	}
	return nil
}

// FinalizeSuccess marks a claim confirmed with its transaction reference.
// A chain confirmation is ground truth, so the transition applies from
// any non-confirmed status, including timeout. Calling it again on an
// already confirmed record is a no-op, which supports at-least-once
// delivery of the background completion path. Returns whether this call
// performed the transition, so side effects tied to confirmation fire
// exactly once.
func (r *ClaimRepository) FinalizeSuccess(ctx context.Context, address string, ref types.TransactionRef) (bool, error) {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE claims
		SET status = $2, transaction_ref = $3,
			confirmed_at = COALESCE(confirmed_at, now()), updated_at = now()
		WHERE address = $1 AND status <> $2`,
		address, types.StatusConfirmed, ref.String(),
	)
	if err != nil {
		return false, pkgerrors.NewDatabaseError("finalizeSuccess", err)
	}

	if result.RowsAffected() == 0 {
		existing, err := r.Get(ctx, address)
		if err != nil {
			return false, err
		}
		if existing.Status == types.StatusConfirmed {
			return false, nil
		}
		return false, pkgerrors.NewInvalidStateError(address, existing.Status, "finalize")
	}

	return true, nil
}

// FinalizeFailure marks a pending claim failed after a non-retryable
// submission rejection. If the record already reached confirmed (the
// sweeper observed a success receipt first), the confirmation wins and
// this is a no-op. Returns whether this call performed the transition.
func (r *ClaimRepository) FinalizeFailure(ctx context.Context, address string) (bool, error) {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE claims
		SET status = $2, updated_at = now()
		WHERE address = $1 AND status = $3`,
		address, types.StatusFailed, types.StatusPending,
	)
	if err != nil {
		return false, pkgerrors.NewDatabaseError("finalizeFailure", err)
	}

	if result.RowsAffected() == 0 {
		existing, err := r.Get(ctx, address)
		if err != nil {
			return false, err
		}
		if existing.Status.IsTerminal() {
			return false, nil
		}
		return false, pkgerrors.NewInvalidStateError(address, existing.Status, "fail")
	}

	return true, nil
}

// MarkTimeout transitions pending to timeout, but only when the record
// is still pending and its submission is older than the cutoff. The age
// check happens inside the statement so a concurrent confirmation cannot
// be raced into a timeout. Returns whether a transition happened.
func (r *ClaimRepository) MarkTimeout(ctx context.Context, address string, cutoff time.Time) (bool, error) {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE claims
		SET status = $2, updated_at = now()
		WHERE address = $1 AND status = $3 AND submitted_at <= $4`,
		address, types.StatusTimeout, types.StatusPending, cutoff,
	)
	if err != nil {
		return false, pkgerrors.NewDatabaseError("markTimeout", err)
	}

	return result.RowsAffected() > 0, nil
}

// ResetForRetry moves a failed or timeout record back to pending and
// clears its transaction reference, making a new submission possible.
// Any other status is an invalid transition.
func (r *ClaimRepository) ResetForRetry(ctx context.Context, address string) (*models.ClaimRecord, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("resetForRetry", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck // no-op after commit

	row := tx.QueryRow(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE address = $1 FOR UPDATE`,
		address,
	)

	existing, err := scanClaim(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.NewClaimNotFoundError(address)
		}
		return nil, pkgerrors.NewDatabaseError("resetForRetry", err)
	}

	if existing.Status != types.StatusFailed && existing.Status != types.StatusTimeout {
		return nil, pkgerrors.NewInvalidStateError(address, existing.Status, "retry")
	}

	row = tx.QueryRow(ctx, `
		UPDATE claims
		SET status = $2, transaction_ref = NULL, submitted_at = now(),
			confirmed_at = NULL, updated_at = now()
		WHERE address = $1
		RETURNING `+claimColumns,
		address, types.StatusPending,
	)
	updated, err := scanClaim(row)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("resetForRetry", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, pkgerrors.NewDatabaseError("resetForRetry", err)
	}

	return updated, nil
}

// RegisterIntent records a wallet's registration as an unclaimed row.
// Existing records are left untouched; registration never regresses a
// claim that has already progressed.
func (r *ClaimRepository) RegisterIntent(ctx context.Context, address, mintAmount string) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO claims (address, status, mint_amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO NOTHING`,
		address, types.StatusUnclaimed, mintAmount,
	)
	if err != nil {
		return pkgerrors.NewDatabaseError("registerIntent", err)
	}
	return nil
}

// SetReferrer records the referrer for a claim, at most once. A second
// write for the same address is silently ignored, which closes the
// referral-stealing race.
func (r *ClaimRepository) SetReferrer(ctx context.Context, address, referrerAddress, referrerCode string) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE claims
		SET referrer_address = $2, referrer_code = $3, updated_at = now()
		WHERE address = $1 AND referrer_address IS NULL`,
		address, referrerAddress, referrerCode,
	)
	if err != nil {
		return pkgerrors.NewDatabaseError("setReferrer", err)
	}
	return nil
}

// Get retrieves a claim record by normalized address
func (r *ClaimRepository) Get(ctx context.Context, address string) (*models.ClaimRecord, error) {
	row := r.db.Pool().QueryRow(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE address = $1`,
		address,
	)

	record, err := scanClaim(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.NewClaimNotFoundError(address)
		}
		return nil, pkgerrors.NewDatabaseError("get", err)
	}

	return record, nil
}

// ListPendingWithRef returns pending claims holding a transaction
// reference, the sweeper's reconciliation working set.
func (r *ClaimRepository) ListPendingWithRef(ctx context.Context) ([]*models.ClaimRecord, error) {
	return r.list(ctx, `
		SELECT `+claimColumns+` FROM claims
		WHERE status = $1 AND transaction_ref IS NOT NULL
		ORDER BY submitted_at`,
		types.StatusPending,
	)
}

// ListTerminalFailed returns claims stuck in failed or timeout, the set
// an operator retry can act on
func (r *ClaimRepository) ListTerminalFailed(ctx context.Context) ([]*models.ClaimRecord, error) {
	return r.list(ctx, `
		SELECT `+claimColumns+` FROM claims
		WHERE status = $1 OR status = $2
		ORDER BY updated_at`,
		types.StatusFailed, types.StatusTimeout,
	)
}

// ListStalePending returns pending claims with no transaction reference
// whose submission window has elapsed. These are submissions that died
// between begin and mint-return (typically a crash) and can only be
// released by a timeout transition.
func (r *ClaimRepository) ListStalePending(ctx context.Context, cutoff time.Time) ([]*models.ClaimRecord, error) {
	return r.list(ctx, `
		SELECT `+claimColumns+` FROM claims
		WHERE status = $1 AND transaction_ref IS NULL AND submitted_at <= $2
		ORDER BY submitted_at`,
		types.StatusPending, cutoff,
	)
}

// ListUnminted returns registered wallets with no submission yet, the
// batch scheduler's discovery set.
func (r *ClaimRepository) ListUnminted(ctx context.Context, limit int) ([]*models.ClaimRecord, error) {
	return r.list(ctx, `
		SELECT `+claimColumns+` FROM claims
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2`,
		types.StatusUnclaimed, limit,
	)
}

// ClaimBatch atomically promotes a set of unclaimed addresses to pending
// and returns those actually promoted. Addresses claimed concurrently
// through another path are skipped, preserving the one-in-flight
// invariant for the batch mint path.
func (r *ClaimRepository) ClaimBatch(ctx context.Context, addresses []string) ([]string, error) {
	rows, err := r.db.Pool().Query(ctx, `
		UPDATE claims
		SET status = $2, submitted_at = now(), updated_at = now()
		WHERE address = ANY($1) AND status = $3
		RETURNING address`,
		addresses, types.StatusPending, types.StatusUnclaimed,
	)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("claimBatch", err)
	}
	defer rows.Close()

	var claimed []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, pkgerrors.NewDatabaseError("claimBatch", err)
		}
		claimed = append(claimed, addr)
	}

	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("claimBatch", err)
	}

	return claimed, nil
}

func (r *ClaimRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.ClaimRecord, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list", err)
	}
	defer rows.Close()

	var records []*models.ClaimRecord
	for rows.Next() {
		record, err := scanClaim(rows)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("list", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("list", err)
	}

	return records, nil
}
