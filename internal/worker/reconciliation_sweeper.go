package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/claim-pipeline/internal/circuitbreaker"
	"github.com/claim-pipeline/internal/models"
	"github.com/claim-pipeline/internal/storage"
	"github.com/claim-pipeline/internal/types"
)

// ClaimStore is the slice of the claim repository the workers need
type ClaimStore interface {
	ListPendingWithRef(ctx context.Context) ([]*models.ClaimRecord, error)
	ListStalePending(ctx context.Context, cutoff time.Time) ([]*models.ClaimRecord, error)
	ListUnminted(ctx context.Context, limit int) ([]*models.ClaimRecord, error)
	ClaimBatch(ctx context.Context, addresses []string) ([]string, error)
	RecordSubmission(ctx context.Context, address string, ref types.TransactionRef) error
	FinalizeSuccess(ctx context.Context, address string, ref types.TransactionRef) (bool, error)
	FinalizeFailure(ctx context.Context, address string) (bool, error)
	MarkTimeout(ctx context.Context, address string, cutoff time.Time) (bool, error)
	Get(ctx context.Context, address string) (*models.ClaimRecord, error)
}

// ReceiptSource reads confirmation state from the chain
type ReceiptSource interface {
	GetReceipt(ctx context.Context, txHash string) (types.ReceiptStatus, error)
}

// BonusGranter fires the bonus side path after a confirmation
type BonusGranter interface {
	Grant(ctx context.Context, claim *models.ClaimRecord)
}

// SweepStats summarizes one reconciliation pass
type SweepStats struct {
	Scanned      int `json:"scanned"`
	Confirmed    int `json:"confirmed"`
	Failed       int `json:"failed"`
	TimedOut     int `json:"timedOut"`
	StillPending int `json:"stillPending"`
	Corrected    int `json:"corrected"` // sentinel rows promoted to confirmed
	Errors       int `json:"errors"`
}

// ReconciliationSweeper periodically walks pending claims and settles
// them against chain state. It is the only component that moves a claim
// out of pending when the submitting process died, and it repairs rows
// carrying sentinel references that never needed a real transaction.
type ReconciliationSweeper struct {
	store         ClaimStore
	receipts      ReceiptSource
	bonus         BonusGranter
	events        storage.ClaimEventLog
	cache         invalidator
	timeoutWindow time.Duration
	sweepInterval time.Duration
	clock         clockwork.Clock
	breaker       *circuitbreaker.CircuitBreaker

	running bool
	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
}

type invalidator interface {
	Invalidate(ctx context.Context, address string)
}

// SweeperConfig holds configuration for the reconciliation sweeper
type SweeperConfig struct {
	Store         ClaimStore
	Receipts      ReceiptSource
	Bonus         BonusGranter // optional
	Events        storage.ClaimEventLog
	Cache         invalidator // optional
	TimeoutWindow time.Duration
	SweepInterval time.Duration
	Clock         clockwork.Clock // optional; defaults to the real clock
}

// NewReconciliationSweeper creates a new sweeper
func NewReconciliationSweeper(cfg *SweeperConfig) (*ReconciliationSweeper, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("claim store cannot be nil")
	}
	if cfg.Receipts == nil {
		return nil, fmt.Errorf("receipt source cannot be nil")
	}
	if cfg.TimeoutWindow <= 0 {
		return nil, fmt.Errorf("timeout window must be positive, got %v", cfg.TimeoutWindow)
	}

	sweepInterval := cfg.SweepInterval
	if sweepInterval == 0 {
		sweepInterval = 5 * time.Minute
	}

	events := cfg.Events
	if events == nil {
		events = storage.NewNoopEventLog()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &ReconciliationSweeper{
		store:         cfg.Store,
		receipts:      cfg.Receipts,
		bonus:         cfg.Bonus,
		events:        events,
		cache:         cfg.Cache,
		timeoutWindow: cfg.TimeoutWindow,
		sweepInterval: sweepInterval,
		clock:         clock,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("receipts")),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start begins periodic sweeping
func (s *ReconciliationSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper is already running")
	}
	s.running = true
	s.mu.Unlock()

	log.Printf("[Sweeper] Starting with interval %v, timeout window %v", s.sweepInterval, s.timeoutWindow)

	go s.sweepLoop(ctx)
	return nil
}

// Stop gracefully stops the sweeper
func (s *ReconciliationSweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper is not running")
	}
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
		log.Printf("[Sweeper] Stopped gracefully")
	case <-ctx.Done():
		log.Printf("[Sweeper] Stop timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

func (s *ReconciliationSweeper) sweepLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := s.clock.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Sweeper] Context cancelled")
			return
		case <-s.stopCh:
			log.Printf("[Sweeper] Stop signal received")
			return
		case <-ticker.Chan():
			stats, err := s.SweepNow(ctx)
			if err != nil {
				log.Printf("[Sweeper] Sweep error: %v", err)
				continue
			}
			if stats.Scanned > 0 || stats.TimedOut > 0 {
				log.Printf("[Sweeper] Sweep done: scanned=%d confirmed=%d failed=%d timedOut=%d stillPending=%d corrected=%d errors=%d",
					stats.Scanned, stats.Confirmed, stats.Failed, stats.TimedOut, stats.StillPending, stats.Corrected, stats.Errors)
			}
		}
	}
}

// SweepNow runs one reconciliation pass. Errors on individual records
// are counted and skipped so one bad row never stalls the rest.
func (s *ReconciliationSweeper) SweepNow(ctx context.Context) (*SweepStats, error) {
	stats := &SweepStats{}

	records, err := s.store.ListPendingWithRef(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending claims: %w", err)
	}

	cutoff := s.clock.Now().Add(-s.timeoutWindow)

	for _, record := range records {
		stats.Scanned++
		if err := s.reconcile(ctx, record, cutoff, stats); err != nil {
			log.Printf("[Sweeper] Failed to reconcile %s: %v", record.Address, err)
			stats.Errors++
		}
	}

	// Pending rows with no ref past the window: the submitter died
	// before writing one. Only a timeout can release them.
	stale, err := s.store.ListStalePending(ctx, cutoff)
	if err != nil {
		return stats, fmt.Errorf("failed to list stale claims: %w", err)
	}

	for _, record := range stale {
		transitioned, err := s.store.MarkTimeout(ctx, record.Address, cutoff)
		if err != nil {
			log.Printf("[Sweeper] Failed to time out %s: %v", record.Address, err)
			stats.Errors++
			continue
		}
		if transitioned {
			stats.TimedOut++
			s.invalidate(ctx, record.Address)
			s.events.Record(ctx, &models.ClaimEvent{
				Address:    record.Address,
				EventType:  models.ClaimEventTimeout,
				FromStatus: types.StatusPending,
				ToStatus:   types.StatusTimeout,
				Detail:     "no submission reference recorded",
			})
		}
	}

	return stats, nil
}

// reconcile settles one pending record against the chain
func (s *ReconciliationSweeper) reconcile(ctx context.Context, record *models.ClaimRecord, cutoff time.Time, stats *SweepStats) error {
	ref, ok := record.Ref()
	if !ok {
		return fmt.Errorf("malformed transaction ref %q", *record.TransactionRef)
	}

	// Sentinel references mean the claim was satisfied without a mint
	// of its own. A pending row carrying one is a crashed finalization;
	// repair it directly.
	if !ref.IsReal() {
		transitioned, err := s.store.FinalizeSuccess(ctx, record.Address, ref)
		if err != nil {
			return err
		}
		if transitioned {
			stats.Corrected++
			s.afterConfirm(ctx, record, ref, "sentinel row repaired")
		}
		return nil
	}

	var status types.ReceiptStatus
	err := s.breaker.Execute(func() error {
		var rerr error
		status, rerr = s.receipts.GetReceipt(ctx, ref.Hash)
		return rerr
	})
	if err != nil {
		return fmt.Errorf("receipt lookup failed: %w", err)
	}

	switch status {
	case types.ReceiptSuccess:
		transitioned, err := s.store.FinalizeSuccess(ctx, record.Address, ref)
		if err != nil {
			return err
		}
		if transitioned {
			stats.Confirmed++
			s.afterConfirm(ctx, record, ref, "")
		}

	case types.ReceiptReverted:
		transitioned, err := s.store.FinalizeFailure(ctx, record.Address)
		if err != nil {
			return err
		}
		if transitioned {
			stats.Failed++
			s.invalidate(ctx, record.Address)
			s.events.Record(ctx, &models.ClaimEvent{
				Address:        record.Address,
				EventType:      models.ClaimEventFailed,
				FromStatus:     types.StatusPending,
				ToStatus:       types.StatusFailed,
				TransactionRef: ref.String(),
				Detail:         "transaction reverted",
			})
		}

	case types.ReceiptPending:
		if record.SubmittedAt != nil && record.SubmittedAt.Before(cutoff) {
			transitioned, err := s.store.MarkTimeout(ctx, record.Address, cutoff)
			if err != nil {
				return err
			}
			if transitioned {
				stats.TimedOut++
				s.invalidate(ctx, record.Address)
				s.events.Record(ctx, &models.ClaimEvent{
					Address:        record.Address,
					EventType:      models.ClaimEventTimeout,
					FromStatus:     types.StatusPending,
					ToStatus:       types.StatusTimeout,
					TransactionRef: ref.String(),
				})
			}
		} else {
			stats.StillPending++
		}
	}

	return nil
}

func (s *ReconciliationSweeper) afterConfirm(ctx context.Context, record *models.ClaimRecord, ref types.TransactionRef, detail string) {
	s.invalidate(ctx, record.Address)
	s.events.Record(ctx, &models.ClaimEvent{
		Address:        record.Address,
		EventType:      models.ClaimEventConfirmed,
		FromStatus:     types.StatusPending,
		ToStatus:       types.StatusConfirmed,
		TransactionRef: ref.String(),
		Detail:         detail,
	})

	if s.bonus != nil {
		current, err := s.store.Get(ctx, record.Address)
		if err != nil {
			log.Printf("[Sweeper] Skipping bonus for %s: %v", record.Address, err)
			return
		}
		s.bonus.Grant(ctx, current)
	}
}

func (s *ReconciliationSweeper) invalidate(ctx context.Context, address string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, address)
	}
}
