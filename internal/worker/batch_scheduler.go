package worker

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/claim-pipeline/internal/address"
	pkgerrors "github.com/claim-pipeline/internal/errors"
	"github.com/claim-pipeline/internal/ledger"
	"github.com/claim-pipeline/internal/models"
	"github.com/claim-pipeline/internal/storage"
	"github.com/claim-pipeline/internal/types"
)

// BatchStats summarizes one batch mint pass
type BatchStats struct {
	JobID         string `json:"jobId"`
	Discovered    int    `json:"discovered"`
	Submitted     int    `json:"submitted"`
	AlreadyFunded int    `json:"alreadyFunded"`
	Failed        int    `json:"failed"`
	Errors        int    `json:"errors"`
}

// BatchScheduler periodically sweeps registered wallets that never
// claimed and mints for them in batches. A rejected batch falls back to
// individual mints so one bad recipient cannot starve the rest; a batch
// whose outcome is unknown is left to the reconciliation sweeper.
type BatchScheduler struct {
	store            ClaimStore
	gateway          ledger.Gateway
	events           storage.ClaimEventLog
	cache            invalidator
	batchSize        int
	interval         time.Duration
	skipBalanceCheck bool
	clock            clockwork.Clock

	running bool
	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// BatchSchedulerConfig holds configuration for the batch scheduler
type BatchSchedulerConfig struct {
	Store            ClaimStore
	Gateway          ledger.Gateway
	Events           storage.ClaimEventLog
	Cache            invalidator // optional
	BatchSize        int
	Interval         time.Duration
	SkipBalanceCheck bool
	Clock            clockwork.Clock // optional; defaults to the real clock
}

// NewBatchScheduler creates a new batch scheduler
func NewBatchScheduler(cfg *BatchSchedulerConfig) (*BatchScheduler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("claim store cannot be nil")
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = 15 * time.Minute
	}

	events := cfg.Events
	if events == nil {
		events = storage.NewNoopEventLog()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &BatchScheduler{
		store:            cfg.Store,
		gateway:          cfg.Gateway,
		events:           events,
		cache:            cfg.Cache,
		batchSize:        batchSize,
		interval:         interval,
		skipBalanceCheck: cfg.SkipBalanceCheck,
		clock:            clock,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}, nil
}

// Start begins periodic batch minting
func (b *BatchScheduler) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("batch scheduler is already running")
	}
	b.running = true
	b.mu.Unlock()

	log.Printf("[BatchScheduler] Starting with interval %v, batch size %d", b.interval, b.batchSize)

	go b.runLoop(ctx)
	return nil
}

// Stop gracefully stops the scheduler
func (b *BatchScheduler) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return fmt.Errorf("batch scheduler is not running")
	}
	b.mu.Unlock()

	close(b.stopCh)

	select {
	case <-b.doneCh:
		log.Printf("[BatchScheduler] Stopped gracefully")
	case <-ctx.Done():
		log.Printf("[BatchScheduler] Stop timed out")
		return ctx.Err()
	}

	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	return nil
}

func (b *BatchScheduler) runLoop(ctx context.Context) {
	defer close(b.doneCh)

	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[BatchScheduler] Context cancelled")
			return
		case <-b.stopCh:
			log.Printf("[BatchScheduler] Stop signal received")
			return
		case <-ticker.Chan():
			stats, err := b.RunNow(ctx)
			if err != nil {
				log.Printf("[BatchScheduler] Run error: %v", err)
				continue
			}
			if stats.Discovered > 0 {
				log.Printf("[BatchScheduler] Job %s done: discovered=%d submitted=%d alreadyFunded=%d failed=%d errors=%d",
					stats.JobID, stats.Discovered, stats.Submitted, stats.AlreadyFunded, stats.Failed, stats.Errors)
			}
		}
	}
}

// RunNow executes one batch pass: discover unminted wallets, promote a
// chunk to pending, and mint for them in a single transaction.
func (b *BatchScheduler) RunNow(ctx context.Context) (*BatchStats, error) {
	job := &models.BatchJob{
		JobID:     uuid.New().String(),
		CreatedAt: b.clock.Now(),
	}
	stats := &BatchStats{JobID: job.JobID}

	records, err := b.store.ListUnminted(ctx, b.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list unminted wallets: %w", err)
	}
	if len(records) == 0 {
		return stats, nil
	}

	amounts := make(map[string]*big.Int, len(records))
	var candidates []string
	for _, record := range records {
		amount, ok := new(big.Int).SetString(record.MintAmount, 10)
		if !ok || amount.Sign() <= 0 {
			log.Printf("[BatchScheduler] Skipping %s: malformed amount %q", record.Address, record.MintAmount)
			stats.Errors++
			continue
		}
		amounts[record.Address] = amount
		candidates = append(candidates, record.Address)
	}

	// Defensive: normalized addresses are unique in the store, but a
	// duplicate in a batch mint would double-pay.
	unique, dupes := address.Dedupe(candidates)
	if dupes > 0 {
		log.Printf("[BatchScheduler] Dropped %d duplicate addresses", dupes)
	}

	// Only addresses still unclaimed at this instant join the batch;
	// wallets that claimed for themselves in the meantime are skipped
	claimed, err := b.store.ClaimBatch(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}
	stats.Discovered = len(claimed)
	if len(claimed) == 0 {
		return stats, nil
	}

	toMint := b.filterFunded(ctx, claimed, amounts, stats)
	if len(toMint) == 0 {
		return stats, nil
	}

	job.Addresses = toMint
	job.Amounts = make([]*big.Int, len(toMint))
	for i, addr := range toMint {
		job.Amounts[i] = amounts[addr]
	}

	txHash, err := b.gateway.BatchMint(ctx, job.Addresses, job.Amounts)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeSubmissionRejected) {
			// A rejection proves the batch minted nothing, so each
			// wallet can be retried on its own without double-paying
			log.Printf("[BatchScheduler] Batch mint rejected, falling back to individual mints: %v", err)
			b.mintIndividually(ctx, toMint, amounts, stats)
			return stats, nil
		}
		// Ambiguous: the batch transaction may still land. The rows
		// stay pending and the sweeper settles them.
		log.Printf("[BatchScheduler] Batch mint outcome unknown, leaving %d claims pending: %v", len(toMint), err)
		stats.Errors += len(toMint)
		return stats, nil
	}

	ref := types.RealTx(txHash)
	for _, addr := range toMint {
		if err := b.store.RecordSubmission(ctx, addr, ref); err != nil {
			log.Printf("[BatchScheduler] Failed to record submission for %s: %v", addr, err)
			stats.Errors++
			continue
		}
		stats.Submitted++
		b.invalidate(ctx, addr)
		b.events.Record(ctx, &models.ClaimEvent{
			Address:        addr,
			EventType:      models.ClaimEventSubmitted,
			ToStatus:       types.StatusPending,
			TransactionRef: ref.String(),
			Detail:         "batch " + job.JobID,
		})
	}

	return stats, nil
}

// filterFunded drops recipients whose balance already covers their
// claim, finalizing them with the already-funded sentinel
func (b *BatchScheduler) filterFunded(ctx context.Context, addrs []string, amounts map[string]*big.Int, stats *BatchStats) []string {
	if b.skipBalanceCheck {
		return addrs
	}

	var toMint []string
	for _, addr := range addrs {
		balance, err := b.gateway.BalanceOf(ctx, addr)
		if err != nil {
			// Unknown balance is not proof of anything; mint normally
			toMint = append(toMint, addr)
			continue
		}
		if balance.Cmp(amounts[addr]) >= 0 {
			ref := types.AlreadyFunded()
			if _, err := b.store.FinalizeSuccess(ctx, addr, ref); err != nil {
				log.Printf("[BatchScheduler] Failed to finalize funded wallet %s: %v", addr, err)
				stats.Errors++
				continue
			}
			stats.AlreadyFunded++
			b.invalidate(ctx, addr)
			b.events.Record(ctx, &models.ClaimEvent{
				Address:        addr,
				EventType:      models.ClaimEventConfirmed,
				FromStatus:     types.StatusPending,
				ToStatus:       types.StatusConfirmed,
				TransactionRef: ref.String(),
				Detail:         "balance already covers claim",
			})
			continue
		}
		toMint = append(toMint, addr)
	}
	return toMint
}

// mintIndividually is the fallback after a rejected batch. Each wallet is
// isolated: a rejection fails that claim alone, an ambiguous error
// leaves it pending for the sweeper.
func (b *BatchScheduler) mintIndividually(ctx context.Context, addrs []string, amounts map[string]*big.Int, stats *BatchStats) {
	for _, addr := range addrs {
		txHash, err := b.gateway.Mint(ctx, addr, amounts[addr])
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeSubmissionRejected) {
				if _, ferr := b.store.FinalizeFailure(ctx, addr); ferr != nil {
					log.Printf("[BatchScheduler] Failed to record rejection for %s: %v", addr, ferr)
					stats.Errors++
					continue
				}
				stats.Failed++
				b.invalidate(ctx, addr)
				b.events.Record(ctx, &models.ClaimEvent{
					Address:    addr,
					EventType:  models.ClaimEventFailed,
					FromStatus: types.StatusPending,
					ToStatus:   types.StatusFailed,
					Detail:     err.Error(),
				})
				continue
			}
			// Ambiguous: may have landed. The sweeper settles it.
			log.Printf("[BatchScheduler] Mint outcome unknown for %s: %v", addr, err)
			stats.Errors++
			continue
		}

		ref := types.RealTx(txHash)
		if err := b.store.RecordSubmission(ctx, addr, ref); err != nil {
			log.Printf("[BatchScheduler] Failed to record submission for %s: %v", addr, err)
			stats.Errors++
			continue
		}
		stats.Submitted++
		b.invalidate(ctx, addr)
		b.events.Record(ctx, &models.ClaimEvent{
			Address:        addr,
			EventType:      models.ClaimEventSubmitted,
			ToStatus:       types.StatusPending,
			TransactionRef: ref.String(),
		})
	}
}

func (b *BatchScheduler) invalidate(ctx context.Context, address string) {
	if b.cache != nil {
		b.cache.Invalidate(ctx, address)
	}
}
