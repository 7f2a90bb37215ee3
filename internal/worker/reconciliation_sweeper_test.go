package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claim-pipeline/internal/models"
	"github.com/claim-pipeline/internal/types"
)

const (
	hashConfirmed = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	hashReverted  = "0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b"
	hashSlow      = "0x19f1df2c7ee6b464720ad28e903aeda1a5ad8780afc22f0b960827bd4fcf656d"

	addrA = "0x1b3cb81e51011b549d78bf720b0d924ac763a7c5"
	addrB = "0x28c6c06298d514db089934071355e5743bf21d60"
	addrC = "0xdac17f958d2ee523a2206206994597c13d831ec7"
)

func pending(addr, ref string, age time.Duration) *models.ClaimRecord {
	record := &models.ClaimRecord{
		Address:     addr,
		Status:      types.StatusPending,
		MintAmount:  "1000",
		SubmittedAt: timePtr(time.Now().Add(-age)),
	}
	if ref != "" {
		record.TransactionRef = strPtr(ref)
	}
	return record
}

func newTestSweeper(t *testing.T, store ClaimStore, chain ReceiptSource, bonus BonusGranter) *ReconciliationSweeper {
	t.Helper()
	sweeper, err := NewReconciliationSweeper(&SweeperConfig{
		Store:         store,
		Receipts:      chain,
		Bonus:         bonus,
		TimeoutWindow: 30 * time.Minute,
	})
	require.NoError(t, err)
	return sweeper
}

func TestSweeper_ConfirmsSuccessfulReceipt(t *testing.T) {
	store := newMockStore()
	chain := newMockChain()
	granter := &mockGranter{}

	store.add(pending(addrA, hashConfirmed, time.Minute))
	chain.receipts[hashConfirmed] = types.ReceiptSuccess

	sweeper := newTestSweeper(t, store, chain, granter)
	stats, err := sweeper.SweepNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Confirmed)
	assert.Equal(t, types.StatusConfirmed, store.status(addrA))
	assert.Equal(t, []string{addrA}, granter.granted)
}

func TestSweeper_FailsRevertedReceipt(t *testing.T) {
	store := newMockStore()
	chain := newMockChain()

	store.add(pending(addrA, hashReverted, time.Minute))
	chain.receipts[hashReverted] = types.ReceiptReverted

	sweeper := newTestSweeper(t, store, chain, nil)
	stats, err := sweeper.SweepNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, types.StatusFailed, store.status(addrA))
}

func TestSweeper_LeavesYoungPendingAlone(t *testing.T) {
	store := newMockStore()
	chain := newMockChain()

	store.add(pending(addrA, hashSlow, time.Minute))
	chain.receipts[hashSlow] = types.ReceiptPending

	sweeper := newTestSweeper(t, store, chain, nil)
	stats, err := sweeper.SweepNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.StillPending)
	assert.Equal(t, types.StatusPending, store.status(addrA))
}

func TestSweeper_TimesOutOldPending(t *testing.T) {
	store := newMockStore()
	chain := newMockChain()

	store.add(pending(addrA, hashSlow, time.Hour))
	chain.receipts[hashSlow] = types.ReceiptPending

	sweeper := newTestSweeper(t, store, chain, nil)
	stats, err := sweeper.SweepNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TimedOut)
	assert.Equal(t, types.StatusTimeout, store.status(addrA))
}

func TestSweeper_RepairsSentinelRows(t *testing.T) {
	store := newMockStore()
	chain := newMockChain()

	store.add(pending(addrA, "sentinel:already-funded", time.Minute))
	store.add(pending(addrB, "sentinel:synced-externally", time.Hour))

	sweeper := newTestSweeper(t, store, chain, nil)
	stats, err := sweeper.SweepNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Corrected)
	assert.Equal(t, types.StatusConfirmed, store.status(addrA))
	assert.Equal(t, types.StatusConfirmed, store.status(addrB))
	// Sentinels never reach the chain
	assert.Equal(t, 0, chain.receiptCalls)
}

func TestSweeper_TimesOutStaleRecordsWithoutRef(t *testing.T) {
	store := newMockStore()
	chain := newMockChain()

	// Submitter died before writing a ref; only the sweeper can
	// release the record
	store.add(pending(addrA, "", time.Hour))
	// A fresh refless record stays untouched
	store.add(pending(addrB, "", time.Minute))

	sweeper := newTestSweeper(t, store, chain, nil)
	stats, err := sweeper.SweepNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TimedOut)
	assert.Equal(t, types.StatusTimeout, store.status(addrA))
	assert.Equal(t, types.StatusPending, store.status(addrB))
}

func TestSweeper_IsolatesPerRecordErrors(t *testing.T) {
	store := newMockStore()
	chain := newMockChain()

	store.add(pending(addrA, hashSlow, time.Minute))
	store.add(pending(addrB, hashConfirmed, time.Minute))
	chain.receiptErr[hashSlow] = assert.AnError
	chain.receipts[hashConfirmed] = types.ReceiptSuccess

	sweeper := newTestSweeper(t, store, chain, nil)
	stats, err := sweeper.SweepNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Confirmed)
	assert.Equal(t, types.StatusConfirmed, store.status(addrB))
	assert.Equal(t, types.StatusPending, store.status(addrA))
}

func TestSweeper_EmptySweep(t *testing.T) {
	sweeper := newTestSweeper(t, newMockStore(), newMockChain(), nil)

	stats, err := sweeper.SweepNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SweepStats{}, stats)
}

func TestSweeper_RejectsBadConfig(t *testing.T) {
	_, err := NewReconciliationSweeper(&SweeperConfig{
		Receipts:      newMockChain(),
		TimeoutWindow: time.Minute,
	})
	require.Error(t, err)

	_, err = NewReconciliationSweeper(&SweeperConfig{
		Store:    newMockStore(),
		Receipts: newMockChain(),
	})
	require.Error(t, err)
}
