package storage

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claim-pipeline/internal/logging"
	"github.com/claim-pipeline/internal/models"
	"github.com/claim-pipeline/internal/types"
)

func newTestCache(t *testing.T) (*ClaimStatusCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := NewClaimStatusCache(
		NewRedisCacheFromClient(client),
		30*time.Second,
		logging.NewLogger(logging.LevelError, logging.FormatText),
	)
	return cache, mr
}

func TestClaimStatusCache_PutGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := testContext(t)

	ref := "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	record := &models.ClaimRecord{
		Address:        "0xabc0000000000000000000000000000000000001",
		Status:         types.StatusPending,
		TransactionRef: &ref,
		MintAmount:     "1000",
	}

	cache.Put(ctx, record)

	got := cache.Get(ctx, record.Address)
	require.NotNil(t, got)
	assert.Equal(t, record.Address, got.Address)
	assert.Equal(t, types.StatusPending, got.Status)
	require.NotNil(t, got.TransactionRef)
	assert.Equal(t, ref, *got.TransactionRef)
}

func TestClaimStatusCache_Miss(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := testContext(t)

	got := cache.Get(ctx, "0xabc0000000000000000000000000000000000002")
	assert.Nil(t, got)
}

func TestClaimStatusCache_PendingExpires(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := testContext(t)

	record := &models.ClaimRecord{
		Address: "0xabc0000000000000000000000000000000000003",
		Status:  types.StatusPending,
	}
	cache.Put(ctx, record)

	mr.FastForward(time.Minute)

	assert.Nil(t, cache.Get(ctx, record.Address))
}

func TestClaimStatusCache_TerminalOutlivesPendingTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := testContext(t)

	record := &models.ClaimRecord{
		Address: "0xabc0000000000000000000000000000000000004",
		Status:  types.StatusConfirmed,
	}
	cache.Put(ctx, record)

	// Past the pending TTL but inside the terminal TTL
	mr.FastForward(time.Minute)

	got := cache.Get(ctx, record.Address)
	require.NotNil(t, got)
	assert.Equal(t, types.StatusConfirmed, got.Status)
}

func TestClaimStatusCache_Invalidate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := testContext(t)

	record := &models.ClaimRecord{
		Address: "0xabc0000000000000000000000000000000000005",
		Status:  types.StatusPending,
	}
	cache.Put(ctx, record)
	cache.Invalidate(ctx, record.Address)

	assert.Nil(t, cache.Get(ctx, record.Address))
}

func TestClaimStatusCache_CorruptEntryDropped(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := testContext(t)

	addr := "0xabc0000000000000000000000000000000000006"
	require.NoError(t, mr.Set("claim:"+addr, "{not json"))

	assert.Nil(t, cache.Get(ctx, addr))

	// The corrupt entry is deleted so the next read goes to the store
	exists := mr.Exists("claim:" + addr)
	assert.False(t, exists)
}
