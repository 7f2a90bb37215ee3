package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/claim-pipeline/internal/logging"
	"github.com/claim-pipeline/internal/models"
)

// ClaimStatusCache is a read-through cache for claim status lookups.
// The status endpoint is polled aggressively by wallets waiting on slow
// confirmations; the cache keeps that load off Postgres. Confirmed
// records are immutable and cache longer; pending records use the short
// configured TTL so transitions surface quickly.
type ClaimStatusCache struct {
	cache       *RedisCache
	pendingTTL  time.Duration
	terminalTTL time.Duration
	logger      *logging.Logger
}

// NewClaimStatusCache creates a claim status cache
func NewClaimStatusCache(cache *RedisCache, pendingTTL time.Duration, logger *logging.Logger) *ClaimStatusCache {
	return &ClaimStatusCache{
		cache:       cache,
		pendingTTL:  pendingTTL,
		terminalTTL: 10 * time.Minute,
		logger:      logger,
	}
}

func claimCacheKey(address string) string {
	return fmt.Sprintf("claim:%s", address)
}

// Get returns the cached record for an address, or nil on a miss. Cache
// errors are logged and reported as misses; the cache never blocks a
// status read.
func (c *ClaimStatusCache) Get(ctx context.Context, address string) *models.ClaimRecord {
	data, err := c.cache.Get(ctx, claimCacheKey(address))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("address", address).Warn("Claim cache read failed")
		}
		return nil
	}

	var record models.ClaimRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		c.logger.WithError(err).WithField("address", address).Warn("Claim cache entry corrupt, dropping")
		_ = c.cache.Del(ctx, claimCacheKey(address))
		return nil
	}

	return &record
}

// Put stores a record with a TTL chosen by its status
func (c *ClaimStatusCache) Put(ctx context.Context, record *models.ClaimRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		c.logger.WithError(err).WithField("address", record.Address).Warn("Claim cache marshal failed")
		return
	}

	ttl := c.pendingTTL
	if record.Status.IsTerminal() {
		ttl = c.terminalTTL
	}

	if err := c.cache.Set(ctx, claimCacheKey(record.Address), data, ttl); err != nil {
		c.logger.WithError(err).WithField("address", record.Address).Warn("Claim cache write failed")
	}
}

// Invalidate drops the cached entry after a state transition
func (c *ClaimStatusCache) Invalidate(ctx context.Context, address string) {
	if err := c.cache.Del(ctx, claimCacheKey(address)); err != nil {
		c.logger.WithError(err).WithField("address", address).Warn("Claim cache invalidation failed")
	}
}
