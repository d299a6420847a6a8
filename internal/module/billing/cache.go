package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss indicates the counter is not in the cache.
var ErrCacheMiss = errors.New("cache miss")

// MeteredCounter is the fast-path counter surface used by the quota engine
// and the usage tracker. Implemented by MeteredCache; nil disables the fast
// path entirely.
type MeteredCounter interface {
	Get(ctx context.Context, tenantID uuid.UUID, metric QuotaMetric, periodStart time.Time) (int64, error)
	Seed(ctx context.Context, tenantID uuid.UUID, metric QuotaMetric, periodStart, periodEnd time.Time, value int64) error
	Increment(ctx context.Context, tenantID uuid.UUID, metric QuotaMetric, periodStart, periodEnd time.Time, amount int64) (int64, error)
}

// incrementIfExists bumps the counter only when the key is already present.
// A cold key must be seeded from the store first: an INCRBY that creates the
// key would hold only the increments seen since the key vanished, and that
// partial total would shadow the real one for the rest of the period.
var incrementIfExists = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return false
	end
	local val = redis.call('INCRBY', KEYS[1], ARGV[1])
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return val
`)

// MeteredCache keeps per-period metered counters in Redis so quota checks
// on hot paths avoid a store aggregate. The durable truth stays in the
// metered_usage table; the cache is best-effort and expires with the
// billing period.
type MeteredCache struct {
	client *redis.Client
}

// NewMeteredCache creates a new metered usage cache.
func NewMeteredCache(client *redis.Client) *MeteredCache {
	return &MeteredCache{client: client}
}

func (c *MeteredCache) key(tenantID uuid.UUID, metric QuotaMetric, periodStart time.Time) string {
	return fmt.Sprintf("metered:%s:%s:%s", metric, tenantID.String(), periodStart.UTC().Format("2006-01-02"))
}

func (c *MeteredCache) ttl(periodEnd time.Time) time.Duration {
	return time.Until(periodEnd) + 24*time.Hour
}

// Get returns the cached counter value, or ErrCacheMiss when absent.
func (c *MeteredCache) Get(ctx context.Context, tenantID uuid.UUID, metric QuotaMetric, periodStart time.Time) (int64, error) {
	val, err := c.client.Get(ctx, c.key(tenantID, metric, periodStart)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrCacheMiss
		}
		return 0, err
	}
	return val, nil
}

// Seed establishes the counter from the store total. SETNX keeps a racing
// increment's result intact: if the key appeared since the caller's miss,
// the seed is a no-op.
func (c *MeteredCache) Seed(ctx context.Context, tenantID uuid.UUID, metric QuotaMetric, periodStart, periodEnd time.Time, value int64) error {
	ttl := c.ttl(periodEnd)
	if ttl <= 0 {
		return nil
	}
	return c.client.SetNX(ctx, c.key(tenantID, metric, periodStart), value, ttl).Err()
}

// Increment adds amount to an existing counter and refreshes its expiry to
// the end of the billing period plus a day of slack. Returns ErrCacheMiss
// when the key is absent; the counter stays cold until the next quota read
// seeds it from the store.
func (c *MeteredCache) Increment(ctx context.Context, tenantID uuid.UUID, metric QuotaMetric, periodStart, periodEnd time.Time, amount int64) (int64, error) {
	ttl := c.ttl(periodEnd)
	if ttl <= 0 {
		return 0, ErrCacheMiss
	}

	key := c.key(tenantID, metric, periodStart)
	val, err := incrementIfExists.Run(ctx, c.client, []string{key}, amount, ttl.Milliseconds()).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrCacheMiss
		}
		return 0, err
	}
	return val, nil
}
