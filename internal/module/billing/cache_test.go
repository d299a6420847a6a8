package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeCounter mirrors the MeteredCache contract in memory: Get misses on
// absent keys, Seed only writes absent keys, Increment only bumps keys
// that already exist.
type fakeCounter struct {
	mu     sync.Mutex
	values map[string]int64
	getErr error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{values: make(map[string]int64)}
}

func (f *fakeCounter) key(tenantID uuid.UUID, metric QuotaMetric, periodStart time.Time) string {
	return fmt.Sprintf("%s|%s|%d", tenantID, metric, periodStart.Unix())
}

func (f *fakeCounter) Get(_ context.Context, tenantID uuid.UUID, metric QuotaMetric, periodStart time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return 0, f.getErr
	}
	val, ok := f.values[f.key(tenantID, metric, periodStart)]
	if !ok {
		return 0, ErrCacheMiss
	}
	return val, nil
}

func (f *fakeCounter) Seed(_ context.Context, tenantID uuid.UUID, metric QuotaMetric, periodStart, _ time.Time, value int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := f.key(tenantID, metric, periodStart)
	if _, ok := f.values[key]; !ok {
		f.values[key] = value
	}
	return nil
}

func (f *fakeCounter) Increment(_ context.Context, tenantID uuid.UUID, metric QuotaMetric, periodStart, _ time.Time, amount int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := f.key(tenantID, metric, periodStart)
	if _, ok := f.values[key]; !ok {
		return 0, ErrCacheMiss
	}
	f.values[key] += amount
	return f.values[key], nil
}

var _ MeteredCounter = (*fakeCounter)(nil)

func TestQuotaEngine_MeteredCache(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("cold counter is seeded with the store total", func(t *testing.T) {
		sub := activeSubscription(tenantID, PlanTypeStarter)
		counter := newFakeCounter()

		repo := new(MockRepository)
		repo.On("GetActiveSubscription", ctx, tenantID).Return(sub, nil)
		repo.On("MeteredUsageInPeriod", ctx, tenantID, MetricAIRequests,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd).Return(int64(42), nil)

		engine := NewQuotaEngine(repo, counter, nil, zap.NewNop())

		result, err := engine.CheckQuota(ctx, tenantID, MetricAIRequests, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(42), result.Current)

		cached, err := counter.Get(ctx, tenantID, MetricAIRequests, sub.CurrentPeriodStart)
		require.NoError(t, err)
		assert.Equal(t, int64(42), cached)
	})

	t.Run("warm counter answers without a store aggregate", func(t *testing.T) {
		sub := activeSubscription(tenantID, PlanTypeStarter)
		counter := newFakeCounter()
		require.NoError(t, counter.Seed(ctx, tenantID, MetricAIRequests,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd, 5))

		repo := new(MockRepository)
		repo.On("GetActiveSubscription", ctx, tenantID).Return(sub, nil)

		engine := NewQuotaEngine(repo, counter, nil, zap.NewNop())

		result, err := engine.CheckQuota(ctx, tenantID, MetricAIRequests, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(5), result.Current)

		repo.AssertNotCalled(t, "MeteredUsageInPeriod",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("cache failure degrades to the store", func(t *testing.T) {
		sub := activeSubscription(tenantID, PlanTypeStarter)
		counter := newFakeCounter()
		counter.getErr = errors.New("connection refused")

		repo := new(MockRepository)
		repo.On("GetActiveSubscription", ctx, tenantID).Return(sub, nil)
		repo.On("MeteredUsageInPeriod", ctx, tenantID, MetricAIRequests,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd).Return(int64(7), nil)

		engine := NewQuotaEngine(repo, counter, nil, zap.NewNop())

		result, err := engine.CheckQuota(ctx, tenantID, MetricAIRequests, 1)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(7), result.Current)
	})

	t.Run("counter stays coherent across a cold start at the limit", func(t *testing.T) {
		// Starter plan, 200 metered requests per period. The store holds
		// 199, the counter is cold.
		sub := activeSubscription(tenantID, PlanTypeStarter)
		counter := newFakeCounter()

		repo := new(MockRepository)
		repo.On("GetActiveSubscription", ctx, tenantID).Return(sub, nil)
		repo.On("MeteredUsageInPeriod", ctx, tenantID, MetricAIRequests,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd).Return(int64(199), nil)
		repo.On("IncrementMeteredUsage", ctx, tenantID, MetricAIRequests,
			sub.CurrentPeriodStart, int64(1)).Return(nil)

		engine := NewQuotaEngine(repo, counter, nil, zap.NewNop())
		tracker := NewUsageTracker(repo, counter, zap.NewNop())

		result, err := engine.CheckQuota(ctx, tenantID, MetricAIRequests, 1)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(199), result.Current)

		tracker.TrackUsage(ctx, tenantID, MetricAIRequests, 1)

		// The counter was seeded at 199 and incremented to 200, so the
		// next check must deny at the limit instead of reporting a fresh
		// partial count.
		result, err = engine.CheckQuota(ctx, tenantID, MetricAIRequests, 1)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, int64(200), result.Current)
		repo.AssertNumberOfCalls(t, "MeteredUsageInPeriod", 1)
	})

	t.Run("tracking against a cold counter does not create a partial one", func(t *testing.T) {
		sub := activeSubscription(tenantID, PlanTypeStarter)
		counter := newFakeCounter()

		repo := new(MockRepository)
		repo.On("GetActiveSubscription", ctx, tenantID).Return(sub, nil)
		repo.On("IncrementMeteredUsage", ctx, tenantID, MetricAIRequests,
			sub.CurrentPeriodStart, int64(1)).Return(nil)
		repo.On("MeteredUsageInPeriod", ctx, tenantID, MetricAIRequests,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd).Return(int64(200), nil)

		tracker := NewUsageTracker(repo, counter, zap.NewNop())
		tracker.TrackUsage(ctx, tenantID, MetricAIRequests, 1)

		_, err := counter.Get(ctx, tenantID, MetricAIRequests, sub.CurrentPeriodStart)
		assert.ErrorIs(t, err, ErrCacheMiss)

		// The next check reads the store, which includes the tracked
		// request, and seeds the counter from it.
		engine := NewQuotaEngine(repo, counter, nil, zap.NewNop())
		result, err := engine.CheckQuota(ctx, tenantID, MetricAIRequests, 1)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, int64(200), result.Current)
	})

	t.Run("existing value wins over a late seed", func(t *testing.T) {
		sub := activeSubscription(tenantID, PlanTypeStarter)
		counter := newFakeCounter()
		require.NoError(t, counter.Seed(ctx, tenantID, MetricAIRequests,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd, 10))
		require.NoError(t, counter.Seed(ctx, tenantID, MetricAIRequests,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd, 4))

		val, err := counter.Get(ctx, tenantID, MetricAIRequests, sub.CurrentPeriodStart)
		require.NoError(t, err)
		assert.Equal(t, int64(10), val)
	})
}
