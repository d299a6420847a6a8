package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UsageTracker records metered consumption. It is strictly best-effort:
// tracking failures are logged and never propagate to the operation being
// metered.
type UsageTracker struct {
	repo   Repository
	cache  MeteredCounter
	logger *zap.Logger
}

// NewUsageTracker creates a new usage tracker. cache may be nil.
func NewUsageTracker(repo Repository, cache MeteredCounter, logger *zap.Logger) *UsageTracker {
	return &UsageTracker{
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
}

// TrackUsage increments the tenant's metered counter for the metric within
// the current billing period. Without an active subscription there is no
// billing period and the call is a no-op.
func (t *UsageTracker) TrackUsage(ctx context.Context, tenantID uuid.UUID, metric QuotaMetric, amount int64) {
	if amount <= 0 {
		amount = 1
	}

	sub, err := t.repo.GetActiveSubscription(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, ErrSubscriptionNotFound) {
			t.logger.Warn("usage tracking: subscription lookup failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("metric", string(metric)),
				zap.Error(err),
			)
		}
		return
	}

	if err := t.repo.IncrementMeteredUsage(ctx, tenantID, metric, sub.CurrentPeriodStart, amount); err != nil {
		t.logger.Warn("usage tracking: increment failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("metric", string(metric)),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
		return
	}

	if t.cache != nil {
		// A cold counter is left alone; the next quota read seeds it from
		// the store, which already includes this increment.
		if _, err := t.cache.Increment(ctx, tenantID, metric, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, amount); err != nil && !errors.Is(err, ErrCacheMiss) {
			t.logger.Warn("usage tracking: cache increment failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("metric", string(metric)),
				zap.Error(err),
			)
		}
	}
}
