package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casebridge/server/internal/shared/metrics"
)

// QuotaEngine computes per-metric usage against the tenant's plan limits.
//
// Checks are soft enforcement for UX purposes only: two concurrent checks
// can both pass and both write. The store-level constraint is the authority
// that prevents actual violation; nothing here takes a lock.
type QuotaEngine struct {
	repo    Repository
	cache   MeteredCounter
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewQuotaEngine creates a new quota engine. cache and m may be nil.
func NewQuotaEngine(repo Repository, cache MeteredCounter, m *metrics.Metrics, logger *zap.Logger) *QuotaEngine {
	return &QuotaEngine{
		repo:    repo,
		cache:   cache,
		metrics: m,
		logger:  logger,
	}
}

// CheckQuota reports whether the tenant may consume required more units of
// the metric.
//
// Unlimited metrics short-circuit before any usage computation; callers
// must not rely on Current being accurate in that case.
func (e *QuotaEngine) CheckQuota(ctx context.Context, tenantID uuid.UUID, metric QuotaMetric, required int64) (*QuotaCheckResult, error) {
	if required <= 0 {
		required = 1
	}

	sub, err := e.repo.GetActiveSubscription(ctx, tenantID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("resolve subscription: %w", err)
	}

	plan := PlanTypeFree
	if sub != nil {
		plan = sub.PlanType
	}

	limit, unlimited := LimitsFor(plan).LimitFor(metric)
	if unlimited {
		e.recordCheck(metric, true)
		return &QuotaCheckResult{
			Metric:      metric,
			Allowed:     true,
			IsUnlimited: true,
			Current:     0,
			Limit:       Unlimited,
			Remaining:   Unlimited,
		}, nil
	}

	current, err := e.currentUsage(ctx, tenantID, metric, sub)
	if err != nil {
		return nil, fmt.Errorf("compute usage for %s: %w", metric, err)
	}

	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}

	result := &QuotaCheckResult{
		Metric:    metric,
		Allowed:   current+required <= limit,
		Current:   current,
		Limit:     limit,
		Remaining: remaining,
	}
	if !result.Allowed {
		result.Message = fmt.Sprintf(
			"You have reached the %s limit for your plan (%d). Upgrade your plan to continue.",
			metric, limit,
		)
	}

	e.recordCheck(metric, result.Allowed)
	return result, nil
}

// EnforceQuota is a thin wrapper over CheckQuota that fails with a
// QuotaExceededError when the check is not allowed. This is the soft gate;
// the store constraint remains the hard one.
func (e *QuotaEngine) EnforceQuota(ctx context.Context, tenantID uuid.UUID, metric QuotaMetric, required int64) error {
	result, err := e.CheckQuota(ctx, tenantID, metric, required)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return &QuotaExceededError{
			Metric:  metric,
			Limit:   result.Limit,
			Current: result.Current,
		}
	}
	return nil
}

// QuotaStatus computes the check result for every metric, for the tenant's
// usage dashboard.
func (e *QuotaEngine) QuotaStatus(ctx context.Context, tenantID uuid.UUID) ([]*QuotaCheckResult, error) {
	results := make([]*QuotaCheckResult, 0, len(AllMetrics))
	for _, metric := range AllMetrics {
		result, err := e.CheckQuota(ctx, tenantID, metric, 1)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// currentUsage computes the metric's usage per its own rule: counts for
// countable resources, a per-case maximum for documents, a byte sum for
// storage, and period-bound metered sums for AI requests.
func (e *QuotaEngine) currentUsage(ctx context.Context, tenantID uuid.UUID, metric QuotaMetric, sub *Subscription) (int64, error) {
	switch metric {
	case MetricCases:
		return e.repo.CountCases(ctx, tenantID)
	case MetricDocuments:
		return e.repo.MaxDocumentsPerCase(ctx, tenantID)
	case MetricStorage:
		return e.repo.SumDocumentBytes(ctx, tenantID)
	case MetricTeamMembers:
		return e.repo.CountTeamMembers(ctx, tenantID)
	case MetricAIRequests:
		return e.meteredUsage(ctx, tenantID, sub)
	default:
		return 0, fmt.Errorf("unknown quota metric %q", metric)
	}
}

// meteredUsage reads the current billing period's metered counter. Without
// an active subscription there is no billing period, so usage is zero.
//
// The cache is read-through: a cold counter is answered from the store and
// seeded with the store total, so later increments land on the full count
// rather than starting a fresh partial one.
func (e *QuotaEngine) meteredUsage(ctx context.Context, tenantID uuid.UUID, sub *Subscription) (int64, error) {
	if sub == nil {
		return 0, nil
	}

	seed := false
	if e.cache != nil {
		used, err := e.cache.Get(ctx, tenantID, MetricAIRequests, sub.CurrentPeriodStart)
		switch {
		case err == nil:
			return used, nil
		case errors.Is(err, ErrCacheMiss):
			seed = true
		default:
			e.logger.Warn("metered cache read failed, falling back to store",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
		}
	}

	used, err := e.repo.MeteredUsageInPeriod(ctx, tenantID, MetricAIRequests,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	if err != nil {
		return 0, err
	}

	if seed {
		if err := e.cache.Seed(ctx, tenantID, MetricAIRequests,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd, used); err != nil {
			e.logger.Warn("metered cache seed failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
		}
	}
	return used, nil
}

func (e *QuotaEngine) recordCheck(metric QuotaMetric, allowed bool) {
	if e.metrics != nil {
		e.metrics.RecordQuotaCheck(string(metric), allowed)
	}
}
