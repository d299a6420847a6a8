package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the interface for billing data access. It is a narrow
// adapter over the relational store; all coordination relies on the store's
// uniqueness and conditional-update guarantees, never on application locks.
type Repository interface {
	// Customer operations
	GetCustomerByTenantID(ctx context.Context, tenantID uuid.UUID) (*Customer, error)
	GetCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*Customer, error)
	InsertCustomerIgnoreDuplicate(ctx context.Context, cust *Customer) error
	SetStripeCustomerIDIfNull(ctx context.Context, tenantID uuid.UUID, stripeCustomerID string) (bool, error)
	UpdateCustomerContact(ctx context.Context, stripeCustomerID, email, name string) error

	// Subscription operations
	GetSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*Subscription, error)
	GetActiveSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
	UpsertSubscription(ctx context.Context, sub *Subscription) error

	// Idempotency ledger
	InsertIdempotencyClaim(ctx context.Context, eventID, purpose, eventType string) error
	DeleteIdempotencyClaim(ctx context.Context, eventID, purpose string) error

	// Usage queries
	CountCases(ctx context.Context, tenantID uuid.UUID) (int64, error)
	MaxDocumentsPerCase(ctx context.Context, tenantID uuid.UUID) (int64, error)
	SumDocumentBytes(ctx context.Context, tenantID uuid.UUID) (int64, error)
	CountTeamMembers(ctx context.Context, tenantID uuid.UUID) (int64, error)
	MeteredUsageInPeriod(ctx context.Context, tenantID uuid.UUID, metric QuotaMetric, periodStart, periodEnd time.Time) (int64, error)
	IncrementMeteredUsage(ctx context.Context, tenantID uuid.UUID, metric QuotaMetric, periodStart time.Time, amount int64) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new billing repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// --- Customer Operations ---

func (r *repository) GetCustomerByTenantID(ctx context.Context, tenantID uuid.UUID) (*Customer, error) {
	var cust Customer
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&cust).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("get customer by tenant id: %w", err)
	}
	return &cust, nil
}

func (r *repository) GetCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*Customer, error) {
	var cust Customer
	err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", stripeCustomerID).
		First(&cust).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("get customer by stripe id: %w", err)
	}
	return &cust, nil
}

// InsertCustomerIgnoreDuplicate inserts a customer row and silently no-ops
// on a tenant_id conflict, so concurrent first-touch callers always end up
// with exactly one row.
func (r *repository) InsertCustomerIgnoreDuplicate(ctx context.Context, cust *Customer) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoNothing: true,
		}).
		Create(cust).Error
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

// SetStripeCustomerIDIfNull is a compare-and-swap on the null state of
// stripe_customer_id. It reports whether this caller's update won.
func (r *repository) SetStripeCustomerIDIfNull(ctx context.Context, tenantID uuid.UUID, stripeCustomerID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&Customer{}).
		Where("tenant_id = ? AND stripe_customer_id IS NULL", tenantID).
		Update("stripe_customer_id", stripeCustomerID)
	if result.Error != nil {
		return false, fmt.Errorf("set stripe customer id: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) UpdateCustomerContact(ctx context.Context, stripeCustomerID, email, name string) error {
	err := r.db.WithContext(ctx).
		Model(&Customer{}).
		Where("stripe_customer_id = ?", stripeCustomerID).
		Updates(map[string]interface{}{
			"email": email,
			"name":  name,
		}).Error
	if err != nil {
		return fmt.Errorf("update customer contact: %w", err)
	}
	return nil
}

// --- Subscription Operations ---

func (r *repository) GetSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*Subscription, error) {
	var sub Subscription
	err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription by stripe id: %w", err)
	}
	return &sub, nil
}

func (r *repository) GetActiveSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	var sub Subscription
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status IN ?", tenantID,
			[]SubscriptionStatus{SubscriptionStatusActive, SubscriptionStatusTrialing}).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get active subscription: %w", err)
	}
	return &sub, nil
}

func (r *repository) UpsertSubscription(ctx context.Context, sub *Subscription) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stripe_subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"tenant_id", "plan_type", "billing_cycle", "status",
				"stripe_customer_id", "current_period_start", "current_period_end",
				"cancel_at_period_end", "canceled_at", "last_event_id", "updated_at",
			}),
		}).
		Create(sub).Error
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// --- Idempotency Ledger ---

// InsertIdempotencyClaim claims one unit of work for an event. A duplicate
// claim surfaces as ErrDuplicateEvent; the unique constraint makes the race
// between concurrent deliveries atomic at the store.
func (r *repository) InsertIdempotencyClaim(ctx context.Context, eventID, purpose, eventType string) error {
	entry := &WebhookEvent{
		EventID:   eventID,
		Purpose:   purpose,
		EventType: eventType,
		CreatedAt: time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Create(entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("insert idempotency claim: %w", err)
	}
	return nil
}

func (r *repository) DeleteIdempotencyClaim(ctx context.Context, eventID, purpose string) error {
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND purpose = ?", eventID, purpose).
		Delete(&WebhookEvent{}).Error
	if err != nil {
		return fmt.Errorf("delete idempotency claim: %w", err)
	}
	return nil
}

// --- Usage Queries ---

func (r *repository) CountCases(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table("cases").
		Where("tenant_id = ? AND deleted_at IS NULL", tenantID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count cases: %w", err)
	}
	return count, nil
}

// MaxDocumentsPerCase returns the largest document count in any single case
// owned by the tenant. The binding constraint is per-case, not tenant-wide.
func (r *repository) MaxDocumentsPerCase(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var max int64
	perCase := r.db.
		Table("documents").
		Select("case_id, COUNT(*) AS doc_count").
		Where("tenant_id = ?", tenantID).
		Group("case_id")
	err := r.db.WithContext(ctx).
		Table("(?) AS per_case", perCase).
		Select("COALESCE(MAX(doc_count), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("max documents per case: %w", err)
	}
	return max, nil
}

func (r *repository) SumDocumentBytes(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Table("documents").
		Select("COALESCE(SUM(size_bytes), 0)").
		Where("tenant_id = ?", tenantID).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum document bytes: %w", err)
	}
	return total, nil
}

func (r *repository) CountTeamMembers(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table("team_members").
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count team members: %w", err)
	}
	if count == 0 {
		// The owner always counts as one member.
		count = 1
	}
	return count, nil
}

func (r *repository) MeteredUsageInPeriod(ctx context.Context, tenantID uuid.UUID, metric QuotaMetric, periodStart, periodEnd time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&MeteredUsage{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("tenant_id = ? AND metric = ? AND period_start >= ? AND period_start < ?",
			tenantID, metric, periodStart, periodEnd).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("metered usage in period: %w", err)
	}
	return total, nil
}

func (r *repository) IncrementMeteredUsage(ctx context.Context, tenantID uuid.UUID, metric QuotaMetric, periodStart time.Time, amount int64) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"}, {Name: "metric"}, {Name: "period_start"},
			},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"amount":     gorm.Expr("metered_usage.amount + ?", amount),
				"updated_at": time.Now().UTC(),
			}),
		}).
		Create(&MeteredUsage{
			TenantID:    tenantID,
			Metric:      metric,
			PeriodStart: periodStart,
			Amount:      amount,
			UpdatedAt:   time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("increment metered usage: %w", err)
	}
	return nil
}

// Compile-time check
var _ Repository = (*repository)(nil)
