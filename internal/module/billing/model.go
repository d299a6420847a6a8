package billing

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the status of a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
)

// Customer links a tenant to its Stripe customer object.
//
// At most one row exists per tenant. StripeCustomerID starts null and is set
// exactly once by the provisioner; it never changes afterwards.
type Customer struct {
	ID               uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID         uuid.UUID `json:"tenant_id" gorm:"type:uuid;uniqueIndex;not null"`
	StripeCustomerID *string   `json:"-" gorm:"uniqueIndex"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Customer) TableName() string {
	return "billing_customers"
}

// Subscription is the canonical local copy of a Stripe subscription.
//
// Rows are keyed by the Stripe subscription id. LastEventID records the
// webhook event that last wrote the row; a write is skipped when the same
// event id arrives again.
type Subscription struct {
	ID                   uuid.UUID          `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID             uuid.UUID          `json:"tenant_id" gorm:"type:uuid;index;not null"`
	PlanType             PlanType           `json:"plan_type" gorm:"not null"`
	BillingCycle         *BillingCycle      `json:"billing_cycle,omitempty"`
	Status               SubscriptionStatus `json:"status" gorm:"not null"`
	StripeCustomerID     string             `json:"-" gorm:"not null"`
	StripeSubscriptionID string             `json:"-" gorm:"uniqueIndex;not null"`
	CurrentPeriodStart   time.Time          `json:"current_period_start"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end" gorm:"default:false"`
	CanceledAt           *time.Time         `json:"canceled_at,omitempty"`
	LastEventID          string             `json:"-"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// TableName returns the database table name.
func (Subscription) TableName() string {
	return "subscriptions"
}

// IsActive returns true if the subscription is active or trialing.
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
}

// IsCanceled returns true if the subscription is canceled.
func (s *Subscription) IsCanceled() bool {
	return s.Status == SubscriptionStatusCanceled
}

// WebhookEvent is one entry in the idempotency ledger.
//
// The composite unique index on (event_id, purpose) is the atomicity
// boundary: inserting a row claims that unit of work, and a duplicate-key
// failure means another actor already holds the claim.
type WebhookEvent struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	EventID   string    `gorm:"uniqueIndex:idx_webhook_event_purpose;not null"`
	Purpose   string    `gorm:"uniqueIndex:idx_webhook_event_purpose;not null"`
	EventType string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the database table name.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// Ledger purposes. PurposeProcess claims the event for business processing;
// notification purposes deduplicate a single side effect of the event.
const (
	PurposeProcess      = "process"
	PurposeNotifyPrefix = "notify:"
)

// MeteredUsage accumulates metered consumption for one tenant, metric, and
// billing period.
type MeteredUsage struct {
	ID          int64       `gorm:"primaryKey;autoIncrement"`
	TenantID    uuid.UUID   `gorm:"type:uuid;uniqueIndex:idx_metered_tenant_metric_period;not null"`
	Metric      QuotaMetric `gorm:"uniqueIndex:idx_metered_tenant_metric_period;not null"`
	PeriodStart time.Time   `gorm:"uniqueIndex:idx_metered_tenant_metric_period;not null"`
	Amount      int64       `gorm:"not null;default:0"`
	UpdatedAt   time.Time
}

// TableName returns the database table name.
func (MeteredUsage) TableName() string {
	return "metered_usage"
}

// QuotaMetric is a named, independently-limited usage dimension.
type QuotaMetric string

const (
	MetricCases       QuotaMetric = "cases"
	MetricDocuments   QuotaMetric = "documents"
	MetricAIRequests  QuotaMetric = "ai_requests"
	MetricStorage     QuotaMetric = "storage"
	MetricTeamMembers QuotaMetric = "team_members"
)

// AllMetrics lists every quota metric, in dashboard display order.
var AllMetrics = []QuotaMetric{
	MetricCases,
	MetricDocuments,
	MetricAIRequests,
	MetricStorage,
	MetricTeamMembers,
}

// QuotaCheckResult is the computed outcome of a quota check. It is never
// persisted.
//
// For unlimited metrics Current is not computed and must not be relied on.
type QuotaCheckResult struct {
	Metric      QuotaMetric `json:"metric"`
	Allowed     bool        `json:"allowed"`
	IsUnlimited bool        `json:"is_unlimited"`
	Current     int64       `json:"current"`
	Limit       int64       `json:"limit"`     // -1 when unlimited
	Remaining   int64       `json:"remaining"` // -1 when unlimited
	Message     string      `json:"message,omitempty"`
}
