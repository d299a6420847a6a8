package billing

import (
	"errors"
	"fmt"
)

// Domain errors for billing.
var (
	// Customer errors
	ErrCustomerNotFound = errors.New("customer not found")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// Ledger errors
	ErrDuplicateEvent = errors.New("event already claimed")

	// Webhook errors
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrEventTooOld      = errors.New("event too old")

	// Quota errors
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// QuotaExceededError reports a failed quota enforcement with the metric and
// the numbers behind the decision.
type QuotaExceededError struct {
	Metric  QuotaMetric
	Limit   int64
	Current int64
}

// Error implements the error interface.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %d of %d used", e.Metric, e.Current, e.Limit)
}

// Is reports whether target matches the quota-exceeded sentinel.
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}
