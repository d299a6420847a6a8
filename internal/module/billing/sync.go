package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
)

// SyncResult reports the outcome of a synchronization.
type SyncResult struct {
	Applied bool
	Skipped bool
	Reason  string
}

// Synchronizer maps Stripe subscription objects into canonical local state.
// Writes are idempotent per event id: re-applying an event that already
// wrote the row is a no-op.
type Synchronizer struct {
	repo   Repository
	logger *zap.Logger
}

// NewSynchronizer creates a new subscription synchronizer.
func NewSynchronizer(repo Repository, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		repo:   repo,
		logger: logger,
	}
}

// SyncSubscription upserts the local subscription row from the Stripe
// subscription object. When eventID is non-empty and matches the stored
// last_event_id, the write is skipped entirely.
//
// A missing local customer is fatal: it means provisioning never ran for
// this tenant, which is an ordering bug upstream, not something to retry
// silently.
func (s *Synchronizer) SyncSubscription(ctx context.Context, sub *stripe.Subscription, eventID string) (*SyncResult, error) {
	if sub.Customer == nil {
		return nil, fmt.Errorf("subscription %s has no customer reference", sub.ID)
	}

	cust, err := s.repo.GetCustomerByStripeID(ctx, sub.Customer.ID)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return nil, fmt.Errorf("sync subscription %s: %w for stripe customer %s",
				sub.ID, ErrCustomerNotFound, sub.Customer.ID)
		}
		return nil, fmt.Errorf("resolve customer: %w", err)
	}

	if eventID != "" {
		existing, err := s.repo.GetSubscriptionByStripeID(ctx, sub.ID)
		if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
			return nil, fmt.Errorf("load existing subscription: %w", err)
		}
		if existing != nil && existing.LastEventID == eventID {
			s.logger.Debug("skipping duplicate subscription event",
				zap.String("subscription_id", sub.ID),
				zap.String("event_id", eventID),
			)
			return &SyncResult{Skipped: true, Reason: "duplicate_event"}, nil
		}
	}

	plan, cycle := ResolvePrice(priceIDOf(sub))

	row := &Subscription{
		TenantID:             cust.TenantID,
		PlanType:             plan,
		BillingCycle:         cycle,
		Status:               SubscriptionStatus(sub.Status),
		StripeCustomerID:     sub.Customer.ID,
		StripeSubscriptionID: sub.ID,
		CurrentPeriodStart:   time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:     time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		LastEventID:          eventID,
		UpdatedAt:            time.Now().UTC(),
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0).UTC()
		row.CanceledAt = &t
	}

	if err := s.repo.UpsertSubscription(ctx, row); err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}

	s.logger.Info("subscription synchronized",
		zap.String("subscription_id", sub.ID),
		zap.String("tenant_id", cust.TenantID.String()),
		zap.String("plan", string(plan)),
		zap.String("status", string(sub.Status)),
	)
	return &SyncResult{Applied: true}, nil
}

// MarkDeleted flips the local subscription to canceled. Stripe sends the
// deletion as its own event type, so it gets its own handler rather than
// flowing through the generic upsert path.
func (s *Synchronizer) MarkDeleted(ctx context.Context, sub *stripe.Subscription, eventID string) (*SyncResult, error) {
	existing, err := s.repo.GetSubscriptionByStripeID(ctx, sub.ID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			// Nothing local to cancel; the creation event may never have
			// reached us. Acknowledge rather than fail.
			s.logger.Warn("deletion event for unknown subscription",
				zap.String("subscription_id", sub.ID),
			)
			return &SyncResult{Skipped: true, Reason: "unknown_subscription"}, nil
		}
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	if eventID != "" && existing.LastEventID == eventID {
		return &SyncResult{Skipped: true, Reason: "duplicate_event"}, nil
	}

	existing.Status = SubscriptionStatusCanceled
	existing.LastEventID = eventID
	existing.UpdatedAt = time.Now().UTC()
	if existing.CanceledAt == nil {
		now := time.Now().UTC()
		if sub.CanceledAt > 0 {
			now = time.Unix(sub.CanceledAt, 0).UTC()
		}
		existing.CanceledAt = &now
	}

	if err := s.repo.UpsertSubscription(ctx, existing); err != nil {
		return nil, fmt.Errorf("mark subscription canceled: %w", err)
	}

	s.logger.Info("subscription canceled",
		zap.String("subscription_id", sub.ID),
		zap.String("tenant_id", existing.TenantID.String()),
	)
	return &SyncResult{Applied: true}, nil
}

// MarkPastDue records a failed recurring payment against the subscription.
func (s *Synchronizer) MarkPastDue(ctx context.Context, stripeSubID, eventID string) (*SyncResult, error) {
	existing, err := s.repo.GetSubscriptionByStripeID(ctx, stripeSubID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			s.logger.Warn("payment failure for unknown subscription",
				zap.String("subscription_id", stripeSubID),
			)
			return &SyncResult{Skipped: true, Reason: "unknown_subscription"}, nil
		}
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	if eventID != "" && existing.LastEventID == eventID {
		return &SyncResult{Skipped: true, Reason: "duplicate_event"}, nil
	}

	existing.Status = SubscriptionStatusPastDue
	existing.LastEventID = eventID
	existing.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpsertSubscription(ctx, existing); err != nil {
		return nil, fmt.Errorf("mark subscription past due: %w", err)
	}
	return &SyncResult{Applied: true}, nil
}

// priceIDOf extracts the first line item's price id, empty when absent.
func priceIDOf(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	if sub.Items.Data[0].Price == nil {
		return ""
	}
	return sub.Items.Data[0].Price.ID
}
