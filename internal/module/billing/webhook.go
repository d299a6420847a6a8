package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/casebridge/server/internal/module/payment/provider"
	"github.com/casebridge/server/internal/shared/metrics"
)

// ErrHandlerFailed wraps a handler failure so the HTTP layer can answer 500
// and make Stripe retry the delivery.
var ErrHandlerFailed = errors.New("webhook handler failed")

// WebhookOutcome reports how an accepted webhook delivery ended.
type WebhookOutcome struct {
	EventID      string
	EventType    string
	Deduplicated bool
}

// WebhookService processes inbound Stripe webhook deliveries.
//
// Each delivery walks one path: verify the signature, check freshness,
// claim the event in the idempotency ledger, dispatch to the type handler,
// and on handler failure delete the claim so a retry is not permanently
// deduplicated against a failed attempt.
type WebhookService struct {
	repo     Repository
	provider provider.Provider
	sync     *Synchronizer
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger

	maxEventAge time.Duration
	now         func() time.Time
}

// NewWebhookService creates a new webhook service. m may be nil.
func NewWebhookService(
	repo Repository,
	prov provider.Provider,
	sync *Synchronizer,
	notifier Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
	maxEventAge time.Duration,
) *WebhookService {
	if maxEventAge <= 0 {
		maxEventAge = 5 * time.Minute
	}
	return &WebhookService{
		repo:        repo,
		provider:    prov,
		sync:        sync,
		notifier:    notifier,
		metrics:     m,
		logger:      logger,
		maxEventAge: maxEventAge,
		now:         time.Now,
	}
}

// Process handles one raw webhook delivery.
//
// Returned errors are typed: provider.ErrMissingSignature and
// ErrInvalidSignature map to 400, ErrEventTooOld maps to 400, and anything
// wrapping ErrHandlerFailed maps to 500.
func (s *WebhookService) Process(ctx context.Context, payload []byte, signature string) (*WebhookOutcome, error) {
	event, err := s.provider.VerifyWebhookSignature(payload, signature)
	if err != nil {
		if errors.Is(err, provider.ErrMissingSignature) {
			s.recordEvent("unknown", "invalid")
			return nil, err
		}
		s.recordEvent("unknown", "invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	eventType := string(event.Type)

	// Replayed or leaked payloads carry old timestamps; reject them before
	// touching any state.
	if age := s.now().Sub(time.Unix(event.Created, 0)); age > s.maxEventAge {
		s.recordEvent(eventType, "stale")
		return nil, fmt.Errorf("%w: event %s created %s ago", ErrEventTooOld, event.ID, age)
	}

	// Claim the event. The ledger's unique constraint is the lock: whoever
	// inserts first owns processing, everyone else sees a duplicate.
	claimed := false
	switch err := s.repo.InsertIdempotencyClaim(ctx, event.ID, PurposeProcess, eventType); {
	case err == nil:
		claimed = true
	case errors.Is(err, ErrDuplicateEvent):
		s.logger.Info("webhook event already processed",
			zap.String("event_id", event.ID),
			zap.String("type", eventType),
		)
		s.recordEvent(eventType, "deduplicated")
		return &WebhookOutcome{EventID: event.ID, EventType: eventType, Deduplicated: true}, nil
	default:
		// Bookkeeping failed for some other reason. Processing the event is
		// business-critical, the ledger row is not, so continue without it.
		s.logger.Error("failed to claim webhook event, processing anyway",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}

	if err := s.dispatch(ctx, event); err != nil {
		if claimed {
			if delErr := s.repo.DeleteIdempotencyClaim(ctx, event.ID, PurposeProcess); delErr != nil {
				s.logger.Error("failed to roll back webhook claim",
					zap.String("event_id", event.ID),
					zap.Error(delErr),
				)
			}
		}
		s.recordEvent(eventType, "failed")
		s.logger.Error("webhook handler failed",
			zap.String("event_id", event.ID),
			zap.String("type", eventType),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s: %v", ErrHandlerFailed, eventType, err)
	}

	s.recordEvent(eventType, "processed")
	return &WebhookOutcome{EventID: event.ID, EventType: eventType}, nil
}

// dispatch routes the event to its type-specific handler. Unrecognized
// types are logged and acknowledged without action so a new Stripe event
// type can never break the endpoint.
func (s *WebhookService) dispatch(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "customer.subscription.created":
		return s.handleSubscriptionEvent(ctx, event, NotifySubscriptionCreated)
	case "customer.subscription.updated":
		return s.handleSubscriptionEvent(ctx, event, "")
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, event)
	case "invoice.payment_succeeded":
		return s.handleInvoicePaymentSucceeded(ctx, event)
	case "invoice.payment_failed":
		return s.handleInvoicePaymentFailed(ctx, event)
	case "customer.updated":
		return s.handleCustomerUpdated(ctx, event)
	default:
		s.logger.Debug("unhandled webhook event type",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
		)
		return nil
	}
}

func (s *WebhookService) handleSubscriptionEvent(ctx context.Context, event *stripe.Event, notify NotificationEvent) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	result, err := s.sync.SyncSubscription(ctx, &sub, event.ID)
	if err != nil {
		return err
	}

	if result.Applied && notify != "" && sub.Customer != nil {
		s.notifyOnce(event.ID, sub.Customer.ID, notify, nil)
	}
	return nil
}

func (s *WebhookService) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	result, err := s.sync.MarkDeleted(ctx, &sub, event.ID)
	if err != nil {
		return err
	}

	if result.Applied && sub.Customer != nil {
		s.notifyOnce(event.ID, sub.Customer.ID, NotifySubscriptionCanceled, nil)
	}
	return nil
}

// handleInvoicePaymentSucceeded re-syncs the subscription from a fresh
// retrieve: the invoice payload embeds a stale subscription snapshot, and a
// successful renewal moves the billing period forward.
func (s *WebhookService) handleInvoicePaymentSucceeded(ctx context.Context, event *stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}

	if inv.Subscription == nil {
		s.logger.Debug("invoice without subscription, ignoring",
			zap.String("invoice_id", inv.ID),
		)
		return nil
	}

	sub, err := s.provider.GetSubscription(ctx, inv.Subscription.ID)
	if err != nil {
		return fmt.Errorf("retrieve subscription %s: %w", inv.Subscription.ID, err)
	}

	if _, err := s.sync.SyncSubscription(ctx, sub, event.ID); err != nil {
		return err
	}

	if inv.Customer != nil {
		s.notifyOnce(event.ID, inv.Customer.ID, NotifyPaymentSucceeded, map[string]string{
			"detail": "Amount paid: " + formatAmount(inv.AmountPaid, string(inv.Currency)),
		})
	}
	return nil
}

func (s *WebhookService) handleInvoicePaymentFailed(ctx context.Context, event *stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}

	if inv.Subscription == nil {
		s.logger.Debug("invoice without subscription, ignoring",
			zap.String("invoice_id", inv.ID),
		)
		return nil
	}

	if _, err := s.sync.MarkPastDue(ctx, inv.Subscription.ID, event.ID); err != nil {
		return err
	}

	if inv.Customer != nil {
		s.notifyOnce(event.ID, inv.Customer.ID, NotifyPaymentFailed, nil)
	}
	return nil
}

func (s *WebhookService) handleCustomerUpdated(ctx context.Context, event *stripe.Event) error {
	var cust stripe.Customer
	if err := json.Unmarshal(event.Data.Raw, &cust); err != nil {
		return fmt.Errorf("unmarshal customer: %w", err)
	}
	return s.repo.UpdateCustomerContact(ctx, cust.ID, cust.Email, cust.Name)
}

// notifyOnce dispatches a notification for the event fire-and-forget. The
// ledger deduplicates the side effect per (event id, purpose), so a
// redelivered event that somehow reaches the handler twice still sends at
// most one email. Failures are logged only.
func (s *WebhookService) notifyOnce(eventID, stripeCustomerID string, kind NotificationEvent, details map[string]string) {
	if s.notifier == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		purpose := PurposeNotifyPrefix + string(kind)
		claimed := false
		switch err := s.repo.InsertIdempotencyClaim(ctx, eventID, purpose, string(kind)); {
		case err == nil:
			claimed = true
		case errors.Is(err, ErrDuplicateEvent):
			return
		default:
			s.logger.Warn("notification dedup claim failed, sending anyway",
				zap.String("event_id", eventID),
				zap.Error(err),
			)
		}

		// A claim that never resulted in a delivery must not suppress the
		// retry, same as the processing claim.
		unclaim := func() {
			if !claimed {
				return
			}
			if err := s.repo.DeleteIdempotencyClaim(ctx, eventID, purpose); err != nil {
				s.logger.Warn("failed to roll back notification claim",
					zap.String("event_id", eventID),
					zap.Error(err),
				)
			}
		}

		cust, err := s.repo.GetCustomerByStripeID(ctx, stripeCustomerID)
		if err != nil {
			s.logger.Warn("notification skipped: customer lookup failed",
				zap.String("stripe_customer_id", stripeCustomerID),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
			unclaim()
			return
		}

		if err := s.notifier.Notify(ctx, cust, kind, details); err != nil {
			s.logger.Warn("notification delivery failed",
				zap.String("tenant_id", cust.TenantID.String()),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
			unclaim()
		}
	}()
}

func (s *WebhookService) recordEvent(eventType, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordWebhookEvent(eventType, outcome)
	}
}

func formatAmount(amount int64, currency string) string {
	whole := amount / 100
	cents := amount % 100
	if cents < 0 {
		cents = -cents
	}
	return strconv.FormatInt(whole, 10) + "." + fmt.Sprintf("%02d", cents) + " " + currency
}
