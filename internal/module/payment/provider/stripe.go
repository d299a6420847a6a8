package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	portalsession "github.com/stripe/stripe-go/v76/billingportal/session"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrMissingSignature is returned when the webhook signature header is absent.
var ErrMissingSignature = errors.New("missing webhook signature header")

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// StripeProvider implements the Provider interface for Stripe.
type StripeProvider struct {
	apiKey        string
	webhookSecret string
	breaker       *gobreaker.CircuitBreaker[any]
}

// NewStripeProvider creates a new Stripe provider. Outbound API calls run
// through a circuit breaker so a Stripe outage fails fast instead of tying
// up request handlers.
func NewStripeProvider(config *StripeConfig) *StripeProvider {
	stripe.Key = config.APIKey

	settings := gobreaker.Settings{
		Name:    "stripe",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &StripeProvider{
		apiKey:        config.APIKey,
		webhookSecret: config.WebhookSecret,
		breaker:       gobreaker.NewCircuitBreaker[any](settings),
	}
}

// Name returns the provider name.
func (p *StripeProvider) Name() string {
	return "stripe"
}

// --- Webhooks ---

func (p *StripeProvider) VerifyWebhookSignature(payload []byte, signature string) (*stripe.Event, error) {
	if signature == "" {
		return nil, ErrMissingSignature
	}
	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("verify webhook signature: %w", err)
	}
	return &event, nil
}

// --- Customer Management ---

func (p *StripeProvider) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*Customer, error) {
	result, err := p.breaker.Execute(func() (any, error) {
		params := &stripe.CustomerParams{
			Email: stripe.String(email),
		}
		if name != "" {
			params.Name = stripe.String(name)
		}
		if len(metadata) > 0 {
			params.Metadata = make(map[string]string, len(metadata))
			for k, v := range metadata {
				params.Metadata[k] = v
			}
		}
		return customer.New(params)
	})
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}

	c := result.(*stripe.Customer)
	return &Customer{
		ID:    c.ID,
		Email: c.Email,
		Name:  c.Name,
	}, nil
}

func (p *StripeProvider) DeleteCustomer(ctx context.Context, customerID string) error {
	_, err := p.breaker.Execute(func() (any, error) {
		return customer.Del(customerID, nil)
	})
	if err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	return nil
}

// --- Subscriptions ---

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	result, err := p.breaker.Execute(func() (any, error) {
		return subscription.Get(subscriptionID, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return result.(*stripe.Subscription), nil
}

// --- Hosted Sessions ---

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (*CheckoutSession, error) {
	result, err := p.breaker.Execute(func() (any, error) {
		params := &stripe.CheckoutSessionParams{
			Customer: stripe.String(customerID),
			Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
			LineItems: []*stripe.CheckoutSessionLineItemParams{
				{
					Price:    stripe.String(priceID),
					Quantity: stripe.Int64(1),
				},
			},
			SuccessURL: stripe.String(successURL),
			CancelURL:  stripe.String(cancelURL),
		}
		return session.New(params)
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	s := result.(*stripe.CheckoutSession)
	return &CheckoutSession{
		ID:  s.ID,
		URL: s.URL,
	}, nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	result, err := p.breaker.Execute(func() (any, error) {
		params := &stripe.BillingPortalSessionParams{
			Customer:  stripe.String(customerID),
			ReturnURL: stripe.String(returnURL),
		}
		return portalsession.New(params)
	})
	if err != nil {
		return nil, fmt.Errorf("create portal session: %w", err)
	}

	s := result.(*stripe.BillingPortalSession)
	return &PortalSession{URL: s.URL}, nil
}

// Compile-time check
var _ Provider = (*StripeProvider)(nil)
