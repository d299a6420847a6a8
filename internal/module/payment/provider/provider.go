package provider

import (
	"context"

	"github.com/stripe/stripe-go/v76"
)

// Customer represents a customer object at the payment provider.
type Customer struct {
	ID    string
	Email string
	Name  string
}

// CheckoutSession represents a hosted checkout session.
type CheckoutSession struct {
	ID  string
	URL string
}

// PortalSession represents a hosted billing portal session.
type PortalSession struct {
	URL string
}

// Provider defines the interface for the external payment provider.
//
// Webhook payloads are passed through as stripe types: the synchronizer
// consumes the provider's subscription object as delivered, it does not
// re-shape it.
type Provider interface {
	Name() string

	// VerifyWebhookSignature verifies the signature of an inbound webhook
	// payload and returns the parsed event. It must fail closed: a missing
	// or invalid signature rejects the payload before any field is trusted.
	VerifyWebhookSignature(payload []byte, signature string) (*stripe.Event, error)

	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*Customer, error)
	DeleteCustomer(ctx context.Context, customerID string) error

	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)

	CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error)
}
