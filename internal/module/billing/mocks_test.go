package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stripe/stripe-go/v76"

	"github.com/casebridge/server/internal/module/payment/provider"
)

// --- Mock implementations ---

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetCustomerByTenantID(ctx context.Context, tenantID uuid.UUID) (*Customer, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Customer), args.Error(1)
}

func (m *MockRepository) GetCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*Customer, error) {
	args := m.Called(ctx, stripeCustomerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Customer), args.Error(1)
}

func (m *MockRepository) InsertCustomerIgnoreDuplicate(ctx context.Context, cust *Customer) error {
	args := m.Called(ctx, cust)
	return args.Error(0)
}

func (m *MockRepository) SetStripeCustomerIDIfNull(ctx context.Context, tenantID uuid.UUID, stripeCustomerID string) (bool, error) {
	args := m.Called(ctx, tenantID, stripeCustomerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) UpdateCustomerContact(ctx context.Context, stripeCustomerID, email, name string) error {
	args := m.Called(ctx, stripeCustomerID, email, name)
	return args.Error(0)
}

func (m *MockRepository) GetSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*Subscription, error) {
	args := m.Called(ctx, stripeSubID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Subscription), args.Error(1)
}

func (m *MockRepository) GetActiveSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Subscription), args.Error(1)
}

func (m *MockRepository) UpsertSubscription(ctx context.Context, sub *Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockRepository) InsertIdempotencyClaim(ctx context.Context, eventID, purpose, eventType string) error {
	args := m.Called(ctx, eventID, purpose, eventType)
	return args.Error(0)
}

func (m *MockRepository) DeleteIdempotencyClaim(ctx context.Context, eventID, purpose string) error {
	args := m.Called(ctx, eventID, purpose)
	return args.Error(0)
}

func (m *MockRepository) CountCases(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) MaxDocumentsPerCase(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) SumDocumentBytes(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) CountTeamMembers(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) MeteredUsageInPeriod(ctx context.Context, tenantID uuid.UUID, metric QuotaMetric, periodStart, periodEnd time.Time) (int64, error) {
	args := m.Called(ctx, tenantID, metric, periodStart, periodEnd)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) IncrementMeteredUsage(ctx context.Context, tenantID uuid.UUID, metric QuotaMetric, periodStart time.Time, amount int64) error {
	args := m.Called(ctx, tenantID, metric, periodStart, amount)
	return args.Error(0)
}

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Name() string {
	return "mock"
}

func (m *MockProvider) VerifyWebhookSignature(payload []byte, signature string) (*stripe.Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.Event), args.Error(1)
}

func (m *MockProvider) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*provider.Customer, error) {
	args := m.Called(ctx, email, name, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Customer), args.Error(1)
}

func (m *MockProvider) DeleteCustomer(ctx context.Context, customerID string) error {
	args := m.Called(ctx, customerID)
	return args.Error(0)
}

func (m *MockProvider) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.Subscription), args.Error(1)
}

func (m *MockProvider) CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (*provider.CheckoutSession, error) {
	args := m.Called(ctx, customerID, priceID, successURL, cancelURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.CheckoutSession), args.Error(1)
}

func (m *MockProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*provider.PortalSession, error) {
	args := m.Called(ctx, customerID, returnURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.PortalSession), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, cust *Customer, event NotificationEvent, details map[string]string) error {
	args := m.Called(ctx, cust, event, details)
	return args.Error(0)
}

// Compile-time checks
var (
	_ Repository        = (*MockRepository)(nil)
	_ provider.Provider = (*MockProvider)(nil)
	_ Notifier          = (*MockNotifier)(nil)
)
