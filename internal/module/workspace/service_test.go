package workspace

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/casebridge/server/internal/module/billing"
)

// --- Mock implementations ---

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateCase(ctx context.Context, c *Case) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockRepository) GetCase(ctx context.Context, tenantID, caseID uuid.UUID) (*Case, error) {
	args := m.Called(ctx, tenantID, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Case), args.Error(1)
}

func (m *MockRepository) ListCases(ctx context.Context, tenantID uuid.UUID) ([]*Case, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Case), args.Error(1)
}

func (m *MockRepository) UpdateCase(ctx context.Context, c *Case) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockRepository) DeleteCase(ctx context.Context, tenantID, caseID uuid.UUID) error {
	args := m.Called(ctx, tenantID, caseID)
	return args.Error(0)
}

func (m *MockRepository) CreateDocument(ctx context.Context, d *Document) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockRepository) ListDocuments(ctx context.Context, tenantID, caseID uuid.UUID) ([]*Document, error) {
	args := m.Called(ctx, tenantID, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Document), args.Error(1)
}

func (m *MockRepository) DeleteDocument(ctx context.Context, tenantID, docID uuid.UUID) error {
	args := m.Called(ctx, tenantID, docID)
	return args.Error(0)
}

func (m *MockRepository) AddTeamMember(ctx context.Context, member *TeamMember) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

func (m *MockRepository) ListTeamMembers(ctx context.Context, tenantID uuid.UUID) ([]*TeamMember, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*TeamMember), args.Error(1)
}

func (m *MockRepository) RemoveTeamMember(ctx context.Context, tenantID, memberID uuid.UUID) error {
	args := m.Called(ctx, tenantID, memberID)
	return args.Error(0)
}

var _ Repository = (*MockRepository)(nil)

// stubBillingRepo feeds the quota engine fixed usage numbers. Free-plan
// limits apply because no active subscription exists.
type stubBillingRepo struct {
	billing.Repository

	cases       int64
	docsPerCase int64
	bytes       int64
	members     int64

	subscription    *billing.Subscription
	meteredUsage    int64
	trackedAmounts  []int64
	trackedIncError error
}

func (s *stubBillingRepo) GetActiveSubscription(ctx context.Context, tenantID uuid.UUID) (*billing.Subscription, error) {
	if s.subscription == nil {
		return nil, billing.ErrSubscriptionNotFound
	}
	return s.subscription, nil
}

func (s *stubBillingRepo) CountCases(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return s.cases, nil
}

func (s *stubBillingRepo) MaxDocumentsPerCase(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return s.docsPerCase, nil
}

func (s *stubBillingRepo) SumDocumentBytes(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return s.bytes, nil
}

func (s *stubBillingRepo) CountTeamMembers(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return s.members, nil
}

func (s *stubBillingRepo) MeteredUsageInPeriod(ctx context.Context, tenantID uuid.UUID, metric billing.QuotaMetric, periodStart, periodEnd time.Time) (int64, error) {
	return s.meteredUsage, nil
}

func (s *stubBillingRepo) IncrementMeteredUsage(ctx context.Context, tenantID uuid.UUID, metric billing.QuotaMetric, periodStart time.Time, amount int64) error {
	if s.trackedIncError != nil {
		return s.trackedIncError
	}
	s.trackedAmounts = append(s.trackedAmounts, amount)
	return nil
}

func newService(repo Repository, billingRepo billing.Repository) *Service {
	quota := billing.NewQuotaEngine(billingRepo, nil, nil, zap.NewNop())
	tracker := billing.NewUsageTracker(billingRepo, nil, zap.NewNop())
	return NewService(repo, quota, tracker, zap.NewNop())
}

func starterSubscription(tenantID uuid.UUID) *billing.Subscription {
	return &billing.Subscription{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		PlanType:           billing.PlanTypeStarter,
		Status:             billing.SubscriptionStatusActive,
		CurrentPeriodStart: time.Now().Add(-24 * time.Hour),
		CurrentPeriodEnd:   time.Now().Add(29 * 24 * time.Hour),
	}
}

func TestService_CreateCase(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("creates when under the limit", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("CreateCase", ctx, mock.MatchedBy(func(c *Case) bool {
			return c.TenantID == tenantID && c.Status == CaseStatusDraft
		})).Return(nil)

		svc := newService(repo, &stubBillingRepo{cases: 2})

		created, err := svc.CreateCase(ctx, tenantID, &CreateCaseRequest{
			Title:    "I-485 Adjustment",
			VisaType: "I-485",
			Tags:     []string{"family"},
		})
		require.NoError(t, err)
		assert.Equal(t, "I-485 Adjustment", created.Title)
		repo.AssertExpectations(t)
	})

	t.Run("denies at the free plan limit", func(t *testing.T) {
		repo := new(MockRepository)
		svc := newService(repo, &stubBillingRepo{cases: 3})

		_, err := svc.CreateCase(ctx, tenantID, &CreateCaseRequest{Title: "One too many"})
		require.Error(t, err)
		assert.ErrorIs(t, err, billing.ErrQuotaExceeded)
		repo.AssertNotCalled(t, "CreateCase", mock.Anything, mock.Anything)
	})
}

func TestService_AttachDocument(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	caseID := uuid.New()
	existing := &Case{ID: caseID, TenantID: tenantID, Title: "Case"}

	t.Run("attaches when document and storage allowances hold", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetCase", ctx, tenantID, caseID).Return(existing, nil)
		repo.On("CreateDocument", ctx, mock.MatchedBy(func(d *Document) bool {
			return d.CaseID == caseID && d.SizeBytes == 1024
		})).Return(nil)

		svc := newService(repo, &stubBillingRepo{docsPerCase: 5, bytes: 0})

		doc, err := svc.AttachDocument(ctx, tenantID, caseID, &AttachDocumentRequest{
			Name:      "passport.pdf",
			SizeBytes: 1024,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1024), doc.SizeBytes)
	})

	t.Run("denies when the case already holds the document limit", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetCase", ctx, tenantID, caseID).Return(existing, nil)

		svc := newService(repo, &stubBillingRepo{docsPerCase: 25})

		_, err := svc.AttachDocument(ctx, tenantID, caseID, &AttachDocumentRequest{
			Name:      "extra.pdf",
			SizeBytes: 1024,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, billing.ErrQuotaExceeded)
	})

	t.Run("denies when the upload would exceed storage", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetCase", ctx, tenantID, caseID).Return(existing, nil)

		// Free plan allows 100 MiB; 1 MiB of headroom left.
		svc := newService(repo, &stubBillingRepo{bytes: 99 << 20})

		_, err := svc.AttachDocument(ctx, tenantID, caseID, &AttachDocumentRequest{
			Name:      "scan.pdf",
			SizeBytes: 2 << 20,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, billing.ErrQuotaExceeded)
	})

	t.Run("fails for a case the tenant does not own", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetCase", ctx, tenantID, caseID).Return(nil, ErrCaseNotFound)

		svc := newService(repo, &stubBillingRepo{})

		_, err := svc.AttachDocument(ctx, tenantID, caseID, &AttachDocumentRequest{
			Name:      "doc.pdf",
			SizeBytes: 1,
		})
		assert.ErrorIs(t, err, ErrCaseNotFound)
	})
}

func TestService_InviteMember(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("free plan is a single seat", func(t *testing.T) {
		repo := new(MockRepository)
		svc := newService(repo, &stubBillingRepo{members: 1})

		_, err := svc.InviteMember(ctx, tenantID, &InviteMemberRequest{Email: "p@q.r"})
		require.Error(t, err)
		assert.ErrorIs(t, err, billing.ErrQuotaExceeded)
	})

	t.Run("paid plans allow more seats", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("AddTeamMember", ctx, mock.MatchedBy(func(m *TeamMember) bool {
			return m.Role == RoleMember && m.Email == "p@q.r"
		})).Return(nil)

		svc := newService(repo, &stubBillingRepo{
			members:      1,
			subscription: starterSubscription(tenantID),
		})

		member, err := svc.InviteMember(ctx, tenantID, &InviteMemberRequest{Email: "p@q.r"})
		require.NoError(t, err)
		assert.Equal(t, RoleMember, member.Role)
	})
}

func TestService_RecordAssistantRequest(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	caseID := uuid.New()
	existing := &Case{ID: caseID, TenantID: tenantID}

	t.Run("tracks usage within the billing period", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetCase", ctx, tenantID, caseID).Return(existing, nil)

		billingRepo := &stubBillingRepo{
			subscription: starterSubscription(tenantID),
			meteredUsage: 5,
		}
		svc := newService(repo, billingRepo)

		require.NoError(t, svc.RecordAssistantRequest(ctx, tenantID, caseID))
		assert.Equal(t, []int64{1}, billingRepo.trackedAmounts)
	})

	t.Run("denies once the metered allowance is spent", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetCase", ctx, tenantID, caseID).Return(existing, nil)

		billingRepo := &stubBillingRepo{
			subscription: starterSubscription(tenantID),
			meteredUsage: 200,
		}
		svc := newService(repo, billingRepo)

		err := svc.RecordAssistantRequest(ctx, tenantID, caseID)
		require.Error(t, err)
		assert.ErrorIs(t, err, billing.ErrQuotaExceeded)
		assert.Empty(t, billingRepo.trackedAmounts)
	})

	t.Run("tracking failure never fails the request", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetCase", ctx, tenantID, caseID).Return(existing, nil)

		billingRepo := &stubBillingRepo{
			subscription:    starterSubscription(tenantID),
			meteredUsage:    5,
			trackedIncError: assert.AnError,
		}
		svc := newService(repo, billingRepo)

		assert.NoError(t, svc.RecordAssistantRequest(ctx, tenantID, caseID))
	})
}
