package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/casebridge/server/internal/module/payment/provider"
)

func strPtr(s string) *string { return &s }

func TestProvisioner_GetOrCreateStripeCustomerID(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("returns existing id without touching stripe", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetCustomerByTenantID", ctx, tenantID).
			Return(&Customer{TenantID: tenantID, StripeCustomerID: strPtr("cus_existing")}, nil)

		prov := new(MockProvider)
		p := NewProvisioner(repo, prov, zap.NewNop())

		id, err := p.GetOrCreateStripeCustomerID(ctx, tenantID, "a@b.c", "A")
		require.NoError(t, err)
		assert.Equal(t, "cus_existing", id)
		prov.AssertNotCalled(t, "CreateCustomer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("provisions on first use", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetCustomerByTenantID", ctx, tenantID).
			Return(nil, ErrCustomerNotFound).Once()
		repo.On("InsertCustomerIgnoreDuplicate", ctx, mock.MatchedBy(func(c *Customer) bool {
			return c.TenantID == tenantID && c.StripeCustomerID == nil
		})).Return(nil)
		repo.On("GetCustomerByTenantID", ctx, tenantID).
			Return(&Customer{TenantID: tenantID}, nil).Once()
		repo.On("SetStripeCustomerIDIfNull", ctx, tenantID, "cus_new").Return(true, nil)

		prov := new(MockProvider)
		prov.On("CreateCustomer", ctx, "a@b.c", "A", map[string]string{
			"tenant_id": tenantID.String(),
		}).Return(&provider.Customer{ID: "cus_new"}, nil)

		p := NewProvisioner(repo, prov, zap.NewNop())

		id, err := p.GetOrCreateStripeCustomerID(ctx, tenantID, "a@b.c", "A")
		require.NoError(t, err)
		assert.Equal(t, "cus_new", id)
		repo.AssertExpectations(t)
	})

	t.Run("re-read short-circuits when a racer finished first", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetCustomerByTenantID", ctx, tenantID).
			Return(nil, ErrCustomerNotFound).Once()
		repo.On("InsertCustomerIgnoreDuplicate", ctx, mock.Anything).Return(nil)
		repo.On("GetCustomerByTenantID", ctx, tenantID).
			Return(&Customer{TenantID: tenantID, StripeCustomerID: strPtr("cus_racer")}, nil).Once()

		prov := new(MockProvider)
		p := NewProvisioner(repo, prov, zap.NewNop())

		id, err := p.GetOrCreateStripeCustomerID(ctx, tenantID, "a@b.c", "A")
		require.NoError(t, err)
		assert.Equal(t, "cus_racer", id)
		prov.AssertNotCalled(t, "CreateCustomer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("loser deletes its orphan and returns the winner's id", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetCustomerByTenantID", ctx, tenantID).
			Return(&Customer{TenantID: tenantID}, nil).Twice()
		repo.On("SetStripeCustomerIDIfNull", ctx, tenantID, "cus_loser").Return(false, nil)
		repo.On("GetCustomerByTenantID", ctx, tenantID).
			Return(&Customer{TenantID: tenantID, StripeCustomerID: strPtr("cus_winner")}, nil).Once()

		prov := new(MockProvider)
		prov.On("CreateCustomer", ctx, "a@b.c", "A", mock.Anything).
			Return(&provider.Customer{ID: "cus_loser"}, nil)
		prov.On("DeleteCustomer", ctx, "cus_loser").Return(nil)

		p := NewProvisioner(repo, prov, zap.NewNop())

		id, err := p.GetOrCreateStripeCustomerID(ctx, tenantID, "a@b.c", "A")
		require.NoError(t, err)
		assert.Equal(t, "cus_winner", id)
		prov.AssertCalled(t, "DeleteCustomer", ctx, "cus_loser")
	})

	t.Run("orphan deletion failure does not fail the caller", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetCustomerByTenantID", ctx, tenantID).
			Return(&Customer{TenantID: tenantID}, nil).Twice()
		repo.On("SetStripeCustomerIDIfNull", ctx, tenantID, "cus_loser").Return(false, nil)
		repo.On("GetCustomerByTenantID", ctx, tenantID).
			Return(&Customer{TenantID: tenantID, StripeCustomerID: strPtr("cus_winner")}, nil).Once()

		prov := new(MockProvider)
		prov.On("CreateCustomer", ctx, "a@b.c", "A", mock.Anything).
			Return(&provider.Customer{ID: "cus_loser"}, nil)
		prov.On("DeleteCustomer", ctx, "cus_loser").Return(errors.New("stripe down"))

		p := NewProvisioner(repo, prov, zap.NewNop())

		id, err := p.GetOrCreateStripeCustomerID(ctx, tenantID, "a@b.c", "A")
		require.NoError(t, err)
		assert.Equal(t, "cus_winner", id)
	})

	t.Run("stripe failure propagates", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetCustomerByTenantID", ctx, tenantID).
			Return(&Customer{TenantID: tenantID}, nil)

		prov := new(MockProvider)
		prov.On("CreateCustomer", ctx, "a@b.c", "A", mock.Anything).
			Return(nil, errors.New("circuit open"))

		p := NewProvisioner(repo, prov, zap.NewNop())

		_, err := p.GetOrCreateStripeCustomerID(ctx, tenantID, "a@b.c", "A")
		require.Error(t, err)
	})
}
