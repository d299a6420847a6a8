package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casebridge/server/internal/module/payment/provider"
)

// Provisioner guarantees exactly one durable customer record, local and
// remote, per tenant. It is safe under arbitrary concurrent callers: the
// customer row's unique index and the conditional update on the null
// stripe_customer_id column resolve every race at the store, so no
// application lock is taken.
type Provisioner struct {
	repo     Repository
	provider provider.Provider
	logger   *zap.Logger
}

// NewProvisioner creates a new customer provisioner.
func NewProvisioner(repo Repository, prov provider.Provider, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		repo:     repo,
		provider: prov,
		logger:   logger,
	}
}

// GetOrCreateStripeCustomerID returns the tenant's Stripe customer id,
// creating the local row and the remote customer on first use.
//
// Remote creation cannot be atomic with the local write, so under contention
// at most one wasted Stripe customer may be created; the loser of the
// conditional update deletes its orphan best-effort and returns the
// winner's id. Every caller always receives the same id.
func (p *Provisioner) GetOrCreateStripeCustomerID(ctx context.Context, tenantID uuid.UUID, email, name string) (string, error) {
	// Fast path: already provisioned.
	cust, err := p.repo.GetCustomerByTenantID(ctx, tenantID)
	if err != nil && !errors.Is(err, ErrCustomerNotFound) {
		return "", fmt.Errorf("load customer: %w", err)
	}
	if cust != nil && cust.StripeCustomerID != nil {
		return *cust.StripeCustomerID, nil
	}

	if cust == nil {
		// Insert-or-no-op keeps exactly one row per tenant no matter how
		// many first-touch requests race here.
		if err := p.repo.InsertCustomerIgnoreDuplicate(ctx, &Customer{
			TenantID: tenantID,
			Email:    email,
			Name:     name,
		}); err != nil {
			return "", fmt.Errorf("insert customer row: %w", err)
		}
	}

	// Re-read: a concurrent caller may have finished provisioning while we
	// were inserting.
	cust, err = p.repo.GetCustomerByTenantID(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("reload customer: %w", err)
	}
	if cust.StripeCustomerID != nil {
		return *cust.StripeCustomerID, nil
	}

	remote, err := p.provider.CreateCustomer(ctx, email, name, map[string]string{
		"tenant_id": tenantID.String(),
	})
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}

	// Compare-and-swap on the null column. Only one concurrent caller's
	// update can affect a row.
	won, err := p.repo.SetStripeCustomerIDIfNull(ctx, tenantID, remote.ID)
	if err != nil {
		return "", fmt.Errorf("store stripe customer id: %w", err)
	}
	if won {
		p.logger.Info("stripe customer provisioned",
			zap.String("tenant_id", tenantID.String()),
			zap.String("stripe_customer_id", remote.ID),
		)
		return remote.ID, nil
	}

	// Lost the race: another caller set the id first. Use theirs and clean
	// up the customer we just created.
	cust, err = p.repo.GetCustomerByTenantID(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("reload customer after race: %w", err)
	}
	if cust.StripeCustomerID != nil {
		if delErr := p.provider.DeleteCustomer(ctx, remote.ID); delErr != nil {
			p.logger.Warn("failed to delete orphan stripe customer",
				zap.String("stripe_customer_id", remote.ID),
				zap.Error(delErr),
			)
		}
		return *cust.StripeCustomerID, nil
	}

	// Should be unreachable: the conditional update found the column set,
	// but the re-read saw it null. Fall back to the id we created.
	p.logger.Warn("provisioning race fallback",
		zap.String("tenant_id", tenantID.String()),
		zap.String("stripe_customer_id", remote.ID),
	)
	return remote.ID, nil
}
