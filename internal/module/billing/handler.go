package billing

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/casebridge/server/internal/module/payment/provider"
	"github.com/casebridge/server/internal/shared/config"
	"github.com/casebridge/server/internal/shared/middleware"
)

// Handler handles HTTP requests for billing.
type Handler struct {
	webhook     *WebhookService
	quota       *QuotaEngine
	provisioner *Provisioner
	repo        Repository
	provider    provider.Provider
	stripeCfg   *config.StripeConfig
	logger      *zap.Logger
}

// NewHandler creates a new billing handler.
func NewHandler(
	webhook *WebhookService,
	quota *QuotaEngine,
	provisioner *Provisioner,
	repo Repository,
	prov provider.Provider,
	stripeCfg *config.StripeConfig,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		webhook:     webhook,
		quota:       quota,
		provisioner: provisioner,
		repo:        repo,
		provider:    prov,
		stripeCfg:   stripeCfg,
		logger:      logger,
	}
}

// RegisterWebhookRoutes registers the unauthenticated webhook endpoint.
func (h *Handler) RegisterWebhookRoutes(r *gin.RouterGroup) {
	r.POST("/stripe", h.HandleStripeWebhook)
}

// RegisterRoutes registers the authenticated billing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	billing := r.Group("/billing")
	{
		billing.GET("/subscription", h.GetSubscription)
		billing.GET("/quota", h.GetQuotaStatus)
		billing.POST("/checkout", h.CreateCheckout)
		billing.POST("/portal", h.CreatePortal)
	}
}

// HandleStripeWebhook handles incoming Stripe webhook deliveries.
//
// A 2xx acknowledges the delivery; anything else makes Stripe retry, so the
// status code is the retry contract: bad signatures and stale events get 400
// because a retry cannot fix them, handler failures get 500 because it can.
func (h *Handler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	signature := c.GetHeader("Stripe-Signature")

	outcome, err := h.webhook.Process(c.Request.Context(), payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrMissingSignature):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing signature header"})
		case errors.Is(err, ErrInvalidSignature):
			h.logger.Warn("invalid webhook signature", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		case errors.Is(err, ErrEventTooOld):
			h.logger.Warn("stale webhook event rejected", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Event too old"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook handler failed"})
		}
		return
	}

	c.JSON(http.StatusOK, WebhookResponse{Received: true, Deduplicated: outcome.Deduplicated})
}

// GetSubscription returns the tenant's current subscription. Tenants without
// a paid subscription are reported as active on the free plan.
func (h *Handler) GetSubscription(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sub, err := h.repo.GetActiveSubscription(c.Request.Context(), tenantID)
	if err != nil {
		if !errors.Is(err, ErrSubscriptionNotFound) {
			h.logger.Error("failed to load subscription", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load subscription"})
			return
		}
		sub = nil
	}

	c.JSON(http.StatusOK, NewSubscriptionResponse(sub))
}

// GetQuotaStatus returns usage against limits for every quota metric.
func (h *Handler) GetQuotaStatus(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx := c.Request.Context()

	results, err := h.quota.QuotaStatus(ctx, tenantID)
	if err != nil {
		h.logger.Error("failed to compute quota status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute quota status"})
		return
	}

	plan := PlanTypeFree
	if sub, err := h.repo.GetActiveSubscription(ctx, tenantID); err == nil && sub != nil {
		plan = sub.PlanType
	}

	c.JSON(http.StatusOK, QuotaStatusResponse{PlanType: plan, Metrics: results})
}

// CreateCheckout starts a hosted checkout session for a paid plan. The
// tenant's Stripe customer is provisioned on first use.
func (h *Handler) CreateCheckout(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	priceID, ok := PriceIDFor(req.PlanType, req.BillingCycle)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown plan or billing cycle"})
		return
	}

	ctx := c.Request.Context()

	customerID, err := h.provisioner.GetOrCreateStripeCustomerID(ctx, tenantID, middleware.GetEmail(c), middleware.GetName(c))
	if err != nil {
		h.logger.Error("failed to provision customer", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to provision billing account"})
		return
	}

	session, err := h.provider.CreateCheckoutSession(ctx, customerID, priceID, h.stripeCfg.SuccessURL, h.stripeCfg.CancelURL)
	if err != nil {
		h.logger.Error("failed to create checkout session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, CheckoutResponse{SessionID: session.ID, URL: session.URL})
}

// CreatePortal opens a hosted billing portal session for the tenant.
func (h *Handler) CreatePortal(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx := c.Request.Context()

	customerID, err := h.provisioner.GetOrCreateStripeCustomerID(ctx, tenantID, middleware.GetEmail(c), middleware.GetName(c))
	if err != nil {
		h.logger.Error("failed to provision customer", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to provision billing account"})
		return
	}

	session, err := h.provider.CreatePortalSession(ctx, customerID, h.stripeCfg.PortalReturnURL)
	if err != nil {
		h.logger.Error("failed to create portal session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create portal session"})
		return
	}

	c.JSON(http.StatusOK, PortalResponse{URL: session.URL})
}
