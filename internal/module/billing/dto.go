package billing

import "time"

// SubscriptionResponse is the API shape of the tenant's current subscription.
type SubscriptionResponse struct {
	PlanType           PlanType           `json:"plan_type"`
	BillingCycle       *BillingCycle      `json:"billing_cycle,omitempty"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
}

// NewSubscriptionResponse maps a local subscription row to its API shape.
// A nil subscription means the tenant is on the free plan.
func NewSubscriptionResponse(sub *Subscription) *SubscriptionResponse {
	if sub == nil {
		return &SubscriptionResponse{
			PlanType: PlanTypeFree,
			Status:   SubscriptionStatusActive,
		}
	}
	resp := &SubscriptionResponse{
		PlanType:          sub.PlanType,
		BillingCycle:      sub.BillingCycle,
		Status:            sub.Status,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if !sub.CurrentPeriodStart.IsZero() {
		resp.CurrentPeriodStart = &sub.CurrentPeriodStart
		resp.CurrentPeriodEnd = &sub.CurrentPeriodEnd
	}
	return resp
}

// QuotaStatusResponse summarizes usage against limits for every metric.
type QuotaStatusResponse struct {
	PlanType PlanType            `json:"plan_type"`
	Metrics  []*QuotaCheckResult `json:"metrics"`
}

// CheckoutRequest starts a checkout session for a paid plan.
type CheckoutRequest struct {
	PlanType     PlanType     `json:"plan_type" binding:"required"`
	BillingCycle BillingCycle `json:"billing_cycle" binding:"required"`
}

// CheckoutResponse carries the hosted checkout URL the client redirects to.
type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// PortalResponse carries the hosted billing portal URL.
type PortalResponse struct {
	URL string `json:"url"`
}

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Received     bool `json:"received"`
	Deduplicated bool `json:"deduplicated,omitempty"`
}
