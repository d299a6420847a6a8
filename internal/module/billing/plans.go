package billing

// PlanType represents the type of subscription plan.
type PlanType string

const (
	PlanTypeFree         PlanType = "free"
	PlanTypeStarter      PlanType = "starter"
	PlanTypeProfessional PlanType = "professional"
)

// BillingCycle represents the billing period.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

// Unlimited is the sentinel cap for metrics with no limit. It is only ever
// compared through PlanLimits.LimitFor; nothing else treats -1 as a number.
const Unlimited int64 = -1

// PlanLimits holds the numeric caps for each quota metric of a plan. The
// table below is immutable and lives in-process; plan changes ship as code.
type PlanLimits struct {
	Cases            int64
	DocumentsPerCase int64
	AIRequests       int64 // per billing period
	StorageBytes     int64
	TeamMembers      int64
}

const (
	mib = int64(1) << 20
	gib = int64(1) << 30
)

// planLimits maps plan types to their quota caps.
var planLimits = map[PlanType]PlanLimits{
	PlanTypeFree: {
		Cases:            3,
		DocumentsPerCase: 25,
		AIRequests:       10,
		StorageBytes:     100 * mib,
		TeamMembers:      1,
	},
	PlanTypeStarter: {
		Cases:            25,
		DocumentsPerCase: 200,
		AIRequests:       200,
		StorageBytes:     5 * gib,
		TeamMembers:      3,
	},
	PlanTypeProfessional: {
		Cases:            Unlimited,
		DocumentsPerCase: Unlimited,
		AIRequests:       Unlimited,
		StorageBytes:     50 * gib,
		TeamMembers:      25,
	},
}

// LimitsFor returns the quota caps for a plan, defaulting to the free plan
// for unknown plan types.
func LimitsFor(plan PlanType) PlanLimits {
	if limits, ok := planLimits[plan]; ok {
		return limits
	}
	return planLimits[PlanTypeFree]
}

// LimitFor returns the cap for a single metric and whether it is unlimited.
// The returned limit is Unlimited (-1) exactly when unlimited is true.
func (l PlanLimits) LimitFor(metric QuotaMetric) (limit int64, unlimited bool) {
	switch metric {
	case MetricCases:
		limit = l.Cases
	case MetricDocuments:
		limit = l.DocumentsPerCase
	case MetricAIRequests:
		limit = l.AIRequests
	case MetricStorage:
		limit = l.StorageBytes
	case MetricTeamMembers:
		limit = l.TeamMembers
	default:
		// Unknown metrics are capped at zero rather than open-ended.
		limit = 0
	}
	return limit, limit == Unlimited
}

// pricePlan maps a Stripe price id to its plan and billing cycle.
type pricePlan struct {
	Plan  PlanType
	Cycle BillingCycle
}

// stripePrices is the static lookup from Stripe price ids to plans. An
// unrecognized price id resolves to the free plan with no cycle: unknown
// pricing must never break billing sync.
var stripePrices = map[string]pricePlan{
	"price_starter_monthly":      {Plan: PlanTypeStarter, Cycle: BillingCycleMonthly},
	"price_starter_yearly":       {Plan: PlanTypeStarter, Cycle: BillingCycleYearly},
	"price_professional_monthly": {Plan: PlanTypeProfessional, Cycle: BillingCycleMonthly},
	"price_professional_yearly":  {Plan: PlanTypeProfessional, Cycle: BillingCycleYearly},
}

// ResolvePrice resolves a Stripe price id to a plan type and billing cycle.
// The cycle is nil when the price id is unknown.
func ResolvePrice(priceID string) (PlanType, *BillingCycle) {
	if pp, ok := stripePrices[priceID]; ok {
		cycle := pp.Cycle
		return pp.Plan, &cycle
	}
	return PlanTypeFree, nil
}

// PriceIDFor reverses ResolvePrice for checkout: it returns the Stripe price
// id for a purchasable plan and cycle, or false when no such price exists.
func PriceIDFor(plan PlanType, cycle BillingCycle) (string, bool) {
	for id, pp := range stripePrices {
		if pp.Plan == plan && pp.Cycle == cycle {
			return id, true
		}
	}
	return "", false
}
