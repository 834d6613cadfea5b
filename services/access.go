package services

// SeatDecision explains the outcome of the seat-access gate.
type SeatDecision string

const (
	SeatAllowedAdmin      SeatDecision = "admin"
	SeatDeniedNoPlan      SeatDecision = "no_plan"
	SeatDeniedPlanBlocked SeatDecision = "plan_cannot_request"
	SeatAllowedOpen       SeatDecision = "open_campaign"
	SeatAllowedFree       SeatDecision = "free_campaign"
	SeatAllowedExact      SeatDecision = "same_plan"
	SeatAllowedHigher     SeatDecision = "higher_plan"
	SeatDeniedLowerPlan   SeatDecision = "plan_too_low"
	SeatDeniedUnknownPlan SeatDecision = "unknown_campaign_plan"
)

// Allowed reports whether the decision permits a claim.
func (d SeatDecision) Allowed() bool {
	switch d {
	case SeatAllowedAdmin, SeatAllowedOpen, SeatAllowedFree, SeatAllowedExact, SeatAllowedHigher:
		return true
	}
	return false
}

// DecideSeatAccess evaluates the gate rules in order:
// admin, no/lowest plan, plan flag, open campaign, free campaign,
// exact plan, then level comparison. A campaign requiring an unknown
// plan admits only administrators.
func DecideSeatAccess(perms Permissions, requiredPlan string) SeatDecision {
	if perms.IsAdmin {
		return SeatAllowedAdmin
	}

	userPlan := NormalizePlan(perms.Plan)
	if userPlan == "" || !IsValidPlan(userPlan) || userPlan == LowestPlan() {
		return SeatDeniedNoPlan
	}
	if !perms.MayRequest {
		return SeatDeniedPlanBlocked
	}

	required := NormalizePlan(requiredPlan)
	switch {
	case required == "":
		return SeatAllowedOpen
	case required == LowestPlan():
		return SeatAllowedFree
	case !IsValidPlan(required):
		return SeatDeniedUnknownPlan
	case required == userPlan:
		return SeatAllowedExact
	case PlanLevel(userPlan) >= PlanLevel(required):
		return SeatAllowedHigher
	}
	return SeatDeniedLowerPlan
}

// CanRequestSeat is the boolean form of DecideSeatAccess.
func CanRequestSeat(perms Permissions, requiredPlan string) bool {
	return DecideSeatAccess(perms, requiredPlan).Allowed()
}
