package services

import (
	"rpg-portal/models"
)

// AccessPolicy is the single place the administrator allow-list and the
// special-address rule live. It is built from configuration once and
// consulted wherever permissions are resolved.
type AccessPolicy struct {
	admins       map[string]struct{}
	specialEmail string
	specialPlan  string
}

// NewAccessPolicy normalises the given addresses. An empty or unknown
// specialPlan disables the special-address rule.
func NewAccessPolicy(adminEmails []string, specialEmail, specialPlan string) *AccessPolicy {
	p := &AccessPolicy{admins: make(map[string]struct{}, len(adminEmails))}
	for _, e := range adminEmails {
		if e = NormalizeEmail(e); e != "" {
			p.admins[e] = struct{}{}
		}
	}
	if IsValidPlan(specialPlan) {
		p.specialEmail = NormalizeEmail(specialEmail)
		p.specialPlan = NormalizePlan(specialPlan)
	}
	return p
}

// IsAdmin reports whether email is on the allow-list (case-insensitive).
func (p *AccessPolicy) IsAdmin(email string) bool {
	if p == nil {
		return false
	}
	_, ok := p.admins[NormalizeEmail(email)]
	return ok
}

// SpecialPlanFor returns the forced tier for the designated special
// address, or "" for everybody else.
func (p *AccessPolicy) SpecialPlanFor(email string) string {
	if p == nil || p.specialEmail == "" {
		return ""
	}
	if NormalizeEmail(email) == p.specialEmail {
		return p.specialPlan
	}
	return ""
}

// Permissions is the resolved view of what a user may do.
type Permissions struct {
	IsAdmin    bool   `json:"is_admin"`
	Plan       string `json:"plan"`
	MayRequest bool   `json:"may_request"`
	// PlanWriteBack is set when the stored plan differs from the forced
	// special tier and should be persisted.
	PlanWriteBack bool `json:"-"`
}

// Resolve derives permissions from a user record and the email the user
// authenticated with. It never touches storage; callers that need the
// special-tier write-back persist it themselves.
func (p *AccessPolicy) Resolve(user *models.User, email string) Permissions {
	if p.IsAdmin(email) {
		return Permissions{IsAdmin: true, Plan: HighestPlan(), MayRequest: true}
	}

	stored := ""
	if user != nil {
		stored = NormalizePlan(user.Plan)
	}

	if special := p.SpecialPlanFor(email); special != "" {
		return Permissions{
			Plan:          special,
			MayRequest:    true,
			PlanWriteBack: stored != special,
		}
	}

	plan := stored
	if !IsValidPlan(plan) {
		plan = LowestPlan()
	}
	return Permissions{Plan: plan, MayRequest: PlanMayRequest(plan)}
}

// Session is the explicit per-request context: who is calling, their
// canonical record and what they may do. It is rebuilt from storage on
// every authenticated request instead of being cached process-wide.
type Session struct {
	Principal   Principal    `json:"principal"`
	User        *models.User `json:"user"`
	Permissions Permissions  `json:"permissions"`
}

// Email returns the normalised email of the session's principal.
func (s *Session) Email() string {
	if s == nil {
		return ""
	}
	return NormalizeEmail(s.Principal.Email)
}
