package services

import (
	"fmt"
	"testing"

	"rpg-portal/models"

	"github.com/stretchr/testify/assert"
)

func TestSeatAccessHoldsForEveryPlanPair(t *testing.T) {
	for _, user := range PlanTiers {
		for _, required := range PlanTiers {
			perms := Permissions{Plan: user.Name, MayRequest: user.MayRequest}
			want := user.MayRequest && (required.Name == LowestPlan() ||
				required.Name == user.Name ||
				user.Level >= required.Level)
			got := CanRequestSeat(perms, required.Name)
			assert.Equal(t, want, got, fmt.Sprintf("user=%s required=%s", user.Name, required.Name))

			admin := Permissions{IsAdmin: true, Plan: user.Name, MayRequest: user.MayRequest}
			assert.True(t, CanRequestSeat(admin, required.Name))
		}
	}
}

func TestDecideSeatAccessReasons(t *testing.T) {
	cases := []struct {
		name     string
		perms    Permissions
		required string
		want     SeatDecision
	}{
		{"admin", Permissions{IsAdmin: true}, PlanRei, SeatAllowedAdmin},
		{"no plan", Permissions{}, "", SeatDeniedNoPlan},
		{"lowest plan", Permissions{Plan: PlanGratis}, "", SeatDeniedNoPlan},
		{"unknown plan", Permissions{Plan: "platina", MayRequest: true}, "", SeatDeniedNoPlan},
		{"blocked tier", Permissions{Plan: PlanApoiador}, "", SeatDeniedPlanBlocked},
		{"open campaign", Permissions{Plan: PlanAventureiro, MayRequest: true}, "", SeatAllowedOpen},
		{"free campaign", Permissions{Plan: PlanAventureiro, MayRequest: true}, PlanGratis, SeatAllowedFree},
		{"same plan", Permissions{Plan: PlanRelogio, MayRequest: true}, PlanRelogio, SeatAllowedExact},
		{"higher plan", Permissions{Plan: PlanLorde, MayRequest: true}, PlanRelogio, SeatAllowedHigher},
		{"lower plan", Permissions{Plan: PlanAventureiro, MayRequest: true}, PlanRelogio, SeatDeniedLowerPlan},
		{"unknown campaign plan", Permissions{Plan: PlanLenda, MayRequest: true}, "platina", SeatDeniedUnknownPlan},
		{"unknown campaign plan admin", Permissions{IsAdmin: true}, "platina", SeatAllowedAdmin},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DecideSeatAccess(tc.perms, tc.required))
		})
	}
}

func TestResolvePermissions(t *testing.T) {
	policy := NewAccessPolicy([]string{" Mestre@Example.com "}, "vip@example.com", PlanLorde)

	admin := policy.Resolve(&models.User{Plan: PlanGratis}, "MESTRE@example.com")
	assert.True(t, admin.IsAdmin)
	assert.Equal(t, HighestPlan(), admin.Plan)

	special := policy.Resolve(&models.User{Plan: PlanGratis}, "vip@example.com")
	assert.False(t, special.IsAdmin)
	assert.Equal(t, PlanLorde, special.Plan)
	assert.True(t, special.MayRequest)
	assert.True(t, special.PlanWriteBack)

	settled := policy.Resolve(&models.User{Plan: PlanLorde}, "vip@example.com")
	assert.False(t, settled.PlanWriteBack)

	unknown := policy.Resolve(&models.User{Plan: "platina"}, "someone@example.com")
	assert.Equal(t, PlanGratis, unknown.Plan)
	assert.False(t, unknown.MayRequest)

	regular := policy.Resolve(&models.User{Plan: "Cavaleiro"}, "someone@example.com")
	assert.Equal(t, PlanCavaleiro, regular.Plan)
	assert.True(t, regular.MayRequest)
}

func TestSpecialRuleDisabledForUnknownPlan(t *testing.T) {
	policy := NewAccessPolicy(nil, "vip@example.com", "platina")
	assert.Equal(t, "", policy.SpecialPlanFor("vip@example.com"))

	var nilPolicy *AccessPolicy
	assert.False(t, nilPolicy.IsAdmin("a@example.com"))
}
