package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanTiersAreStrictlyOrdered(t *testing.T) {
	for i := 1; i < len(PlanTiers); i++ {
		assert.Greater(t, PlanTiers[i].Level, PlanTiers[i-1].Level, PlanTiers[i].Name)
	}
	assert.Equal(t, PlanGratis, LowestPlan())
	assert.Equal(t, PlanAdmin, HighestPlan())
}

func TestPlanLookup(t *testing.T) {
	tier, ok := LookupPlan("  Relogio ")
	assert.True(t, ok)
	assert.Equal(t, 3, tier.Level)

	assert.Equal(t, -1, PlanLevel("platina"))
	assert.Equal(t, -1, PlanLevel(""))
	assert.False(t, IsValidPlan("platina"))

	assert.False(t, PlanMayRequest(PlanGratis))
	assert.False(t, PlanMayRequest(PlanApoiador))
	assert.True(t, PlanMayRequest(PlanAventureiro))
	assert.False(t, PlanMayRequest("platina"))
}

func TestHigherPlan(t *testing.T) {
	assert.Equal(t, PlanLorde, HigherPlan(PlanGratis, PlanLorde))
	assert.Equal(t, PlanLorde, HigherPlan(PlanLorde, PlanGratis))
	assert.Equal(t, PlanMago, HigherPlan("platina", "Mago"))
	assert.Equal(t, PlanGratis, HigherPlan(PlanGratis, ""))
}
