package services

import (
	"strings"
)

// Plan names. Every access decision reduces to comparing Level values.
const (
	PlanGratis      = "gratis"
	PlanApoiador    = "apoiador"
	PlanAventureiro = "aventureiro"
	PlanRelogio     = "relogio"
	PlanCavaleiro   = "cavaleiro"
	PlanMago        = "mago"
	PlanLorde       = "lorde"
	PlanArquimago   = "arquimago"
	PlanRei         = "rei"
	PlanLenda       = "lenda"
	PlanAdmin       = "admin"
)

// PlanTier is one row of the static tier table.
type PlanTier struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	Level      int    `json:"level"`
	MayRequest bool   `json:"may_request"`
	Color      string `json:"color"`
	Icon       string `json:"icon"`
}

// PlanTiers is ordered by Level, lowest first.
var PlanTiers = []PlanTier{
	{Name: PlanGratis, Label: "Grátis", Level: 0, MayRequest: false, Color: "#9e9e9e", Icon: "🎲"},
	{Name: PlanApoiador, Label: "Apoiador", Level: 1, MayRequest: false, Color: "#8d6e63", Icon: "🤝"},
	{Name: PlanAventureiro, Label: "Aventureiro", Level: 2, MayRequest: true, Color: "#43a047", Icon: "🗡️"},
	{Name: PlanRelogio, Label: "Relógio", Level: 3, MayRequest: true, Color: "#1e88e5", Icon: "⏰"},
	{Name: PlanCavaleiro, Label: "Cavaleiro", Level: 4, MayRequest: true, Color: "#3949ab", Icon: "🛡️"},
	{Name: PlanMago, Label: "Mago", Level: 5, MayRequest: true, Color: "#8e24aa", Icon: "🔮"},
	{Name: PlanLorde, Label: "Lorde", Level: 6, MayRequest: true, Color: "#c62828", Icon: "👑"},
	{Name: PlanArquimago, Label: "Arquimago", Level: 7, MayRequest: true, Color: "#6a1b9a", Icon: "🌌"},
	{Name: PlanRei, Label: "Rei", Level: 8, MayRequest: true, Color: "#f9a825", Icon: "🏰"},
	{Name: PlanLenda, Label: "Lenda", Level: 9, MayRequest: true, Color: "#ff6f00", Icon: "🐉"},
	{Name: PlanAdmin, Label: "Administrador", Level: 10, MayRequest: true, Color: "#000000", Icon: "⚙️"},
}

var planIndex = func() map[string]PlanTier {
	m := make(map[string]PlanTier, len(PlanTiers))
	for _, t := range PlanTiers {
		m[t.Name] = t
	}
	return m
}()

// LowestPlan and HighestPlan bound the tier order.
func LowestPlan() string  { return PlanTiers[0].Name }
func HighestPlan() string { return PlanTiers[len(PlanTiers)-1].Name }

// NormalizePlan lower-cases and trims a plan name.
func NormalizePlan(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// LookupPlan returns the tier for name.
func LookupPlan(name string) (PlanTier, bool) {
	t, ok := planIndex[NormalizePlan(name)]
	return t, ok
}

// IsValidPlan reports whether name is in the tier table.
func IsValidPlan(name string) bool {
	_, ok := LookupPlan(name)
	return ok
}

// PlanLevel returns the numeric level of name; unknown or empty plans
// are -1 so they never satisfy a comparison.
func PlanLevel(name string) int {
	if t, ok := LookupPlan(name); ok {
		return t.Level
	}
	return -1
}

// PlanMayRequest returns the tier's seat-request flag.
func PlanMayRequest(name string) bool {
	t, ok := LookupPlan(name)
	return ok && t.MayRequest
}

// HigherPlan returns whichever of a and b has the higher level. Unknown
// plans lose to known ones.
func HigherPlan(a, b string) string {
	if PlanLevel(b) > PlanLevel(a) {
		return NormalizePlan(b)
	}
	return NormalizePlan(a)
}
