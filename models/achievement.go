package models

import (
	"time"
)

// Rarity is ordered: comum < rara < épica < lendária.
type Rarity string

const (
	RarityComum    Rarity = "comum"
	RarityRara     Rarity = "rara"
	RarityEpica    Rarity = "épica"
	RarityLendaria Rarity = "lendária"
)

var rarityRank = map[Rarity]int{
	RarityComum:    0,
	RarityRara:     1,
	RarityEpica:    2,
	RarityLendaria: 3,
}

// Rank returns the rarity's position in the order, -1 when unknown.
func (r Rarity) Rank() int {
	if n, ok := rarityRank[r]; ok {
		return n
	}
	return -1
}

// ConditionKind selects which predicate an achievement uses.
type ConditionKind string

const (
	ConditionEvent           ConditionKind = "event"            // events[Event].count >= Threshold
	ConditionProfileComplete ConditionKind = "profile_complete" // name, photo, phone, discord, full address
	ConditionDiscordLinked   ConditionKind = "discord_linked"
	ConditionAccountAgeDays  ConditionKind = "account_age_days" // days since created >= Threshold
	ConditionPlanAtLeast     ConditionKind = "plan_at_least"    // level(plan) >= level(Event)
	ConditionCampaignsJoined ConditionKind = "campaigns_joined" // distinct campaigns claimed >= Threshold
)

// Condition is the unlock descriptor of an achievement.
type Condition struct {
	Kind      ConditionKind `json:"kind"`
	Event     string        `json:"event,omitempty"`
	Threshold int64         `json:"threshold,omitempty"`
}

// AchievementDefinition is a catalog entry.
type AchievementDefinition struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Rarity      Rarity    `json:"rarity"`
	XP          int64     `json:"xp"`
	Icon        string    `json:"icon,omitempty"`
	Condition   Condition `json:"condition"`
}

// AchievementOverride lets admins add, replace or soft-delete catalog
// entries. Rows are merged over the static catalog when it is loaded.
type AchievementOverride struct {
	ID          string    `gorm:"primaryKey" json:"id"` // achievement id
	Name        string    `json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Category    string    `json:"category"`
	Rarity      Rarity    `gorm:"type:varchar(16)" json:"rarity"`
	XP          int64     `json:"xp"`
	Icon        string    `json:"icon,omitempty"`
	Condition   Condition `gorm:"type:text;serializer:json" json:"condition"`
	Deleted     bool      `gorm:"default:false" json:"deleted"`
	UpdatedBy   string    `json:"updated_by,omitempty"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Definition converts the override into a catalog entry.
func (o AchievementOverride) Definition() AchievementDefinition {
	return AchievementDefinition{
		ID:          o.ID,
		Name:        o.Name,
		Description: o.Description,
		Category:    o.Category,
		Rarity:      o.Rarity,
		XP:          o.XP,
		Icon:        o.Icon,
		Condition:   o.Condition,
	}
}
