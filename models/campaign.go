package models

import (
	"time"
)

// Campaign is a game table players can claim seats on.
type Campaign struct {
	ID           string   `json:"id" gorm:"primaryKey"`
	Slug         string   `json:"slug" gorm:"uniqueIndex;not null"`
	Name         string   `json:"name" gorm:"not null"`
	System       string   `json:"system"` // game ruleset, e.g. "D&D 5e"
	Description  string   `json:"description" gorm:"type:text"`
	Day          string   `json:"day"`
	Time         string   `json:"time"`
	Duration     string   `json:"duration"`
	Vagas        int      `json:"vagas" gorm:"default:0"`
	Plan         string   `json:"plan,omitempty" gorm:"type:varchar(32)"` // required tier, empty = open
	Requirements string   `json:"requirements,omitempty" gorm:"type:text"`
	ImageURL     string   `json:"image_url,omitempty" gorm:"type:text"`
	Hidden       []string `json:"hidden,omitempty" gorm:"type:text;serializer:json"` // field names hidden from the public

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Jogadores []SeatClaim `json:"jogadores" gorm:"foreignKey:CampaignID;constraint:OnDelete:CASCADE"`

	// Calculated fields (not stored in DB)
	FreeSeats int  `json:"free_seats" gorm:"-"`
	CanJoin   bool `json:"can_join" gorm:"-"`
}

// HideableFields lists the campaign fields an owner may hide.
var HideableFields = []string{
	"system", "description", "day", "time", "duration", "vagas", "plan", "requirements", "image_url", "jogadores",
}

// IsHidden reports whether field is in the hidden set.
func (c *Campaign) IsHidden(field string) bool {
	for _, h := range c.Hidden {
		if h == field {
			return true
		}
	}
	return false
}

// SeatClaim is one entry of a campaign's jogadores list.
type SeatClaim struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	CampaignID  string    `json:"campaign_id" gorm:"not null;uniqueIndex:idx_claim_campaign_email"`
	UserID      string    `json:"user_id" gorm:"index"`
	Email       string    `json:"email" gorm:"not null;uniqueIndex:idx_claim_campaign_email"`
	Discord     string    `json:"discord,omitempty"`
	Plan        string    `json:"plan"` // plan at time of claim
	DisplayName string    `json:"display_name"`
	Note        string    `json:"note,omitempty" gorm:"type:text"` // admin note
	Position    int       `json:"position" gorm:"default:0"`
	ClaimedAt   time.Time `json:"claimed_at"`
}
