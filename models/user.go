package models

import (
	"time"
)

// User is the canonical account record. One row per email once
// reconciliation has run.
type User struct {
	ID          string  `gorm:"primaryKey" json:"id"`                 // uid for sign-in accounts, uuid for imported contacts
	UID         string  `gorm:"column:uid;index" json:"uid,omitempty"` // last authenticated provider uid
	Email       string  `gorm:"index;not null" json:"email"`          // lower-cased
	DisplayName string  `json:"display_name"`
	PhotoURL    string  `gorm:"type:text" json:"photo_url,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	Plan        string  `gorm:"type:varchar(32);default:'gratis'" json:"plan"`
	Discord     string  `json:"discord,omitempty"`
	Address     Address `gorm:"type:text;serializer:json" json:"address"`

	Events       EventLog                   `gorm:"type:text;serializer:json" json:"events"`
	Achievements map[string]AchievementState `gorm:"type:text;serializer:json" json:"achievements"`

	FirstLogin bool     `gorm:"default:false" json:"first_login"`
	Degraded   bool     `gorm:"default:false" json:"degraded,omitempty"`
	MergedFrom []string `gorm:"type:text;serializer:json" json:"merged_from,omitempty"`

	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	LastMergeAt *time.Time `json:"last_merge_at,omitempty"`
}

// Address is stored inline on the user as json.
type Address struct {
	Street     string `json:"street,omitempty"`
	Number     string `json:"number,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

// Complete reports whether every address field is filled.
func (a Address) Complete() bool {
	return a.Street != "" && a.Number != "" && a.City != "" && a.State != "" && a.PostalCode != ""
}

// Fields returns the address as a field-name map, used when merging.
func (a Address) Fields() map[string]string {
	return map[string]string{
		"street":      a.Street,
		"number":      a.Number,
		"city":        a.City,
		"state":       a.State,
		"postal_code": a.PostalCode,
	}
}

// AddressFromFields is the inverse of Fields.
func AddressFromFields(m map[string]string) Address {
	return Address{
		Street:     m["street"],
		Number:     m["number"],
		City:       m["city"],
		State:      m["state"],
		PostalCode: m["postal_code"],
	}
}

// AchievementState is one entry of a user's achievements map.
type AchievementState struct {
	Unlocked   bool       `json:"unlocked"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
}

// EventLog maps a recorded event name to its accumulated value.
type EventLog map[string]EventEntry

// EventEntry holds a flag (Count == 1), a counter, or a string set
// (Values, with Count == len(Values)).
type EventEntry struct {
	Count  int64    `json:"count"`
	Values []string `json:"values,omitempty"`
}

// Count returns the recorded amount for name, zero when absent.
func (l EventLog) Count(name string) int64 {
	if l == nil {
		return 0
	}
	return l[name].Count
}
