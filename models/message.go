package models

import "time"

// Message is an admin → user notice shown in the user's inbox and,
// when mail is configured, also delivered by email.
type Message struct {
	ID          string     `gorm:"primaryKey" json:"id"`
	SenderEmail string     `gorm:"not null" json:"sender_email"`
	UserID      string     `gorm:"index;not null" json:"user_id"`
	Subject     string     `gorm:"not null" json:"subject"`
	Body        string     `gorm:"type:text" json:"body"`
	Read        bool       `gorm:"default:false;index" json:"read"`
	EmailedAt   *time.Time `json:"emailed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

// RevokedSession marks a signed-out session token. Rows past ExpiresAt
// are pruned by the scheduler.
type RevokedSession struct {
	JTI       string    `gorm:"primaryKey" json:"jti"`
	UserID    string    `gorm:"index" json:"user_id"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// All lists the models managed by AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Campaign{},
		&SeatClaim{},
		&AchievementOverride{},
		&Message{},
		&RevokedSession{},
	}
}
