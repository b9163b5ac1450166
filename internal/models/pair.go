package models

import "time"

// ForwardingPair is a configured source→destination message route owned
// by a tenant. The orchestration core treats it as read-only input with
// one exception: repeated terminal send failures flip IsActive to false
// (the circuit breaker), which is always logged and alerted.
type ForwardingPair struct {
	ID                  string `gorm:"primaryKey;size:32"`
	TenantID            string `gorm:"size:32;not null;index"`
	SourcePlatform      string `gorm:"size:16;not null"`
	SourceChatRef       string `gorm:"size:200;not null"`
	SourceAccountID     string `gorm:"size:32;not null"`
	DestPlatform        string `gorm:"size:16;not null"`
	DestChatRef         string `gorm:"size:200;not null"`
	DestAccountID       string `gorm:"size:32;not null"`
	DelaySeconds        int    `gorm:"default:0;not null"`
	IsActive            bool   `gorm:"not null;index"`
	CopyMode            bool   `gorm:"default:false;not null"`
	SilentMode          bool   `gorm:"default:false;not null"`
	ContentRules        string `gorm:"type:json"` // serialized transform.Rules
	ConsecutiveFailures int    `gorm:"default:0;not null"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Route returns the source→destination platform pairing in the
// "telegram_to_discord" form used by plan eligibility checks.
func (p ForwardingPair) Route() string {
	return p.SourcePlatform + "_to_" + p.DestPlatform
}
