package models

import "time"

// MessageLog records the outcome of one send for analytics. Written by
// the metrics sink, read by the (external) analytics API.
type MessageLog struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	PairID           string `gorm:"size:32;not null;index"`
	TenantID         string `gorm:"size:32;not null;index"`
	TaskID           string `gorm:"size:64;not null"`
	Attempt          int    `gorm:"default:1;not null"`
	Status           string `gorm:"size:16;not null"` // success, failed
	ErrorKind        string `gorm:"size:16"`          // transient, permanent
	Error            string `gorm:"type:text"`
	ProcessingTimeMs int64
	ForwardedAt      time.Time `gorm:"index"`
}

// AlertLog records an operator-visible escalation: a pair auto-paused by
// the circuit breaker or a session going disconnected.
type AlertLog struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	TenantID  string `gorm:"size:32;not null;index"`
	Kind      string `gorm:"size:32;not null"` // pair_paused, session_disconnected
	RefID     string `gorm:"size:64"`          // pair or session identifier
	Detail    string `gorm:"type:text"`
	CreatedAt time.Time
}
