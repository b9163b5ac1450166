package models

import "time"

// PlatformAccount is the persisted record of one authenticated platform
// connection for a tenant. The live connection is owned by the session
// registry; this row mirrors its state so it survives restarts.
// CredentialsRef names where the secret lives (an env var or vault key);
// the raw secret is never stored.
type PlatformAccount struct {
	ID                string `gorm:"primaryKey;size:32"`
	TenantID          string `gorm:"size:32;not null;index"`
	Platform          string `gorm:"size:16;not null;index"` // telegram, discord, slack
	Label             string `gorm:"size:100"`
	CredentialsRef    string `gorm:"size:255;not null"`
	State             string `gorm:"size:16;default:pending;not null"` // pending, active, degraded, disconnected
	LastHealthCheckAt *time.Time
	LastError         string `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
