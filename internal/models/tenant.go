package models

import "time"

// Tenant represents one paying customer of the relay service. The plan
// tier parameterizes every admission and scheduling decision; it is only
// changed by an external billing event, never by the orchestration core.
type Tenant struct {
	ID            string     `gorm:"primaryKey;size:32"`
	Name          string     `gorm:"size:100;not null"`
	Email         string     `gorm:"size:255;uniqueIndex;not null"`
	Plan          string     `gorm:"size:16;default:free;not null"` // free, pro, elite
	Status        string     `gorm:"size:16;default:active;not null"` // active, suspended
	PlanExpiresAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
