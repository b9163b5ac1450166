package models

import "time"

// TaskRecord is the append-only audit row for one incarnation of a
// forward task. A retry creates a new row with the attempt incremented;
// rows are never mutated after reaching a terminal status.
type TaskRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	TaskID      string `gorm:"size:64;not null;index"`
	TenantID    string `gorm:"size:32;not null;index"`
	PairID      string `gorm:"size:32;index"`
	Kind        string `gorm:"size:16;not null"` // forward, reconnect, bulk, cleanup
	Lane        string `gorm:"size:8;not null"`  // high, medium, low
	Attempt     int    `gorm:"default:1;not null"`
	Status      string `gorm:"size:16;default:pending;not null;index"` // pending, completed, failed, skipped
	Error       string `gorm:"type:text"`
	NotBefore   time.Time
	EnqueuedAt  time.Time
	CompletedAt *time.Time
}
