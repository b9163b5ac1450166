// Package metrics records per-delivery outcomes. The canonical record
// is the message_logs table; an in-memory counter set backs the stats
// endpoint without a database round trip.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/relaywire/relaywire/internal/models"
	"gorm.io/gorm"
)

// Sink receives the outcome of every delivery attempt.
type Sink interface {
	RecordSuccess(rec models.MessageLog)
	RecordFailure(rec models.MessageLog)
}

// Counters is a point-in-time snapshot of delivery totals since start.
type Counters struct {
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
}

// DBSink persists outcomes to message_logs and keeps running totals.
type DBSink struct {
	db  *gorm.DB
	out func(string, ...any)

	mu       sync.Mutex
	counters Counters
}

// NewDBSink creates a DBSink. The printf function receives persistence
// failures; metrics writes never fail a delivery.
func NewDBSink(db *gorm.DB, printf func(string, ...any)) (*DBSink, error) {
	if db == nil {
		return nil, fmt.Errorf("metrics: db is required")
	}
	if printf == nil {
		printf = func(string, ...any) {}
	}
	return &DBSink{db: db, out: printf}, nil
}

// RecordSuccess logs a delivered message.
func (s *DBSink) RecordSuccess(rec models.MessageLog) {
	s.mu.Lock()
	s.counters.Succeeded++
	s.mu.Unlock()
	s.persist(rec)
}

// RecordFailure logs a failed attempt.
func (s *DBSink) RecordFailure(rec models.MessageLog) {
	s.mu.Lock()
	s.counters.Failed++
	s.mu.Unlock()
	s.persist(rec)
}

// Snapshot returns the totals accumulated since process start.
func (s *DBSink) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

func (s *DBSink) persist(rec models.MessageLog) {
	if rec.ForwardedAt.IsZero() {
		rec.ForwardedAt = time.Now()
	}
	if err := s.db.Create(&rec).Error; err != nil {
		s.out("metrics: persist message log for task %s: %v", rec.TaskID, err)
	}
}
