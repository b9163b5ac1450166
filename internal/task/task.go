// Package task defines the unit of work that flows through the
// dispatcher, plus the pure retry/backoff and lane-routing policies.
package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relaywire/relaywire/internal/plan"
)

// Kind classifies what a task does when executed.
type Kind string

const (
	KindForward   Kind = "forward"
	KindReconnect Kind = "reconnect"
	KindBulk      Kind = "bulk"
	KindCleanup   Kind = "cleanup"
)

// Lane is one of the dispatcher's ordered priority queues.
type Lane string

const (
	LaneHigh   Lane = "high"
	LaneMedium Lane = "medium"
	LaneLow    Lane = "low"
)

// Lanes lists all lanes in strict priority order.
var Lanes = []Lane{LaneHigh, LaneMedium, LaneLow}

// Payload carries the message content and addressing for a forward
// task. For reconnect tasks only SessionKey fields are set; for bulk
// tasks Messages holds the fan-out batch.
type Payload struct {
	Text      string   `json:"text,omitempty"`
	MessageID string   `json:"message_id,omitempty"`
	HasMedia  bool     `json:"has_media,omitempty"`
	MediaType string   `json:"media_type,omitempty"`
	Messages  []Payload `json:"messages,omitempty"` // bulk fan-out

	// Reconnect addressing.
	TenantID  string `json:"tenant_id,omitempty"`
	Platform  string `json:"platform,omitempty"`
	AccountID string `json:"account_id,omitempty"`
}

// ForwardTask is one unit of work. Tasks are values: a retry is a new
// task with Attempt incremented, never a mutation of the old one, so
// the persisted audit trail stays append-only.
type ForwardTask struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	PairID     string    `json:"pair_id,omitempty"`
	Kind       Kind      `json:"kind"`
	Lane       Lane      `json:"lane"`
	Payload    Payload   `json:"payload"`
	Attempt    int       `json:"attempt"`
	NotBefore  time.Time `json:"not_before"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// New creates a first-attempt task with a fresh ID.
func New(tenantID, pairID string, kind Kind, lane Lane, payload Payload) ForwardTask {
	return ForwardTask{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		PairID:   pairID,
		Kind:     kind,
		Lane:     lane,
		Payload:  payload,
		Attempt:  1,
	}
}

// Retry returns the successor task for a failed attempt: same identity
// and payload, attempt incremented, visibility pushed out by the given
// backoff. The task ID is preserved so the audit rows chain together.
func (t ForwardTask) Retry(backoff time.Duration, now time.Time) ForwardTask {
	next := t
	next.Attempt = t.Attempt + 1
	next.NotBefore = now.Add(backoff)
	return next
}

// Marshal encodes a task for the broker.
func Marshal(t ForwardTask) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("task: marshal %s: %w", t.ID, err)
	}
	return data, nil
}

// Unmarshal decodes a broker payload back into a task.
func Unmarshal(data []byte) (ForwardTask, error) {
	var t ForwardTask
	if err := json.Unmarshal(data, &t); err != nil {
		return ForwardTask{}, fmt.Errorf("task: unmarshal: %w", err)
	}
	return t, nil
}

// LaneFor maps a task kind and tenant tier to a dispatch lane.
// Reconnect and other health work always rides the high lane; bulk and
// cleanup always ride low; ordinary forwards follow the tier.
func LaneFor(kind Kind, tier plan.Tier) Lane {
	switch kind {
	case KindReconnect:
		return LaneHigh
	case KindBulk, KindCleanup:
		return LaneLow
	}
	return Lane(plan.LimitsFor(tier).Lane)
}
