// Package session owns the live platform connections: one per
// (tenant, platform, account), with liveness state and automatic
// reconnect. The registry is the single writer of session state;
// other components observe snapshots.
package session

import (
	"errors"
	"time"
)

// Session lifecycle states.
const (
	StatePending      = "pending"      // created, not yet authenticated
	StateActive       = "active"       // authenticated and usable
	StateDegraded     = "degraded"     // send or probe failed; reconnect pending
	StateDisconnected = "disconnected" // reconnect budget exhausted; needs tenant re-auth
)

// Errors surfaced to the executor. A missing session is treated as
// transient once (it may appear after a reconnect cycle); a
// disconnected one stays failed until the tenant re-authenticates.
var (
	ErrNotFound     = errors.New("session: not found")
	ErrDisconnected = errors.New("session: disconnected")
)

// Snapshot is a read-only view of one session's state.
type Snapshot struct {
	AccountID         string
	TenantID          string
	Platform          string
	State             string
	LastError         string
	LastHealthCheckAt time.Time
	Failures          int // consecutive probe/reconnect failures
}
