// Package queue implements the priority dispatcher: three ordered lanes
// backed by a broker with delayed visibility, strict-priority draining,
// and starvation avoidance for the lower lanes.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/relaywire/relaywire/internal/task"
)

// ErrQueueUnavailable is returned when the broker cannot be reached.
// Callers must surface it; a task that failed to enqueue was never
// accepted and must not be silently dropped.
var ErrQueueUnavailable = errors.New("queue: broker unavailable")

// Broker is the minimal storage primitive behind the dispatcher: a
// delayed-visibility FIFO per lane. An entry pushed with a future
// notBefore stays invisible to Pop until that time passes; ordering
// within a lane is by visibility time, then push order.
type Broker interface {
	// Push stores an entry. A zero or past notBefore makes it visible
	// immediately.
	Push(ctx context.Context, lane task.Lane, data []byte, notBefore time.Time) error

	// Pop removes and returns the oldest visible entry in the lane.
	// ok is false when the lane has no visible entry right now.
	Pop(ctx context.Context, lane task.Lane) (data []byte, ok bool, err error)

	// ReadyAge reports how long the oldest visible entry in the lane
	// has been waiting since it became visible. ok is false when the
	// lane has no visible entry.
	ReadyAge(ctx context.Context, lane task.Lane) (age time.Duration, ok bool, err error)

	// Depth returns the total entry count in the lane, visible or not.
	Depth(ctx context.Context, lane task.Lane) (int64, error)

	// Ping verifies broker connectivity; the readiness endpoint calls it.
	Ping(ctx context.Context) error

	Close() error
}
