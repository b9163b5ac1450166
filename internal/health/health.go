// Package health runs the periodic session probe loop: ping every
// session that should be live, mark failures, and queue reconnects on
// the high lane so recovery outruns ordinary traffic.
package health

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relaywire/relaywire/internal/queue"
	"github.com/relaywire/relaywire/internal/session"
	"github.com/relaywire/relaywire/internal/task"
)

// Monitor probes sessions on a fixed interval.
type Monitor struct {
	registry    *session.Registry
	dispatcher  *queue.Dispatcher
	interval    time.Duration
	timeout     time.Duration
	concurrency int
	now         func() time.Time
}

// Opts holds parameters for creating a Monitor.
type Opts struct {
	Registry   *session.Registry
	Dispatcher *queue.Dispatcher
	// Interval between probe sweeps. Defaults to 5 minutes.
	Interval time.Duration
	// Timeout bounds each individual ping. Defaults to 10 seconds.
	Timeout time.Duration
	// Concurrency bounds simultaneous pings so one sweep cannot flood
	// a platform. Defaults to 4.
	Concurrency int
}

// NewMonitor creates a Monitor.
func NewMonitor(opts Opts) (*Monitor, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("health: registry is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("health: dispatcher is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Monitor{
		registry:    opts.Registry,
		dispatcher:  opts.Dispatcher,
		interval:    opts.Interval,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		now:         time.Now,
	}, nil
}

// Run probes on the configured interval until the context is canceled.
// The first sweep runs one interval after start, giving sessions loaded
// at boot time to settle.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep probes every session once. Exported so tests and the CLI can
// trigger a sweep without the timer loop. Sessions are independent: one
// slow or failing probe never delays the others beyond the concurrency
// bound, and a failure on one session touches no other session's state.
func (m *Monitor) Sweep(ctx context.Context) {
	snaps := m.registry.Snapshots()

	sem := make(chan struct{}, m.concurrency)
	var wg sync.WaitGroup
	for _, snap := range snaps {
		switch snap.State {
		case session.StateActive, session.StateDegraded, session.StatePending:
		default:
			continue // disconnected sessions need tenant action, not probes
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(snap session.Snapshot) {
			defer wg.Done()
			defer func() { <-sem }()
			m.probe(ctx, snap)
		}(snap)
	}
	wg.Wait()
}

// probe pings one session and applies the outcome.
func (m *Monitor) probe(ctx context.Context, snap session.Snapshot) {
	conn, st, err := m.registry.Conn(snap.AccountID)
	if err != nil {
		return // removed or disconnected since the snapshot
	}
	if conn == nil || st == session.StatePending {
		// Never authenticated (or lost its conn); skip straight to
		// reconnect.
		m.queueReconnect(ctx, snap)
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err = conn.Ping(pingCtx)
	cancel()

	if err == nil {
		m.registry.MarkHealthy(snap.AccountID)
		return
	}

	log.Printf("health: ping %s/%s: %v", snap.Platform, snap.AccountID, err)
	m.registry.MarkDegraded(snap.AccountID, err)
	m.queueReconnect(ctx, snap)
}

// queueReconnect enqueues a high-lane reconnect task unless the session
// went disconnected in the meantime.
func (m *Monitor) queueReconnect(ctx context.Context, snap session.Snapshot) {
	if _, st, err := m.registry.Conn(snap.AccountID); err != nil || st == session.StateDisconnected {
		return
	}
	t := task.New(snap.TenantID, "", task.KindReconnect, task.LaneHigh, task.Payload{
		TenantID:  snap.TenantID,
		Platform:  snap.Platform,
		AccountID: snap.AccountID,
	})
	t.EnqueuedAt = m.now()
	if err := m.dispatcher.Enqueue(ctx, t); err != nil {
		log.Printf("health: enqueue reconnect for %s: %v", snap.AccountID, err)
	}
}
