// Package executor runs the worker pool that drains the dispatcher and
// performs tasks: forwarding messages over live sessions, fanning out
// bulk batches, reconnecting sessions, and pruning old records.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaywire/relaywire/internal/metrics"
	"github.com/relaywire/relaywire/internal/models"
	"github.com/relaywire/relaywire/internal/platform"
	"github.com/relaywire/relaywire/internal/queue"
	"github.com/relaywire/relaywire/internal/session"
	"github.com/relaywire/relaywire/internal/task"
	"github.com/relaywire/relaywire/internal/transform"
	"gorm.io/gorm"
)

// Terminal task statuses written to the audit trail.
const (
	statusCompleted = "completed"
	statusFailed    = "failed"
	statusSkipped   = "skipped"
)

// Pool is the fixed-size worker pool. Workers are homogeneous; any
// worker executes any task kind.
type Pool struct {
	dispatcher *queue.Dispatcher
	registry   *session.Registry
	db         *gorm.DB
	sink       metrics.Sink

	size             int
	maxAttempts      int
	backoff          task.BackoffPolicy
	sendTimeout      time.Duration
	circuitThreshold int
	retainDays       int
	errRetryDelay    time.Duration
	now              func() time.Time

	running atomic.Int64
}

// PoolOpts holds parameters for creating a Pool.
type PoolOpts struct {
	Dispatcher *queue.Dispatcher
	Registry   *session.Registry
	DB         *gorm.DB
	Sink       metrics.Sink

	Size        int
	MaxAttempts int
	Backoff     task.BackoffPolicy
	SendTimeout time.Duration
	// CircuitThreshold is the consecutive terminal-failure count that
	// auto-pauses a pair.
	CircuitThreshold int
	// RetainDays bounds how long completed task and message rows are
	// kept; cleanup tasks prune anything older.
	RetainDays int
}

// NewPool creates a Pool.
func NewPool(opts PoolOpts) (*Pool, error) {
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("executor: dispatcher is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("executor: registry is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("executor: db is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("executor: metrics sink is required")
	}
	if opts.Size <= 0 {
		opts.Size = 8
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff = task.DefaultBackoff
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.CircuitThreshold <= 0 {
		opts.CircuitThreshold = 5
	}
	if opts.RetainDays <= 0 {
		opts.RetainDays = 7
	}
	return &Pool{
		dispatcher:       opts.Dispatcher,
		registry:         opts.Registry,
		db:               opts.DB,
		sink:             opts.Sink,
		size:             opts.Size,
		maxAttempts:      opts.MaxAttempts,
		backoff:          opts.Backoff,
		sendTimeout:      opts.SendTimeout,
		circuitThreshold: opts.CircuitThreshold,
		retainDays:       opts.RetainDays,
		errRetryDelay:    time.Second,
		now:              time.Now,
	}, nil
}

// Run starts the workers and blocks until the context is canceled and
// every worker has drained its in-flight task.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.running.Add(1)
			defer p.running.Add(-1)
			p.worker(ctx, id)
		}(i)
	}
	wg.Wait()
}

// Running reports how many workers are live; the readiness probe treats
// zero as not ready.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

func (p *Pool) worker(ctx context.Context, id int) {
	for {
		t, err := p.dispatcher.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("executor: worker %d dequeue: %v", id, err)
			// An unreachable broker fails every call immediately; wait
			// before retrying so an outage does not spin the pool hot.
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.errRetryDelay):
			}
			continue
		}
		p.Execute(ctx, t)
	}
}

// Execute runs one task to a terminal or re-enqueued state. Exported so
// tests can drive the pool without live workers.
func (p *Pool) Execute(ctx context.Context, t task.ForwardTask) {
	switch t.Kind {
	case task.KindForward:
		p.executeForward(ctx, t)
	case task.KindBulk:
		p.executeBulk(ctx, t)
	case task.KindReconnect:
		p.executeReconnect(ctx, t)
	case task.KindCleanup:
		p.executeCleanup(ctx, t)
	default:
		log.Printf("executor: task %s has unknown kind %q", t.ID, t.Kind)
		p.finish(t, statusFailed, fmt.Sprintf("unknown kind %q", t.Kind))
	}
}

// executeForward sends one message over the pair's destination session.
func (p *Pool) executeForward(ctx context.Context, t task.ForwardTask) {
	var pair models.ForwardingPair
	err := p.db.Where("id = ?", t.PairID).First(&pair).Error
	if err != nil {
		p.finish(t, statusFailed, fmt.Sprintf("load pair: %v", err))
		return
	}
	// The pair may have been paused or deleted after enqueue; the
	// liveness check at execution time is authoritative.
	if !pair.IsActive {
		p.finish(t, statusSkipped, "pair inactive at execution time")
		return
	}

	conn, st, err := p.registry.Conn(pair.DestAccountID)
	if err != nil || st != session.StateActive || conn == nil {
		p.deferTask(ctx, t, fmt.Sprintf("session %s not active (%s)", pair.DestAccountID, st))
		return
	}

	rules, err := transform.ParseRules(pair.ContentRules)
	if err != nil {
		// A corrupt rules column fails the pair's tasks permanently
		// rather than forwarding unfiltered content.
		p.recordOutcome(t, pair, 0, platform.Permanent, err)
		p.finish(t, statusFailed, err.Error())
		p.tripBreaker(ctx, pair, err)
		return
	}
	text, forward := rules.Apply(t.Payload.Text, t.Payload.HasMedia)
	if !forward {
		p.finish(t, statusSkipped, "filtered by content rules")
		return
	}

	msg := platform.Message{
		ChatRef: pair.DestChatRef,
		Text:    text,
		Silent:  pair.SilentMode,
	}
	if !pair.CopyMode {
		msg.ForwardOf = t.Payload.MessageID
		msg.SourceChatRef = pair.SourceChatRef
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	start := p.now()
	err = conn.Send(sendCtx, msg)
	cancel()
	elapsed := p.now().Sub(start)

	if err == nil {
		p.recordSuccess(t, pair, elapsed)
		p.finish(t, statusCompleted, "")
		p.resetBreaker(pair)
		return
	}

	kind := platform.Classify(err)
	p.recordOutcome(t, pair, elapsed, kind, err)
	p.finish(t, statusFailed, err.Error())

	if kind == platform.Transient && t.Attempt < p.maxAttempts {
		retry := t.Retry(p.backoff.Delay(t.Attempt), p.now())
		if qerr := p.dispatcher.Enqueue(ctx, retry); qerr != nil {
			log.Printf("executor: re-enqueue task %s: %v", t.ID, qerr)
		}
		return
	}
	// Permanent error or retry budget exhausted: terminal for this
	// message, counts toward the pair's circuit breaker.
	p.tripBreaker(ctx, pair, err)
}

// executeBulk fans a batch out as individual forward tasks so each
// message gets its own retry budget and audit trail.
func (p *Pool) executeBulk(ctx context.Context, t task.ForwardTask) {
	if len(t.Payload.Messages) == 0 {
		p.finish(t, statusSkipped, "empty batch")
		return
	}
	for _, msg := range t.Payload.Messages {
		child := task.New(t.TenantID, t.PairID, task.KindForward, task.LaneLow, msg)
		child.EnqueuedAt = p.now()
		if err := p.dispatcher.Enqueue(ctx, child); err != nil {
			if errors.Is(err, queue.ErrPairInactive) {
				p.finish(t, statusSkipped, "pair inactive during fan-out")
				return
			}
			p.finish(t, statusFailed, fmt.Sprintf("fan out: %v", err))
			return
		}
	}
	p.finish(t, statusCompleted, "")
}

// executeReconnect re-authenticates the session named by the payload.
// The registry deduplicates concurrent attempts, so stacked reconnect
// tasks for the same session collapse to one dial.
func (p *Pool) executeReconnect(ctx context.Context, t task.ForwardTask) {
	err := p.registry.Reconnect(ctx, t.Payload.AccountID)
	switch {
	case err == nil:
		p.finish(t, statusCompleted, "")
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrDisconnected):
		// Nothing left to reconnect; the alert was already written.
		p.finish(t, statusSkipped, err.Error())
	case t.Attempt < p.maxAttempts:
		p.finish(t, statusFailed, err.Error())
		retry := t.Retry(p.backoff.Delay(t.Attempt), p.now())
		if qerr := p.dispatcher.Enqueue(ctx, retry); qerr != nil {
			log.Printf("executor: re-enqueue reconnect %s: %v", t.ID, qerr)
		}
	default:
		p.finish(t, statusFailed, err.Error())
	}
}

// executeCleanup prunes terminal task records and message logs past the
// retention window.
func (p *Pool) executeCleanup(ctx context.Context, t task.ForwardTask) {
	cutoff := p.now().AddDate(0, 0, -p.retainDays)

	res := p.db.Where("status <> ? AND enqueued_at < ?", "pending", cutoff).
		Delete(&models.TaskRecord{})
	if res.Error != nil {
		p.finish(t, statusFailed, fmt.Sprintf("prune task records: %v", res.Error))
		return
	}
	pruned := res.RowsAffected

	res = p.db.Where("forwarded_at < ?", cutoff).Delete(&models.MessageLog{})
	if res.Error != nil {
		p.finish(t, statusFailed, fmt.Sprintf("prune message logs: %v", res.Error))
		return
	}
	log.Printf("executor: cleanup pruned %d task records, %d message logs", pruned, res.RowsAffected)
	p.finish(t, statusCompleted, "")
}

// deferTask pushes a task back with backoff while its session recovers,
// or fails it once the retry budget runs out.
func (p *Pool) deferTask(ctx context.Context, t task.ForwardTask, reason string) {
	if t.Attempt >= p.maxAttempts {
		p.finish(t, statusFailed, reason)
		return
	}
	p.finish(t, statusFailed, reason)
	retry := t.Retry(p.backoff.Delay(t.Attempt), p.now())
	if err := p.dispatcher.Enqueue(ctx, retry); err != nil {
		log.Printf("executor: defer task %s: %v", t.ID, err)
	}
}

// finish writes the terminal status onto the audit row for this
// incarnation of the task.
func (p *Pool) finish(t task.ForwardTask, status, errMsg string) {
	now := p.now()
	err := p.db.Model(&models.TaskRecord{}).
		Where("task_id = ? AND attempt = ?", t.ID, t.Attempt).
		Updates(map[string]interface{}{
			"status":       status,
			"error":        errMsg,
			"completed_at": now,
		}).Error
	if err != nil {
		log.Printf("executor: record task %s attempt %d: %v", t.ID, t.Attempt, err)
	}
}

func (p *Pool) recordSuccess(t task.ForwardTask, pair models.ForwardingPair, elapsed time.Duration) {
	p.sink.RecordSuccess(models.MessageLog{
		PairID:           pair.ID,
		TenantID:         t.TenantID,
		TaskID:           t.ID,
		Attempt:          t.Attempt,
		Status:           "success",
		ProcessingTimeMs: elapsed.Milliseconds(),
		ForwardedAt:      p.now(),
	})
}

func (p *Pool) recordOutcome(t task.ForwardTask, pair models.ForwardingPair, elapsed time.Duration, kind platform.ErrorKind, cause error) {
	p.sink.RecordFailure(models.MessageLog{
		PairID:           pair.ID,
		TenantID:         t.TenantID,
		TaskID:           t.ID,
		Attempt:          t.Attempt,
		Status:           "failed",
		ErrorKind:        string(kind),
		Error:            cause.Error(),
		ProcessingTimeMs: elapsed.Milliseconds(),
		ForwardedAt:      p.now(),
	})
}

// tripBreaker counts a terminal failure against the pair and pauses it
// at the threshold. The conditional update flips is_active exactly once
// even when workers race, so exactly one alert is written.
func (p *Pool) tripBreaker(ctx context.Context, pair models.ForwardingPair, cause error) {
	err := p.db.Model(&models.ForwardingPair{}).
		Where("id = ?", pair.ID).
		UpdateColumn("consecutive_failures", gorm.Expr("consecutive_failures + 1")).Error
	if err != nil {
		log.Printf("executor: count failure for pair %s: %v", pair.ID, err)
		return
	}

	var fresh models.ForwardingPair
	if err := p.db.Where("id = ?", pair.ID).First(&fresh).Error; err != nil {
		log.Printf("executor: reload pair %s: %v", pair.ID, err)
		return
	}
	if fresh.ConsecutiveFailures < p.circuitThreshold {
		return
	}

	res := p.db.Model(&models.ForwardingPair{}).
		Where("id = ? AND is_active = ?", pair.ID, true).
		Update("is_active", false)
	if res.Error != nil {
		log.Printf("executor: pause pair %s: %v", pair.ID, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		return // another worker already paused it
	}

	log.Printf("executor: paused pair %s after %d consecutive failures", pair.ID, fresh.ConsecutiveFailures)
	alert := models.AlertLog{
		TenantID: pair.TenantID,
		Kind:     "pair_paused",
		RefID:    pair.ID,
		Detail:   fmt.Sprintf("pair %s auto-paused after %d consecutive failures: %v", pair.ID, fresh.ConsecutiveFailures, cause),
	}
	if err := p.db.Create(&alert).Error; err != nil {
		log.Printf("executor: alert for pair %s: %v", pair.ID, err)
	}
}

// resetBreaker clears the pair's failure streak after a success.
func (p *Pool) resetBreaker(pair models.ForwardingPair) {
	err := p.db.Model(&models.ForwardingPair{}).
		Where("id = ? AND consecutive_failures > 0", pair.ID).
		Update("consecutive_failures", 0).Error
	if err != nil {
		log.Printf("executor: reset failures for pair %s: %v", pair.ID, err)
	}
}
