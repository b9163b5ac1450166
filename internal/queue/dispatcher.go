package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaywire/relaywire/internal/models"
	"github.com/relaywire/relaywire/internal/task"
	"gorm.io/gorm"
)

// ErrPairInactive is returned by Enqueue when the task's forwarding
// pair has been deleted or auto-paused; no new work may enter the
// queue for it.
var ErrPairInactive = errors.New("queue: forwarding pair is inactive")

const defaultPollInterval = 200 * time.Millisecond

// Dispatcher routes tasks into ordered lanes and hands them to workers
// with strict priority and starvation avoidance. Queue state lives in
// the broker; the dispatcher itself only holds policy.
type Dispatcher struct {
	broker     Broker
	db         *gorm.DB
	starvation time.Duration
	poll       time.Duration
	now        func() time.Time
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	Broker Broker
	DB     *gorm.DB
	// StarvationThreshold is how long a medium/low entry may wait ready
	// before it is serviced ahead of higher lanes.
	StarvationThreshold time.Duration
	// PollInterval bounds how often idle workers re-check the broker.
	// Defaults to 200ms.
	PollInterval time.Duration
	// Now overrides the time source (tests).
	Now func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("queue: broker is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("queue: db is required")
	}
	if opts.StarvationThreshold <= 0 {
		opts.StarvationThreshold = time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		broker:     opts.Broker,
		db:         opts.DB,
		starvation: opts.StarvationThreshold,
		poll:       opts.PollInterval,
		now:        opts.Now,
	}, nil
}

// Enqueue admits a task into its lane. Forward-family tasks are checked
// against the pair's is_active flag first so a deleted or auto-paused
// pair stops accepting work immediately. Every accepted incarnation
// gets an audit row; broker failures surface as ErrQueueUnavailable so
// the caller never loses a task silently.
func (d *Dispatcher) Enqueue(ctx context.Context, t task.ForwardTask) error {
	if t.PairID != "" && (t.Kind == task.KindForward || t.Kind == task.KindBulk) {
		var pair models.ForwardingPair
		err := d.db.Where("id = ?", t.PairID).First(&pair).Error
		if err != nil {
			return fmt.Errorf("queue: enqueue %s: load pair %s: %w", t.ID, t.PairID, err)
		}
		if !pair.IsActive {
			return fmt.Errorf("%w: %s", ErrPairInactive, t.PairID)
		}
	}

	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = d.now()
	}

	data, err := task.Marshal(t)
	if err != nil {
		return err
	}

	rec := models.TaskRecord{
		TaskID:     t.ID,
		TenantID:   t.TenantID,
		PairID:     t.PairID,
		Kind:       string(t.Kind),
		Lane:       string(t.Lane),
		Attempt:    t.Attempt,
		Status:     "pending",
		NotBefore:  t.NotBefore,
		EnqueuedAt: t.EnqueuedAt,
	}
	if err := d.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("queue: enqueue %s: audit row: %w", t.ID, err)
	}

	if err := d.broker.Push(ctx, t.Lane, data, t.NotBefore); err != nil {
		return err
	}
	return nil
}

// Dequeue blocks until a task becomes visible or the context is
// cancelled. Lanes drain in strict priority order except when a lower
// lane's oldest ready entry has waited past the starvation threshold,
// in which case one entry from the longest-starved lane is serviced
// first to bound its worst-case latency.
func (d *Dispatcher) Dequeue(ctx context.Context) (task.ForwardTask, error) {
	timer := time.NewTimer(d.poll)
	defer timer.Stop()

	for {
		t, ok, err := d.tryDequeue(ctx)
		if err != nil {
			return task.ForwardTask{}, err
		}
		if ok {
			return t, nil
		}

		timer.Reset(d.poll)
		select {
		case <-ctx.Done():
			return task.ForwardTask{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// tryDequeue makes one selection pass over the lanes.
func (d *Dispatcher) tryDequeue(ctx context.Context) (task.ForwardTask, bool, error) {
	if lane, ok, err := d.starvedLane(ctx); err != nil {
		return task.ForwardTask{}, false, err
	} else if ok {
		if t, ok, err := d.popLane(ctx, lane); err != nil || ok {
			return t, ok, err
		}
	}

	for _, lane := range task.Lanes {
		if t, ok, err := d.popLane(ctx, lane); err != nil || ok {
			return t, ok, err
		}
	}
	return task.ForwardTask{}, false, nil
}

// starvedLane returns the non-high lane whose oldest ready entry has
// waited longest past the threshold, if any.
func (d *Dispatcher) starvedLane(ctx context.Context) (task.Lane, bool, error) {
	var (
		best    task.Lane
		bestAge time.Duration
		found   bool
	)
	for _, lane := range []task.Lane{task.LaneMedium, task.LaneLow} {
		age, ok, err := d.broker.ReadyAge(ctx, lane)
		if err != nil {
			return "", false, err
		}
		if ok && age >= d.starvation && age > bestAge {
			best, bestAge, found = lane, age, true
		}
	}
	return best, found, nil
}

func (d *Dispatcher) popLane(ctx context.Context, lane task.Lane) (task.ForwardTask, bool, error) {
	data, ok, err := d.broker.Pop(ctx, lane)
	if err != nil {
		return task.ForwardTask{}, false, err
	}
	if !ok {
		return task.ForwardTask{}, false, nil
	}
	t, err := task.Unmarshal(data)
	if err != nil {
		return task.ForwardTask{}, false, err
	}
	return t, true, nil
}

// Depths returns the entry count per lane for the stats surface.
func (d *Dispatcher) Depths(ctx context.Context) (map[task.Lane]int64, error) {
	depths := make(map[task.Lane]int64, len(task.Lanes))
	for _, lane := range task.Lanes {
		n, err := d.broker.Depth(ctx, lane)
		if err != nil {
			return nil, err
		}
		depths[lane] = n
	}
	return depths, nil
}

// Ping reports broker connectivity for the readiness endpoint.
func (d *Dispatcher) Ping(ctx context.Context) error {
	return d.broker.Ping(ctx)
}
