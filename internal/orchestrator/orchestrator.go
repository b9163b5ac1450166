// Package orchestrator assembles the forwarding daemon: broker,
// dispatcher, session registry, executor pool, health monitor, cleanup
// schedule, and the ops HTTP surface.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/relaywire/relaywire/internal/config"
	"github.com/relaywire/relaywire/internal/executor"
	"github.com/relaywire/relaywire/internal/health"
	"github.com/relaywire/relaywire/internal/metrics"
	"github.com/relaywire/relaywire/internal/ops"
	"github.com/relaywire/relaywire/internal/platform"
	"github.com/relaywire/relaywire/internal/platform/discord"
	"github.com/relaywire/relaywire/internal/platform/slack"
	"github.com/relaywire/relaywire/internal/platform/telegram"
	"github.com/relaywire/relaywire/internal/queue"
	"github.com/relaywire/relaywire/internal/session"
	"github.com/relaywire/relaywire/internal/task"
)

// Orchestrator owns the long-running components of the daemon.
type Orchestrator struct {
	cfg        *config.Config
	db         *gorm.DB
	broker     queue.Broker
	dispatcher *queue.Dispatcher
	registry   *session.Registry
	pool       *executor.Pool
	monitor    *health.Monitor
	sink       *metrics.DBSink
	out        io.Writer
}

// Opts holds parameters for creating an Orchestrator.
type Opts struct {
	Config *config.Config
	DB     *gorm.DB
	// Broker overrides the config-selected broker; tests inject a
	// memory broker with a fake clock.
	Broker queue.Broker
	// Dialers overrides the config-selected platform dialers.
	Dialers []platform.Dialer
	Out     io.Writer
}

// New wires the daemon together without starting anything.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("orchestrator: config is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("orchestrator: db is required")
	}
	cfg := opts.Config

	broker := opts.Broker
	if broker == nil {
		var err error
		broker, err = buildBroker(cfg)
		if err != nil {
			return nil, err
		}
	}

	dispatcher, err := queue.NewDispatcher(queue.DispatcherOpts{
		Broker:              broker,
		DB:                  opts.DB,
		StarvationThreshold: time.Duration(cfg.Orchestrator.StarvationThresholdMs) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}

	dialers := opts.Dialers
	if dialers == nil {
		dialers = buildDialers(cfg)
	}
	if len(dialers) == 0 {
		return nil, fmt.Errorf("orchestrator: no platforms enabled")
	}

	registry, err := session.NewRegistry(session.RegistryOpts{
		DB:               opts.DB,
		Dialers:          dialers,
		FailureThreshold: cfg.Orchestrator.ReconnectFailureThreshold,
	})
	if err != nil {
		return nil, err
	}

	sink, err := metrics.NewDBSink(opts.DB, log.Printf)
	if err != nil {
		return nil, err
	}

	pool, err := executor.NewPool(executor.PoolOpts{
		Dispatcher:  dispatcher,
		Registry:    registry,
		DB:          opts.DB,
		Sink:        sink,
		Size:        cfg.Orchestrator.PoolSize,
		MaxAttempts: cfg.Orchestrator.MaxRetryAttempts,
		Backoff: task.BackoffPolicy{
			Base: time.Duration(cfg.Orchestrator.BackoffBaseMs) * time.Millisecond,
			Max:  task.DefaultBackoff.Max,
		},
		SendTimeout:      time.Duration(cfg.Orchestrator.SendTimeoutSec) * time.Second,
		CircuitThreshold: cfg.Orchestrator.CircuitBreakerThreshold,
		RetainDays:       cfg.Cleanup.RetainDays,
	})
	if err != nil {
		return nil, err
	}

	monitor, err := health.NewMonitor(health.Opts{
		Registry:    registry,
		Dispatcher:  dispatcher,
		Interval:    time.Duration(cfg.Orchestrator.HealthCheckIntervalSec) * time.Second,
		Timeout:     time.Duration(cfg.Orchestrator.ProbeTimeoutSec) * time.Second,
		Concurrency: cfg.Orchestrator.ProbeConcurrency,
	})
	if err != nil {
		return nil, err
	}

	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &Orchestrator{
		cfg:        cfg,
		db:         opts.DB,
		broker:     broker,
		dispatcher: dispatcher,
		registry:   registry,
		pool:       pool,
		monitor:    monitor,
		sink:       sink,
		out:        out,
	}, nil
}

// Dispatcher exposes the dispatcher for enqueue callers (CLI, ingest).
func (o *Orchestrator) Dispatcher() *queue.Dispatcher { return o.dispatcher }

// Registry exposes the session registry.
func (o *Orchestrator) Registry() *session.Registry { return o.registry }

// Run starts every component and blocks until the context is canceled,
// then shuts down in dependency order: cron and monitor first, workers
// drain, sessions close last.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.dispatcher.Ping(ctx); err != nil {
		return fmt.Errorf("orchestrator: broker unreachable: %w", err)
	}

	loaded, err := o.registry.LoadPersisted(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(o.out, "Loaded %d platform sessions\n", loaded)

	sched, err := o.startCleanup(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.monitor.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := ops.Start(ctx, ops.StartOpts{
			Dispatcher: o.dispatcher,
			Registry:   o.registry,
			Sink:       o.sink,
			Workers:    o.pool,
			Port:       o.cfg.Ops.Port,
			Out:        o.out,
		})
		if err != nil {
			log.Printf("orchestrator: ops server: %v", err)
		}
	}()

	fmt.Fprintf(o.out, "Starting %d workers\n", o.cfg.Orchestrator.PoolSize)
	o.pool.Run(ctx)

	// Workers have drained; stop the schedule and close sessions.
	cronCtx := sched.Stop()
	<-cronCtx.Done()
	wg.Wait()

	for _, snap := range o.registry.Snapshots() {
		if err := o.registry.Remove(snap.AccountID); err != nil {
			log.Printf("orchestrator: close session %s: %v", snap.AccountID, err)
		}
	}
	if err := o.broker.Close(); err != nil {
		log.Printf("orchestrator: close broker: %v", err)
	}
	return nil
}

// startCleanup registers the pruning schedule. The jobs only enqueue
// low-lane cleanup tasks; the workers do the deleting.
func (o *Orchestrator) startCleanup(ctx context.Context) (*cron.Cron, error) {
	sched := cron.New()
	enqueue := func(name string) func() {
		return func() {
			t := task.New("system", "", task.KindCleanup, task.LaneLow, task.Payload{})
			t.EnqueuedAt = time.Now()
			if err := o.dispatcher.Enqueue(ctx, t); err != nil {
				log.Printf("orchestrator: enqueue %s cleanup: %v", name, err)
			}
		}
	}
	if _, err := sched.AddFunc(o.cfg.Cleanup.TasksCron, enqueue("task")); err != nil {
		return nil, fmt.Errorf("orchestrator: tasks cron %q: %w", o.cfg.Cleanup.TasksCron, err)
	}
	if _, err := sched.AddFunc(o.cfg.Cleanup.LogsCron, enqueue("log")); err != nil {
		return nil, fmt.Errorf("orchestrator: logs cron %q: %w", o.cfg.Cleanup.LogsCron, err)
	}
	sched.Start()
	return sched, nil
}

// buildBroker selects the broker implementation from config.
func buildBroker(cfg *config.Config) (queue.Broker, error) {
	switch cfg.Broker.Kind {
	case "memory":
		return queue.NewMemoryBroker(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Broker.Addr,
			Password: cfg.Broker.Password,
			DB:       cfg.Broker.DB,
		})
		return queue.NewRedisBroker(client, cfg.Broker.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("orchestrator: unknown broker kind %q", cfg.Broker.Kind)
	}
}

// buildDialers creates one dialer per enabled platform.
func buildDialers(cfg *config.Config) []platform.Dialer {
	var dialers []platform.Dialer
	if cfg.PlatformEnabled("telegram") {
		dialers = append(dialers, telegram.NewDialer())
	}
	if cfg.PlatformEnabled("discord") {
		dialers = append(dialers, discord.NewDialer())
	}
	if cfg.PlatformEnabled("slack") {
		dialers = append(dialers, slack.NewDialer())
	}
	return dialers
}
