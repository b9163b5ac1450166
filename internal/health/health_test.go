package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relaywire/relaywire/internal/models"
	"github.com/relaywire/relaywire/internal/platform"
	"github.com/relaywire/relaywire/internal/queue"
	"github.com/relaywire/relaywire/internal/session"
	"github.com/relaywire/relaywire/internal/task"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeConn struct {
	mu      sync.Mutex
	pingErr error
	pings   int
}

func (c *fakeConn) Send(context.Context, platform.Message) error { return nil }
func (c *fakeConn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.pingErr
}
func (c *fakeConn) Close() error { return nil }

// fakeDialer returns a distinct conn per account so tests can fail one
// session without touching another.
type fakeDialer struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
}

func (d *fakeDialer) Platform() string { return "telegram" }
func (d *fakeDialer) Dial(_ context.Context, creds platform.Credentials) (platform.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[creds.AccountID]
	if !ok {
		c = &fakeConn{}
		d.conns[creds.AccountID] = c
	}
	return c, nil
}

type harness struct {
	db         *gorm.DB
	broker     *queue.MemoryBroker
	dispatcher *queue.Dispatcher
	registry   *session.Registry
	monitor    *Monitor
	dialer     *fakeDialer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.PlatformAccount{}, &models.TaskRecord{}, &models.AlertLog{}, &models.ForwardingPair{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}

	broker := queue.NewMemoryBroker()
	dispatcher, err := queue.NewDispatcher(queue.DispatcherOpts{
		Broker:              broker,
		DB:                  db,
		StarvationThreshold: time.Hour,
		PollInterval:        time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	dialer := &fakeDialer{conns: make(map[string]*fakeConn)}
	registry, err := session.NewRegistry(session.RegistryOpts{
		DB:      db,
		Dialers: []platform.Dialer{dialer},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	monitor, err := NewMonitor(Opts{
		Registry:    registry,
		Dispatcher:  dispatcher,
		Interval:    time.Hour,
		Timeout:     time.Second,
		Concurrency: 2,
	})
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}

	return &harness{db: db, broker: broker, dispatcher: dispatcher, registry: registry, monitor: monitor, dialer: dialer}
}

func (h *harness) addSession(t *testing.T, id string) *fakeConn {
	t.Helper()
	acct := models.PlatformAccount{
		ID: id, TenantID: "ten-1", Platform: "telegram",
		CredentialsRef: "TG_" + id, State: session.StatePending,
	}
	if err := h.db.Create(&acct).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if err := h.registry.Register(context.Background(), acct); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h.dialer.mu.Lock()
	defer h.dialer.mu.Unlock()
	return h.dialer.conns[id]
}

func (h *harness) highDepth(t *testing.T) int64 {
	t.Helper()
	depth, err := h.broker.Depth(context.Background(), task.LaneHigh)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	return depth
}

func TestSweep_HealthySessionStaysActive(t *testing.T) {
	h := newHarness(t)
	conn := h.addSession(t, "acct-1")

	h.monitor.Sweep(context.Background())

	conn.mu.Lock()
	pings := conn.pings
	conn.mu.Unlock()
	if pings != 1 {
		t.Errorf("pings = %d, want 1", pings)
	}

	snap, _ := h.registry.Get("ten-1", "telegram", "acct-1")
	if snap.State != session.StateActive || snap.Failures != 0 {
		t.Errorf("state=%s failures=%d, want active/0", snap.State, snap.Failures)
	}
	if d := h.highDepth(t); d != 0 {
		t.Errorf("high lane depth = %d, want 0 for a healthy sweep", d)
	}
}

func TestSweep_FailedPingDegradesAndQueuesReconnect(t *testing.T) {
	h := newHarness(t)
	conn := h.addSession(t, "acct-1")
	conn.mu.Lock()
	conn.pingErr = errors.New("timeout")
	conn.mu.Unlock()

	h.monitor.Sweep(context.Background())

	snap, _ := h.registry.Get("ten-1", "telegram", "acct-1")
	if snap.State != session.StateDegraded || snap.Failures != 1 {
		t.Errorf("state=%s failures=%d, want degraded/1", snap.State, snap.Failures)
	}
	if d := h.highDepth(t); d != 1 {
		t.Fatalf("high lane depth = %d, want 1 reconnect task", d)
	}

	got, err := h.dispatcher.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.Kind != task.KindReconnect || got.Payload.AccountID != "acct-1" {
		t.Errorf("queued task = %+v, want reconnect for acct-1", got)
	}
}

func TestSweep_FailureIsolation(t *testing.T) {
	h := newHarness(t)
	bad := h.addSession(t, "acct-bad")
	h.addSession(t, "acct-good")
	bad.mu.Lock()
	bad.pingErr = errors.New("gone")
	bad.mu.Unlock()

	h.monitor.Sweep(context.Background())

	good, _ := h.registry.Get("ten-1", "telegram", "acct-good")
	if good.State != session.StateActive || good.Failures != 0 {
		t.Errorf("healthy session affected: state=%s failures=%d", good.State, good.Failures)
	}
	badSnap, _ := h.registry.Get("ten-1", "telegram", "acct-bad")
	if badSnap.State != session.StateDegraded {
		t.Errorf("failing session state = %s, want degraded", badSnap.State)
	}
}

func TestSweep_RepeatedFailuresDisconnect(t *testing.T) {
	h := newHarness(t)
	conn := h.addSession(t, "acct-1")
	conn.mu.Lock()
	conn.pingErr = errors.New("gone")
	conn.mu.Unlock()

	for i := 0; i < session.DefaultFailureThreshold; i++ {
		h.monitor.Sweep(context.Background())
	}

	snap, _ := h.registry.Get("ten-1", "telegram", "acct-1")
	if snap.State != session.StateDisconnected {
		t.Fatalf("state = %s, want disconnected after %d failed sweeps", snap.State, session.DefaultFailureThreshold)
	}

	// Further sweeps leave the session alone.
	before := h.highDepth(t)
	h.monitor.Sweep(context.Background())
	if d := h.highDepth(t); d != before {
		t.Errorf("high lane depth grew from %d to %d on a disconnected session", before, d)
	}
}

func TestSweep_RecoveryResetsFailures(t *testing.T) {
	h := newHarness(t)
	conn := h.addSession(t, "acct-1")
	conn.mu.Lock()
	conn.pingErr = errors.New("blip")
	conn.mu.Unlock()

	h.monitor.Sweep(context.Background())

	conn.mu.Lock()
	conn.pingErr = nil
	conn.mu.Unlock()

	h.monitor.Sweep(context.Background())

	snap, _ := h.registry.Get("ten-1", "telegram", "acct-1")
	if snap.State != session.StateActive || snap.Failures != 0 {
		t.Errorf("state=%s failures=%d, want active/0 after recovery", snap.State, snap.Failures)
	}
}
