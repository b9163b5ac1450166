package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/relaywire/relaywire/internal/models"
	"github.com/relaywire/relaywire/internal/platform"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testSessionDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.PlatformAccount{}, &models.AlertLog{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

// fakeConn is a controllable platform connection.
type fakeConn struct {
	pingErr error
	closed  atomic.Bool
}

func (c *fakeConn) Send(context.Context, platform.Message) error { return nil }
func (c *fakeConn) Ping(context.Context) error                   { return c.pingErr }
func (c *fakeConn) Close() error                                 { c.closed.Store(true); return nil }

// fakeDialer counts dials and can be told to fail or to block until
// released.
type fakeDialer struct {
	platformName string

	mu      sync.Mutex
	dials   int
	dialErr error
	gate    chan struct{} // when non-nil, Dial blocks until closed
}

func (d *fakeDialer) Platform() string { return d.platformName }

func (d *fakeDialer) Dial(ctx context.Context, creds platform.Credentials) (platform.Conn, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	err := d.dialErr
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &fakeConn{}, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testAccount(id string) models.PlatformAccount {
	return models.PlatformAccount{
		ID:             id,
		TenantID:       "ten-1",
		Platform:       "telegram",
		CredentialsRef: "TG_TOKEN_" + id,
		State:          StatePending,
	}
}

func newTestRegistry(t *testing.T, db *gorm.DB, dialer *fakeDialer) *Registry {
	t.Helper()
	r, err := NewRegistry(RegistryOpts{DB: db, Dialers: []platform.Dialer{dialer}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestRegister_Activates(t *testing.T) {
	db := testSessionDB(t)
	dialer := &fakeDialer{platformName: "telegram"}
	r := newTestRegistry(t, db, dialer)

	acct := testAccount("acct-1")
	if err := db.Create(&acct).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if err := r.Register(context.Background(), acct); err != nil {
		t.Fatalf("Register: %v", err)
	}

	snap, err := r.Get("ten-1", "telegram", "acct-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.State != StateActive {
		t.Errorf("state = %s, want active", snap.State)
	}

	var row models.PlatformAccount
	if err := db.First(&row, "id = ?", "acct-1").Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if row.State != StateActive {
		t.Errorf("persisted state = %s, want active", row.State)
	}
}

func TestRegister_DialFailureStaysPending(t *testing.T) {
	db := testSessionDB(t)
	dialer := &fakeDialer{platformName: "telegram", dialErr: errors.New("bad token")}
	r := newTestRegistry(t, db, dialer)

	acct := testAccount("acct-1")
	db.Create(&acct)
	if err := r.Register(context.Background(), acct); err == nil {
		t.Fatal("Register must surface the dial error")
	}

	snap, err := r.Get("ten-1", "telegram", "acct-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.State != StatePending {
		t.Errorf("state = %s, want pending", snap.State)
	}
	if snap.LastError == "" {
		t.Error("dial error must be recorded on the snapshot")
	}
}

func TestConn_OnlyWhileUsable(t *testing.T) {
	db := testSessionDB(t)
	dialer := &fakeDialer{platformName: "telegram"}
	r := newTestRegistry(t, db, dialer)

	acct := testAccount("acct-1")
	db.Create(&acct)
	if err := r.Register(context.Background(), acct); err != nil {
		t.Fatalf("Register: %v", err)
	}

	conn, st, err := r.Conn("acct-1")
	if err != nil || st != StateActive || conn == nil {
		t.Fatalf("Conn = (%v, %s, %v), want active conn", conn, st, err)
	}

	if _, _, err := r.Conn("acct-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Conn(missing) = %v, want ErrNotFound", err)
	}
}

func TestMarkDegraded_ThresholdDisconnects(t *testing.T) {
	db := testSessionDB(t)
	dialer := &fakeDialer{platformName: "telegram"}
	r := newTestRegistry(t, db, dialer)

	acct := testAccount("acct-1")
	db.Create(&acct)
	if err := r.Register(context.Background(), acct); err != nil {
		t.Fatalf("Register: %v", err)
	}

	cause := errors.New("probe timeout")
	r.MarkDegraded("acct-1", cause)
	r.MarkDegraded("acct-1", cause)

	snap, _ := r.Get("ten-1", "telegram", "acct-1")
	if snap.State != StateDegraded || snap.Failures != 2 {
		t.Fatalf("after 2 failures: state=%s failures=%d", snap.State, snap.Failures)
	}

	r.MarkDegraded("acct-1", cause)

	snap, _ = r.Get("ten-1", "telegram", "acct-1")
	if snap.State != StateDisconnected {
		t.Fatalf("after 3 failures: state=%s, want disconnected", snap.State)
	}

	if _, _, err := r.Conn("acct-1"); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Conn after disconnect = %v, want ErrDisconnected", err)
	}

	var alerts []models.AlertLog
	if err := db.Where("kind = ?", "session_disconnected").Find(&alerts).Error; err != nil {
		t.Fatalf("load alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Errorf("alert count = %d, want exactly 1", len(alerts))
	}
}

func TestMarkHealthy_ResetsFailures(t *testing.T) {
	db := testSessionDB(t)
	dialer := &fakeDialer{platformName: "telegram"}
	r := newTestRegistry(t, db, dialer)

	acct := testAccount("acct-1")
	db.Create(&acct)
	r.Register(context.Background(), acct)

	r.MarkDegraded("acct-1", errors.New("blip"))
	r.MarkHealthy("acct-1")
	r.MarkDegraded("acct-1", errors.New("blip"))
	r.MarkDegraded("acct-1", errors.New("blip"))

	// Two failures since the last success: still short of the threshold.
	snap, _ := r.Get("ten-1", "telegram", "acct-1")
	if snap.State != StateDegraded || snap.Failures != 2 {
		t.Errorf("state=%s failures=%d, want degraded/2", snap.State, snap.Failures)
	}
}

func TestReconnect_ActiveIsNoOp(t *testing.T) {
	db := testSessionDB(t)
	dialer := &fakeDialer{platformName: "telegram"}
	r := newTestRegistry(t, db, dialer)

	acct := testAccount("acct-1")
	db.Create(&acct)
	r.Register(context.Background(), acct)

	if err := r.Reconnect(context.Background(), "acct-1"); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (no redial of a healthy session)", got)
	}
}

func TestReconnect_ConcurrentCallersShareOneDial(t *testing.T) {
	db := testSessionDB(t)
	dialer := &fakeDialer{platformName: "telegram", dialErr: errors.New("down")}
	r := newTestRegistry(t, db, dialer)

	acct := testAccount("acct-1")
	db.Create(&acct)
	// Initial dial fails; the session is pending and needs reconnecting.
	if err := r.Register(context.Background(), acct); err == nil {
		t.Fatal("expected initial dial to fail")
	}

	gate := make(chan struct{})
	dialer.mu.Lock()
	dialer.dialErr = nil
	dialer.gate = gate
	baseline := dialer.dials
	dialer.mu.Unlock()

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Reconnect(context.Background(), "acct-1")
		}(i)
	}

	// Let the callers pile up behind the in-flight dial, then release it.
	close(gate)
	wg.Wait()

	if got := dialer.dialCount() - baseline; got != 1 {
		t.Errorf("dials during concurrent reconnect = %d, want 1", got)
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}

	snap, _ := r.Get("ten-1", "telegram", "acct-1")
	if snap.State != StateActive {
		t.Errorf("state = %s, want active after shared reconnect", snap.State)
	}
}

func TestReconnect_FailuresCountTowardDisconnect(t *testing.T) {
	db := testSessionDB(t)
	dialer := &fakeDialer{platformName: "telegram", dialErr: errors.New("down")}
	r := newTestRegistry(t, db, dialer)

	acct := testAccount("acct-1")
	db.Create(&acct)
	r.Register(context.Background(), acct) // fails, session pending

	for i := 0; i < DefaultFailureThreshold; i++ {
		if err := r.Reconnect(context.Background(), "acct-1"); err == nil {
			t.Fatalf("reconnect %d: expected failure", i+1)
		}
	}

	snap, _ := r.Get("ten-1", "telegram", "acct-1")
	if snap.State != StateDisconnected {
		t.Fatalf("state = %s, want disconnected after %d failed reconnects", snap.State, DefaultFailureThreshold)
	}

	if err := r.Reconnect(context.Background(), "acct-1"); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Reconnect after disconnect = %v, want ErrDisconnected", err)
	}
}

func TestLoadPersisted_SkipsDisconnected(t *testing.T) {
	db := testSessionDB(t)
	dialer := &fakeDialer{platformName: "telegram"}
	r := newTestRegistry(t, db, dialer)

	a1 := testAccount("acct-1")
	a2 := testAccount("acct-2")
	a2.State = StateDisconnected
	db.Create(&a1)
	db.Create(&a2)

	loaded, err := r.LoadPersisted(context.Background())
	if err != nil {
		t.Fatalf("LoadPersisted: %v", err)
	}
	if loaded != 1 {
		t.Errorf("loaded = %d, want 1", loaded)
	}
	if _, err := r.Get("ten-1", "telegram", "acct-2"); !errors.Is(err, ErrNotFound) {
		t.Error("disconnected account must not be loaded")
	}
}

func TestRemove_ClosesConn(t *testing.T) {
	db := testSessionDB(t)
	dialer := &fakeDialer{platformName: "telegram"}
	r := newTestRegistry(t, db, dialer)

	acct := testAccount("acct-1")
	db.Create(&acct)
	r.Register(context.Background(), acct)

	conn, _, _ := r.Conn("acct-1")
	if err := r.Remove("acct-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !conn.(*fakeConn).closed.Load() {
		t.Error("Remove must close the live connection")
	}
	if err := r.Remove("acct-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove = %v, want ErrNotFound", err)
	}
}
