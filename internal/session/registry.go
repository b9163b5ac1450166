package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relaywire/relaywire/internal/models"
	"github.com/relaywire/relaywire/internal/platform"
	"gorm.io/gorm"
)

// DefaultFailureThreshold is how many consecutive probe/reconnect
// failures move a session to disconnected.
const DefaultFailureThreshold = 3

// state is the registry's mutable record for one session.
type state struct {
	account  models.PlatformAccount
	conn     platform.Conn
	st       string
	lastErr  string
	lastPing time.Time
	failures int
}

// call tracks one in-flight reconnect so concurrent callers share a
// single authentication attempt.
type call struct {
	done chan struct{}
	err  error
}

// Registry owns every platform session for the process. All state
// transitions happen here and are mirrored to the platform_accounts
// table, so a restart resumes from the persisted picture.
type Registry struct {
	db        *gorm.DB
	dialers   map[string]platform.Dialer
	threshold int

	mu       sync.Mutex
	sessions map[string]*state // keyed by account ID
	inflight map[string]*call
}

// RegistryOpts holds parameters for creating a Registry.
type RegistryOpts struct {
	DB      *gorm.DB
	Dialers []platform.Dialer
	// FailureThreshold is the consecutive-failure count that moves a
	// session to disconnected. Defaults to DefaultFailureThreshold.
	FailureThreshold int
}

// NewRegistry creates a Registry.
func NewRegistry(opts RegistryOpts) (*Registry, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("session: db is required")
	}
	if len(opts.Dialers) == 0 {
		return nil, fmt.Errorf("session: at least one dialer is required")
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	dialers := make(map[string]platform.Dialer, len(opts.Dialers))
	for _, d := range opts.Dialers {
		dialers[d.Platform()] = d
	}
	return &Registry{
		db:        opts.DB,
		dialers:   dialers,
		threshold: opts.FailureThreshold,
		sessions:  make(map[string]*state),
		inflight:  make(map[string]*call),
	}, nil
}

// LoadPersisted registers every non-disconnected account from the
// database, dialing each. Dial failures leave the session pending with
// the error recorded; the health monitor will retry them.
func (r *Registry) LoadPersisted(ctx context.Context) (int, error) {
	var accounts []models.PlatformAccount
	err := r.db.Where("state <> ?", StateDisconnected).Find(&accounts).Error
	if err != nil {
		return 0, fmt.Errorf("session: load accounts: %w", err)
	}

	loaded := 0
	for _, acct := range accounts {
		if err := r.Register(ctx, acct); err != nil {
			log.Printf("session: load account %s: %v", acct.ID, err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// Register creates a session for an account and attempts the initial
// authentication. On dial failure the session stays pending with the
// error recorded and the error is returned.
func (r *Registry) Register(ctx context.Context, acct models.PlatformAccount) error {
	dialer, ok := r.dialers[acct.Platform]
	if !ok {
		return fmt.Errorf("session: no dialer for platform %q", acct.Platform)
	}

	r.mu.Lock()
	if _, exists := r.sessions[acct.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("session: account %s already registered", acct.ID)
	}
	s := &state{account: acct, st: StatePending}
	r.sessions[acct.ID] = s
	r.mu.Unlock()

	conn, err := dialer.Dial(ctx, platform.Credentials{
		AccountID: acct.ID,
		TenantID:  acct.TenantID,
		Ref:       acct.CredentialsRef,
	})

	r.mu.Lock()
	if err != nil {
		s.lastErr = err.Error()
		r.persistLocked(s)
		r.mu.Unlock()
		return fmt.Errorf("session: dial %s/%s: %w", acct.Platform, acct.ID, err)
	}
	s.conn = conn
	s.st = StateActive
	s.lastErr = ""
	s.failures = 0
	r.persistLocked(s)
	r.mu.Unlock()
	return nil
}

// Remove closes and forgets a session. Called when the tenant deletes
// the account.
func (r *Registry) Remove(accountID string) error {
	r.mu.Lock()
	s, ok := r.sessions[accountID]
	if ok {
		delete(r.sessions, accountID)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			log.Printf("session: close %s: %v", accountID, err)
		}
	}
	return nil
}

// Get returns a snapshot of the session for (tenant, platform, account).
func (r *Registry) Get(tenantID, platformName, accountID string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[accountID]
	if !ok || s.account.TenantID != tenantID || s.account.Platform != platformName {
		return Snapshot{}, ErrNotFound
	}
	return snapshotLocked(s), nil
}

// Conn returns the live connection for an account, but only while the
// session is active: the executor defers tasks whose session is in any
// other state.
func (r *Registry) Conn(accountID string) (platform.Conn, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[accountID]
	if !ok {
		return nil, "", ErrNotFound
	}
	if s.st == StateDisconnected {
		return nil, s.st, ErrDisconnected
	}
	return s.conn, s.st, nil
}

// Snapshots returns the current view of every session.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, snapshotLocked(s))
	}
	return out
}

// MarkDegraded records a send or probe failure. Each call counts toward
// the failure threshold; crossing it moves the session to disconnected
// and writes an alert.
func (r *Registry) MarkDegraded(accountID string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[accountID]
	if !ok || s.st == StateDisconnected {
		return
	}
	s.failures++
	s.lastErr = cause.Error()
	if s.failures >= r.threshold {
		r.disconnectLocked(s)
	} else {
		s.st = StateDegraded
	}
	r.persistLocked(s)
}

// MarkHealthy records a successful probe, resetting the failure count.
func (r *Registry) MarkHealthy(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[accountID]
	if !ok || s.st == StateDisconnected {
		return
	}
	s.failures = 0
	s.lastErr = ""
	s.st = StateActive
	s.lastPing = time.Now()
	r.persistLocked(s)
}

// Reconnect re-authenticates a session. It is idempotent and safe to
// call concurrently: one dial is in flight per session at a time and
// every concurrent caller observes its result. Success returns the
// session to active; failure counts toward the disconnect threshold.
func (r *Registry) Reconnect(ctx context.Context, accountID string) error {
	r.mu.Lock()
	s, ok := r.sessions[accountID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if s.st == StateDisconnected {
		r.mu.Unlock()
		return ErrDisconnected
	}
	if s.st == StateActive && s.conn != nil {
		// Already healthy; a queued reconnect task that lost the race
		// is a no-op.
		r.mu.Unlock()
		return nil
	}
	if c, busy := r.inflight[accountID]; busy {
		r.mu.Unlock()
		select {
		case <-c.done:
			return c.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c := &call{done: make(chan struct{})}
	r.inflight[accountID] = c
	acct := s.account
	old := s.conn
	r.mu.Unlock()

	c.err = r.redial(ctx, acct, old)

	r.mu.Lock()
	delete(r.inflight, accountID)
	r.mu.Unlock()
	close(c.done)
	return c.err
}

// redial performs the dial and applies the resulting state transition.
func (r *Registry) redial(ctx context.Context, acct models.PlatformAccount, old platform.Conn) error {
	dialer, ok := r.dialers[acct.Platform]
	if !ok {
		return fmt.Errorf("session: no dialer for platform %q", acct.Platform)
	}

	if old != nil {
		if err := old.Close(); err != nil {
			log.Printf("session: close stale conn %s: %v", acct.ID, err)
		}
	}

	conn, err := dialer.Dial(ctx, platform.Credentials{
		AccountID: acct.ID,
		TenantID:  acct.TenantID,
		Ref:       acct.CredentialsRef,
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[acct.ID]
	if !ok {
		// Removed while reconnecting; discard the new connection.
		if conn != nil {
			conn.Close()
		}
		return ErrNotFound
	}

	if err != nil {
		s.conn = nil
		s.failures++
		s.lastErr = err.Error()
		if s.failures >= r.threshold {
			r.disconnectLocked(s)
		} else {
			s.st = StateDegraded
		}
		r.persistLocked(s)
		return fmt.Errorf("session: reconnect %s/%s: %w", acct.Platform, acct.ID, err)
	}

	s.conn = conn
	s.st = StateActive
	s.failures = 0
	s.lastErr = ""
	r.persistLocked(s)
	return nil
}

// disconnectLocked finalizes a session and writes the operator alert.
// Terminal until the tenant re-authenticates. Caller holds r.mu.
func (r *Registry) disconnectLocked(s *state) {
	s.st = StateDisconnected
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	alert := models.AlertLog{
		TenantID: s.account.TenantID,
		Kind:     "session_disconnected",
		RefID:    s.account.ID,
		Detail:   fmt.Sprintf("%s session %s disconnected after %d consecutive failures: %s", s.account.Platform, s.account.ID, s.failures, s.lastErr),
	}
	if err := r.db.Create(&alert).Error; err != nil {
		log.Printf("session: alert for %s: %v", s.account.ID, err)
	}
}

// persistLocked mirrors the session state to its account row. Caller
// holds r.mu.
func (r *Registry) persistLocked(s *state) {
	now := time.Now()
	updates := map[string]interface{}{
		"state":      s.st,
		"last_error": s.lastErr,
		"updated_at": now,
	}
	if !s.lastPing.IsZero() {
		updates["last_health_check_at"] = s.lastPing
	}
	err := r.db.Model(&models.PlatformAccount{}).
		Where("id = ?", s.account.ID).
		Updates(updates).Error
	if err != nil {
		log.Printf("session: persist %s: %v", s.account.ID, err)
	}
}

func snapshotLocked(s *state) Snapshot {
	return Snapshot{
		AccountID:         s.account.ID,
		TenantID:          s.account.TenantID,
		Platform:          s.account.Platform,
		State:             s.st,
		LastError:         s.lastErr,
		LastHealthCheckAt: s.lastPing,
		Failures:          s.failures,
	}
}
