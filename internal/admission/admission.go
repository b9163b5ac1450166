// Package admission validates forwarding intents against the tenant's
// plan before anything reaches the dispatcher. Validation is separated
// from scheduling: Admit constructs tasks but never enqueues them, so
// plan policy is unit-testable without a broker.
package admission

import (
	"errors"
	"fmt"
	"time"

	"github.com/relaywire/relaywire/internal/models"
	"github.com/relaywire/relaywire/internal/plan"
	"github.com/relaywire/relaywire/internal/task"
	"gorm.io/gorm"
)

// Terminal admission errors. Neither is ever retried automatically: the
// tenant must change their configuration or plan.
var (
	ErrPlanLimitExceeded = errors.New("admission: plan limit exceeded")
	ErrPolicyViolation   = errors.New("admission: policy violation")
)

// Intent is a request to forward one message (or a bulk batch) over a
// configured pair.
type Intent struct {
	TenantID string
	PairID   string
	Kind     task.Kind // forward or bulk; other kinds bypass admission
	Payload  task.Payload
}

// Controller checks intents and pair configuration against plan limits.
type Controller struct {
	db  *gorm.DB
	now func() time.Time
}

// NewController creates a Controller.
func NewController(db *gorm.DB) (*Controller, error) {
	if db == nil {
		return nil, fmt.Errorf("admission: db is required")
	}
	return &Controller{db: db, now: time.Now}, nil
}

// Admit validates an intent and constructs the forward task for it.
// The task's notBefore honors the pair's configured delay; its lane
// follows the tenant's tier. The caller is responsible for enqueueing.
func (c *Controller) Admit(intent Intent) (task.ForwardTask, error) {
	if intent.Kind != task.KindForward && intent.Kind != task.KindBulk {
		return task.ForwardTask{}, fmt.Errorf("%w: kind %q does not go through admission", ErrPolicyViolation, intent.Kind)
	}

	tenant, limits, err := c.tenantLimits(intent.TenantID)
	if err != nil {
		return task.ForwardTask{}, err
	}

	var pair models.ForwardingPair
	err = c.db.Where("id = ? AND tenant_id = ?", intent.PairID, intent.TenantID).First(&pair).Error
	if err != nil {
		return task.ForwardTask{}, fmt.Errorf("admission: load pair %s: %w", intent.PairID, err)
	}
	if !pair.IsActive {
		return task.ForwardTask{}, fmt.Errorf("%w: pair %s is inactive", ErrPolicyViolation, pair.ID)
	}
	if !limits.RouteAllowed(pair.Route()) {
		return task.ForwardTask{}, fmt.Errorf("%w: route %s is not available on the %s plan", ErrPolicyViolation, pair.Route(), tenant.Plan)
	}
	if delay := time.Duration(pair.DelaySeconds) * time.Second; delay < limits.MinDelay {
		return task.ForwardTask{}, fmt.Errorf("%w: delay %s is below the %s plan minimum %s", ErrPolicyViolation, delay, tenant.Plan, limits.MinDelay)
	}
	if pair.CopyMode && !limits.CopyMode {
		return task.ForwardTask{}, fmt.Errorf("%w: copy mode is not available on the %s plan", ErrPolicyViolation, tenant.Plan)
	}
	if intent.Kind == task.KindBulk && plan.ParseTier(tenant.Plan) == plan.Free {
		return task.ForwardTask{}, fmt.Errorf("%w: bulk forwarding is not available on the free plan", ErrPolicyViolation)
	}
	if err := c.checkDailyBudget(tenant, limits); err != nil {
		return task.ForwardTask{}, err
	}

	tier := plan.ParseTier(tenant.Plan)
	t := task.New(intent.TenantID, intent.PairID, intent.Kind, task.LaneFor(intent.Kind, tier), intent.Payload)
	t.EnqueuedAt = c.now()
	if pair.DelaySeconds > 0 {
		t.NotBefore = t.EnqueuedAt.Add(time.Duration(pair.DelaySeconds) * time.Second)
	}
	return t, nil
}

// ValidatePair checks whether the tenant may add (or re-enable) the
// given pair configuration. Used by the pair management surface before
// a pair row is written.
func (c *Controller) ValidatePair(tenantID string, pair models.ForwardingPair) error {
	tenant, limits, err := c.tenantLimits(tenantID)
	if err != nil {
		return err
	}

	var active int64
	err = c.db.Model(&models.ForwardingPair{}).
		Where("tenant_id = ? AND is_active = ? AND id <> ?", tenantID, true, pair.ID).
		Count(&active).Error
	if err != nil {
		return fmt.Errorf("admission: count pairs for %s: %w", tenantID, err)
	}
	if int(active) >= limits.MaxPairs {
		return fmt.Errorf("%w: %s", ErrPlanLimitExceeded, plan.UpgradeHint(plan.ParseTier(tenant.Plan)))
	}

	if !limits.RouteAllowed(pair.Route()) {
		return fmt.Errorf("%w: route %s is not available on the %s plan", ErrPolicyViolation, pair.Route(), tenant.Plan)
	}
	if delay := time.Duration(pair.DelaySeconds) * time.Second; delay < limits.MinDelay {
		return fmt.Errorf("%w: delay %s is below the %s plan minimum %s", ErrPolicyViolation, delay, tenant.Plan, limits.MinDelay)
	}
	if pair.CopyMode && !limits.CopyMode {
		return fmt.Errorf("%w: copy mode is not available on the %s plan", ErrPolicyViolation, tenant.Plan)
	}
	return nil
}

// ValidateAccount checks whether the tenant may add another platform
// account. Used by the account management surface before a row is
// written.
func (c *Controller) ValidateAccount(tenantID string, account models.PlatformAccount) error {
	tenant, limits, err := c.tenantLimits(tenantID)
	if err != nil {
		return err
	}

	max := limits.MaxAccounts[account.Platform]
	if max == 0 {
		return fmt.Errorf("%w: %s accounts are not available on the %s plan", ErrPolicyViolation, account.Platform, tenant.Plan)
	}

	var existing int64
	err = c.db.Model(&models.PlatformAccount{}).
		Where("tenant_id = ? AND platform = ? AND id <> ?", tenantID, account.Platform, account.ID).
		Count(&existing).Error
	if err != nil {
		return fmt.Errorf("admission: count %s accounts for %s: %w", account.Platform, tenantID, err)
	}
	if int(existing) >= max {
		return fmt.Errorf("%w: %s plan allows at most %d %s account(s)", ErrPlanLimitExceeded, tenant.Plan, max, account.Platform)
	}
	return nil
}

// checkDailyBudget rejects forwards once today's delivered count hits
// the tier's per-day budget. The day boundary is UTC midnight, same as
// the analytics rollup.
func (c *Controller) checkDailyBudget(tenant models.Tenant, limits plan.Limits) error {
	dayStart := c.now().UTC().Truncate(24 * time.Hour)
	var delivered int64
	err := c.db.Model(&models.MessageLog{}).
		Where("tenant_id = ? AND status = ? AND forwarded_at >= ?", tenant.ID, "success", dayStart).
		Count(&delivered).Error
	if err != nil {
		return fmt.Errorf("admission: count deliveries for %s: %w", tenant.ID, err)
	}
	if int(delivered) >= limits.MessagesPerDay {
		return fmt.Errorf("%w: daily budget of %d messages reached on the %s plan", ErrPlanLimitExceeded, limits.MessagesPerDay, tenant.Plan)
	}
	return nil
}

// tenantLimits loads the tenant and resolves its plan limits, rejecting
// suspended tenants and expired plans.
func (c *Controller) tenantLimits(tenantID string) (models.Tenant, plan.Limits, error) {
	var tenant models.Tenant
	if err := c.db.Where("id = ?", tenantID).First(&tenant).Error; err != nil {
		return tenant, plan.Limits{}, fmt.Errorf("admission: load tenant %s: %w", tenantID, err)
	}
	if tenant.Status != "active" {
		return tenant, plan.Limits{}, fmt.Errorf("%w: tenant %s is %s", ErrPolicyViolation, tenantID, tenant.Status)
	}
	if plan.Expired(tenant.PlanExpiresAt, c.now()) {
		return tenant, plan.Limits{}, fmt.Errorf("%w: plan for tenant %s has expired", ErrPolicyViolation, tenantID)
	}
	return tenant, plan.LimitsFor(plan.ParseTier(tenant.Plan)), nil
}
