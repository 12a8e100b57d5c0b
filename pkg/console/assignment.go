package console

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the assignment controller's workflow state.
type State int

const (
	// StateIdle means no workflow is in flight.
	StateIdle State = iota
	// StateLoading means assign/remove calls are in flight.
	StateLoading
	// StateReconciling means a batch partially failed and the authoritative
	// state is being re-fetched. It always resolves back to Idle.
	StateReconciling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReconciling:
		return "reconciling"
	default:
		return "unknown"
	}
}

// ErrBusy is returned when a workflow invocation is started while a
// previous one is still in flight. Callers disable the originating control
// for the duration, so hitting this means the guard was bypassed.
var ErrBusy = errors.New("assignment workflow already in flight")

// Batch operations
const (
	OpAssign = "assign"
	OpRemove = "remove"
)

// OpFailure records one failed call of a batch workflow.
type OpFailure struct {
	Op     string
	RoleID uint
	Err    error
}

// BatchResult reports the outcome of a user-role batch edit. When Committed
// is true every call succeeded and CurrentRoleIDs equals the requested
// target. Otherwise Reconciled reports whether the authoritative re-fetch
// succeeded, CurrentRoleIDs is the state local callers must adopt, and
// Failures names the operations that failed.
type BatchResult struct {
	Committed      bool
	Reconciled     bool
	CurrentRoleIDs []uint
	Failures       []OpFailure
	ReconcileErr   error
}

// Controller orchestrates the three relationship-mutation workflows:
// role<->permission toggles, user<->role batch edits, and direct-grant
// toggles. Every workflow leaves local state either equal to confirmed
// server state or reconciled back to it - never silently diverged. After a
// mutation that can change the session user's own grants it triggers a
// resolver refresh.
type Controller struct {
	client   *Client
	session  *Session
	resolver *Resolver
	log      *zap.Logger

	mu      sync.Mutex
	state   State
	current map[uint][]uint // userID -> assigned role ids, in assignment order
}

// NewController creates an assignment controller. The resolver may be nil
// when permission gating is not wired (tests, scripts).
func NewController(client *Client, session *Session, resolver *Resolver, log *zap.Logger) *Controller {
	return &Controller{
		client:   client,
		session:  session,
		resolver: resolver,
		log:      log,
		current:  map[uint][]uint{},
	}
}

// State returns the controller's current workflow state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrBusy
	}
	c.state = StateLoading
	return nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// LoadUserRoles fetches a user's assigned roles and primes the controller's
// view of current state for a later ApplyRoleSelection.
func (c *Controller) LoadUserRoles(ctx context.Context, userID uint) ([]Role, error) {
	roles, err := c.client.UserRoles(ctx, c.session.TenantKey(), userID)
	if err != nil {
		return nil, err
	}

	ids := roleIDs(roles)
	c.mu.Lock()
	c.current[userID] = ids
	c.mu.Unlock()
	return roles, nil
}

// ApplyRoleSelection edits a user's full role set to target. It computes
// the assigns and removes against the last loaded state and issues one call
// per id, each tracked independently. All-success commits target locally;
// any failure re-fetches the authoritative role set and reconciles local
// state to it instead of trusting the optimistic target. A cancelled
// context discards results rather than applying them to torn-down state.
func (c *Controller) ApplyRoleSelection(ctx context.Context, userID uint, target []uint) (*BatchResult, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	current := append([]uint(nil), c.current[userID]...)
	c.mu.Unlock()

	toAssign := diff(target, current)
	toRemove := diff(current, target)
	tenantKey := c.session.TenantKey()

	result := &BatchResult{}
	for _, roleID := range toAssign {
		if err := c.client.AssignUserRole(ctx, tenantKey, userID, roleID); err != nil {
			c.log.Warn("Role assign failed",
				zap.Uint("user_id", userID),
				zap.Uint("role_id", roleID),
				zap.Error(err))
			result.Failures = append(result.Failures, OpFailure{Op: OpAssign, RoleID: roleID, Err: err})
		}
	}
	for _, roleID := range toRemove {
		if err := c.client.RemoveUserRole(ctx, tenantKey, userID, roleID); err != nil {
			c.log.Warn("Role remove failed",
				zap.Uint("user_id", userID),
				zap.Uint("role_id", roleID),
				zap.Error(err))
			result.Failures = append(result.Failures, OpFailure{Op: OpRemove, RoleID: roleID, Err: err})
		}
	}

	if ctx.Err() != nil {
		// Owning view is gone; do not apply anything it will never see
		c.setState(StateIdle)
		return nil, ctx.Err()
	}

	if len(result.Failures) == 0 {
		result.Committed = true
		result.CurrentRoleIDs = append([]uint(nil), target...)
		c.mu.Lock()
		c.current[userID] = append([]uint(nil), target...)
		c.state = StateIdle
		c.mu.Unlock()
	} else {
		c.setState(StateReconciling)
		roles, err := c.client.UserRoles(ctx, tenantKey, userID)
		if err != nil {
			// Best effort: report it and fall back to the pre-edit state
			c.log.Error("Reconcile re-fetch failed, keeping last known roles",
				zap.Uint("user_id", userID),
				zap.Error(err))
			result.ReconcileErr = err
			result.CurrentRoleIDs = current
		} else {
			result.Reconciled = true
			result.CurrentRoleIDs = roleIDs(roles)
		}
		c.mu.Lock()
		c.current[userID] = append([]uint(nil), result.CurrentRoleIDs...)
		c.state = StateIdle
		c.mu.Unlock()
	}

	c.refreshOwnPermissions(ctx, userID)
	return result, nil
}

// ToggleRolePermission assigns or removes one permission on a role and
// returns the role's authoritative permission id set afterwards. On failure
// the pre-toggle state stands and the caller reverts the visual toggle.
func (c *Controller) ToggleRolePermission(ctx context.Context, roleID, permissionID uint, enable bool) ([]uint, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.setState(StateIdle)

	tenantKey := c.session.TenantKey()

	var err error
	if enable {
		err = c.client.AssignRolePermission(ctx, tenantKey, roleID, permissionID)
	} else {
		err = c.client.RemoveRolePermission(ctx, tenantKey, roleID, permissionID)
	}
	if err != nil {
		c.log.Warn("Role permission toggle failed",
			zap.Uint("role_id", roleID),
			zap.Uint("permission_id", permissionID),
			zap.Bool("enable", enable),
			zap.Error(err))
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Re-derive from source rather than locally patching the set; the same
	// permission may be reachable through other paths
	perms, err := c.client.RolePermissions(ctx, tenantKey, roleID)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(perms))
	for _, perm := range perms {
		ids = append(ids, perm.ID)
	}

	c.refreshAllPermissions(ctx)
	return ids, nil
}

// ToggleUserGrant records or revokes a direct grant for a user. Enable may
// carry a validity end date. On failure the caller reverts the visual
// toggle; nothing was changed remotely.
func (c *Controller) ToggleUserGrant(ctx context.Context, userID, permissionID uint, enable bool, validUntil *time.Time) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.setState(StateIdle)

	tenantKey := c.session.TenantKey()

	var err error
	if enable {
		err = c.client.AssignUserPermission(ctx, tenantKey, userID, permissionID, validUntil)
	} else {
		err = c.client.RemoveUserPermission(ctx, tenantKey, userID, permissionID)
	}
	if err != nil {
		c.log.Warn("Direct grant toggle failed",
			zap.Uint("user_id", userID),
			zap.Uint("permission_id", permissionID),
			zap.Bool("enable", enable),
			zap.Error(err))
		return err
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.refreshOwnPermissions(ctx, userID)
	return nil
}

// refreshOwnPermissions refreshes the resolver when the edited user is the
// session user, whose own gate results may have changed.
func (c *Controller) refreshOwnPermissions(ctx context.Context, userID uint) {
	if c.resolver == nil {
		return
	}
	user := c.session.User()
	if user == nil || user.ID != userID {
		return
	}
	if err := c.resolver.Refresh(ctx); err != nil {
		c.log.Warn("Post-mutation permission refresh failed", zap.Error(err))
	}
}

// refreshAllPermissions refreshes the resolver after a role-level edit,
// which can change the session user's effective set through membership.
func (c *Controller) refreshAllPermissions(ctx context.Context) {
	if c.resolver == nil {
		return
	}
	if err := c.resolver.Refresh(ctx); err != nil {
		c.log.Warn("Post-mutation permission refresh failed", zap.Error(err))
	}
}

func roleIDs(roles []Role) []uint {
	ids := make([]uint, 0, len(roles))
	for _, role := range roles {
		ids = append(ids, role.ID)
	}
	return ids
}

// diff returns the ids in a that are not in b, preserving a's order.
func diff(a, b []uint) []uint {
	inB := make(map[uint]struct{}, len(b))
	for _, id := range b {
		inB[id] = struct{}{}
	}
	var out []uint
	for _, id := range a {
		if _, ok := inB[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
