package console

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type controllerFixture struct {
	fake    *fakeAPI
	tenant  *fakeTenant
	ctrl    *Controller
	session *Session
	client  *Client
	adminID uint
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	fake := newFakeAPI(t)
	tenant := fake.addTenant("tk123")
	adminID := tenant.addUser("Alice", "a@b.com", "secret1")

	client := NewClient(fake.url())
	session := NewSession(client, t.TempDir(), zap.NewNop())
	_, err := session.Login(context.Background(), "a@b.com", "secret1", "tk123")
	require.NoError(t, err)

	return &controllerFixture{
		fake:    fake,
		tenant:  tenant,
		ctrl:    NewController(client, session, nil, zap.NewNop()),
		session: session,
		client:  client,
		adminID: adminID,
	}
}

func TestDiff(t *testing.T) {
	assert.Equal(t, []uint{3, 4}, diff([]uint{1, 3, 4}, []uint{1, 2}))
	assert.Equal(t, []uint{2}, diff([]uint{1, 2}, []uint{1, 3, 4}))
	assert.Nil(t, diff([]uint{1, 2}, []uint{2, 1}))
	assert.Equal(t, []uint{5, 6}, diff([]uint{5, 6}, nil))
	assert.Nil(t, diff(nil, []uint{1}))
}

func TestApplyRoleSelectionCommitsOnFullSuccess(t *testing.T) {
	fx := newControllerFixture(t)
	userID := fx.tenant.addUser("Bob", "bob@b.com", "secret2")
	roleA := fx.tenant.addRole("Viewer")
	roleB := fx.tenant.addRole("Editor")
	roleC := fx.tenant.addRole("Auditor")
	fx.tenant.assignRole(userID, roleA)

	ctx := context.Background()
	roles, err := fx.ctrl.LoadUserRoles(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, []uint{roleA}, roleIDs(roles))

	result, err := fx.ctrl.ApplyRoleSelection(ctx, userID, []uint{roleB, roleC})
	require.NoError(t, err)

	assert.True(t, result.Committed)
	assert.Empty(t, result.Failures)
	assert.Equal(t, []uint{roleB, roleC}, result.CurrentRoleIDs)
	assert.Equal(t, StateIdle, fx.ctrl.State())

	// Server agrees
	current, err := fx.client.UserRoles(ctx, "tk123", userID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{roleB, roleC}, roleIDs(current))
}

func TestApplyRoleSelectionReconcilesOnPartialFailure(t *testing.T) {
	fx := newControllerFixture(t)
	userID := fx.tenant.addUser("Bob", "bob@b.com", "secret2")
	roleA := fx.tenant.addRole("Viewer")
	roleB := fx.tenant.addRole("Editor")
	roleC := fx.tenant.addRole("Auditor")
	fx.tenant.assignRole(userID, roleA)
	fx.tenant.assignRole(userID, roleB)

	// Assigning C fails; removing A succeeds
	fx.fake.mu.Lock()
	fx.fake.failAssignUserRole[roleC] = true
	fx.fake.mu.Unlock()

	ctx := context.Background()
	_, err := fx.ctrl.LoadUserRoles(ctx, userID)
	require.NoError(t, err)

	result, err := fx.ctrl.ApplyRoleSelection(ctx, userID, []uint{roleB, roleC})
	require.NoError(t, err)

	assert.False(t, result.Committed)
	assert.True(t, result.Reconciled)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, OpAssign, result.Failures[0].Op)
	assert.Equal(t, roleC, result.Failures[0].RoleID)

	// Local state matches the authoritative server state, not the target
	server, err := fx.client.UserRoles(ctx, "tk123", userID)
	require.NoError(t, err)
	assert.Equal(t, roleIDs(server), result.CurrentRoleIDs)
	assert.Equal(t, []uint{roleB}, result.CurrentRoleIDs)
	assert.Equal(t, StateIdle, fx.ctrl.State())
}

func TestApplyRoleSelectionFallsBackWhenReconcileFetchFails(t *testing.T) {
	fx := newControllerFixture(t)
	userID := fx.tenant.addUser("Bob", "bob@b.com", "secret2")
	roleA := fx.tenant.addRole("Viewer")
	roleB := fx.tenant.addRole("Editor")
	roleC := fx.tenant.addRole("Auditor")
	fx.tenant.assignRole(userID, roleA)
	fx.tenant.assignRole(userID, roleB)

	ctx := context.Background()
	_, err := fx.ctrl.LoadUserRoles(ctx, userID)
	require.NoError(t, err)

	fx.fake.mu.Lock()
	fx.fake.failAssignUserRole[roleC] = true
	fx.fake.failUserRolesGet = true
	fx.fake.mu.Unlock()

	result, err := fx.ctrl.ApplyRoleSelection(ctx, userID, []uint{roleB, roleC})
	require.NoError(t, err)

	assert.False(t, result.Committed)
	assert.False(t, result.Reconciled)
	require.Error(t, result.ReconcileErr)
	// Pre-edit state is the best remaining approximation
	assert.Equal(t, []uint{roleA, roleB}, result.CurrentRoleIDs)
	assert.Equal(t, StateIdle, fx.ctrl.State())
}

func TestApplyRoleSelectionDiscardsAfterCancel(t *testing.T) {
	fx := newControllerFixture(t)
	userID := fx.tenant.addUser("Bob", "bob@b.com", "secret2")
	roleA := fx.tenant.addRole("Viewer")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := fx.ctrl.ApplyRoleSelection(ctx, userID, []uint{roleA})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
	assert.Equal(t, StateIdle, fx.ctrl.State())
}

func TestControllerRejectsConcurrentWorkflows(t *testing.T) {
	fx := newControllerFixture(t)
	userID := fx.tenant.addUser("Bob", "bob@b.com", "secret2")
	roleA := fx.tenant.addRole("Viewer")

	release := make(chan struct{})
	fx.fake.mu.Lock()
	fx.fake.blockAssign = release
	fx.fake.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := fx.ctrl.ApplyRoleSelection(context.Background(), userID, []uint{roleA})
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		return fx.ctrl.State() == StateLoading
	}, time.Second, 5*time.Millisecond)

	_, err := fx.ctrl.ApplyRoleSelection(context.Background(), userID, []uint{roleA})
	assert.ErrorIs(t, err, ErrBusy)

	_, err = fx.ctrl.ToggleRolePermission(context.Background(), roleA, 1, true)
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	<-done
	assert.Equal(t, StateIdle, fx.ctrl.State())
}

func TestToggleRolePermissionReturnsAuthoritativeSet(t *testing.T) {
	fx := newControllerFixture(t)
	read := fx.tenant.addPermission("Read Users", "Users")
	edit := fx.tenant.addPermission("Edit Users", "Users")
	roleID := fx.tenant.addRole("User Admin", read)

	ctx := context.Background()
	ids, err := fx.ctrl.ToggleRolePermission(ctx, roleID, edit, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{read, edit}, ids)

	ids, err = fx.ctrl.ToggleRolePermission(ctx, roleID, read, false)
	require.NoError(t, err)
	assert.Equal(t, []uint{edit}, ids)
	assert.Equal(t, StateIdle, fx.ctrl.State())
}

func TestToggleRolePermissionFailureLeavesStateIdle(t *testing.T) {
	fx := newControllerFixture(t)
	read := fx.tenant.addPermission("Read Users", "Users")
	roleID := fx.tenant.addRole("User Admin")

	// Drop the token so the server rejects the call
	fx.client.SetToken("")

	_, err := fx.ctrl.ToggleRolePermission(context.Background(), roleID, read, true)
	require.Error(t, err)
	assert.Equal(t, StateIdle, fx.ctrl.State())

	// Nothing changed remotely
	fx.client.SetToken(fx.session.Token())
	perms, err := fx.client.RolePermissions(context.Background(), "tk123", roleID)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestToggleUserGrantRefreshesOwnGate(t *testing.T) {
	fx := newControllerFixture(t)
	export := fx.tenant.addPermission("Export Reports", "Reports")

	resolver := NewResolver(fx.client, fx.session, zap.NewNop())
	ctrl := NewController(fx.client, fx.session, resolver, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, resolver.Refresh(ctx))
	require.False(t, resolver.HasPermission("Export Reports"))

	// Granting the session user's own permission updates their gate
	require.NoError(t, ctrl.ToggleUserGrant(ctx, fx.adminID, export, true, nil))
	assert.True(t, resolver.HasPermission("Export Reports"))

	// Revoking takes it away again
	require.NoError(t, ctrl.ToggleUserGrant(ctx, fx.adminID, export, false, nil))
	assert.False(t, resolver.HasPermission("Export Reports"))
}

func TestToggleUserGrantWithExpiredValidityIsNotEffective(t *testing.T) {
	fx := newControllerFixture(t)
	export := fx.tenant.addPermission("Export Reports", "Reports")
	userID := fx.tenant.addUser("Bob", "bob@b.com", "secret2")

	ctx := context.Background()
	yesterday := time.Now().AddDate(0, 0, -1)
	require.NoError(t, fx.ctrl.ToggleUserGrant(ctx, userID, export, true, &yesterday))

	perms, err := fx.client.UserPermissions(ctx, "tk123", userID)
	require.NoError(t, err)
	assert.Empty(t, perms)
}
