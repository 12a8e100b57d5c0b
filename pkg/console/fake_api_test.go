package console

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func jsonDecode(r *http.Request, out interface{}) error {
	return json.NewDecoder(r.Body).Decode(out)
}

func mustDate(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		t.Fatalf("bad date %q: %v", value, err)
	}
	return parsed
}

// fakeAPI is an in-memory stand-in for the admin service, stateful enough
// to exercise the console workflows end to end: tenant-scoped users, roles,
// permissions, the three join relations and effective-set computation.
// Failure injection hooks let tests force partial batch failures.
type fakeAPI struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	nextID  uint
	tenants map[string]*fakeTenant

	// failure injection
	failAssignUserRole map[uint]bool
	failRemoveUserRole map[uint]bool
	failUserRolesGet   bool
	failUserPermsGet   bool
	logoutStatus       int

	// blockAssign, when set, stalls user-role assigns until released
	blockAssign chan struct{}
}

// fakeTenant holds one tenant's rows. Entity ids are allocated from the
// server-wide counter so an id never repeats across tenants, like rows in a
// shared table.
type fakeTenant struct {
	key       string
	ids       *uint
	users     map[uint]*fakeUser
	roles     map[uint]*fakeRole
	perms     map[uint]Permission
	userRoles map[uint][]uint // ordered by assignment
	grants    map[uint]map[uint]*fakeGrant
}

type fakeUser struct {
	id       uint
	name     string
	email    string
	password string
}

type fakeRole struct {
	id      uint
	name    string
	permIDs []uint
}

type fakeGrant struct {
	granted    bool
	validUntil *time.Time
}

func newFakeAPI(t *testing.T) *fakeAPI {
	f := &fakeAPI{
		t:                  t,
		tenants:            map[string]*fakeTenant{},
		failAssignUserRole: map[uint]bool{},
		failRemoveUserRole: map[uint]bool{},
		logoutStatus:       http.StatusOK,
	}

	e := echo.New()
	e.POST("/api/login", f.login)
	e.POST("/api/logout", f.logout)
	e.GET("/api/users", f.users)
	e.GET("/api/roles", f.roles)
	e.GET("/api/user-role/:userId", f.userRoles)
	e.POST("/api/user-role/assign", f.assignUserRole)
	e.POST("/api/user-role/remove", f.removeUserRole)
	e.GET("/api/role-permissions/:roleId", f.rolePermissions)
	e.POST("/api/role-permissions/assign", f.assignRolePermission)
	e.POST("/api/role-permissions/remove", f.removeRolePermission)
	e.GET("/api/user-permissions/:userId", f.userPermissions)
	e.POST("/api/user-permissions/assign", f.assignUserPermission)
	e.POST("/api/user-permissions/remove", f.removeUserPermission)

	f.srv = httptest.NewServer(e)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) url() string { return f.srv.URL }

func (f *fakeAPI) addTenant(key string) *fakeTenant {
	f.mu.Lock()
	defer f.mu.Unlock()
	tenant := &fakeTenant{
		key:       key,
		ids:       &f.nextID,
		users:     map[uint]*fakeUser{},
		roles:     map[uint]*fakeRole{},
		perms:     map[uint]Permission{},
		userRoles: map[uint][]uint{},
		grants:    map[uint]map[uint]*fakeGrant{},
	}
	f.tenants[key] = tenant
	return tenant
}

func (t *fakeTenant) addUser(name, email, password string) uint {
	*t.ids++
	id := *t.ids
	t.users[id] = &fakeUser{id: id, name: name, email: email, password: password}
	return id
}

func (t *fakeTenant) addRole(name string, permIDs ...uint) uint {
	*t.ids++
	id := *t.ids
	t.roles[id] = &fakeRole{id: id, name: name, permIDs: permIDs}
	return id
}

func (t *fakeTenant) addPermission(name, module string) uint {
	*t.ids++
	id := *t.ids
	t.perms[id] = Permission{ID: id, Name: name, Module: module}
	return id
}

func (t *fakeTenant) assignRole(userID, roleID uint) {
	for _, id := range t.userRoles[userID] {
		if id == roleID {
			return
		}
	}
	t.userRoles[userID] = append(t.userRoles[userID], roleID)
}

func (t *fakeTenant) grant(userID, permID uint, granted bool, validUntil *time.Time) {
	if t.grants[userID] == nil {
		t.grants[userID] = map[uint]*fakeGrant{}
	}
	t.grants[userID][permID] = &fakeGrant{granted: granted, validUntil: validUntil}
}

func (f *fakeAPI) tenantFor(c echo.Context, bodyKey string) (*fakeTenant, error) {
	key := bodyKey
	if key == "" {
		key = c.QueryParam("tenant_key")
	}
	f.mu.Lock()
	tenant, ok := f.tenants[key]
	f.mu.Unlock()
	if !ok {
		return nil, c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}
	return tenant, nil
}

func requireBearer(c echo.Context) error {
	if c.Request().Header.Get("Authorization") == "" {
		if err := c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization token"}); err != nil {
			return err
		}
		return echo.ErrUnauthorized
	}
	return nil
}

func paramID(c echo.Context, name string) uint {
	id, _ := strconv.ParseUint(c.Param(name), 10, 32)
	return uint(id)
}

func (f *fakeAPI) login(c echo.Context) error {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		TenantKey string `json:"tenant_key"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	tenant, ok := f.tenants[req.TenantKey]
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unknown tenant key"})
	}
	for _, user := range tenant.users {
		if user.email == req.Email && user.password == req.Password {
			return c.JSON(http.StatusOK, echo.Map{
				"token":      fmt.Sprintf("tok-%d", user.id),
				"tenant_key": tenant.key,
				"user":       User{ID: user.id, Name: user.name, Email: user.email},
			})
		}
	}
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
}

func (f *fakeAPI) logout(c echo.Context) error {
	if err := requireBearer(c); err != nil {
		return err
	}
	f.mu.Lock()
	status := f.logoutStatus
	f.mu.Unlock()
	if status != http.StatusOK {
		return c.JSON(status, echo.Map{"error": "logout failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

func (f *fakeAPI) users(c echo.Context) error {
	if err := requireBearer(c); err != nil {
		return err
	}
	tenant, err := f.tenantFor(c, "")
	if tenant == nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]User, 0, len(tenant.users))
	for _, user := range tenant.users {
		out = append(out, User{ID: user.id, Name: user.name, Email: user.email})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return c.JSON(http.StatusOK, out)
}

func (f *fakeAPI) roles(c echo.Context) error {
	if err := requireBearer(c); err != nil {
		return err
	}
	tenant, err := f.tenantFor(c, "")
	if tenant == nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Role, 0, len(tenant.roles))
	for _, role := range tenant.roles {
		out = append(out, f.roleJSON(tenant, role))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return c.JSON(http.StatusOK, out)
}

func (f *fakeAPI) roleJSON(tenant *fakeTenant, role *fakeRole) Role {
	perms := make([]Permission, 0, len(role.permIDs))
	for _, id := range role.permIDs {
		perms = append(perms, tenant.perms[id])
	}
	return Role{ID: role.id, Name: role.name, Permissions: perms}
}

func (f *fakeAPI) userRoles(c echo.Context) error {
	if err := requireBearer(c); err != nil {
		return err
	}
	tenant, err := f.tenantFor(c, "")
	if tenant == nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUserRolesGet {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "boom"})
	}

	userID := paramID(c, "userId")
	if _, ok := tenant.users[userID]; !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}
	roles := make([]Role, 0)
	for _, roleID := range tenant.userRoles[userID] {
		if role, ok := tenant.roles[roleID]; ok {
			roles = append(roles, f.roleJSON(tenant, role))
		}
	}
	return c.JSON(http.StatusOK, roles)
}

type assignReq struct {
	UserID       uint   `json:"user_id"`
	RoleID       uint   `json:"role_id"`
	PermissionID uint   `json:"permission_id"`
	TenantKey    string `json:"tenant_key"`
	ValidUntil   string `json:"valid_until"`
}

func (f *fakeAPI) assignUserRole(c echo.Context) error {
	if err := requireBearer(c); err != nil {
		return err
	}
	var req assignReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	tenant, err := f.tenantFor(c, req.TenantKey)
	if tenant == nil {
		return err
	}

	f.mu.Lock()
	block := f.blockAssign
	fail := f.failAssignUserRole[req.RoleID]
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "assignment failed"})
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := tenant.users[req.UserID]; !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}
	if _, ok := tenant.roles[req.RoleID]; !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "role not found"})
	}
	tenant.assignRole(req.UserID, req.RoleID)
	return c.JSON(http.StatusOK, echo.Map{"message": "role assigned"})
}

func (f *fakeAPI) removeUserRole(c echo.Context) error {
	if err := requireBearer(c); err != nil {
		return err
	}
	var req assignReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	tenant, err := f.tenantFor(c, req.TenantKey)
	if tenant == nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRemoveUserRole[req.RoleID] {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "removal failed"})
	}
	if _, ok := tenant.users[req.UserID]; !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}

	kept := tenant.userRoles[req.UserID][:0]
	for _, id := range tenant.userRoles[req.UserID] {
		if id != req.RoleID {
			kept = append(kept, id)
		}
	}
	tenant.userRoles[req.UserID] = kept
	return c.JSON(http.StatusOK, echo.Map{"message": "role removed"})
}

func (f *fakeAPI) rolePermissions(c echo.Context) error {
	if err := requireBearer(c); err != nil {
		return err
	}
	tenant, err := f.tenantFor(c, "")
	if tenant == nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := tenant.roles[paramID(c, "roleId")]
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "role not found"})
	}
	return c.JSON(http.StatusOK, f.roleJSON(tenant, role).Permissions)
}

func (f *fakeAPI) assignRolePermission(c echo.Context) error {
	if err := requireBearer(c); err != nil {
		return err
	}
	var req assignReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	tenant, err := f.tenantFor(c, req.TenantKey)
	if tenant == nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := tenant.roles[req.RoleID]
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "role not found"})
	}
	if _, ok := tenant.perms[req.PermissionID]; !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "permission not found"})
	}
	for _, id := range role.permIDs {
		if id == req.PermissionID {
			return c.JSON(http.StatusOK, echo.Map{"message": "permission assigned"})
		}
	}
	role.permIDs = append(role.permIDs, req.PermissionID)
	return c.JSON(http.StatusOK, echo.Map{"message": "permission assigned"})
}

func (f *fakeAPI) removeRolePermission(c echo.Context) error {
	if err := requireBearer(c); err != nil {
		return err
	}
	var req assignReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	tenant, err := f.tenantFor(c, req.TenantKey)
	if tenant == nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := tenant.roles[req.RoleID]
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "role not found"})
	}
	kept := role.permIDs[:0]
	for _, id := range role.permIDs {
		if id != req.PermissionID {
			kept = append(kept, id)
		}
	}
	role.permIDs = kept
	return c.JSON(http.StatusOK, echo.Map{"message": "permission removed"})
}

func (f *fakeAPI) userPermissions(c echo.Context) error {
	if err := requireBearer(c); err != nil {
		return err
	}
	tenant, err := f.tenantFor(c, "")
	if tenant == nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUserPermsGet {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "boom"})
	}
	userID := paramID(c, "userId")
	if _, ok := tenant.users[userID]; !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}

	now := time.Now()
	byID := map[uint]EffectivePermission{}
	for _, roleID := range tenant.userRoles[userID] {
		role, ok := tenant.roles[roleID]
		if !ok {
			continue
		}
		for _, permID := range role.permIDs {
			if _, seen := byID[permID]; seen {
				continue
			}
			perm := tenant.perms[permID]
			byID[permID] = EffectivePermission{
				ID: perm.ID, Name: perm.Name, Module: perm.Module,
				Source: "role", Granted: true,
			}
		}
	}
	for permID, g := range tenant.grants[userID] {
		if !g.granted {
			continue
		}
		if g.validUntil != nil && g.validUntil.Before(now) {
			continue
		}
		perm := tenant.perms[permID]
		byID[permID] = EffectivePermission{
			ID: perm.ID, Name: perm.Name, Module: perm.Module,
			Source: "direct", Granted: true, ValidUntil: g.validUntil,
		}
	}

	out := make([]EffectivePermission, 0, len(byID))
	for _, perm := range byID {
		out = append(out, perm)
	}
	return c.JSON(http.StatusOK, out)
}

func (f *fakeAPI) assignUserPermission(c echo.Context) error {
	if err := requireBearer(c); err != nil {
		return err
	}
	var req assignReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	tenant, err := f.tenantFor(c, req.TenantKey)
	if tenant == nil {
		return err
	}

	var validUntil *time.Time
	if req.ValidUntil != "" {
		parsed, err := time.Parse("2006-01-02", req.ValidUntil)
		if err != nil {
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{
				"errors": map[string][]string{"valid_until": {"must be a date in YYYY-MM-DD format"}},
			})
		}
		validUntil = &parsed
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := tenant.users[req.UserID]; !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}
	if _, ok := tenant.perms[req.PermissionID]; !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "permission not found"})
	}
	tenant.grant(req.UserID, req.PermissionID, true, validUntil)
	return c.JSON(http.StatusOK, echo.Map{"message": "permission granted"})
}

func (f *fakeAPI) removeUserPermission(c echo.Context) error {
	if err := requireBearer(c); err != nil {
		return err
	}
	var req assignReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	tenant, err := f.tenantFor(c, req.TenantKey)
	if tenant == nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := tenant.grants[req.UserID][req.PermissionID]; ok {
		g.granted = false
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "permission revoked"})
}
