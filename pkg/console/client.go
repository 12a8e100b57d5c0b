// Package console implements the core of the operator console: a typed
// client for the admin REST API, the authenticated session store, the
// effective-permission resolver backing the access gate, and the assignment
// controller that drives role/permission relationship edits.
package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Tenant is the API's tenant record.
type Tenant struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
	TenantKey string `json:"tenant_key"`
	Status    string `json:"status"`
}

// User is the API's user record. Password is write-only: it is sent on
// create/update and never present in responses.
type User struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Roles []Role `json:"roles,omitempty"`
}

// Role is the API's role record with its permissions embedded.
type Role struct {
	ID          uint         `json:"id"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// Permission is one entry of the tenant's permission catalog.
type Permission struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Module string `json:"module"`
}

// EffectivePermission is one entry of a user's effective set as served by
// the user-permissions endpoint.
type EffectivePermission struct {
	ID         uint       `json:"id"`
	Name       string     `json:"name"`
	Module     string     `json:"module"`
	Source     string     `json:"source"`
	Granted    bool       `json:"granted"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// LoginResult is the session bootstrap payload.
type LoginResult struct {
	Token     string `json:"token"`
	TenantKey string `json:"tenant_key"`
	User      User   `json:"user"`
}

// APIError is a non-2xx response that is not a validation failure.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %d %s", e.StatusCode, e.Message)
}

// ValidationError carries a 422 response's field->messages mapping so the
// caller can bind the messages back onto the originating form's fields.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %d field(s)", len(e.Fields))
}

// Client is the console's HTTP client for the admin REST API. The bearer
// token is owned by the Session and installed via SetToken; every request
// after login carries it in the Authorization header.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient creates a client for the given API base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SetToken installs the bearer token used on subsequent requests. An empty
// token clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the currently installed bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnprocessableEntity {
		var payload struct {
			Errors map[string][]string `json:"errors"`
		}
		if err := json.Unmarshal(data, &payload); err != nil || len(payload.Errors) == 0 {
			return &APIError{StatusCode: resp.StatusCode, Message: string(data)}
		}
		return &ValidationError{Fields: payload.Errors}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(data)}
	}

	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func tenantQuery(tenantKey string) url.Values {
	q := url.Values{}
	q.Set("tenant_key", tenantKey)
	return q
}

// Login submits credentials and the tenant key to the session bootstrap
// endpoint. It does not install the returned token; the Session does that
// so token/user/tenant state always changes together.
func (c *Client) Login(ctx context.Context, email, password, tenantKey string) (*LoginResult, error) {
	body := map[string]string{
		"email":      email,
		"password":   password,
		"tenant_key": tenantKey,
	}
	var result LoginResult
	if err := c.do(ctx, http.MethodPost, "/api/login", nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Logout notifies the server that the session is over.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/logout", nil, nil, nil)
}

// Tenants lists all tenants.
func (c *Client) Tenants(ctx context.Context) ([]Tenant, error) {
	var tenants []Tenant
	if err := c.do(ctx, http.MethodGet, "/api/tenants", nil, nil, &tenants); err != nil {
		return nil, err
	}
	return tenants, nil
}

// Tenant fetches one tenant by id.
func (c *Client) Tenant(ctx context.Context, id uint) (*Tenant, error) {
	var tenant Tenant
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/tenants/%d", id), nil, nil, &tenant); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// CreateTenant creates a tenant. TenantKey may be empty, in which case the
// server generates one.
func (c *Client) CreateTenant(ctx context.Context, tenant Tenant) (*Tenant, error) {
	var created Tenant
	if err := c.do(ctx, http.MethodPost, "/api/tenants", nil, tenant, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateTenant edits a tenant.
func (c *Client) UpdateTenant(ctx context.Context, id uint, fields map[string]interface{}) (*Tenant, error) {
	var updated Tenant
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/tenants/%d", id), nil, fields, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteTenant removes a tenant by id.
func (c *Client) DeleteTenant(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/tenants/%d", id), nil, nil, nil)
}

// GenerateTenantKey asks the server for a fresh tenant access key.
func (c *Client) GenerateTenantKey(ctx context.Context) (string, error) {
	var payload struct {
		TenantKey string `json:"tenant_key"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tenants/generate-key", nil, nil, &payload); err != nil {
		return "", err
	}
	return payload.TenantKey, nil
}

// Users lists the tenant's users.
func (c *Client) Users(ctx context.Context, tenantKey string) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "/api/users", tenantQuery(tenantKey), nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUser creates a user within the tenant.
func (c *Client) CreateUser(ctx context.Context, tenantKey, name, email, password string) (*User, error) {
	body := map[string]string{"name": name, "email": email, "password": password}
	var user User
	if err := c.do(ctx, http.MethodPost, "/api/users", tenantQuery(tenantKey), body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser edits a user. Omitting "password" from fields preserves the
// stored password.
func (c *Client) UpdateUser(ctx context.Context, tenantKey string, id uint, fields map[string]interface{}) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/users/%d", id), tenantQuery(tenantKey), fields, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteUser removes a user by id, scoped to the tenant.
func (c *Client) DeleteUser(ctx context.Context, tenantKey string, id uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/users/%d", id), tenantQuery(tenantKey), nil, nil)
}

// Roles lists the tenant's roles with permissions embedded.
func (c *Client) Roles(ctx context.Context, tenantKey string) ([]Role, error) {
	var roles []Role
	if err := c.do(ctx, http.MethodGet, "/api/roles", tenantQuery(tenantKey), nil, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// CreateRole creates a role within the tenant.
func (c *Client) CreateRole(ctx context.Context, tenantKey, name string) (*Role, error) {
	body := map[string]string{"name": name}
	var role Role
	if err := c.do(ctx, http.MethodPost, "/api/roles", tenantQuery(tenantKey), body, &role); err != nil {
		return nil, err
	}
	return &role, nil
}

// UpdateRole renames a role.
func (c *Client) UpdateRole(ctx context.Context, tenantKey string, id uint, name string) (*Role, error) {
	body := map[string]string{"name": name}
	var role Role
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/roles/%d", id), tenantQuery(tenantKey), body, &role); err != nil {
		return nil, err
	}
	return &role, nil
}

// DeleteRole removes a role by id, scoped to the tenant.
func (c *Client) DeleteRole(ctx context.Context, tenantKey string, id uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/roles/%d", id), tenantQuery(tenantKey), nil, nil)
}

// Permissions lists the tenant's permission catalog.
func (c *Client) Permissions(ctx context.Context, tenantKey string) ([]Permission, error) {
	var permissions []Permission
	if err := c.do(ctx, http.MethodGet, "/api/permissions", tenantQuery(tenantKey), nil, &permissions); err != nil {
		return nil, err
	}
	return permissions, nil
}

// CreatePermission creates a permission within the tenant.
func (c *Client) CreatePermission(ctx context.Context, tenantKey, name, module string) (*Permission, error) {
	body := map[string]string{"name": name, "module": module}
	var permission Permission
	if err := c.do(ctx, http.MethodPost, "/api/permissions", tenantQuery(tenantKey), body, &permission); err != nil {
		return nil, err
	}
	return &permission, nil
}

// UpdatePermission edits a permission.
func (c *Client) UpdatePermission(ctx context.Context, tenantKey string, id uint, fields map[string]interface{}) (*Permission, error) {
	var permission Permission
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/permissions/%d", id), tenantQuery(tenantKey), fields, &permission); err != nil {
		return nil, err
	}
	return &permission, nil
}

// DeletePermission removes a permission by id, scoped to the tenant.
func (c *Client) DeletePermission(ctx context.Context, tenantKey string, id uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/permissions/%d", id), tenantQuery(tenantKey), nil, nil)
}

// Modules lists the distinct module labels of the tenant's catalog.
func (c *Client) Modules(ctx context.Context, tenantKey string) ([]string, error) {
	var modules []string
	if err := c.do(ctx, http.MethodGet, "/api/modules", tenantQuery(tenantKey), nil, &modules); err != nil {
		return nil, err
	}
	return modules, nil
}

// PermissionsByModule lists one module's permissions.
func (c *Client) PermissionsByModule(ctx context.Context, tenantKey, module string) ([]Permission, error) {
	q := tenantQuery(tenantKey)
	q.Set("module", module)
	var permissions []Permission
	if err := c.do(ctx, http.MethodGet, "/api/permissions/by-module", q, nil, &permissions); err != nil {
		return nil, err
	}
	return permissions, nil
}

// RolePermissions returns the permissions currently assigned to a role.
func (c *Client) RolePermissions(ctx context.Context, tenantKey string, roleID uint) ([]Permission, error) {
	var permissions []Permission
	path := fmt.Sprintf("/api/role-permissions/%d", roleID)
	if err := c.do(ctx, http.MethodGet, path, tenantQuery(tenantKey), nil, &permissions); err != nil {
		return nil, err
	}
	return permissions, nil
}

// AssignRolePermission adds a permission to a role.
func (c *Client) AssignRolePermission(ctx context.Context, tenantKey string, roleID, permissionID uint) error {
	body := map[string]interface{}{
		"role_id":       roleID,
		"permission_id": permissionID,
		"tenant_key":    tenantKey,
	}
	return c.do(ctx, http.MethodPost, "/api/role-permissions/assign", nil, body, nil)
}

// RemoveRolePermission removes a permission from a role.
func (c *Client) RemoveRolePermission(ctx context.Context, tenantKey string, roleID, permissionID uint) error {
	body := map[string]interface{}{
		"role_id":       roleID,
		"permission_id": permissionID,
		"tenant_key":    tenantKey,
	}
	return c.do(ctx, http.MethodPost, "/api/role-permissions/remove", nil, body, nil)
}

// UserRoles returns a user's roles in assignment order.
func (c *Client) UserRoles(ctx context.Context, tenantKey string, userID uint) ([]Role, error) {
	var roles []Role
	path := fmt.Sprintf("/api/user-role/%d", userID)
	if err := c.do(ctx, http.MethodGet, path, tenantQuery(tenantKey), nil, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// AssignUserRole adds a role to a user.
func (c *Client) AssignUserRole(ctx context.Context, tenantKey string, userID, roleID uint) error {
	body := map[string]interface{}{
		"user_id":    userID,
		"role_id":    roleID,
		"tenant_key": tenantKey,
	}
	return c.do(ctx, http.MethodPost, "/api/user-role/assign", nil, body, nil)
}

// RemoveUserRole removes a role from a user.
func (c *Client) RemoveUserRole(ctx context.Context, tenantKey string, userID, roleID uint) error {
	body := map[string]interface{}{
		"user_id":    userID,
		"role_id":    roleID,
		"tenant_key": tenantKey,
	}
	return c.do(ctx, http.MethodPost, "/api/user-role/remove", nil, body, nil)
}

// UserPermissions returns a user's effective permission set.
func (c *Client) UserPermissions(ctx context.Context, tenantKey string, userID uint) ([]EffectivePermission, error) {
	var permissions []EffectivePermission
	path := fmt.Sprintf("/api/user-permissions/%d", userID)
	if err := c.do(ctx, http.MethodGet, path, tenantQuery(tenantKey), nil, &permissions); err != nil {
		return nil, err
	}
	return permissions, nil
}

// AssignUserPermission records a direct grant for a user, optionally
// time-bounded by validUntil (date precision).
func (c *Client) AssignUserPermission(ctx context.Context, tenantKey string, userID, permissionID uint, validUntil *time.Time) error {
	body := map[string]interface{}{
		"user_id":       userID,
		"permission_id": permissionID,
		"tenant_key":    tenantKey,
	}
	if validUntil != nil {
		body["valid_until"] = validUntil.Format("2006-01-02")
	}
	return c.do(ctx, http.MethodPost, "/api/user-permissions/assign", nil, body, nil)
}

// RemoveUserPermission revokes a direct grant.
func (c *Client) RemoveUserPermission(ctx context.Context, tenantKey string, userID, permissionID uint) error {
	body := map[string]interface{}{
		"user_id":       userID,
		"permission_id": permissionID,
		"tenant_key":    tenantKey,
	}
	return c.do(ctx, http.MethodPost, "/api/user-permissions/remove", nil, body, nil)
}
