package console

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Resolver caches the session user's effective permission set as a
// name-keyed lookup. Refresh replaces the whole set atomically; readers
// never observe a partially updated one. HasPermission is the access gate:
// a pure lookup, safe on every render, absent means denied - including
// before the first successful refresh.
type Resolver struct {
	client  *Client
	session *Session
	log     *zap.Logger

	mu          sync.RWMutex
	names       map[string]struct{}
	permissions []EffectivePermission

	// Identity the cached set was fetched for; a refresh for a different
	// identity always replaces the set even on an empty result.
	forUserID    uint
	forTenantKey string
}

// NewResolver creates a resolver bound to the session's identity. The set
// starts empty: everything is denied until the first successful Refresh.
func NewResolver(client *Client, session *Session, log *zap.Logger) *Resolver {
	return &Resolver{
		client:  client,
		session: session,
		log:     log,
		names:   map[string]struct{}{},
	}
}

// Refresh fetches the effective permission set for the current identity.
// With no authenticated user or tenant it installs the empty set and
// returns nil. On transport failure for an unchanged identity the previous
// set is kept so rendering keeps working with last known state; the error
// is returned for the caller to surface.
func (r *Resolver) Refresh(ctx context.Context) error {
	user := r.session.User()
	tenantKey := r.session.TenantKey()

	if user == nil || tenantKey == "" {
		r.replace(0, "", nil)
		return nil
	}

	perms, err := r.client.UserPermissions(ctx, tenantKey, user.ID)
	if err != nil {
		r.log.Warn("Permission refresh failed, keeping previous set",
			zap.Uint("user_id", user.ID),
			zap.Error(err))
		if r.identityChanged(user.ID, tenantKey) {
			// Never serve one identity's permissions to another
			r.replace(user.ID, tenantKey, nil)
		}
		return err
	}

	r.replace(user.ID, tenantKey, perms)
	return nil
}

func (r *Resolver) identityChanged(userID uint, tenantKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.forUserID != userID || r.forTenantKey != tenantKey
}

func (r *Resolver) replace(userID uint, tenantKey string, perms []EffectivePermission) {
	names := make(map[string]struct{}, len(perms))
	for _, perm := range perms {
		names[perm.Name] = struct{}{}
	}

	r.mu.Lock()
	r.names = names
	r.permissions = perms
	r.forUserID = userID
	r.forTenantKey = tenantKey
	r.mu.Unlock()
}

// HasPermission reports whether the named permission is in the current
// effective set. It never errors and never defaults to allow.
func (r *Resolver) HasPermission(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

// Permissions returns a copy of the current effective set.
func (r *Resolver) Permissions() []EffectivePermission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EffectivePermission, len(r.permissions))
	copy(out, r.permissions)
	return out
}
