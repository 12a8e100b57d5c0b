// Package rbac computes a user's effective permission set from role
// membership and direct grants. It is pure: callers load the rows, this
// package only does the set algebra, so revocation semantics (a permission
// reachable through two roles survives losing one of them) live in exactly
// one place.
package rbac

import (
	"sort"
	"time"

	"admin-console/internal/model"
)

// Grant sources
const (
	SourceRole   = "role"
	SourceDirect = "direct"
)

// EffectivePermission is one entry of a user's effective set. Direct grants
// carry their pivot fields so the console can render the grant toggles from
// the same payload the resolver consumes.
type EffectivePermission struct {
	ID         uint       `json:"id"`
	Name       string     `json:"name"`
	Module     string     `json:"module"`
	Source     string     `json:"source"`
	Granted    bool       `json:"granted"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// Effective returns the union of permissions reachable through the given
// roles and the direct grants that are in force at now. A permission held
// both through a role and as a direct grant appears once, as a direct grant,
// so the pivot fields stay visible.
func Effective(roles []model.Role, grants []model.UserPermission, now time.Time) []EffectivePermission {
	byID := make(map[uint]EffectivePermission)

	for _, role := range roles {
		for _, perm := range role.Permissions {
			if _, ok := byID[perm.ID]; ok {
				continue
			}
			byID[perm.ID] = EffectivePermission{
				ID:      perm.ID,
				Name:    perm.Name,
				Module:  perm.Module,
				Source:  SourceRole,
				Granted: true,
			}
		}
	}

	for _, grant := range grants {
		if !grant.Effective(now) {
			continue
		}
		byID[grant.PermissionID] = EffectivePermission{
			ID:         grant.PermissionID,
			Name:       grant.Permission.Name,
			Module:     grant.Permission.Module,
			Source:     SourceDirect,
			Granted:    true,
			ValidUntil: grant.ValidUntil,
		}
	}

	out := make([]EffectivePermission, 0, len(byID))
	for _, perm := range byID {
		out = append(out, perm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// NameSet collapses an effective list into a name-keyed lookup.
func NameSet(perms []EffectivePermission) map[string]struct{} {
	set := make(map[string]struct{}, len(perms))
	for _, perm := range perms {
		set[perm.Name] = struct{}{}
	}
	return set
}
