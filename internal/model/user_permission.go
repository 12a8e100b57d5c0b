package model

import (
	"time"
)

// UserPermission is a direct grant: a permission assigned to a user
// independent of role membership. Revoking flips Granted instead of deleting
// the row, so a later re-grant keeps the original assignment history.
// ValidUntil, when set, time-bounds the grant.
type UserPermission struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	UserID       uint       `json:"user_id" gorm:"index;not null;uniqueIndex:idx_user_permission"`
	PermissionID uint       `json:"permission_id" gorm:"index;not null;uniqueIndex:idx_user_permission"`
	Granted      bool       `json:"granted" gorm:"default:true"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// Relations
	Permission Permission `json:"permission,omitempty" gorm:"foreignKey:PermissionID"`
}

// Effective reports whether the grant is currently in force.
func (up *UserPermission) Effective(now time.Time) bool {
	if !up.Granted {
		return false
	}
	if up.ValidUntil != nil && up.ValidUntil.Before(now) {
		return false
	}
	return true
}
