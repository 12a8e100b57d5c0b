package model

import (
	"time"

	"gorm.io/gorm"
)

// User represents an account scoped to a single tenant. The password column
// holds a bcrypt hash and is never serialized back to callers.
type User struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	TenantID  uint           `json:"tenant_id" gorm:"index;not null"`
	Name      string         `json:"name" gorm:"type:varchar(100);not null"`
	Email     string         `json:"email" gorm:"type:varchar(100);index;not null"`
	Password  string         `json:"-" gorm:"type:varchar(255)"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Roles       []Role           `json:"roles,omitempty" gorm:"many2many:user_roles;"`
	Permissions []UserPermission `json:"user_permissions,omitempty" gorm:"foreignKey:UserID"`
}

// UserRole is the user<->role join row. Kept as an explicit model so the
// assignment endpoints can add and remove rows directly, and so role order
// (order of assignment) is preserved via CreatedAt.
type UserRole struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"index;not null;uniqueIndex:idx_user_role"`
	RoleID    uint      `json:"role_id" gorm:"index;not null;uniqueIndex:idx_user_role"`
	CreatedAt time.Time `json:"created_at"`
}
