package model

import (
	"time"

	"gorm.io/gorm"
)

// Role groups permissions within a tenant. Name is unique per tenant.
type Role struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	TenantID  uint           `json:"tenant_id" gorm:"index;not null;uniqueIndex:idx_tenant_role_name"`
	Name      string         `json:"name" gorm:"type:varchar(100);not null;uniqueIndex:idx_tenant_role_name"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Permissions []Permission `json:"permissions,omitempty" gorm:"many2many:role_permissions;"`
}

// RolePermission is the role<->permission join row.
type RolePermission struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	RoleID       uint      `json:"role_id" gorm:"index;not null;uniqueIndex:idx_role_permission"`
	PermissionID uint      `json:"permission_id" gorm:"index;not null;uniqueIndex:idx_role_permission"`
	CreatedAt    time.Time `json:"created_at"`
}
