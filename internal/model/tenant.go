package model

import (
	"time"

	"gorm.io/gorm"
)

// Tenant statuses
const (
	TenantStatusActive   = "Active"
	TenantStatusInactive = "Inactive"
)

// Tenant represents an isolation boundary. Every user, role and permission
// belongs to exactly one tenant, and tenant-scoped requests identify it by
// the opaque TenantKey rather than the numeric ID.
type Tenant struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Name      string         `json:"name" gorm:"type:varchar(100);not null"`
	Subdomain string         `json:"subdomain" gorm:"type:varchar(100);uniqueIndex"`
	TenantKey string         `json:"tenant_key" gorm:"type:varchar(100);uniqueIndex"`
	Status    string         `json:"status" gorm:"type:varchar(20);default:'Active'"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}
