package model

import (
	"time"

	"gorm.io/gorm"
)

// Permission is a named capability scoped to a tenant. Module is a free-text
// grouping label used by the console to organize permission lists; names are
// unique within a tenant so name-keyed permission checks are unambiguous.
type Permission struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	TenantID  uint           `json:"tenant_id" gorm:"index;not null;uniqueIndex:idx_tenant_perm_name"`
	Name      string         `json:"name" gorm:"type:varchar(100);not null;uniqueIndex:idx_tenant_perm_name"`
	Module    string         `json:"module" gorm:"type:varchar(100);index"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}
