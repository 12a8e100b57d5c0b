package handler

import (
	"net/http"
	"strconv"
	"time"

	"admin-console/internal/model"
	"admin-console/pkg/database"
	"admin-console/pkg/logger"
	"admin-console/prometheus"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ListTenants returns all tenants. Tenant management is operator-level and
// not scoped by a tenant key.
func ListTenants(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("tenant", "list")

	defer prometheus.TrackDBOperation("query")(time.Now())
	var tenants []model.Tenant
	if result := database.GetDB().Order("id").Find(&tenants); result.Error != nil {
		log.Error("Failed to list tenants", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list tenants"})
	}

	return c.JSON(http.StatusOK, tenants)
}

// GetTenant retrieves a single tenant by id.
func GetTenant(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("tenant", "get")

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid tenant ID"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var tenant model.Tenant
	if result := database.GetDB().First(&tenant, id); result.Error != nil {
		log.Error("Tenant not found", zap.Uint64("id", id))
		return c.JSON(http.StatusNotFound, echo.Map{"error": "tenant not found"})
	}

	return c.JSON(http.StatusOK, tenant)
}

// CreateTenant creates a tenant. The access key may be supplied by the
// caller (typically obtained from GenerateTenantKey first); when omitted one
// is generated here so the created record always carries a key.
func CreateTenant(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("tenant", "create")

	var req struct {
		Name      string `json:"name"`
		Subdomain string `json:"subdomain"`
		TenantKey string `json:"tenant_key"`
		Status    string `json:"status"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse tenant creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	errs := fieldErrors{}
	if req.Name == "" {
		errs.add("name", "is required")
	}
	if req.Subdomain == "" {
		errs.add("subdomain", "is required")
	}
	if req.TenantKey == "" {
		req.TenantKey = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = model.TenantStatusActive
	}
	if req.Status != model.TenantStatusActive && req.Status != model.TenantStatusInactive {
		errs.add("status", "must be Active or Inactive")
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var count int64
	database.GetDB().Model(&model.Tenant{}).Where("subdomain = ?", req.Subdomain).Count(&count)
	if count > 0 {
		errs.add("subdomain", "has already been taken")
	}
	database.GetDB().Model(&model.Tenant{}).Where("tenant_key = ?", req.TenantKey).Count(&count)
	if count > 0 {
		errs.add("tenant_key", "has already been taken")
	}

	if !errs.empty() {
		log.Warn("Tenant validation failed", zap.Any("errors", errs))
		return validationFailed(c, "tenant", errs)
	}

	tenant := model.Tenant{
		Name:      req.Name,
		Subdomain: req.Subdomain,
		TenantKey: req.TenantKey,
		Status:    req.Status,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if result := database.GetDB().Create(&tenant); result.Error != nil {
		log.Error("Failed to create tenant", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "tenant creation failed"})
	}

	log.Info("Tenant created",
		zap.String("name", tenant.Name),
		zap.Uint("id", tenant.ID),
		zap.String("subdomain", tenant.Subdomain))

	return c.JSON(http.StatusCreated, tenant)
}

// UpdateTenant edits a tenant's fields. Key regeneration is an edit that
// supplies a fresh tenant_key.
func UpdateTenant(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("tenant", "update")

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid tenant ID"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var tenant model.Tenant
	if result := database.GetDB().First(&tenant, id); result.Error != nil {
		log.Error("Tenant not found", zap.Uint64("id", id))
		return c.JSON(http.StatusNotFound, echo.Map{"error": "tenant not found"})
	}

	var req struct {
		Name      *string `json:"name"`
		Subdomain *string `json:"subdomain"`
		TenantKey *string `json:"tenant_key"`
		Status    *string `json:"status"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse tenant update request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	errs := fieldErrors{}
	updates := map[string]interface{}{}

	if req.Name != nil {
		if *req.Name == "" {
			errs.add("name", "is required")
		}
		updates["name"] = *req.Name
	}
	if req.Subdomain != nil && *req.Subdomain != tenant.Subdomain {
		var count int64
		database.GetDB().Model(&model.Tenant{}).
			Where("subdomain = ? AND id <> ?", *req.Subdomain, tenant.ID).Count(&count)
		if count > 0 {
			errs.add("subdomain", "has already been taken")
		}
		updates["subdomain"] = *req.Subdomain
	}
	if req.TenantKey != nil && *req.TenantKey != tenant.TenantKey {
		var count int64
		database.GetDB().Model(&model.Tenant{}).
			Where("tenant_key = ? AND id <> ?", *req.TenantKey, tenant.ID).Count(&count)
		if count > 0 {
			errs.add("tenant_key", "has already been taken")
		}
		updates["tenant_key"] = *req.TenantKey
	}
	if req.Status != nil {
		if *req.Status != model.TenantStatusActive && *req.Status != model.TenantStatusInactive {
			errs.add("status", "must be Active or Inactive")
		}
		updates["status"] = *req.Status
	}

	if !errs.empty() {
		log.Warn("Tenant validation failed", zap.Any("errors", errs))
		return validationFailed(c, "tenant", errs)
	}

	if len(updates) > 0 {
		defer prometheus.TrackDBOperation("update")(time.Now())
		if result := database.GetDB().Model(&tenant).Updates(updates); result.Error != nil {
			log.Error("Failed to update tenant", zap.Error(result.Error))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "tenant update failed"})
		}
	}

	log.Info("Tenant updated", zap.Uint("id", tenant.ID))
	return c.JSON(http.StatusOK, tenant)
}

// DeleteTenant removes a tenant by id.
func DeleteTenant(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("tenant", "delete")

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid tenant ID"})
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	result := database.GetDB().Delete(&model.Tenant{}, id)
	if result.Error != nil {
		log.Error("Failed to delete tenant", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "tenant deletion failed"})
	}
	if result.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "tenant not found"})
	}

	log.Info("Tenant deleted", zap.Uint64("id", id))
	return c.JSON(http.StatusOK, echo.Map{"message": "tenant deleted"})
}

// GenerateTenantKey hands out a fresh opaque access key for the tenant
// creation form.
func GenerateTenantKey(c echo.Context) error {
	prometheus.RecordOperation("tenant", "generate_key")
	return c.JSON(http.StatusOK, echo.Map{"tenant_key": uuid.NewString()})
}
