package handler

import (
	"net/http"
	"strconv"
	"time"

	"admin-console/internal/middleware"
	"admin-console/internal/model"
	"admin-console/pkg/database"
	"admin-console/pkg/logger"
	"admin-console/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ListPermissions returns the tenant's permission catalog.
func ListPermissions(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("permission", "list")

	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var permissions []model.Permission
	result := database.GetDB().
		Where("tenant_id = ?", tenant.ID).
		Order("module, name").
		Find(&permissions)
	if result.Error != nil {
		log.Error("Failed to list permissions", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list permissions"})
	}

	return c.JSON(http.StatusOK, permissions)
}

// ListModules returns the distinct module labels of the tenant's catalog.
func ListModules(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("permission", "list_modules")

	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var modules []string
	result := database.GetDB().Model(&model.Permission{}).
		Where("tenant_id = ?", tenant.ID).
		Distinct("module").
		Order("module").
		Pluck("module", &modules)
	if result.Error != nil {
		log.Error("Failed to list modules", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list modules"})
	}

	return c.JSON(http.StatusOK, modules)
}

// PermissionsByModule returns one module's permissions, the payload behind
// the manage-role drawer's toggle list.
func PermissionsByModule(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("permission", "list_by_module")

	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	module := c.QueryParam("module")
	if module == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "module is required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var permissions []model.Permission
	result := database.GetDB().
		Where("tenant_id = ? AND module = ?", tenant.ID, module).
		Order("name").
		Find(&permissions)
	if result.Error != nil {
		log.Error("Failed to list permissions by module",
			zap.String("module", module), zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list permissions"})
	}

	return c.JSON(http.StatusOK, permissions)
}

// CreatePermission creates a permission within the tenant. Names are unique
// per tenant so name-keyed permission checks stay unambiguous.
func CreatePermission(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("permission", "create")

	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	var req struct {
		Name   string `json:"name"`
		Module string `json:"module"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse permission creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	errs := fieldErrors{}
	if req.Name == "" {
		errs.add("name", "is required")
	}
	if req.Module == "" {
		errs.add("module", "is required")
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	if req.Name != "" {
		var count int64
		database.GetDB().Model(&model.Permission{}).
			Where("name = ? AND tenant_id = ?", req.Name, tenant.ID).Count(&count)
		if count > 0 {
			errs.add("name", "has already been taken")
		}
	}

	if !errs.empty() {
		log.Warn("Permission validation failed", zap.Any("errors", errs))
		return validationFailed(c, "permission", errs)
	}

	permission := model.Permission{
		TenantID: tenant.ID,
		Name:     req.Name,
		Module:   req.Module,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if result := database.GetDB().Create(&permission); result.Error != nil {
		log.Error("Failed to create permission", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "permission creation failed"})
	}

	log.Info("Permission created",
		zap.String("name", permission.Name),
		zap.String("module", permission.Module),
		zap.Uint("tenant_id", tenant.ID))

	return c.JSON(http.StatusCreated, permission)
}

// UpdatePermission edits a permission's name or module.
func UpdatePermission(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("permission", "update")

	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid permission ID"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var permission model.Permission
	result := database.GetDB().
		Where("id = ? AND tenant_id = ?", id, tenant.ID).
		First(&permission)
	if result.Error != nil {
		log.Error("Permission not found", zap.Uint64("id", id), zap.Uint("tenant_id", tenant.ID))
		return c.JSON(http.StatusNotFound, echo.Map{"error": "permission not found"})
	}

	var req struct {
		Name   *string `json:"name"`
		Module *string `json:"module"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse permission update request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	errs := fieldErrors{}
	updates := map[string]interface{}{}

	if req.Name != nil {
		if *req.Name == "" {
			errs.add("name", "is required")
		} else if *req.Name != permission.Name {
			var count int64
			database.GetDB().Model(&model.Permission{}).
				Where("name = ? AND tenant_id = ? AND id <> ?", *req.Name, tenant.ID, permission.ID).
				Count(&count)
			if count > 0 {
				errs.add("name", "has already been taken")
			}
		}
		updates["name"] = *req.Name
	}
	if req.Module != nil {
		if *req.Module == "" {
			errs.add("module", "is required")
		}
		updates["module"] = *req.Module
	}

	if !errs.empty() {
		log.Warn("Permission validation failed", zap.Any("errors", errs))
		return validationFailed(c, "permission", errs)
	}

	if len(updates) > 0 {
		defer prometheus.TrackDBOperation("update")(time.Now())
		if result := database.GetDB().Model(&permission).Updates(updates); result.Error != nil {
			log.Error("Failed to update permission", zap.Error(result.Error))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "permission update failed"})
		}
	}

	log.Info("Permission updated", zap.Uint("id", permission.ID), zap.Uint("tenant_id", tenant.ID))
	return c.JSON(http.StatusOK, permission)
}

// DeletePermission removes a permission by id, scoped to the tenant.
func DeletePermission(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("permission", "delete")

	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid permission ID"})
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	result := database.GetDB().
		Where("tenant_id = ?", tenant.ID).
		Delete(&model.Permission{}, id)
	if result.Error != nil {
		log.Error("Failed to delete permission", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "permission deletion failed"})
	}
	if result.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "permission not found"})
	}

	// Drop the permission's join rows so no relation outlives its endpoint
	database.GetDB().Where("permission_id = ?", id).Delete(&model.RolePermission{})
	database.GetDB().Where("permission_id = ?", id).Delete(&model.UserPermission{})

	log.Info("Permission deleted", zap.Uint64("id", id), zap.Uint("tenant_id", tenant.ID))
	return c.JSON(http.StatusOK, echo.Map{"message": "permission deleted"})
}
