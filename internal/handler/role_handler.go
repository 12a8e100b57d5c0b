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

// ListRoles returns the tenant's roles with their permissions embedded; the
// manage-user drawer groups a selected role's permissions by module from
// this payload.
func ListRoles(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("role", "list")

	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var roles []model.Role
	result := database.GetDB().
		Where("tenant_id = ?", tenant.ID).
		Preload("Permissions").
		Order("id").
		Find(&roles)
	if result.Error != nil {
		log.Error("Failed to list roles", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list roles"})
	}

	return c.JSON(http.StatusOK, roles)
}

// CreateRole creates a role within the tenant.
func CreateRole(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("role", "create")

	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	var req struct {
		Name string `json:"name"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse role creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	errs := fieldErrors{}
	if req.Name == "" {
		errs.add("name", "is required")
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	if req.Name != "" {
		var count int64
		database.GetDB().Model(&model.Role{}).
			Where("name = ? AND tenant_id = ?", req.Name, tenant.ID).Count(&count)
		if count > 0 {
			errs.add("name", "has already been taken")
		}
	}

	if !errs.empty() {
		log.Warn("Role validation failed", zap.Any("errors", errs))
		return validationFailed(c, "role", errs)
	}

	role := model.Role{
		TenantID: tenant.ID,
		Name:     req.Name,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if result := database.GetDB().Create(&role); result.Error != nil {
		log.Error("Failed to create role", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "role creation failed"})
	}

	log.Info("Role created", zap.String("name", role.Name), zap.Uint("tenant_id", tenant.ID))
	return c.JSON(http.StatusCreated, role)
}

// UpdateRole renames a role.
func UpdateRole(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("role", "update")

	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid role ID"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var role model.Role
	result := database.GetDB().
		Where("id = ? AND tenant_id = ?", id, tenant.ID).
		First(&role)
	if result.Error != nil {
		log.Error("Role not found", zap.Uint64("id", id), zap.Uint("tenant_id", tenant.ID))
		return c.JSON(http.StatusNotFound, echo.Map{"error": "role not found"})
	}

	var req struct {
		Name string `json:"name"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse role update request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	errs := fieldErrors{}
	if req.Name == "" {
		errs.add("name", "is required")
	} else if req.Name != role.Name {
		var count int64
		database.GetDB().Model(&model.Role{}).
			Where("name = ? AND tenant_id = ? AND id <> ?", req.Name, tenant.ID, role.ID).
			Count(&count)
		if count > 0 {
			errs.add("name", "has already been taken")
		}
	}

	if !errs.empty() {
		log.Warn("Role validation failed", zap.Any("errors", errs))
		return validationFailed(c, "role", errs)
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	if result := database.GetDB().Model(&role).Update("name", req.Name); result.Error != nil {
		log.Error("Failed to update role", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "role update failed"})
	}

	log.Info("Role updated", zap.Uint("id", role.ID), zap.Uint("tenant_id", tenant.ID))
	return c.JSON(http.StatusOK, role)
}

// DeleteRole removes a role by id, scoped to the tenant.
func DeleteRole(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("role", "delete")

	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid role ID"})
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	result := database.GetDB().
		Where("tenant_id = ?", tenant.ID).
		Delete(&model.Role{}, id)
	if result.Error != nil {
		log.Error("Failed to delete role", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "role deletion failed"})
	}
	if result.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "role not found"})
	}

	// Drop the role's join rows so no relation outlives its endpoint
	database.GetDB().Where("role_id = ?", id).Delete(&model.UserRole{})
	database.GetDB().Where("role_id = ?", id).Delete(&model.RolePermission{})

	log.Info("Role deleted", zap.Uint64("id", id), zap.Uint("tenant_id", tenant.ID))
	return c.JSON(http.StatusOK, echo.Map{"message": "role deleted"})
}
