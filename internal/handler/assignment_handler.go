package handler

import (
	"net/http"
	"strconv"
	"time"

	"admin-console/internal/middleware"
	"admin-console/internal/model"
	"admin-console/internal/rbac"
	"admin-console/pkg/database"
	"admin-console/pkg/logger"
	"admin-console/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// The assignment endpoints mutate the three join relations. Assigns are
// idempotent: re-assigning an existing relation updates it in place and
// never duplicates rows.

// GetRolePermissions returns the permissions currently assigned to a role.
func GetRolePermissions(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordAssignment("role_permission", "list")

	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	roleID, err := strconv.ParseUint(c.Param("roleId"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid role ID"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var role model.Role
	result := database.GetDB().
		Where("id = ? AND tenant_id = ?", roleID, tenant.ID).
		Preload("Permissions").
		First(&role)
	if result.Error != nil {
		log.Error("Role not found", zap.Uint64("role_id", roleID), zap.Uint("tenant_id", tenant.ID))
		return c.JSON(http.StatusNotFound, echo.Map{"error": "role not found"})
	}

	return c.JSON(http.StatusOK, role.Permissions)
}

// AssignRolePermission adds a permission to a role.
func AssignRolePermission(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordAssignment("role_permission", "assign")

	var req struct {
		RoleID       uint   `json:"role_id"`
		PermissionID uint   `json:"permission_id"`
		TenantKey    string `json:"tenant_key"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse role-permission assign request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	tenant, err := middleware.LookupTenant(req.TenantKey)
	if err != nil {
		log.Warn("Tenant scoping failed", zap.String("tenant_key", req.TenantKey))
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	if err := verifyRoleAndPermission(tenant.ID, req.RoleID, req.PermissionID); err != nil {
		log.Warn("Role-permission endpoints not verified",
			zap.Uint("role_id", req.RoleID),
			zap.Uint("permission_id", req.PermissionID),
			zap.Uint("tenant_id", tenant.ID))
		return scopeFailure(c, err)
	}

	join := model.RolePermission{RoleID: req.RoleID, PermissionID: req.PermissionID}
	defer prometheus.TrackDBOperation("insert")(time.Now())
	result := database.GetDB().
		Where(model.RolePermission{RoleID: req.RoleID, PermissionID: req.PermissionID}).
		FirstOrCreate(&join)
	if result.Error != nil {
		log.Error("Failed to assign permission to role", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "assignment failed"})
	}

	log.Info("Permission assigned to role",
		zap.Uint("role_id", req.RoleID),
		zap.Uint("permission_id", req.PermissionID),
		zap.Uint("tenant_id", tenant.ID))

	return c.JSON(http.StatusOK, echo.Map{"message": "permission assigned"})
}

// RemoveRolePermission removes a permission from a role.
func RemoveRolePermission(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordAssignment("role_permission", "remove")

	var req struct {
		RoleID       uint   `json:"role_id"`
		PermissionID uint   `json:"permission_id"`
		TenantKey    string `json:"tenant_key"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse role-permission remove request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	tenant, err := middleware.LookupTenant(req.TenantKey)
	if err != nil {
		log.Warn("Tenant scoping failed", zap.String("tenant_key", req.TenantKey))
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	if err := verifyRoleAndPermission(tenant.ID, req.RoleID, req.PermissionID); err != nil {
		return scopeFailure(c, err)
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	result := database.GetDB().
		Where("role_id = ? AND permission_id = ?", req.RoleID, req.PermissionID).
		Delete(&model.RolePermission{})
	if result.Error != nil {
		log.Error("Failed to remove permission from role", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "removal failed"})
	}

	log.Info("Permission removed from role",
		zap.Uint("role_id", req.RoleID),
		zap.Uint("permission_id", req.PermissionID),
		zap.Uint("tenant_id", tenant.ID))

	return c.JSON(http.StatusOK, echo.Map{"message": "permission removed"})
}

// GetUserRoles returns a user's roles in assignment order.
func GetUserRoles(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordAssignment("user_role", "list")

	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	userID, err := strconv.ParseUint(c.Param("userId"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user ID"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	if err := verifyUserInTenant(tenant.ID, uint(userID)); err != nil {
		return scopeFailure(c, err)
	}

	var roles []model.Role
	result := database.GetDB().
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ? AND roles.tenant_id = ?", userID, tenant.ID).
		Order("user_roles.created_at").
		Find(&roles)
	if result.Error != nil {
		log.Error("Failed to list user roles", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list user roles"})
	}

	return c.JSON(http.StatusOK, roles)
}

// AssignUserRole adds a role to a user.
func AssignUserRole(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordAssignment("user_role", "assign")

	var req struct {
		UserID    uint   `json:"user_id"`
		RoleID    uint   `json:"role_id"`
		TenantKey string `json:"tenant_key"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse user-role assign request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	tenant, err := middleware.LookupTenant(req.TenantKey)
	if err != nil {
		log.Warn("Tenant scoping failed", zap.String("tenant_key", req.TenantKey))
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	if err := verifyUserAndRole(tenant.ID, req.UserID, req.RoleID); err != nil {
		return scopeFailure(c, err)
	}

	join := model.UserRole{UserID: req.UserID, RoleID: req.RoleID}
	defer prometheus.TrackDBOperation("insert")(time.Now())
	result := database.GetDB().
		Where(model.UserRole{UserID: req.UserID, RoleID: req.RoleID}).
		FirstOrCreate(&join)
	if result.Error != nil {
		log.Error("Failed to assign role to user", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "assignment failed"})
	}

	log.Info("Role assigned to user",
		zap.Uint("user_id", req.UserID),
		zap.Uint("role_id", req.RoleID),
		zap.Uint("tenant_id", tenant.ID))

	return c.JSON(http.StatusOK, echo.Map{"message": "role assigned"})
}

// RemoveUserRole removes a role from a user.
func RemoveUserRole(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordAssignment("user_role", "remove")

	var req struct {
		UserID    uint   `json:"user_id"`
		RoleID    uint   `json:"role_id"`
		TenantKey string `json:"tenant_key"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse user-role remove request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	tenant, err := middleware.LookupTenant(req.TenantKey)
	if err != nil {
		log.Warn("Tenant scoping failed", zap.String("tenant_key", req.TenantKey))
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	if err := verifyUserAndRole(tenant.ID, req.UserID, req.RoleID); err != nil {
		return scopeFailure(c, err)
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	result := database.GetDB().
		Where("user_id = ? AND role_id = ?", req.UserID, req.RoleID).
		Delete(&model.UserRole{})
	if result.Error != nil {
		log.Error("Failed to remove role from user", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "removal failed"})
	}

	log.Info("Role removed from user",
		zap.Uint("user_id", req.UserID),
		zap.Uint("role_id", req.RoleID),
		zap.Uint("tenant_id", tenant.ID))

	return c.JSON(http.StatusOK, echo.Map{"message": "role removed"})
}

// GetUserPermissions returns a user's effective permission set: the union
// of everything reachable through assigned roles and the direct grants in
// force right now. The console's resolver and the manage-user drawer both
// feed from this payload.
func GetUserPermissions(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordAssignment("user_permission", "list")

	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	userID, err := strconv.ParseUint(c.Param("userId"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user ID"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var user model.User
	result := database.GetDB().
		Where("id = ? AND tenant_id = ?", userID, tenant.ID).
		Preload("Roles").
		Preload("Roles.Permissions").
		Preload("Permissions").
		Preload("Permissions.Permission").
		First(&user)
	if result.Error != nil {
		log.Error("User not found", zap.Uint64("user_id", userID), zap.Uint("tenant_id", tenant.ID))
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}

	effective := rbac.Effective(user.Roles, user.Permissions, time.Now())
	return c.JSON(http.StatusOK, effective)
}

// AssignUserPermission records a direct grant for a user, optionally
// time-bounded. Re-granting an existing row re-enables it and refreshes the
// validity window.
func AssignUserPermission(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordAssignment("user_permission", "assign")

	var req struct {
		UserID       uint    `json:"user_id"`
		PermissionID uint    `json:"permission_id"`
		TenantKey    string  `json:"tenant_key"`
		ValidUntil   *string `json:"valid_until"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse user-permission assign request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	tenant, err := middleware.LookupTenant(req.TenantKey)
	if err != nil {
		log.Warn("Tenant scoping failed", zap.String("tenant_key", req.TenantKey))
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	var validUntil *time.Time
	if req.ValidUntil != nil && *req.ValidUntil != "" {
		parsed, err := time.Parse("2006-01-02", *req.ValidUntil)
		if err != nil {
			errs := fieldErrors{}
			errs.add("valid_until", "must be a date in YYYY-MM-DD format")
			return validationFailed(c, "user_permission", errs)
		}
		validUntil = &parsed
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	if err := verifyUserAndPermission(tenant.ID, req.UserID, req.PermissionID); err != nil {
		return scopeFailure(c, err)
	}

	grant := model.UserPermission{UserID: req.UserID, PermissionID: req.PermissionID}
	defer prometheus.TrackDBOperation("insert")(time.Now())
	result := database.GetDB().
		Where(model.UserPermission{UserID: req.UserID, PermissionID: req.PermissionID}).
		FirstOrCreate(&grant)
	if result.Error != nil {
		log.Error("Failed to record direct grant", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "assignment failed"})
	}

	updates := map[string]interface{}{"granted": true, "valid_until": validUntil}
	if result := database.GetDB().Model(&grant).Updates(updates); result.Error != nil {
		log.Error("Failed to update direct grant", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "assignment failed"})
	}

	log.Info("Direct grant recorded",
		zap.Uint("user_id", req.UserID),
		zap.Uint("permission_id", req.PermissionID),
		zap.Uint("tenant_id", tenant.ID))

	return c.JSON(http.StatusOK, echo.Map{"message": "permission granted"})
}

// RemoveUserPermission revokes a direct grant. The row is kept with
// granted=false so assignment history survives a revoke/re-grant cycle.
func RemoveUserPermission(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordAssignment("user_permission", "remove")

	var req struct {
		UserID       uint   `json:"user_id"`
		PermissionID uint   `json:"permission_id"`
		TenantKey    string `json:"tenant_key"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse user-permission remove request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	tenant, err := middleware.LookupTenant(req.TenantKey)
	if err != nil {
		log.Warn("Tenant scoping failed", zap.String("tenant_key", req.TenantKey))
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	if err := verifyUserAndPermission(tenant.ID, req.UserID, req.PermissionID); err != nil {
		return scopeFailure(c, err)
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	result := database.GetDB().Model(&model.UserPermission{}).
		Where("user_id = ? AND permission_id = ?", req.UserID, req.PermissionID).
		Update("granted", false)
	if result.Error != nil {
		log.Error("Failed to revoke direct grant", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "removal failed"})
	}

	log.Info("Direct grant revoked",
		zap.Uint("user_id", req.UserID),
		zap.Uint("permission_id", req.PermissionID),
		zap.Uint("tenant_id", tenant.ID))

	return c.JSON(http.StatusOK, echo.Map{"message": "permission revoked"})
}
