package handler

import (
	"errors"
	"net/http"

	"admin-console/internal/model"
	"admin-console/pkg/database"
	"admin-console/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// A join relation must not exist without both endpoints existing in the same
// tenant, so every assign/remove verifies both sides before touching rows.

var (
	errUserNotInTenant       = errors.New("user not found")
	errRoleNotInTenant       = errors.New("role not found")
	errPermissionNotInTenant = errors.New("permission not found")
)

// scopeNotFound distinguishes a genuinely missing endpoint from a failed
// lookup. A database error must never read as "not found".
func scopeNotFound(err error) bool {
	return errors.Is(err, errUserNotInTenant) ||
		errors.Is(err, errRoleNotInTenant) ||
		errors.Is(err, errPermissionNotInTenant)
}

// scopeFailure answers for a failed scope check: 404 when an endpoint is
// missing from the tenant, 500 when the lookup itself failed.
func scopeFailure(c echo.Context, err error) error {
	if scopeNotFound(err) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	}
	logger.FromContext(c).Error("Scope check failed", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "scope check failed"})
}

func verifyUserInTenant(tenantID, userID uint) error {
	var count int64
	result := database.GetDB().Model(&model.User{}).
		Where("id = ? AND tenant_id = ?", userID, tenantID).Count(&count)
	if result.Error != nil {
		return result.Error
	}
	if count == 0 {
		return errUserNotInTenant
	}
	return nil
}

func verifyRoleInTenant(tenantID, roleID uint) error {
	var count int64
	result := database.GetDB().Model(&model.Role{}).
		Where("id = ? AND tenant_id = ?", roleID, tenantID).Count(&count)
	if result.Error != nil {
		return result.Error
	}
	if count == 0 {
		return errRoleNotInTenant
	}
	return nil
}

func verifyPermissionInTenant(tenantID, permissionID uint) error {
	var count int64
	result := database.GetDB().Model(&model.Permission{}).
		Where("id = ? AND tenant_id = ?", permissionID, tenantID).Count(&count)
	if result.Error != nil {
		return result.Error
	}
	if count == 0 {
		return errPermissionNotInTenant
	}
	return nil
}

func verifyRoleAndPermission(tenantID, roleID, permissionID uint) error {
	if err := verifyRoleInTenant(tenantID, roleID); err != nil {
		return err
	}
	return verifyPermissionInTenant(tenantID, permissionID)
}

func verifyUserAndRole(tenantID, userID, roleID uint) error {
	if err := verifyUserInTenant(tenantID, userID); err != nil {
		return err
	}
	return verifyRoleInTenant(tenantID, roleID)
}

func verifyUserAndPermission(tenantID, userID, permissionID uint) error {
	if err := verifyUserInTenant(tenantID, userID); err != nil {
		return err
	}
	return verifyPermissionInTenant(tenantID, permissionID)
}
