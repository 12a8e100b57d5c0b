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
	"golang.org/x/crypto/bcrypt"
)

// ListUsers returns the tenant's users with their roles and direct grants
// embedded, which is what the manage-user drawer renders from.
func ListUsers(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("user", "list")

	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var users []model.User
	result := database.GetDB().
		Where("tenant_id = ?", tenant.ID).
		Preload("Roles").
		Preload("Roles.Permissions").
		Preload("Permissions").
		Preload("Permissions.Permission").
		Order("id").
		Find(&users)
	if result.Error != nil {
		log.Error("Failed to list users", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list users"})
	}

	return c.JSON(http.StatusOK, users)
}

// CreateUser creates a user within the tenant.
func CreateUser(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("user", "create")

	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse user creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	errs := fieldErrors{}
	if req.Name == "" {
		errs.add("name", "is required")
	}
	if req.Email == "" {
		errs.add("email", "is required")
	}
	if req.Password == "" {
		errs.add("password", "is required")
	}

	// Email is unique within a tenant, not globally
	defer prometheus.TrackDBOperation("query")(time.Now())
	if req.Email != "" {
		var count int64
		database.GetDB().Model(&model.User{}).
			Where("email = ? AND tenant_id = ?", req.Email, tenant.ID).Count(&count)
		if count > 0 {
			errs.add("email", "has already been taken")
		}
	}

	if !errs.empty() {
		log.Warn("User validation failed", zap.Any("errors", errs))
		return validationFailed(c, "user", errs)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("Failed to hash password", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "user creation failed"})
	}

	user := model.User{
		TenantID: tenant.ID,
		Name:     req.Name,
		Email:    req.Email,
		Password: string(hashedPassword),
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if result := database.GetDB().Create(&user); result.Error != nil {
		log.Error("Failed to create user", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "user creation failed"})
	}

	log.Info("User created",
		zap.String("email", user.Email),
		zap.Uint("tenant_id", tenant.ID))

	return c.JSON(http.StatusCreated, user)
}

// UpdateUser edits a user. An omitted or empty password preserves the
// stored hash; it is never interpreted as clearing the password.
func UpdateUser(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("user", "update")

	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user ID"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var user model.User
	result := database.GetDB().
		Where("id = ? AND tenant_id = ?", id, tenant.ID).
		First(&user)
	if result.Error != nil {
		log.Error("User not found", zap.Uint64("id", id), zap.Uint("tenant_id", tenant.ID))
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}

	var req struct {
		Name     *string `json:"name"`
		Email    *string `json:"email"`
		Password *string `json:"password"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse user update request", zap.Error(err))
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
	if req.Email != nil && *req.Email != user.Email {
		if *req.Email == "" {
			errs.add("email", "is required")
		} else {
			var count int64
			database.GetDB().Model(&model.User{}).
				Where("email = ? AND tenant_id = ? AND id <> ?", *req.Email, tenant.ID, user.ID).
				Count(&count)
			if count > 0 {
				errs.add("email", "has already been taken")
			}
		}
		updates["email"] = *req.Email
	}
	if req.Password != nil && *req.Password != "" {
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Error("Failed to hash password", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "user update failed"})
		}
		updates["password"] = string(hashedPassword)
	}

	if !errs.empty() {
		log.Warn("User validation failed", zap.Any("errors", errs))
		return validationFailed(c, "user", errs)
	}

	if len(updates) > 0 {
		defer prometheus.TrackDBOperation("update")(time.Now())
		if result := database.GetDB().Model(&user).Updates(updates); result.Error != nil {
			log.Error("Failed to update user", zap.Error(result.Error))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "user update failed"})
		}
	}

	log.Info("User updated", zap.Uint("id", user.ID), zap.Uint("tenant_id", tenant.ID))
	return c.JSON(http.StatusOK, user)
}

// DeleteUser removes a user by id, scoped to the tenant.
func DeleteUser(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordOperation("user", "delete")

	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user ID"})
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	result := database.GetDB().
		Where("tenant_id = ?", tenant.ID).
		Delete(&model.User{}, id)
	if result.Error != nil {
		log.Error("Failed to delete user", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "user deletion failed"})
	}
	if result.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}

	// Drop the user's join rows so no relation outlives its endpoint
	database.GetDB().Where("user_id = ?", id).Delete(&model.UserRole{})
	database.GetDB().Where("user_id = ?", id).Delete(&model.UserPermission{})

	log.Info("User deleted", zap.Uint64("id", id), zap.Uint("tenant_id", tenant.ID))
	return c.JSON(http.StatusOK, echo.Map{"message": "user deleted"})
}
