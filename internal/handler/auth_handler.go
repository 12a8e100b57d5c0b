package handler

import (
	"net/http"
	"time"

	"admin-console/internal/model"
	"admin-console/pkg/database"
	"admin-console/pkg/jwtutil"
	"admin-console/pkg/logger"
	"admin-console/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Login authenticates an operator within a tenant. The tenant key both
// selects the tenant and scopes the email lookup, so the same address can
// exist under different tenants without colliding.
func Login(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.LoginCounter.Inc()

	// Parse request
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		TenantKey string `json:"tenant_key"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse login request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	// Resolve the tenant first - an unknown key must not leak whether the
	// email exists anywhere
	defer prometheus.TrackDBOperation("query")(time.Now())
	var tenant model.Tenant
	result := database.GetDB().
		Where("tenant_key = ? AND status = ?", req.TenantKey, model.TenantStatusActive).
		First(&tenant)
	if result.Error != nil {
		log.Error("Tenant not found for login", zap.String("tenant_key", req.TenantKey))
		prometheus.RecordAuthError("unknown_tenant_key")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unknown tenant key"})
	}

	// Find user within the tenant
	var user model.User
	result = database.GetDB().
		Where("email = ? AND tenant_id = ?", req.Email, tenant.ID).
		First(&user)
	if result.Error != nil {
		log.Error("User not found", zap.String("email", req.Email), zap.Uint("tenant_id", tenant.ID))
		prometheus.RecordAuthError("user_not_found")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		log.Error("Invalid password", zap.String("email", req.Email))
		prometheus.RecordAuthError("invalid_password")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	// Generate JWT token carrying the tenant key
	token, err := jwtutil.GenerateToken(user.Email, user.ID, tenant.TenantKey)
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	prometheus.IncreaseActiveTokens()

	log.Info("User logged in",
		zap.String("email", user.Email),
		zap.String("tenant_key", tenant.TenantKey))

	return c.JSON(http.StatusOK, echo.Map{
		"token":      token,
		"tenant_key": tenant.TenantKey,
		"user": map[string]interface{}{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
		},
	})
}

// Logout invalidates the operator's session server-side. Tokens are
// stateless, so this only adjusts accounting; the console clears its own
// state regardless of this call's outcome.
func Logout(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.LogoutCounter.Inc()
	prometheus.DecreaseActiveTokens()

	email, _ := c.Get("email").(string)
	log.Info("User logged out", zap.String("email", email))

	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

func MetricsHandler(c echo.Context) error {
	handler := prometheus.GetPrometheusHandler()
	handler.ServeHTTP(c.Response(), c.Request())
	return nil
}
