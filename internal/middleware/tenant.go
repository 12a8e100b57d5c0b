package middleware

import (
	"net/http"

	"admin-console/internal/model"
	"admin-console/pkg/database"
	"admin-console/pkg/logger"
	"admin-console/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// TenantContextKey is where RequireTenantKey stores the resolved tenant.
const TenantContextKey = "tenant"

// RequireTenantKey resolves the tenant_key query parameter to an active
// tenant and stores it in the context. Requests with a missing or unknown
// key are rejected, never scoped to another tenant's rows. Endpoints that
// carry the key in a JSON body resolve it themselves via LookupTenant.
func RequireTenantKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		log := logger.FromContext(c)

		key := c.QueryParam("tenant_key")
		tenant, err := LookupTenant(key)
		if err != nil {
			log.Warn("Tenant scoping failed", zap.String("tenant_key", key), zap.Error(err))
			prometheus.RecordAuthError("tenant_key_rejected")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid tenant key"})
		}

		c.Set(TenantContextKey, tenant)
		return next(c)
	}
}

// LookupTenant finds the active tenant for an access key.
func LookupTenant(key string) (*model.Tenant, error) {
	if key == "" {
		return nil, echo.NewHTTPError(http.StatusForbidden, "tenant key is required")
	}

	var tenant model.Tenant
	result := database.GetDB().
		Where("tenant_key = ? AND status = ?", key, model.TenantStatusActive).
		First(&tenant)
	if result.Error != nil {
		return nil, result.Error
	}
	return &tenant, nil
}

// TenantFromContext returns the tenant resolved by RequireTenantKey.
func TenantFromContext(c echo.Context) (*model.Tenant, bool) {
	tenant, ok := c.Get(TenantContextKey).(*model.Tenant)
	return tenant, ok
}
