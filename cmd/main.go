package main

import (
	"admin-console/internal/handler"
	"admin-console/internal/middleware"
	"admin-console/pkg/config"
	"admin-console/pkg/database"
	"admin-console/pkg/jwtutil"
	"admin-console/pkg/logger"
	"admin-console/prometheus"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	logger.InitLogger(cfg)
	log := logger.GetLogger()
	log.Info("Starting admin console service...", zap.String("environment", cfg.Server.Env))

	// Initialize database
	if err := database.InitDB(cfg); err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database connection established")

	// Initialize JWT utility
	jwtutil.Initialize(&cfg.JWT)
	log.Info("JWT utility initialized")

	// Initialize Prometheus metrics
	prometheus.InitMetrics(cfg)
	log.Info("Prometheus metrics initialized")

	// Initialize Echo framework
	e := echo.New()

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware(log))
	e.Use(prometheus.MetricsMiddleware())

	// Public routes - no authentication required
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", handler.MetricsHandler)

	// Session bootstrap - the only call without a bearer token
	e.POST("/api/login", handler.Login)

	// API routes - all require authentication
	api := e.Group("/api")
	api.Use(middleware.AuthMiddleware)

	api.POST("/logout", handler.Logout)

	// Tenant management - operator level, no tenant-key scoping
	tenants := api.Group("/tenants")
	tenants.GET("", handler.ListTenants)
	tenants.POST("", handler.CreateTenant)
	tenants.GET("/generate-key", handler.GenerateTenantKey)
	tenants.GET("/:id", handler.GetTenant)
	tenants.PUT("/:id", handler.UpdateTenant)
	tenants.DELETE("/:id", handler.DeleteTenant)

	// Tenant-scoped resources - tenant_key query parameter required
	scoped := api.Group("", middleware.RequireTenantKey)

	users := scoped.Group("/users")
	users.GET("", handler.ListUsers)
	users.POST("", handler.CreateUser)
	users.PUT("/:id", handler.UpdateUser)
	users.DELETE("/:id", handler.DeleteUser)

	roles := scoped.Group("/roles")
	roles.GET("", handler.ListRoles)
	roles.POST("", handler.CreateRole)
	roles.PUT("/:id", handler.UpdateRole)
	roles.DELETE("/:id", handler.DeleteRole)

	permissions := scoped.Group("/permissions")
	permissions.GET("", handler.ListPermissions)
	permissions.POST("", handler.CreatePermission)
	permissions.GET("/by-module", handler.PermissionsByModule)
	permissions.PUT("/:id", handler.UpdatePermission)
	permissions.DELETE("/:id", handler.DeletePermission)

	scoped.GET("/modules", handler.ListModules)
	scoped.GET("/role-permissions/:roleId", handler.GetRolePermissions)
	scoped.GET("/user-role/:userId", handler.GetUserRoles)
	scoped.GET("/user-permissions/:userId", handler.GetUserPermissions)

	// Assignment endpoints carry the tenant key in the body and resolve it
	// themselves
	api.POST("/role-permissions/assign", handler.AssignRolePermission)
	api.POST("/role-permissions/remove", handler.RemoveRolePermission)
	api.POST("/user-role/assign", handler.AssignUserRole)
	api.POST("/user-role/remove", handler.RemoveUserRole)
	api.POST("/user-permissions/assign", handler.AssignUserPermission)
	api.POST("/user-permissions/remove", handler.RemoveUserPermission)

	// Get server port from configuration
	port := cfg.Server.Port

	// Start server
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
