// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"lotledger/internal/domain/integrity"
	"lotledger/internal/domain/lots"
	"lotledger/internal/infrastructure/http/v1/handlers"
	"lotledger/internal/infrastructure/http/v1/middleware"
	"lotledger/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Pool is checked by the readiness probe
	Pool *pgxpool.Pool

	// HealthChecks are extra readiness dependencies, e.g. redis
	HealthChecks map[string]handlers.Pinger

	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	Lots       handlers.LotService
	Movements  handlers.MovementHistory
	Products   handlers.ProductValidator
	Reconciler handlers.Reconciler

	// OperationGuard rejects concurrent stock-affecting requests per item
	OperationGuard *integrity.OperationGuard

	// DebugMode keeps gin in debug mode
	DebugMode bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.DebugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Pool, cfg.HealthChecks)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(cfg.JWTValidator))
	{
		registerLotRoutes(v1, cfg)
		registerAdminRoutes(v1, cfg)
	}

	return router
}

// guarded wraps the stock-affecting routes; without a guard it is a no-op.
func guarded(cfg RouterConfig, param string) gin.HandlerFunc {
	if cfg.OperationGuard == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.OperationGuard(cfg.OperationGuard, param)
}

// registerLotRoutes registers ledger endpoints.
func registerLotRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	lotHandler := handlers.NewLotHandler(cfg.Lots, cfg.Movements)
	supervisors := middleware.RequireRole(lots.RoleAdmin, lots.RoleSupervisor)

	lotGroup := rg.Group("/lots")
	{
		lotGroup.POST("", lotHandler.Create)
		lotGroup.GET("", lotHandler.List)
		lotGroup.GET("/:id", lotHandler.Get)
		lotGroup.GET("/:id/movements", lotHandler.Movements)
		lotGroup.POST("/:id/consume", guarded(cfg, "id"), lotHandler.Consume)
		lotGroup.POST("/:id/restock", guarded(cfg, "id"), lotHandler.Restock)
		lotGroup.PUT("/:id/state", supervisors, lotHandler.SetState)
		lotGroup.PUT("/:id/alerts", supervisors, lotHandler.SetAlert)
		lotGroup.PUT("/:id/price", lotHandler.UpdatePrice)
		lotGroup.DELETE("/:id", lotHandler.Delete)
	}

	items := rg.Group("/items")
	{
		items.GET("/:catalogRef/summary", lotHandler.ItemSummary)
		items.POST("/:catalogRef/consume", guarded(cfg, "catalogRef"), lotHandler.ConsumeFromItem)
		items.POST("/:catalogRef/recompute", lotHandler.Recompute)
	}

	rg.GET("/statistics", lotHandler.Statistics)

	if cfg.Products != nil {
		productHandler := handlers.NewProductHandler(cfg.Products, cfg.Lots)
		rg.POST("/products/:productId/lots", guarded(cfg, "productId"), productHandler.CreateLot)
	}
}

// registerAdminRoutes registers maintenance endpoints (admin only).
func registerAdminRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	if cfg.Reconciler == nil {
		return
	}

	adminHandler := handlers.NewAdminHandler(cfg.Reconciler, cfg.Lots)
	admin := rg.Group("/admin")
	admin.Use(middleware.RequireRole(lots.RoleAdmin))
	{
		admin.GET("/reconcile/specs", adminHandler.Specs)
		admin.POST("/reconcile/sweep", adminHandler.Sweep)
		admin.POST("/reconcile/resolve", adminHandler.Resolve)
		admin.POST("/recompute", adminHandler.RecomputeAll)
	}
}
