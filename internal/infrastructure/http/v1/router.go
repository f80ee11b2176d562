// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"pharmaledger/internal/domain/ledger"
	"pharmaledger/internal/infrastructure/http/v1/handlers"
	"pharmaledger/internal/infrastructure/http/v1/middleware"
	"pharmaledger/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// Ledger serves every /ledger endpoint
	Ledger *ledger.Service

	// DB is pinged by the readiness check; nil for the in-memory store
	DB handlers.Pinger

	// Debug switches gin to debug mode
	Debug bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
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

	healthHandler := handlers.NewHealthHandler(cfg.DB)
	router.GET("/health", healthHandler.Ready)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	v1 := router.Group("/api/v1")
	registerLedgerRoutes(v1, handlers.NewLedgerHandler(cfg.Ledger))

	return router
}

func registerLedgerRoutes(rg *gin.RouterGroup, h *handlers.LedgerHandler) {
	l := rg.Group("/ledger")
	{
		l.POST("/availability", h.CheckAvailability)

		l.POST("/sales/:id/allocations", h.Allocate)
		l.GET("/sales/:id/allocations", h.ListAllocations)

		l.GET("/drugs/:id/balance", h.GetBalance)
		l.GET("/drugs/:id/snapshots/:month", h.GetSnapshot)
		l.POST("/drugs/:id/damage", h.WriteOffDamaged)

		l.POST("/batches", h.ReceiveBatch)
		l.POST("/batches/:id/defects", h.RecoverDefect)

		l.POST("/months/:month/roll-forward", h.RollForward)
	}
}
