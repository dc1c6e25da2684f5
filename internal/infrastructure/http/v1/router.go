// Package v1 provides the operator HTTP API, version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"ebbridge/internal/domain/auth"
	"ebbridge/internal/domain/importlog"
	"ebbridge/internal/domain/mappings"
	"ebbridge/internal/infrastructure/http/v1/handlers"
	"ebbridge/internal/infrastructure/http/v1/middleware"
	"ebbridge/internal/infrastructure/storage/postgres"
	"ebbridge/internal/migration/run"
	"ebbridge/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Pool        *postgres.Pool
	Logger      *logger.Logger
	AuthService *auth.Service
	JWTService  *auth.JWTService
	Runner      *run.Runner
	Runs        importlog.RunRepository
	Mappings    *mappings.Service
}

// NewRouter creates and configures the gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Order matters: recovery outermost, then logging, then error rendering.
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	base := handlers.NewBaseHandler()

	healthHandler := handlers.NewHealthHandler(cfg.Pool)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	authHandler := handlers.NewAuthHandler(base, cfg.AuthService)
	router.POST("/v1/auth/login", authHandler.Login)

	authed := router.Group("/v1", middleware.Auth(cfg.JWTService))

	migrationHandler := handlers.NewMigrationHandler(base, cfg.Runner, cfg.Runs)
	migration := authed.Group("/migration")
	{
		migration.POST("/run", middleware.RequireWriter(), migrationHandler.Run)
		migration.POST("/replay/:run_id", middleware.RequireWriter(), migrationHandler.Replay)
		migration.GET("/runs", migrationHandler.ListRuns)
		migration.GET("/runs/:run_id", migrationHandler.GetRun)
	}

	proposalHandler := handlers.NewProposalHandler(base, cfg.Mappings)
	proposals := authed.Group("/mappings/proposals")
	{
		proposals.GET("", proposalHandler.List)
		proposals.POST("/:id/approve", middleware.RequireWriter(), proposalHandler.Approve)
		proposals.POST("/:id/reject", middleware.RequireWriter(), proposalHandler.Reject)
	}

	return router
}
