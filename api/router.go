package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mikkicon/bellflow/api/handler"
	"github.com/Mikkicon/bellflow/api/middleware"
	"github.com/Mikkicon/bellflow/config"
	"github.com/Mikkicon/bellflow/engine"
	"github.com/Mikkicon/bellflow/jobs"
	"github.com/Mikkicon/bellflow/session"
)

// Deps are the services the routes are bound to.
type Deps struct {
	Jobs     *jobs.Manager
	Engines  *engine.Registry
	Sessions *session.Manager
	Pool     *engine.WorkerPool
}

// NewRouter creates a configured Gin engine with all routes and middleware.
// ctx bounds the rate limiter's background sweeper.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is outside auth so health checks always work.
func NewRouter(ctx context.Context, cfg *config.Config, d Deps, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(d.Pool, d.Sessions, d.Engines, startTime))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	// Jobs
	protected.POST("/jobs", handler.CreateJob(d.Jobs, d.Engines))
	protected.GET("/jobs/:id", handler.GetJob(d.Jobs))
	protected.GET("/jobs/:id/results", handler.GetJobResults(d.Jobs))
	protected.POST("/jobs/:id/cancel", handler.CancelJob(d.Jobs))
	protected.GET("/users/:user_id/jobs", handler.ListUserJobs(d.Jobs))
	protected.GET("/stats", handler.Stats(d.Jobs))

	// Profiles
	protected.GET("/profiles", handler.ListProfiles(d.Sessions))
	protected.DELETE("/profiles/:user_id", handler.DeleteProfile(d.Sessions))

	return r
}
