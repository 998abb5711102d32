package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mikkicon/bellflow/engine"
	"github.com/Mikkicon/bellflow/models"
	"github.com/Mikkicon/bellflow/session"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Health returns a handler for GET /api/v1/health.
//
// Reports pool utilisation and degrades status when > 80% of workers are busy.
func Health(pool *engine.WorkerPool, sm *session.Manager, engines *engine.Registry, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := models.PoolStats{
			MaxWorkers:    pool.Size(),
			ActiveWorkers: pool.ActiveCount(),
		}

		status := "healthy"
		if stats.MaxWorkers > 0 && stats.ActiveWorkers > int(float64(stats.MaxWorkers)*0.8) {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:         status,
			Uptime:         time.Since(startTime).Round(time.Second).String(),
			PoolStats:      stats,
			ActiveSessions: sm.ActiveCount(),
			Engines:        engines.Names(),
			Version:        Version,
		})
	}
}
