package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Mikkicon/bellflow/engine"
	"github.com/Mikkicon/bellflow/jobs"
	"github.com/Mikkicon/bellflow/models"
)

// CreateJob returns a handler for POST /api/v1/jobs.
//
// Browser jobs run to completion inside the request, so the response
// carries the finished job (200). Remote jobs return at once (202) and are
// polled through GET /jobs/:id.
func CreateJob(jm *jobs.Manager, engines *engine.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body models.CreateJobRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err.Error())
			return
		}

		eng, def, err := engines.Resolve(body.Engine, body.Platform, body.URL)
		if err != nil {
			respondError(c, err)
			return
		}

		job, err := jm.CreateJob(c.Request.Context(), eng, body.ToScrapeRequest(def.Name))
		if err != nil {
			respondError(c, err)
			return
		}

		status := http.StatusAccepted
		if job.Status.IsTerminal() {
			status = http.StatusOK
		}
		c.JSON(status, models.JobResponse{Success: true, Job: job})
	}
}

// GetJob returns a handler for GET /api/v1/jobs/:id. Jobs evicted from the
// registry are served from the archive.
func GetJob(jm *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		job, err := jm.GetJob(c.Request.Context(), id)
		if errors.Is(err, models.ErrJobNotFound) {
			job, err = jm.LookupArchived(c.Request.Context(), id)
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.JobResponse{Success: true, Job: job})
	}
}

// GetJobResults returns a handler for GET /api/v1/jobs/:id/results.
func GetJobResults(jm *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		res, err := jm.GetJobResults(c.Request.Context(), id)

		var notReady *models.NotReadyError
		if errors.As(err, &notReady) {
			c.JSON(http.StatusConflict, models.ResultsResponse{
				JobID:  id,
				Status: notReady.Status,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeJobNotReady,
					Message: notReady.Error(),
				},
			})
			return
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.ResultsResponse{Success: true, JobID: id, Result: res})
	}
}

// CancelJob returns a handler for POST /api/v1/jobs/:id/cancel.
func CancelJob(jm *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		cancelled, err := jm.CancelJob(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		job, err := jm.GetJob(c.Request.Context(), id)
		if err != nil {
			slog.Warn("reading cancelled job failed", "job_id", id, "error", err)
		}
		c.JSON(http.StatusOK, models.CancelResponse{Success: true, Cancelled: cancelled, Job: job})
	}
}

// ListUserJobs returns a handler for GET /api/v1/users/:user_id/jobs.
func ListUserJobs(jm *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := models.JobStatus(c.Query("status"))
		if status != "" && !status.Valid() {
			badRequest(c, "unknown status: "+string(status))
			return
		}

		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				badRequest(c, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		userID := c.Param("user_id")
		c.JSON(http.StatusOK, models.JobListResponse{
			Success: true,
			UserID:  userID,
			Jobs:    jm.ListUserJobs(c.Request.Context(), userID, status, limit),
		})
	}
}

// Stats returns a handler for GET /api/v1/stats.
func Stats(jm *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, jm.Stats())
	}
}
