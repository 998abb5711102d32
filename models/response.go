package models

// JobResponse wraps a single job.
type JobResponse struct {
	Success bool         `json:"success"`
	Job     *ScrapeJob   `json:"job,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ResultsResponse is the response for GET /api/v1/jobs/:id/results.
type ResultsResponse struct {
	Success bool          `json:"success"`
	JobID   string        `json:"job_id"`
	Result  *ScrapeResult `json:"result,omitempty"`
	Error   *ErrorDetail  `json:"error,omitempty"`

	// Status is reported when the job is not ready yet.
	Status JobStatus `json:"status,omitempty"`
}

// CancelResponse is the response for POST /api/v1/jobs/:id/cancel.
type CancelResponse struct {
	Success   bool       `json:"success"`
	Cancelled bool       `json:"cancelled"`
	Job       *ScrapeJob `json:"job,omitempty"`
}

// JobListResponse is the response for GET /api/v1/users/:user_id/jobs.
type JobListResponse struct {
	Success bool         `json:"success"`
	UserID  string       `json:"user_id"`
	Jobs    []*ScrapeJob `json:"jobs"`
}

// JobStats aggregates the job registry.
type JobStats struct {
	TotalJobs    int               `json:"total_jobs"`
	StatusCounts map[JobStatus]int `json:"status_counts"`
	TotalUsers   int               `json:"total_users"`
}

// ProfileListResponse is the response for GET /api/v1/profiles.
type ProfileListResponse struct {
	Success        bool     `json:"success"`
	Profiles       []string `json:"profiles"`
	ActiveSessions int      `json:"active_sessions"`
}

// ErrorResponse carries only an error.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status         string    `json:"status"` // "healthy" or "degraded"
	Uptime         string    `json:"uptime"`
	PoolStats      PoolStats `json:"pool_stats"`
	ActiveSessions int       `json:"active_sessions"`
	Engines        []string  `json:"engines"`
	Version        string    `json:"version"`
}

// PoolStats reports the state of the browser worker pool.
type PoolStats struct {
	MaxWorkers    int `json:"max_workers"`
	ActiveWorkers int `json:"active_workers"`
}
