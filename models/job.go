package models

import (
	"fmt"
	"maps"
	"time"
)

// JobStatus is the lifecycle state of a ScrapeJob.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []JobStatus{StatusPending, StatusRunning, StatusCompleted, StatusFailed}

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed.
// pending may jump straight to failed when submission fails.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// ScrapeJob is one request to collect posts from one profile URL.
// Result is set only when completed, Error only when failed.
type ScrapeJob struct {
	JobID     string         `json:"job_id"`
	Status    JobStatus      `json:"status"`
	Platform  string         `json:"platform"`
	URL       string         `json:"url"`
	UserID    string         `json:"user_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Result    *ScrapeResult  `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Progress  map[string]any `json:"progress,omitempty"`
}

// NewScrapeJob creates a job in the given initial status.
func NewScrapeJob(id, platform, url, userID string, status JobStatus, now time.Time) *ScrapeJob {
	return &ScrapeJob{
		JobID:     id,
		Status:    status,
		Platform:  platform,
		URL:       url,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Start moves a pending job to running.
func (j *ScrapeJob) Start(now time.Time) error {
	return j.transition(StatusRunning, now)
}

// Complete moves a running job to completed with the given result.
func (j *ScrapeJob) Complete(result *ScrapeResult, now time.Time) error {
	if err := j.transition(StatusCompleted, now); err != nil {
		return err
	}
	j.Result = result
	j.Error = ""
	return nil
}

// Fail moves a non-terminal job to failed with a human-readable cause.
func (j *ScrapeJob) Fail(cause string, now time.Time) error {
	if err := j.transition(StatusFailed, now); err != nil {
		return err
	}
	j.Error = cause
	j.Result = nil
	return nil
}

// SetProgress replaces the progress bag of an in-flight job.
// Terminal jobs keep their last progress.
func (j *ScrapeJob) SetProgress(progress map[string]any, now time.Time) {
	if j.Status.IsTerminal() {
		return
	}
	if j.Progress == nil {
		j.Progress = make(map[string]any, len(progress))
	}
	maps.Copy(j.Progress, progress)
	j.touch(now)
}

// Clone returns a copy safe to hand out while the original keeps mutating.
// The result payload is shared since it is never modified after completion.
func (j *ScrapeJob) Clone() *ScrapeJob {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Progress != nil {
		cp.Progress = maps.Clone(j.Progress)
	}
	return &cp
}

func (j *ScrapeJob) transition(next JobStatus, now time.Time) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s (job %s)", ErrInvalidTransition, j.Status, next, j.JobID)
	}
	j.Status = next
	j.touch(now)
	return nil
}

// touch keeps UpdatedAt non-decreasing even if the clock steps back.
func (j *ScrapeJob) touch(now time.Time) {
	if now.After(j.UpdatedAt) {
		j.UpdatedAt = now
	}
}
