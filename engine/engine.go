// Package engine defines the scraping engine capability and its two
// implementations: a synchronous browser-automation engine and an
// asynchronous engine polling the Bright Data scraping API.
package engine

import (
	"context"
	"sync"

	"github.com/Mikkicon/bellflow/models"
)

//go:generate mockgen -destination=../mocks/mock_engine.go -package=mocks github.com/Mikkicon/bellflow/engine Engine

// Engine acquires posts for jobs. Every job an engine creates ends in
// completed or failed; only unknown ids and premature result requests
// surface as errors.
type Engine interface {
	// Name returns the engine identifier ("browser", "brightdata").
	Name() string

	// IsAsync reports whether callers must poll Status to advance jobs.
	IsAsync() bool

	// Initialize creates a job. Synchronous engines return it terminal;
	// asynchronous engines return once the provider acknowledged it.
	// An error means the request was rejected and no job exists.
	Initialize(ctx context.Context, req *models.ScrapeRequest) (*models.ScrapeJob, error)

	// Status returns the job, polling the provider for async engines.
	Status(ctx context.Context, jobID string) (*models.ScrapeJob, error)

	// Results returns the result of a completed job.
	Results(ctx context.Context, jobID string) (*models.ScrapeResult, error)

	// Cancel forces a non-terminal job to failed. It reports whether the
	// job was cancelled.
	Cancel(ctx context.Context, jobID string) bool
}

// Job error messages shared by engines.
const (
	msgCancelled = "Job cancelled by user"
)

// jobTable is the per-engine job state. Callers always receive clones.
type jobTable struct {
	mu   sync.RWMutex
	jobs map[string]*models.ScrapeJob
}

func newJobTable() *jobTable {
	return &jobTable{jobs: make(map[string]*models.ScrapeJob)}
}

func (t *jobTable) put(job *models.ScrapeJob) {
	t.mu.Lock()
	t.jobs[job.JobID] = job
	t.mu.Unlock()
}

func (t *jobTable) get(id string) (*models.ScrapeJob, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil, models.NewJobNotFound(id)
	}
	return job.Clone(), nil
}

// update runs fn on the live job under the write lock.
func (t *jobTable) update(id string, fn func(job *models.ScrapeJob)) (*models.ScrapeJob, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil, models.NewJobNotFound(id)
	}
	fn(job)
	return job.Clone(), nil
}

// results returns the result of a completed job or a NotReadyError.
func (t *jobTable) results(id string) (*models.ScrapeResult, error) {
	job, err := t.get(id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.StatusCompleted {
		return nil, &models.NotReadyError{JobID: id, Status: job.Status, Progress: job.Progress}
	}
	return job.Result, nil
}

// size returns the number of tracked jobs.
func (t *jobTable) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}

func (t *jobTable) remove(id string) {
	t.mu.Lock()
	delete(t.jobs, id)
	t.mu.Unlock()
}

// Forgetter is implemented by engines that keep per-job state; the job
// manager calls Forget when it evicts a job.
type Forgetter interface {
	Forget(jobID string)
}
