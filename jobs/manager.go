// Package jobs is the process-wide job registry. It remembers which engine
// owns each job, indexes jobs per user, evicts stale terminal jobs and
// mirrors every job snapshot it observes to an archive and to notifiers.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Mikkicon/bellflow/engine"
	"github.com/Mikkicon/bellflow/models"
)

// DefaultListLimit caps ListUserJobs when no limit is given.
const DefaultListLimit = 100

// Archive keeps job snapshots beyond the registry's lifetime.
type Archive interface {
	Save(ctx context.Context, job *models.ScrapeJob) error
	Load(ctx context.Context, jobID string) (*models.ScrapeJob, bool, error)
}

// Notifier is told once about every job that reaches a terminal state.
type Notifier interface {
	Notify(ctx context.Context, job *models.ScrapeJob) error
}

type record struct {
	job    *models.ScrapeJob
	engine engine.Engine
}

// Manager tracks jobs across engines. Construct one per process.
type Manager struct {
	mu       sync.RWMutex
	jobs     map[string]*record
	userJobs map[string][]string
	notified map[string]struct{}

	// saveMu orders archive writes so a slower save of an older snapshot
	// cannot land after a newer one.
	saveMu    sync.Mutex
	archive   Archive
	notifiers []Notifier
	now       func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithArchive mirrors job snapshots to a.
func WithArchive(a Archive) Option {
	return func(m *Manager) { m.archive = a }
}

// WithNotifiers registers terminal-state notifiers.
func WithNotifiers(n ...Notifier) Option {
	return func(m *Manager) { m.notifiers = append(m.notifiers, n...) }
}

// WithClock replaces time.Now for eviction cutoffs.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		jobs:     make(map[string]*record),
		userJobs: make(map[string][]string),
		notified: make(map[string]struct{}),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CreateJob starts a job on eng and records it. An error means eng
// rejected the request and nothing was recorded.
func (m *Manager) CreateJob(ctx context.Context, eng engine.Engine, req *models.ScrapeRequest) (*models.ScrapeJob, error) {
	job, err := eng.Initialize(ctx, req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.jobs[job.JobID] = &record{job: job.Clone(), engine: eng}
	m.userJobs[job.UserID] = append(m.userJobs[job.UserID], job.JobID)
	m.mu.Unlock()

	slog.Info("job created",
		"job_id", job.JobID,
		"engine", eng.Name(),
		"platform", job.Platform,
		"user_id", job.UserID,
		"status", job.Status,
	)
	m.observe(ctx, job)
	return job, nil
}

func (m *Manager) lookup(jobID string) (*record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[jobID]
	if !ok {
		return nil, models.NewJobNotFound(jobID)
	}
	return &record{job: rec.job.Clone(), engine: rec.engine}, nil
}

// GetJob returns a job. Jobs of async engines are refreshed from the
// engine, which may poll the provider.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*models.ScrapeJob, error) {
	rec, err := m.lookup(jobID)
	if err != nil {
		return nil, err
	}
	if !rec.engine.IsAsync() {
		return rec.job, nil
	}
	return m.refresh(ctx, jobID, rec.engine)
}

// refresh replaces the cached copy with the engine's view of the job,
// unless an overlapping poll already cached a newer one. The returned job
// is whichever of the two is newer.
func (m *Manager) refresh(ctx context.Context, jobID string, eng engine.Engine) (*models.ScrapeJob, error) {
	job, err := eng.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	rec, ok := m.jobs[jobID]
	if ok && !supersedes(job, rec.job) {
		cached := rec.job.Clone()
		m.mu.Unlock()
		return cached, nil
	}
	if ok {
		rec.job = job.Clone()
	}
	m.mu.Unlock()

	m.observe(ctx, job)
	return job, nil
}

// supersedes reports whether next may replace cur. Status never moves
// backwards and a same-status snapshot must not be older.
func supersedes(next, cur *models.ScrapeJob) bool {
	if next.Status != cur.Status {
		return cur.Status.CanTransition(next.Status)
	}
	return !next.UpdatedAt.Before(cur.UpdatedAt)
}

// GetJobResults returns the result of a completed job, or a
// models.NotReadyError carrying the current status.
func (m *Manager) GetJobResults(ctx context.Context, jobID string) (*models.ScrapeResult, error) {
	rec, err := m.lookup(jobID)
	if err != nil {
		return nil, err
	}
	res, err := rec.engine.Results(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if rec.engine.IsAsync() && !rec.job.Status.IsTerminal() {
		// Completed during this call; the engine serves it from cache now.
		if _, err := m.refresh(ctx, jobID, rec.engine); err != nil {
			slog.Warn("refreshing completed job failed", "job_id", jobID, "error", err)
		}
	}
	return res, nil
}

// ListUserJobs returns a user's jobs most recent first. Evicted jobs are
// skipped. An empty status matches every job; limit <= 0 means
// DefaultListLimit.
func (m *Manager) ListUserJobs(ctx context.Context, userID string, status models.JobStatus, limit int) []*models.ScrapeJob {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	m.mu.RLock()
	ids := append([]string(nil), m.userJobs[userID]...)
	m.mu.RUnlock()

	out := make([]*models.ScrapeJob, 0, min(limit, len(ids)))
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		job, err := m.GetJob(ctx, ids[i])
		if err != nil {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, job)
	}
	return out
}

// CancelJob asks the owning engine to cancel. It reports whether the job
// was cancelled; unknown ids are an error.
func (m *Manager) CancelJob(ctx context.Context, jobID string) (bool, error) {
	rec, err := m.lookup(jobID)
	if err != nil {
		return false, err
	}
	if !rec.engine.Cancel(ctx, jobID) {
		return false, nil
	}
	slog.Info("job cancelled", "job_id", jobID, "engine", rec.engine.Name())
	if _, err := m.refresh(ctx, jobID, rec.engine); err != nil {
		slog.Warn("refreshing cancelled job failed", "job_id", jobID, "error", err)
	}
	return true, nil
}

// CleanupOldJobs evicts terminal jobs last updated more than maxAgeHours
// ago and returns how many were evicted. Pending and running jobs stay
// regardless of age.
func (m *Manager) CleanupOldJobs(maxAgeHours int) int {
	cutoff := m.now().Add(-time.Duration(maxAgeHours) * time.Hour)

	type evicted struct {
		id  string
		eng engine.Engine
	}
	var gone []evicted

	m.mu.Lock()
	for id, rec := range m.jobs {
		if rec.job.Status.IsTerminal() && rec.job.UpdatedAt.Before(cutoff) {
			gone = append(gone, evicted{id: id, eng: rec.engine})
			m.removeLocked(id, rec.job.UserID)
		}
	}
	m.mu.Unlock()

	for _, g := range gone {
		if f, ok := g.eng.(engine.Forgetter); ok {
			f.Forget(g.id)
		}
	}
	if len(gone) > 0 {
		slog.Info("evicted old jobs", "count", len(gone), "max_age_hours", maxAgeHours)
	}
	return len(gone)
}

func (m *Manager) removeLocked(jobID, userID string) {
	delete(m.jobs, jobID)
	delete(m.notified, jobID)

	ids := m.userJobs[userID]
	for i, id := range ids {
		if id == jobID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(m.userJobs, userID)
		return
	}
	m.userJobs[userID] = ids
}

// Stats counts tracked jobs by status from the cached copies.
func (m *Manager) Stats() models.JobStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[models.JobStatus]int, len(models.AllStatuses))
	for _, s := range models.AllStatuses {
		counts[s] = 0
	}
	for _, rec := range m.jobs {
		counts[rec.job.Status]++
	}
	return models.JobStats{
		TotalJobs:    len(m.jobs),
		StatusCounts: counts,
		TotalUsers:   len(m.userJobs),
	}
}

// RunJanitor calls CleanupOldJobs every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration, maxAgeHours int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupOldJobs(maxAgeHours)
		}
	}
}

// LookupArchived loads a job that is no longer tracked from the archive.
func (m *Manager) LookupArchived(ctx context.Context, jobID string) (*models.ScrapeJob, error) {
	if m.archive == nil {
		return nil, models.NewJobNotFound(jobID)
	}
	job, ok, err := m.archive.Load(ctx, jobID)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInternal, "job archive unavailable", err)
	}
	if !ok {
		return nil, models.NewJobNotFound(jobID)
	}
	return job, nil
}

// observe mirrors the cached job to the archive and, the first time a job
// is seen terminal, to the notifiers. Failures are logged only.
func (m *Manager) observe(ctx context.Context, job *models.ScrapeJob) {
	ctx = context.WithoutCancel(ctx)

	if m.archive != nil {
		m.archiveLatest(ctx, job)
	}

	if !job.Status.IsTerminal() || len(m.notifiers) == 0 {
		return
	}
	m.mu.Lock()
	_, done := m.notified[job.JobID]
	_, tracked := m.jobs[job.JobID]
	if !done && tracked {
		m.notified[job.JobID] = struct{}{}
	}
	m.mu.Unlock()
	if done || !tracked {
		return
	}

	for _, n := range m.notifiers {
		if err := n.Notify(ctx, job); err != nil {
			slog.Warn("job notification failed", "job_id", job.JobID, "error", err)
		}
	}
}

// archiveLatest saves the registry's current copy of job, which is never
// older than job itself. Untracked jobs are saved as given.
func (m *Manager) archiveLatest(ctx context.Context, job *models.ScrapeJob) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.RLock()
	if rec, ok := m.jobs[job.JobID]; ok {
		job = rec.job.Clone()
	}
	m.mu.RUnlock()

	if err := m.archive.Save(ctx, job); err != nil {
		slog.Warn("archiving job failed", "job_id", job.JobID, "error", err)
	}
}
