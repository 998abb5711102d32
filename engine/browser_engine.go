package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/Mikkicon/bellflow/models"
	"github.com/Mikkicon/bellflow/platform"
	"github.com/Mikkicon/bellflow/scraper"
	"github.com/Mikkicon/bellflow/session"
)

// BrowserEngineName identifies the browser automation engine.
const BrowserEngineName = "browser"

// SessionSource opens browser sessions on persistent profiles.
type SessionSource interface {
	AcquireSession(ctx context.Context, userID string, headless bool) (*session.Session, error)
}

// BrowserEngine scrapes by driving a real browser on the user's profile.
// Initialize blocks until the job is terminal.
type BrowserEngine struct {
	sessions  SessionSource
	platforms *platform.Registry
	collector *scraper.Collector
	pool      *WorkerPool
	headless  bool
	jobs      *jobTable
	now       func() time.Time
}

// BrowserEngineOption customizes a BrowserEngine.
type BrowserEngineOption func(*BrowserEngine)

// WithHeadless sets the default headless mode.
func WithHeadless(headless bool) BrowserEngineOption {
	return func(e *BrowserEngine) { e.headless = headless }
}

// WithBrowserClock replaces time.Now for job timestamps.
func WithBrowserClock(now func() time.Time) BrowserEngineOption {
	return func(e *BrowserEngine) { e.now = now }
}

// NewBrowserEngine creates a BrowserEngine running jobs on pool.
func NewBrowserEngine(sessions SessionSource, platforms *platform.Registry, collector *scraper.Collector, pool *WorkerPool, opts ...BrowserEngineOption) *BrowserEngine {
	e := &BrowserEngine{
		sessions:  sessions,
		platforms: platforms,
		collector: collector,
		pool:      pool,
		headless:  true,
		jobs:      newJobTable(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *BrowserEngine) Name() string  { return BrowserEngineName }
func (e *BrowserEngine) IsAsync() bool { return false }

// Initialize runs the whole scrape and returns the terminal job.
func (e *BrowserEngine) Initialize(ctx context.Context, req *models.ScrapeRequest) (*models.ScrapeJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	def, err := resolvePlatform(e.platforms, req)
	if err != nil {
		return nil, err
	}
	if len(def.Selectors) == 0 {
		return nil, models.NewScrapeError(models.ErrCodeUnsupportedPlatform,
			"no post selectors configured for platform "+def.Name, nil)
	}

	job := models.NewScrapeJob(uuid.NewString(), def.Name, req.URL, req.UserID, models.StatusRunning, e.now())
	e.jobs.put(job)
	slog.Info("browser job started", "job_id", job.JobID, "user_id", req.UserID, "url", req.URL)

	var result *models.ScrapeResult
	var runErr error
	if err := e.pool.Do(ctx, func() {
		result, runErr = e.run(ctx, req, def)
	}); err != nil {
		runErr = fmt.Errorf("waiting for a browser worker: %w", err)
	}

	final, _ := e.jobs.update(job.JobID, func(j *models.ScrapeJob) {
		if runErr != nil {
			_ = j.Fail(runErr.Error(), e.now())
			return
		}
		_ = j.Complete(result, e.now())
	})

	if final.Status == models.StatusFailed {
		slog.Error("browser job failed", "job_id", job.JobID, "error", final.Error)
	} else {
		slog.Info("browser job completed",
			"job_id", job.JobID,
			"items", result.TotalItems,
			"soft_error", result.Error,
		)
	}
	return final, nil
}

// run holds the session for the duration of one scrape. Browser-level
// failures fail the job; page-level failures land in result.Error.
func (e *BrowserEngine) run(ctx context.Context, req *models.ScrapeRequest, def *platform.Definition) (result *models.ScrapeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in browser job", "panic", r, "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("internal error: %v", r)
		}
	}()

	headless := e.headless
	if req.Options.Headless != nil {
		headless = *req.Options.Headless
	}

	sess, err := e.sessions.AcquireSession(ctx, req.UserID, headless)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			slog.Warn("closing browser session failed", "session_id", sess.ID, "error", cerr)
		}
	}()

	page, err := sess.Browser.OpenPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer func() { _ = page.Close() }()

	target := scraper.Target{
		URL:         req.URL,
		Platform:    def.Name,
		UserID:      req.UserID,
		PostLimit:   req.PostLimit,
		TimeLimit:   req.TimeLimit,
		Selectors:   def.Selectors,
		Extractor:   def.Extractor,
		Dedupe:      req.Options.Dedupe,
		ScrollDelay: time.Duration(req.Options.ScrollDelayMs) * time.Millisecond,
		MaxScrolls:  req.Options.MaxScrolls,
	}
	return e.collector.Collect(ctx, page, target), nil
}

// Status returns the cached job.
func (e *BrowserEngine) Status(_ context.Context, jobID string) (*models.ScrapeJob, error) {
	return e.jobs.get(jobID)
}

func (e *BrowserEngine) Results(_ context.Context, jobID string) (*models.ScrapeResult, error) {
	return e.jobs.results(jobID)
}

// Cancel always returns false: the work is done by the time a caller
// holds the job id.
func (e *BrowserEngine) Cancel(context.Context, string) bool { return false }

// Forget drops a job's state.
func (e *BrowserEngine) Forget(jobID string) { e.jobs.remove(jobID) }

// resolvePlatform picks the platform definition named by the request or,
// failing that, detected from the URL.
func resolvePlatform(platforms *platform.Registry, req *models.ScrapeRequest) (*platform.Definition, error) {
	if req.Platform != "" {
		if def, ok := platforms.Lookup(req.Platform); ok {
			return def, nil
		}
		return nil, models.NewScrapeError(models.ErrCodeUnsupportedPlatform, "unknown platform: "+req.Platform, nil)
	}
	if def, ok := platforms.Detect(req.URL); ok {
		return def, nil
	}
	return nil, models.NewScrapeError(models.ErrCodeUnsupportedPlatform, "cannot detect platform from url: "+req.URL, nil)
}
