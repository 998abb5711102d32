package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"golang.org/x/time/rate"

	"github.com/Mikkicon/bellflow/models"
	"github.com/Mikkicon/bellflow/platform"
	"github.com/Mikkicon/bellflow/scraper"
)

const (
	// BrightDataEngineName identifies the remote provider engine.
	BrightDataEngineName = "brightdata"

	// DefaultBrightDataURL is the provider's dataset API root.
	DefaultBrightDataURL = "https://api.brightdata.com/datasets/v3"

	brightDataSelector = "BrightData API"
	maxProviderBody    = 32 << 20
)

// BrightDataConfig configures the remote provider client.
type BrightDataConfig struct {
	APIKey            string
	BaseURL           string        // default: DefaultBrightDataURL
	Timeout           time.Duration // default: 30s
	RequestsPerSecond float64       // 0 disables throttling
}

// snapshotRecord is what a job needs to be polled.
type snapshotRecord struct {
	snapshotID string
	def        *platform.Definition
	postLimit  *int
}

// BrightDataEngine submits scrapes to the Bright Data dataset API and
// advances jobs when callers poll Status.
type BrightDataEngine struct {
	cfg       BrightDataConfig
	platforms *platform.Registry
	client    *http.Client
	limiter   *rate.Limiter
	jobs      *jobTable
	now       func() time.Time

	mu        sync.Mutex
	snapshots map[string]snapshotRecord
}

// BrightDataOption customizes a BrightDataEngine.
type BrightDataOption func(*BrightDataEngine)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) BrightDataOption {
	return func(e *BrightDataEngine) { e.client = c }
}

// WithBrightDataClock replaces time.Now.
func WithBrightDataClock(now func() time.Time) BrightDataOption {
	return func(e *BrightDataEngine) { e.now = now }
}

// NewBrightDataEngine creates the engine. A missing API key is a
// configuration error reported here, never at call time.
func NewBrightDataEngine(cfg BrightDataConfig, platforms *platform.Registry, opts ...BrightDataOption) (*BrightDataEngine, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, models.NewScrapeError(models.ErrCodeConfiguration,
			"BRIGHTDATA_API_KEY is not set", models.ErrConfiguration)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBrightDataURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	e := &BrightDataEngine{
		cfg:       cfg,
		platforms: platforms,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(limit, 1),
		jobs:      newJobTable(),
		now:       time.Now,
		snapshots: make(map[string]snapshotRecord),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *BrightDataEngine) Name() string  { return BrightDataEngineName }
func (e *BrightDataEngine) IsAsync() bool { return true }

// Initialize submits the scrape. Submission failures produce a failed job,
// not an error.
func (e *BrightDataEngine) Initialize(ctx context.Context, req *models.ScrapeRequest) (*models.ScrapeJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	def, err := resolvePlatform(e.platforms, req)
	if err != nil {
		return nil, err
	}

	job := models.NewScrapeJob(uuid.NewString(), def.Name, req.URL, req.UserID, models.StatusPending, e.now())
	e.jobs.put(job)

	if !def.HasProvider() {
		final, _ := e.jobs.update(job.JobID, func(j *models.ScrapeJob) {
			_ = j.Fail(fmt.Sprintf("Platform '%s' not supported by Bright Data engine", def.Name), e.now())
		})
		return final, nil
	}

	start, end := DateRange(e.now(), req.PostLimit)
	slog.Info("submitting scrape to bright data",
		"job_id", job.JobID,
		"platform", def.Name,
		"url", req.URL,
		"start_date", start.Format(providerTimeLayout),
		"end_date", end.Format(providerTimeLayout),
	)

	snapshotID, err := e.trigger(ctx, def.Provider.DatasetID, req.URL, start, end)
	if err != nil {
		slog.Error("bright data submission failed", "job_id", job.JobID, "error", err)
		final, _ := e.jobs.update(job.JobID, func(j *models.ScrapeJob) {
			_ = j.Fail(err.Error(), e.now())
		})
		return final, nil
	}

	e.mu.Lock()
	e.snapshots[job.JobID] = snapshotRecord{snapshotID: snapshotID, def: def, postLimit: req.PostLimit}
	e.mu.Unlock()

	final, _ := e.jobs.update(job.JobID, func(j *models.ScrapeJob) {
		now := e.now()
		_ = j.Start(now)
		j.SetProgress(map[string]any{
			"snapshot_id": snapshotID,
			"message":     "Scraping job submitted to Bright Data",
		}, now)
	})
	slog.Info("bright data job submitted", "job_id", job.JobID, "snapshot_id", snapshotID)
	return final, nil
}

type triggerInput struct {
	URL       string `json:"url"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (e *BrightDataEngine) trigger(ctx context.Context, datasetID, profileURL string, start, end time.Time) (string, error) {
	q := url.Values{}
	q.Set("dataset_id", datasetID)
	q.Set("include_errors", "true")
	q.Set("type", "discover_new")
	q.Set("discover_by", "profile_url")

	body, err := json.Marshal([]triggerInput{{
		URL:       profileURL,
		StartDate: start.Format(providerTimeLayout),
		EndDate:   end.Format(providerTimeLayout),
	}})
	if err != nil {
		return "", err
	}

	status, data, err := e.do(ctx, http.MethodPost, e.cfg.BaseURL+"/trigger?"+q.Encode(), body)
	if err != nil {
		return "", fmt.Errorf("Bright Data API error: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("Bright Data API error: %d - %s", status, strings.TrimSpace(string(data)))
	}

	var resp struct {
		SnapshotID string `json:"snapshot_id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.SnapshotID == "" {
		return "", fmt.Errorf("No snapshot_id in Bright Data response: %s", strings.TrimSpace(string(data)))
	}
	return resp.SnapshotID, nil
}

// do performs one throttled, authenticated request and returns the status
// and body.
func (e *BrightDataEngine) do(ctx context.Context, method, endpoint string, body []byte) (int, []byte, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// Status polls the provider unless the job is already terminal. Provider
// and transport failures fail the job; the caller always gets a job back.
func (e *BrightDataEngine) Status(ctx context.Context, jobID string) (*models.ScrapeJob, error) {
	job, err := e.jobs.get(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	e.mu.Lock()
	rec, ok := e.snapshots[jobID]
	e.mu.Unlock()
	if !ok {
		return e.apply(jobID, pollOutcome{failure: "No snapshot_id found for job"})
	}

	// The poll runs unlocked; a concurrent cancel wins over its outcome.
	out := e.poll(ctx, job, rec)
	if ctx.Err() != nil {
		// The caller went away; that says nothing about the snapshot.
		return e.jobs.get(jobID)
	}
	return e.apply(jobID, out)
}

// pollOutcome is the effect of one snapshot poll on a job.
type pollOutcome struct {
	progress string
	failure  string
	result   *models.ScrapeResult
}

func (e *BrightDataEngine) apply(jobID string, out pollOutcome) (*models.ScrapeJob, error) {
	return e.jobs.update(jobID, func(j *models.ScrapeJob) {
		if j.Status.IsTerminal() {
			return
		}
		now := e.now()
		switch {
		case out.failure != "":
			_ = j.Fail(out.failure, now)
			slog.Warn("bright data job failed", "job_id", jobID, "error", out.failure)
		case out.result != nil:
			out.result.ElapsedTime = models.ElapsedSeconds(now.Sub(j.CreatedAt))
			_ = j.Complete(out.result, now)
			slog.Info("bright data job completed", "job_id", jobID, "items", out.result.TotalItems)
		default:
			j.SetProgress(map[string]any{"message": out.progress}, now)
		}
	})
}

func (e *BrightDataEngine) poll(ctx context.Context, job *models.ScrapeJob, rec snapshotRecord) pollOutcome {
	endpoint := e.cfg.BaseURL + "/snapshot/" + url.PathEscape(rec.snapshotID) + "?format=json"
	status, data, err := e.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pollOutcome{failure: "Error checking status: " + err.Error()}
	}

	switch status {
	case http.StatusAccepted:
		var body map[string]any
		if err := json.Unmarshal(data, &body); err != nil {
			return pollOutcome{progress: "Scraping in progress..."}
		}
		return pollOutcome{progress: messageOr(body, "Snapshot is being processed...")}
	case http.StatusNotFound:
		return pollOutcome{progress: "Snapshot not ready yet"}
	case http.StatusOK:
	default:
		return pollOutcome{failure: fmt.Sprintf("Error checking status: API error: %d - %s",
			status, strings.TrimSpace(string(data)))}
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return pollOutcome{failure: "Error checking status: " + err.Error()}
	}

	records, ok := payload.([]any)
	if !ok {
		body, _ := payload.(map[string]any)
		return pollOutcome{progress: messageOr(body, "Scraping in progress...")}
	}

	if len(records) > 0 {
		if first, ok := records[0].(map[string]any); ok {
			if msg, bad := first["error"]; bad {
				return pollOutcome{failure: fmt.Sprintf("Bright Data error: %v", msg)}
			}
			if warn, ok := first["warning"]; ok {
				slog.Warn("bright data returned a warning", "job_id", job.JobID, "warning", warn)
			}
		}
	}

	items := make([]models.Post, 0, len(records))
	for _, r := range records {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		items = append(items, NormalizeRecord(rec.def, m))
	}
	items = scraper.Truncate(items, rec.postLimit)

	return pollOutcome{result: &models.ScrapeResult{
		ScrapedAt:    e.now().Format(models.ScrapedAtLayout),
		URL:          job.URL,
		Platform:     job.Platform,
		UserID:       job.UserID,
		TotalItems:   len(items),
		PostLimit:    rec.postLimit,
		SelectorUsed: brightDataSelector,
		Items:        items,
	}}
}

// NormalizeRecord maps one provider record onto the canonical post shape
// using the platform's field aliases. Counts may arrive as numbers or
// strings with thousands separators.
func NormalizeRecord(def *platform.Definition, rec map[string]any) models.Post {
	return models.Post{
		Text:       firstString(rec, def.FieldAliases(platform.FieldText)),
		Link:       firstString(rec, def.FieldAliases(platform.FieldLink)),
		Likes:      firstInt(rec, def.FieldAliases(platform.FieldLikes)),
		Comments:   firstInt(rec, def.FieldAliases(platform.FieldComments)),
		Reposts:    firstInt(rec, def.FieldAliases(platform.FieldReposts)),
		DatePosted: firstString(rec, def.FieldAliases(platform.FieldDatePosted)),
		Views:      firstInt(rec, def.FieldAliases(platform.FieldViews)),
	}
}

func firstString(rec map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := rec[k]; ok && v != nil {
			if s := strings.TrimSpace(cast.ToString(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstInt(rec map[string]any, keys []string) *int {
	for _, k := range keys {
		v, ok := rec[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr {
			v = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		}
		if n, err := cast.ToIntE(v); err == nil {
			return &n
		}
	}
	return nil
}

func messageOr(body map[string]any, fallback string) string {
	if msg := strings.TrimSpace(cast.ToString(body["message"])); msg != "" {
		return msg
	}
	return fallback
}

// Results polls once more and returns the result of a completed job.
func (e *BrightDataEngine) Results(ctx context.Context, jobID string) (*models.ScrapeResult, error) {
	if _, err := e.Status(ctx, jobID); err != nil {
		return nil, err
	}
	return e.jobs.results(jobID)
}

// Cancel marks a non-terminal job failed locally. The provider has no
// cancellation endpoint, so its snapshot keeps running.
func (e *BrightDataEngine) Cancel(_ context.Context, jobID string) bool {
	cancelled := false
	_, err := e.jobs.update(jobID, func(j *models.ScrapeJob) {
		if j.Status.IsTerminal() {
			return
		}
		cancelled = j.Fail(msgCancelled, e.now()) == nil
	})
	if err == nil && cancelled {
		slog.Info("bright data job cancelled", "job_id", jobID)
	}
	return cancelled
}

// Forget drops a job and its snapshot handle.
func (e *BrightDataEngine) Forget(jobID string) {
	e.jobs.remove(jobID)
	e.mu.Lock()
	delete(e.snapshots, jobID)
	e.mu.Unlock()
}
