package models

import (
	"net/url"
	"strings"
)

// ScrapeOptions are per-job tuning knobs. Zero values mean "use the
// engine's configured default".
type ScrapeOptions struct {
	// Headless overrides the browser's headless mode for this job.
	Headless *bool `json:"headless,omitempty"`

	// Dedupe drops near-duplicate posts before truncation.
	Dedupe bool `json:"dedupe,omitempty"`

	// ScrollDelayMs overrides the delay between scrolls.
	ScrollDelayMs int `json:"scroll_delay_ms,omitempty"`

	// MaxScrolls overrides the scroll-attempt ceiling.
	MaxScrolls int `json:"max_scrolls,omitempty"`
}

// ScrapeRequest is the input every engine's Initialize accepts.
type ScrapeRequest struct {
	URL       string
	UserID    string
	Platform  string
	PostLimit *int
	TimeLimit *int
	Options   ScrapeOptions
}

// Validate checks the constraints shared by all engines.
func (r *ScrapeRequest) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return NewScrapeError(ErrCodeInvalidInput, "url is required", nil)
	}
	u, err := url.Parse(r.URL)
	if err != nil || u.Host == "" {
		return NewScrapeError(ErrCodeInvalidInput, "url must be absolute: "+r.URL, err)
	}
	if strings.TrimSpace(r.UserID) == "" {
		return NewScrapeError(ErrCodeInvalidInput, "user_id is required", nil)
	}
	if r.PostLimit != nil && *r.PostLimit < 0 {
		return NewScrapeError(ErrCodeInvalidInput, "post_limit must be non-negative", nil)
	}
	if r.TimeLimit != nil && *r.TimeLimit < 0 {
		return NewScrapeError(ErrCodeInvalidInput, "time_limit must be non-negative", nil)
	}
	if r.Options.ScrollDelayMs < 0 || r.Options.MaxScrolls < 0 {
		return NewScrapeError(ErrCodeInvalidInput, "options must be non-negative", nil)
	}
	return nil
}

// CreateJobRequest is the request body for POST /api/v1/jobs.
type CreateJobRequest struct {
	// URL is the profile page to collect posts from.
	URL string `json:"url" binding:"required"`

	// UserID selects the persistent browser profile.
	UserID string `json:"user_id" binding:"required"`

	// Platform is detected from the URL host when empty.
	Platform string `json:"platform,omitempty"`

	// Engine is "browser" or "brightdata"; defaults per platform.
	Engine string `json:"engine,omitempty"`

	PostLimit *int          `json:"post_limit,omitempty"`
	TimeLimit *int          `json:"time_limit,omitempty"`
	Options   ScrapeOptions `json:"options"`
}

// ToScrapeRequest converts the API body to engine input.
func (r *CreateJobRequest) ToScrapeRequest(platform string) *ScrapeRequest {
	return &ScrapeRequest{
		URL:       strings.TrimSpace(r.URL),
		UserID:    strings.TrimSpace(r.UserID),
		Platform:  platform,
		PostLimit: r.PostLimit,
		TimeLimit: r.TimeLimit,
		Options:   r.Options,
	}
}
