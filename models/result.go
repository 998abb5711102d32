package models

import (
	"math"
	"time"
)

// ScrapedAtLayout is the timestamp format of ScrapeResult.ScrapedAt.
const ScrapedAtLayout = "20060102_150405"

// NoPostsFound is the soft-failure message used when no candidate
// selector matches anything on the page.
const NoPostsFound = "No posts found"

// ScrapeResult is the normalized post collection shared by every engine.
// A non-empty Error marks a soft scraping failure with zero items.
type ScrapeResult struct {
	ScrapedAt    string  `json:"scraped_at"`
	URL          string  `json:"url"`
	Platform     string  `json:"platform"`
	UserID       string  `json:"user_id"`
	TotalItems   int     `json:"total_items"`
	PostLimit    *int    `json:"post_limit,omitempty"`
	TimeLimit    *int    `json:"time_limit,omitempty"`
	ElapsedTime  float64 `json:"elapsed_time"`
	SelectorUsed string  `json:"selector_used,omitempty"`
	Items        []Post  `json:"items"`
	Error        string  `json:"error,omitempty"`
}

// Post is one collected post in canonical shape.
type Post struct {
	Text       string `json:"text"`
	Link       string `json:"link,omitempty"`
	Likes      *int   `json:"likes,omitempty"`
	Comments   *int   `json:"comments,omitempty"`
	Reposts    *int   `json:"reposts,omitempty"`
	DatePosted string `json:"date_posted,omitempty"`
	Views      *int   `json:"views,omitempty"`
}

// ElapsedSeconds rounds d to hundredths of a second.
func ElapsedSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// Limit unwraps an optional post or time limit. Nil and zero both mean
// unbounded and report false.
func Limit(p *int) (int, bool) {
	if p == nil || *p <= 0 {
		return 0, false
	}
	return *p, true
}
