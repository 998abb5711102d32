// Package scraper drives a browser page through one profile scrape:
// selector discovery, scroll-until-stable pagination and post extraction.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mikkicon/bellflow/models"
	"github.com/Mikkicon/bellflow/platform"
)

// Options controls pacing of a scrape.
type Options struct {
	// SettleDelay is the wait after navigation for client-side rendering.
	SettleDelay time.Duration // default: 8s

	// NudgeOffset is the vertical offset of the post-settle scroll nudge.
	NudgeOffset int // default: 500

	// NudgeDelay is the wait after the nudge for lazy content.
	NudgeDelay time.Duration // default: 2s

	// ScrollDelay is the wait between scrolls before re-counting.
	ScrollDelay time.Duration // default: 750ms

	// MaxScrolls is the absolute scroll-attempt ceiling.
	MaxScrolls int // default: 500
}

// DefaultOptions returns the production pacing.
func DefaultOptions() Options {
	return Options{
		SettleDelay: 8 * time.Second,
		NudgeOffset: 500,
		NudgeDelay:  2 * time.Second,
		ScrollDelay: 750 * time.Millisecond,
		MaxScrolls:  500,
	}
}

// Target describes one scrape.
type Target struct {
	URL       string
	Platform  string
	UserID    string
	PostLimit *int
	TimeLimit *int // seconds
	Selectors []string
	Extractor platform.Extractor
	Dedupe    bool

	// ScrollDelay and MaxScrolls override Options when positive.
	ScrollDelay time.Duration
	MaxScrolls  int
}

// StopReason says why pagination ended.
type StopReason string

const (
	StopPostLimit  StopReason = "post_limit"
	StopTimeLimit  StopReason = "time_limit"
	StopNoGrowth   StopReason = "no_growth"
	StopMaxScrolls StopReason = "max_scrolls"
)

// ScrollStats summarizes a pagination run.
type ScrollStats struct {
	Count   int
	Scrolls int
	Reason  StopReason
}

// Collector runs the scrape algorithm against a Page. It holds no per-job
// state and is safe for concurrent use.
type Collector struct {
	opts  Options
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// CollectorOption customizes a Collector.
type CollectorOption func(*Collector)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.now = now }
}

// WithSleep replaces the context-aware sleep between steps.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) CollectorOption {
	return func(c *Collector) { c.sleep = sleep }
}

// NewCollector creates a Collector.
func NewCollector(opts Options, options ...CollectorOption) *Collector {
	if opts.MaxScrolls <= 0 {
		opts.MaxScrolls = DefaultOptions().MaxScrolls
	}
	c := &Collector{opts: opts, sleep: sleepCtx, now: time.Now}
	for _, o := range options {
		o(c)
	}
	return c
}

// Collect scrapes t.URL with page. Failures never escape: a page that
// cannot be loaded or parsed yields a result with Error set and no items.
func (c *Collector) Collect(ctx context.Context, page Page, t Target) *models.ScrapeResult {
	start := c.now()
	res := &models.ScrapeResult{
		ScrapedAt: start.Format(models.ScrapedAtLayout),
		URL:       t.URL,
		Platform:  t.Platform,
		UserID:    t.UserID,
		PostLimit: t.PostLimit,
		TimeLimit: t.TimeLimit,
		Items:     []models.Post{},
	}
	finish := func() *models.ScrapeResult {
		res.TotalItems = len(res.Items)
		res.ElapsedTime = models.ElapsedSeconds(c.now().Sub(start))
		return res
	}

	if err := c.load(ctx, page, t.URL); err != nil {
		res.Error = err.Error()
		return finish()
	}

	selector, initial, err := DiscoverSelector(ctx, page, t.Selectors)
	if err != nil {
		res.Error = fmt.Sprintf("selector discovery failed: %v", err)
		return finish()
	}
	if selector == "" {
		slog.Warn("no candidate selector matched", "url", t.URL, "platform", t.Platform)
		res.Error = models.NoPostsFound
		return finish()
	}
	res.SelectorUsed = selector

	stats, err := c.ScrollUntilStable(ctx, page, selector, initial, t, start)
	if err != nil {
		res.Error = fmt.Sprintf("pagination failed: %v", err)
		return finish()
	}

	raws, err := page.Extract(ctx, selector)
	if err != nil {
		res.Error = fmt.Sprintf("extraction failed: %v", err)
		return finish()
	}
	if t.Dedupe {
		raws = DedupeRaw(raws, DefaultDedupeDistance)
	}

	ext := ExtractorFor(t.Extractor)
	for _, raw := range raws {
		if post, ok := ext.Extract(t.URL, raw); ok {
			res.Items = append(res.Items, post)
		}
	}
	res.Items = Truncate(res.Items, t.PostLimit)

	slog.Info("scrape finished",
		"url", t.URL,
		"selector", selector,
		"matched", stats.Count,
		"items", len(res.Items),
		"scrolls", stats.Scrolls,
		"stop", string(stats.Reason),
	)
	return finish()
}

// load navigates and lets the page render, then nudges it to start
// lazy loading.
func (c *Collector) load(ctx context.Context, page Page, url string) error {
	if err := page.Navigate(ctx, url); err != nil {
		return err
	}
	if err := c.sleep(ctx, c.opts.SettleDelay); err != nil {
		return err
	}
	if err := page.ScrollTo(ctx, 0, c.opts.NudgeOffset); err != nil {
		return fmt.Errorf("scroll nudge failed: %w", err)
	}
	return c.sleep(ctx, c.opts.NudgeDelay)
}

// DiscoverSelector returns the first candidate with at least one match and
// its match count. An empty selector means nothing matched.
func DiscoverSelector(ctx context.Context, page Page, candidates []string) (string, int, error) {
	for _, sel := range candidates {
		n, err := page.Count(ctx, sel)
		if err != nil {
			return "", 0, fmt.Errorf("count %q: %w", sel, err)
		}
		if n > 0 {
			slog.Debug("selector adopted", "selector", sel, "count", n)
			return sel, n, nil
		}
	}
	return "", 0, nil
}

// ScrollUntilStable scrolls to the bottom until the post limit is reached,
// the time budget is spent, a scroll adds nothing, or the scroll ceiling
// is hit. The time budget is checked once per iteration.
func (c *Collector) ScrollUntilStable(ctx context.Context, page Page, selector string, initial int, t Target, start time.Time) (ScrollStats, error) {
	delay := c.opts.ScrollDelay
	if t.ScrollDelay > 0 {
		delay = t.ScrollDelay
	}
	ceiling := c.opts.MaxScrolls
	if t.MaxScrolls > 0 {
		ceiling = t.MaxScrolls
	}

	stats := ScrollStats{Count: initial}
	if limitReached(stats.Count, t.PostLimit) {
		stats.Reason = StopPostLimit
		return stats, nil
	}

	for stats.Scrolls < ceiling {
		if err := page.ScrollToBottom(ctx); err != nil {
			return stats, fmt.Errorf("scroll %d: %w", stats.Scrolls+1, err)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return stats, err
		}
		n, err := page.Count(ctx, selector)
		if err != nil {
			return stats, fmt.Errorf("count after scroll %d: %w", stats.Scrolls+1, err)
		}
		stats.Scrolls++
		prev := stats.Count
		stats.Count = n

		switch {
		case limitReached(n, t.PostLimit):
			stats.Reason = StopPostLimit
			return stats, nil
		case timeSpent(c.now().Sub(start), t.TimeLimit):
			stats.Reason = StopTimeLimit
			return stats, nil
		case n == prev:
			stats.Reason = StopNoGrowth
			return stats, nil
		}
	}
	stats.Reason = StopMaxScrolls
	return stats, nil
}

// Truncate caps posts at limit; nil or zero means unbounded.
func Truncate(posts []models.Post, limit *int) []models.Post {
	n, ok := models.Limit(limit)
	if !ok || len(posts) <= n {
		return posts
	}
	return posts[:n]
}

func limitReached(count int, limit *int) bool {
	n, ok := models.Limit(limit)
	return ok && count >= n
}

func timeSpent(elapsed time.Duration, limit *int) bool {
	secs, ok := models.Limit(limit)
	return ok && elapsed >= time.Duration(secs)*time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
