package scraper

import (
	"context"
	"errors"
	"time"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"

	"github.com/Mikkicon/bellflow/models"
)

// Page is the slice of a browser tab the collector drives. Every call is
// strictly sequential within one job.
type Page interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error

	// Count returns the number of elements matching selector.
	Count(ctx context.Context, selector string) (int, error)

	// ScrollTo scrolls the viewport to the absolute offset.
	ScrollTo(ctx context.Context, x, y int) error

	// ScrollToBottom scrolls the viewport to the end of the document.
	ScrollToBottom(ctx context.Context) error

	// Extract returns the visible text, first link and markup of every
	// element matching selector, in document order.
	Extract(ctx context.Context, selector string) ([]RawPost, error)

	Close() error
}

// RawPost is one matched element as read from the live page.
type RawPost struct {
	Text string
	Link string
	HTML string
}

const (
	countJS = `(sel) => document.querySelectorAll(sel).length`

	scrollToJS = `(x, y) => window.scrollTo(x, y)`

	scrollBottomJS = `() => window.scrollTo(0, document.body.scrollHeight)`

	extractJS = `(sel) => Array.from(document.querySelectorAll(sel)).map((el) => {
		const a = el.querySelector('a[href]');
		return {
			text: el.innerText || '',
			link: a ? a.href : '',
			html: el.outerHTML || '',
		};
	})`
)

// RodPage implements Page on a rod tab.
type RodPage struct {
	page   *rod.Page
	router *rod.HijackRouter
}

// BlockOptions selects requests a RodPage fails before they leave the tab.
type BlockOptions struct {
	// ResourceTypes lists names such as "Image", "Media", "Font".
	ResourceTypes []string

	// Trackers blocks known analytics and ad hosts.
	Trackers bool
}

// NewRodPage wraps a rod page and installs request blocking. It must be
// called before the first navigation.
func NewRodPage(page *rod.Page, block BlockOptions) *RodPage {
	return &RodPage{
		page:   page,
		router: blockRequests(page, block.ResourceTypes, block.Trackers),
	}
}

func (p *RodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return categorizeError(err, "navigation to profile URL failed")
	}
	if err := pg.WaitLoad(); err != nil {
		return categorizeError(err, "page did not finish loading")
	}
	return nil
}

func (p *RodPage) Count(ctx context.Context, selector string) (int, error) {
	res, err := p.page.Context(ctx).Eval(countJS, selector)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (p *RodPage) ScrollTo(ctx context.Context, x, y int) error {
	_, err := p.page.Context(ctx).Eval(scrollToJS, x, y)
	return err
}

func (p *RodPage) ScrollToBottom(ctx context.Context) error {
	_, err := p.page.Context(ctx).Eval(scrollBottomJS)
	return err
}

func (p *RodPage) Extract(ctx context.Context, selector string) ([]RawPost, error) {
	res, err := p.page.Context(ctx).Eval(extractJS, selector)
	if err != nil {
		return nil, err
	}
	return decodeRawPosts(res.Value), nil
}

// Close leaves the page on about:blank before closing it so the renderer
// drops the feed DOM even if the close races with shutdown.
func (p *RodPage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if p.router != nil {
		_ = p.router.Stop()
	}
	_ = p.page.Context(ctx).Navigate("about:blank")
	return p.page.Close()
}

func decodeRawPosts(v gson.JSON) []RawPost {
	arr := v.Arr()
	posts := make([]RawPost, 0, len(arr))
	for _, item := range arr {
		posts = append(posts, RawPost{
			Text: item.Get("text").Str(),
			Link: item.Get("link").Str(),
			HTML: item.Get("html").Str(),
		})
	}
	return posts
}

// categorizeError wraps raw driver errors into typed ScrapeErrors.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeNavigation, msg+" (timeout)", err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeNavigation, "scrape canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
	}
}
