package scraper

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Mikkicon/bellflow/models"
	"github.com/Mikkicon/bellflow/platform"
)

// Extractor turns one matched element into a post. ok=false drops the element.
type Extractor interface {
	Extract(pageURL string, raw RawPost) (post models.Post, ok bool)
}

// ExtractorFor returns the strategy named by a platform table.
func ExtractorFor(kind platform.Extractor) Extractor {
	if kind == platform.AriaLabels {
		return AriaLabelExtractor{}
	}
	return NumericLineExtractor{}
}

// NumericLineExtractor assigns engagement metrics positionally from the
// lines of the post text that are bare integers.
type NumericLineExtractor struct{}

func (NumericLineExtractor) Extract(_ string, raw RawPost) (models.Post, bool) {
	post := models.Post{
		Text: strings.TrimSpace(raw.Text),
		Link: raw.Link,
	}
	post.Likes, post.Comments, post.Reposts = AssignMetrics(NumericLines(raw.Text))
	return post, true
}

// NumericLines returns every line of text that is a bare integer, in order.
func NumericLines(text string) []int {
	var nums []int
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !isDigits(line) {
			continue
		}
		n, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	return nums
}

// AssignMetrics maps the last three numeric tokens to likes, comments and
// reposts. Fewer than three tokens yields no metrics.
func AssignMetrics(nums []int) (likes, comments, reposts *int) {
	if len(nums) < 3 {
		return nil, nil, nil
	}
	tail := nums[len(nums)-3:]
	return models.IntPtr(tail[0]), models.IntPtr(tail[1]), models.IntPtr(tail[2])
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// AriaLabelExtractor reads X/Twitter style markup: counts from the
// aria-labels of the reply/retweet/like buttons, views from the analytics
// link, and the timestamp from time[datetime]. Elements without a status
// link are not posts and are dropped.
type AriaLabelExtractor struct{}

var countRe = regexp.MustCompile(`(\d[\d,]*)`)

func (AriaLabelExtractor) Extract(pageURL string, raw RawPost) (models.Post, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw.HTML))
	if err != nil {
		return models.Post{}, false
	}

	href, ok := doc.Find(`a[href*="/status/"]`).First().Attr("href")
	if !ok || href == "" {
		return models.Post{}, false
	}
	// The status link sits inside the timestamp anchor; analytics links share
	// the prefix, so strip any trailing sub-path.
	if i := strings.Index(href, "/analytics"); i > 0 {
		href = href[:i]
	}

	post := models.Post{
		Link: resolveLink(pageURL, href),
		Text: strings.TrimSpace(doc.Find(`[data-testid="tweetText"]`).First().Text()),
	}
	if post.Text == "" {
		post.Text = strings.TrimSpace(raw.Text)
	}

	post.Comments = ariaCount(doc, `[data-testid="reply"]`)
	post.Reposts = ariaCount(doc, `[data-testid="retweet"], [data-testid="unretweet"]`)
	post.Likes = ariaCount(doc, `[data-testid="like"], [data-testid="unlike"]`)

	if views := strings.TrimSpace(doc.Find(`a[href*="/analytics"] span`).First().Text()); views != "" {
		post.Views = ParseCount(views)
	}
	if dt, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		post.DatePosted = dt
	}
	return post, true
}

func ariaCount(doc *goquery.Document, selector string) *int {
	label, ok := doc.Find(selector).First().Attr("aria-label")
	if !ok {
		return nil
	}
	m := countRe.FindString(label)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return nil
	}
	return &n
}

// ParseCount parses rendered counters such as "1,204", "3.4K" or "2M".
func ParseCount(s string) *int {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return nil
	}
	mult := 1.0
	switch strings.ToUpper(s[len(s)-1:]) {
	case "K":
		mult = 1e3
	case "M":
		mult = 1e6
	case "B":
		mult = 1e9
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	n := int(f*mult + 0.5)
	return &n
}

func resolveLink(pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
