package engine

import (
	"time"

	"github.com/Mikkicon/bellflow/models"
)

// providerTimeLayout is the timestamp format of trigger date ranges.
const providerTimeLayout = "2006-01-02T15:04:05.000Z"

// LookbackDays maps a post limit to a collection window. The provider
// cannot cap post counts, only time windows, so volume is approximated by
// recency. Nil and zero limits get the widest window.
func LookbackDays(postLimit *int) int {
	n, ok := models.Limit(postLimit)
	switch {
	case !ok || n >= 500:
		return 365
	case n >= 100:
		return 90
	case n >= 50:
		return 30
	default:
		return 7
	}
}

// DateRange returns the window ending at now for the given post limit.
func DateRange(now time.Time, postLimit *int) (start, end time.Time) {
	end = now.UTC()
	return end.AddDate(0, 0, -LookbackDays(postLimit)), end
}
