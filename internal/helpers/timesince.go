package helpers

import (
	"fmt"
	"time"
)

type period struct {
	size     time.Duration
	singular string
	plural   string
}

var periods = []period{
	{365 * 24 * time.Hour, "year", "years"},
	{30 * 24 * time.Hour, "month", "months"},
	{7 * 24 * time.Hour, "week", "weeks"},
	{24 * time.Hour, "day", "days"},
	{time.Hour, "hour", "hours"},
	{time.Minute, "minute", "minutes"},
	{time.Second, "second", "seconds"},
}

// TimeSince renders the largest whole unit between t and now, e.g. "3 days ago".
// Future or sub-second differences render as "just now".
func TimeSince(t, now time.Time) string {
	diff := now.Sub(t)
	for _, p := range periods {
		if n := int64(diff / p.size); n > 0 {
			unit := p.plural
			if n == 1 {
				unit = p.singular
			}
			return fmt.Sprintf("%d %s ago", n, unit)
		}
	}
	return "just now"
}
