// Package usage sums interval readings over the six reporting windows.
package usage

import (
	"fmt"
	"time"

	"github.com/tejusbharadwaj/esbmeter/internal/models"
)

// Window names a period ending now.
type Window string

const (
	Today       Window = "today"
	Last24Hours Window = "last_24_hours"
	ThisWeek    Window = "this_week"
	Last7Days   Window = "last_7_days"
	ThisMonth   Window = "this_month"
	Last30Days  Window = "last_30_days"
)

// Windows lists every window in display order.
var Windows = []Window{Today, Last24Hours, ThisWeek, Last7Days, ThisMonth, Last30Days}

var labels = map[Window]string{
	Today:       "Today",
	Last24Hours: "Last 24 Hours",
	ThisWeek:    "This Week",
	Last7Days:   "Last 7 Days",
	ThisMonth:   "This Month",
	Last30Days:  "Last 30 Days",
}

// ParseWindow validates a window name.
func ParseWindow(name string) (Window, error) {
	w := Window(name)
	if _, ok := labels[w]; !ok {
		return "", fmt.Errorf("invalid window: %s", name)
	}
	return w, nil
}

// Label is the human readable window name.
func (w Window) Label() string {
	return labels[w]
}

// Since returns the start of the window. Calendar windows (today, this
// week, this month) are computed in now's location; weeks start on Monday.
func (w Window) Since(now time.Time) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch w {
	case Today:
		return midnight
	case Last24Hours:
		return now.Add(-24 * time.Hour)
	case ThisWeek:
		daysSinceMonday := (int(now.Weekday()) + 6) % 7
		return midnight.AddDate(0, 0, -daysSinceMonday)
	case Last7Days:
		return now.Add(-7 * 24 * time.Hour)
	case ThisMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	case Last30Days:
		return now.Add(-30 * 24 * time.Hour)
	}
	return now
}

// WindowedSum adds up the readings taken at or after since. Readings are not
// assumed to be in order.
func WindowedSum(readings []models.Reading, since time.Time) float64 {
	var total float64
	for _, r := range readings {
		if !r.Time.Before(since) {
			total += r.KWh
		}
	}
	return total
}

// Sum returns the total of window w at now.
func Sum(readings []models.Reading, w Window, now time.Time) float64 {
	return WindowedSum(readings, w.Since(now))
}

// Summarize computes all six windows at now.
func Summarize(readings []models.Reading, now time.Time) models.Usage {
	return models.Usage{
		Today:       Sum(readings, Today, now),
		Last24Hours: Sum(readings, Last24Hours, now),
		ThisWeek:    Sum(readings, ThisWeek, now),
		Last7Days:   Sum(readings, Last7Days, now),
		ThisMonth:   Sum(readings, ThisMonth, now),
		Last30Days:  Sum(readings, Last30Days, now),
		Readings:    len(readings),
		ComputedAt:  now,
	}
}

// Value returns the total stored in u for window w.
func Value(u models.Usage, w Window) float64 {
	switch w {
	case Today:
		return u.Today
	case Last24Hours:
		return u.Last24Hours
	case ThisWeek:
		return u.ThisWeek
	case Last7Days:
		return u.Last7Days
	case ThisMonth:
		return u.ThisMonth
	case Last30Days:
		return u.Last30Days
	}
	return 0
}
