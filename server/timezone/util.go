// Package timezone resolves the calendar boundaries dashboards are computed
// against: days, ISO weeks and symmetric windows around today.
//
// Shifts are stored as unix seconds; boundaries are taken in the configured
// zone so that "this week" matches the planners' calendar.
package timezone

import (
	"fmt"
	"time"
)

// UTC is the default zone.
var UTC = time.UTC

// ParseTimezone parses an IANA timezone identifier (e.g., "Europe/Amsterdam").
// If the timezone is invalid, returns UTC and an error.
func ParseTimezone(tz string) (*time.Location, error) {
	if tz == "" || tz == "UTC" {
		return UTC, nil
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return UTC, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	return loc, nil
}

// StartOfDay returns the start of the day (00:00:00) in the given timezone.
func StartOfDay(t time.Time, tz *time.Location) time.Time {
	if tz == nil {
		tz = UTC
	}
	local := t.In(tz)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz)
}

// WeekStart returns Monday 00:00 of the week containing t.
func WeekStart(t time.Time, tz *time.Location) time.Time {
	day := StartOfDay(t, tz)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return day.AddDate(0, 0, 1-weekday)
}

// Window is the half-open range [Start, End). Adjacent windows share no instant.
type Window struct {
	Start time.Time
	End   time.Time
}

// Around returns [today-days, today+days] with both ends at the start of their day.
func Around(now time.Time, days int, tz *time.Location) Window {
	today := StartOfDay(now, tz)
	return Window{Start: today.AddDate(0, 0, -days), End: today.AddDate(0, 0, days)}
}

// Before returns the window of the same length ending where w starts.
func (w Window) Before() Window {
	return Window{Start: w.Start.Add(-w.End.Sub(w.Start)), End: w.Start}
}

// Unix returns both ends as unix seconds.
func (w Window) Unix() (int64, int64) {
	return w.Start.Unix(), w.End.Unix()
}

// Date formats t as YYYY-MM-DD in tz.
func Date(t time.Time, tz *time.Location) string {
	if tz == nil {
		tz = UTC
	}
	return t.In(tz).Format(time.DateOnly)
}
