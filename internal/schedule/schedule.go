// Package schedule turns branch opening hours into fixed-size booking windows and reports how
// much capacity is left in each of them. All timestamps carry the fixed +07:00 offset.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidArgument is returned for malformed times, non-positive window lengths or negative capacities.
var ErrInvalidArgument = errors.New("invalid argument")

// Zone is the fixed UTC+7 offset every window is expressed in, independent of the host zone.
var Zone = time.FixedZone("UTC+07:00", 7*60*60)

// slotEpoch anchors the normalization grid.
var slotEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, Zone)

const minutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time expressed in minutes after midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" (24h). "HH:MM:SS" is accepted when the seconds are zero.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: time of day %q must be HH:MM", ErrInvalidArgument, s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: invalid hour in %q", ErrInvalidArgument, s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: invalid minute in %q", ErrInvalidArgument, s)
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec != 0 {
			return 0, fmt.Errorf("%w: seconds are not supported in %q", ErrInvalidArgument, s)
		}
	}
	return TimeOfDay(hour*60 + minute), nil
}

// String formats the time as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// ParseDate parses a YYYY-MM-DD calendar date in Zone.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(s), Zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidArgument, s)
	}
	return d, nil
}

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns End - Start.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// BuildWindows tiles the opening hours of date into consecutive windows of windowMinutes.
// A close time at or before the open time means the shift ends on the following day.
// Only whole windows are returned; a shorter remainder before close is dropped.
func BuildWindows(date time.Time, open, close TimeOfDay, windowMinutes int) ([]TimeWindow, error) {
	if windowMinutes <= 0 {
		return nil, fmt.Errorf("%w: window length must be positive, got %d", ErrInvalidArgument, windowMinutes)
	}
	if !validTimeOfDay(open) || !validTimeOfDay(close) {
		return nil, fmt.Errorf("%w: time of day out of range", ErrInvalidArgument)
	}

	y, m, d := date.In(Zone).Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, Zone)
	openAt := midnight.Add(time.Duration(open) * time.Minute)
	closeAt := midnight.Add(time.Duration(close) * time.Minute)
	if close <= open {
		closeAt = closeAt.AddDate(0, 0, 1)
	}

	step := time.Duration(windowMinutes) * time.Minute
	windows := make([]TimeWindow, 0, int(closeAt.Sub(openAt)/step))
	for start := openAt; !start.Add(step).After(closeAt); start = start.Add(step) {
		windows = append(windows, TimeWindow{Start: start, End: start.Add(step)})
	}
	return windows, nil
}

// FindWindow returns the window containing t, if any.
func FindWindow(windows []TimeWindow, t time.Time) (TimeWindow, bool) {
	for _, w := range windows {
		if w.Contains(t) {
			return w, true
		}
	}
	return TimeWindow{}, false
}

func validTimeOfDay(t TimeOfDay) bool {
	return t >= 0 && t < minutesPerDay
}

// AlignedToGrid reports whether t starts a windowMinutes slot on every day. It requires the
// window length to divide a day evenly.
func AlignedToGrid(t TimeOfDay, windowMinutes int) bool {
	if windowMinutes <= 0 || minutesPerDay%windowMinutes != 0 {
		return false
	}
	return int(t)%windowMinutes == 0
}
