package schedule

import (
	"fmt"
	"time"
)

// SlotAvailability reports the remaining capacity of one window.
type SlotAvailability struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Capacity    int       `json:"capacity"`
	UsedCount   int       `json:"used_count"`
	Remaining   int       `json:"remaining"`
	IsFull      bool      `json:"is_full"`
}

// NormalizeToSlot floors t to the start of its windowMinutes-long slot on a grid anchored at
// 2000-01-01T00:00:00+07:00. Timestamps in the same slot yield equal keys on any day.
func NormalizeToSlot(t time.Time, windowMinutes int) (time.Time, error) {
	if windowMinutes <= 0 {
		return time.Time{}, fmt.Errorf("%w: window length must be positive, got %d", ErrInvalidArgument, windowMinutes)
	}

	elapsed := int64(t.Sub(slotEpoch) / time.Minute)
	if t.Before(slotEpoch.Add(time.Duration(elapsed) * time.Minute)) {
		elapsed--
	}
	slots := floorDiv(elapsed, int64(windowMinutes))

	return slotEpoch.Add(time.Duration(slots*int64(windowMinutes)) * time.Minute), nil
}

// Aggregate counts the timestamps falling into each window and derives the remaining capacity.
// Windows on the slot grid are counted by their normalised slot start. Any other window, such
// as one from opening hours that are not a multiple of the window length, is counted by
// containment so every BuildWindows result is accepted.
func Aggregate(timestamps []time.Time, windows []TimeWindow, capacityPerWindow int) ([]SlotAvailability, error) {
	if capacityPerWindow < 0 {
		return nil, fmt.Errorf("%w: capacity must not be negative, got %d", ErrInvalidArgument, capacityPerWindow)
	}

	result := make([]SlotAvailability, 0, len(windows))
	if len(windows) == 0 {
		return result, nil
	}

	windowMinutes := int(windows[0].Duration() / time.Minute)
	if windowMinutes <= 0 {
		return nil, fmt.Errorf("%w: windows must be at least one minute long", ErrInvalidArgument)
	}

	used := make(map[int64]int, len(timestamps))
	for _, ts := range timestamps {
		key, err := NormalizeToSlot(ts, windowMinutes)
		if err != nil {
			return nil, err
		}
		used[key.Unix()]++
	}

	for _, w := range windows {
		if !w.End.After(w.Start) {
			return nil, fmt.Errorf("%w: window starting %s is empty", ErrInvalidArgument, w.Start.Format(time.RFC3339))
		}
		key, err := NormalizeToSlot(w.Start, windowMinutes)
		if err != nil {
			return nil, err
		}
		var count int
		if key.Equal(w.Start) && w.Duration() == time.Duration(windowMinutes)*time.Minute {
			count = used[key.Unix()]
		} else {
			count = countWithin(timestamps, w)
		}
		remaining := capacityPerWindow - count
		if remaining < 0 {
			remaining = 0
		}
		result = append(result, SlotAvailability{
			WindowStart: w.Start,
			WindowEnd:   w.End,
			Capacity:    capacityPerWindow,
			UsedCount:   count,
			Remaining:   remaining,
			IsFull:      remaining == 0,
		})
	}
	return result, nil
}

func countWithin(timestamps []time.Time, w TimeWindow) int {
	n := 0
	for _, ts := range timestamps {
		if w.Contains(ts) {
			n++
		}
	}
	return n
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
