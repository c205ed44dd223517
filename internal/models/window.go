package models

import (
	"fmt"
	"time"
)

// TimeWindow bounds a status query in epoch milliseconds.
type TimeWindow struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// WindowFromTimes converts wall-clock bounds into a TimeWindow.
func WindowFromTimes(start, end time.Time) TimeWindow {
	return TimeWindow{Start: start.UnixMilli(), End: end.UnixMilli()}
}

// Valid reports whether the window is non-empty.
func (w TimeWindow) Valid() bool {
	return w.Start > 0 && w.End > w.Start
}

// Key is the cache key of the window.
func (w TimeWindow) Key() string {
	return fmt.Sprintf("%d:%d", w.Start, w.End)
}

// Overlaps reports whether an interval [openedAt, closedAt] intersects w.
// A zero closedAt means the interval is still open.
func (w TimeWindow) Overlaps(openedAt, closedAt int64) bool {
	if openedAt > w.End {
		return false
	}
	return closedAt == 0 || closedAt >= w.Start
}

// TimeBand is a playback window with its derived cache key.
type TimeBand struct {
	TimeWindow
	Key string `json:"key"`
}

// NewTimeBand derives the band for a window.
func NewTimeBand(w TimeWindow) TimeBand {
	return TimeBand{TimeWindow: w, Key: w.Key()}
}

// SpanWindow returns the smallest window covering every band.
func SpanWindow(bands []TimeBand) TimeWindow {
	var span TimeWindow
	for i, band := range bands {
		if i == 0 || band.Start < span.Start {
			span.Start = band.Start
		}
		if i == 0 || band.End > span.End {
			span.End = band.End
		}
	}
	return span
}
