package utils

import "time"

// MillisToTime converts epoch milliseconds into a UTC time.
func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// TrailingWindow returns the epoch-millis bounds of [now-span, now].
func TrailingWindow(now time.Time, span time.Duration) (int64, int64) {
	if span <= 0 {
		span = 30 * time.Minute
	}
	return now.Add(-span).UnixMilli(), now.UnixMilli()
}

// DurationMinutes converts a pair of timestamps into minute duration.
func DurationMinutes(start, end time.Time) float64 {
	if end.Before(start) {
		start, end = end, start
	}
	return end.Sub(start).Minutes()
}
