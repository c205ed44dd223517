package utils

import (
	"testing"
	"time"
)

func TestTrailingWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	start, end := TrailingWindow(now, 15*time.Minute)
	if end != now.UnixMilli() {
		t.Fatalf("unexpected end %d", end)
	}
	if end-start != (15 * time.Minute).Milliseconds() {
		t.Fatalf("unexpected span %d", end-start)
	}
	if MillisToTime(end).Unix() != now.Unix() {
		t.Fatalf("millis conversion mismatch")
	}
}

func TestTrailingWindowDefaultsSpan(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	start, end := TrailingWindow(now, 0)
	if end-start != (30 * time.Minute).Milliseconds() {
		t.Fatalf("expected default 30m span, got %d", end-start)
	}
}
