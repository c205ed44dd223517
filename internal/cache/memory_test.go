package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p := NewMemoryProvider()
	p.now = func() time.Time { return now }
	ctx := context.Background()

	if err := p.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := p.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("unexpected get result %q %v", got, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
}

func TestMemoryProviderGetManySkipsMissingAndExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p := NewMemoryProvider()
	p.now = func() time.Time { return now }
	ctx := context.Background()

	_ = p.Set(ctx, "a", []byte("1"), 0)
	_ = p.Set(ctx, "b", []byte("2"), time.Second)
	now = now.Add(time.Minute)

	got, err := p.GetMany(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(got) != 1 || string(got["a"]) != "1" {
		t.Fatalf("expected only the live key, got %v", got)
	}

	if err := p.Del(ctx, "a", "c"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := p.Get(ctx, "a"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete")
	}
}

func TestJSONHelpersRoundTrip(t *testing.T) {
	type condition struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	p := NewMemoryProvider()
	ctx := context.Background()

	if err := SetJSON(ctx, p, "c:1", condition{ID: "1", Name: "errors"}, 0); err != nil {
		t.Fatalf("set json: %v", err)
	}
	_ = p.Set(ctx, "c:2", []byte("not json"), 0)

	got, err := GetManyJSON[condition](ctx, p, []string{"c:1", "c:2"})
	if err != nil {
		t.Fatalf("get json: %v", err)
	}
	if len(got) != 1 || got["c:1"].Name != "errors" {
		t.Fatalf("expected one decoded condition, got %+v", got)
	}
}
