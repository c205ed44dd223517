package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Provider is the byte cache used for slow-changing telemetry metadata such
// as alert condition details.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// GetMany returns the values present for keys; missing keys are absent
	// from the result rather than reported as errors.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider stores nothing.
type NoopProvider struct{}

func (NoopProvider) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (NoopProvider) GetMany(context.Context, []string) (map[string][]byte, error) {
	return map[string][]byte{}, nil
}

func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoopProvider) Del(context.Context, ...string) error { return nil }

func (NoopProvider) Close() error { return nil }

// GetManyJSON decodes every cached value for keys into T. Entries that fail
// to decode are treated as misses.
func GetManyJSON[T any](ctx context.Context, p Provider, keys []string) (map[string]T, error) {
	raw, err := p.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(raw))
	for key, data := range raw {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			continue
		}
		out[key] = v
	}
	return out, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, p Provider, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Set(ctx, key, data, ttl)
}
