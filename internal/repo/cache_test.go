package repo

import (
	"context"
	"sync"
	"time"

	"github.com/miradorstack/mirador-flows/internal/cache"
)

// recordingCache wraps the in-memory provider and counts batched lookups.
type recordingCache struct {
	*cache.MemoryProvider

	mu      sync.Mutex
	lookups [][]string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{MemoryProvider: cache.NewMemoryProvider()}
}

func (r *recordingCache) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	r.mu.Lock()
	r.lookups = append(r.lookups, append([]string(nil), keys...))
	r.mu.Unlock()
	return r.MemoryProvider.GetMany(ctx, keys)
}

func (r *recordingCache) lookupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lookups)
}

func (r *recordingCache) seed(ctx context.Context, accountID int64, condition Condition) {
	_ = cache.SetJSON(ctx, r, conditionCacheKey(accountID, condition.ID), condition, time.Minute)
}
