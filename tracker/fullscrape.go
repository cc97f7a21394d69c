package tracker

import (
	"context"
	"time"

	"github.com/bitswarm/tracker/cache"
	"github.com/bitswarm/tracker/executor"
)

// fullScrapeLoader adapts the Worker's FullScrapeTask into the cache
// package's Loader contract. There is exactly one key: the empty struct.
type fullScrapeLoader struct {
	worker *executor.Worker
}

func (l *fullScrapeLoader) Load(ctx context.Context, _ struct{}) ([]byte, bool) {
	out, err := l.worker.Submit(ctx, executor.FullScrapeTask{})
	if err != nil {
		return nil, false
	}
	fo, ok := out.(executor.FullScrapeOutput)
	if !ok {
		return nil, false
	}
	return fo.Payload, true
}

func (l *fullScrapeLoader) LoadAll(ctx context.Context, keys []struct{}) map[struct{}][]byte {
	out := make(map[struct{}][]byte, len(keys))
	v, ok := l.Load(ctx, struct{}{})
	if !ok {
		return out
	}
	for _, k := range keys {
		out[k] = v
	}
	return out
}

// FullScrapeCache implements spec §4.4: the precomputed full-scrape payload
// is refreshed at most once at a time regardless of how many concurrent
// scrapers ask for it, by delegating single-flight coalescing to the
// generic cache package.
type FullScrapeCache struct {
	c *cache.Cache[struct{}, []byte]
}

// NewFullScrapeCache builds a FullScrapeCache that refreshes through
// worker, keeping a payload fresh for ttl under policy.
func NewFullScrapeCache(worker *executor.Worker, ttl time.Duration, policy cache.Policy) *FullScrapeCache {
	return &FullScrapeCache{
		c: cache.New[struct{}, []byte](&fullScrapeLoader{worker: worker}, ttl, policy),
	}
}

// Get returns the current full-scrape payload, triggering a refresh per the
// cache's Policy if it is missing or stale.
func (f *FullScrapeCache) Get(ctx context.Context) ([]byte, bool) {
	return f.c.Get(ctx, struct{}{})
}
