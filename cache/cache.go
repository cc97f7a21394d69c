// Package cache implements a generic key-value cache with single-flight
// loading, used by remote storage backends to coalesce concurrent reads of
// the same key into one upstream call.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Policy controls when an expired entry is refreshed relative to the access
// that observed it as expired.
type Policy uint8

const (
	// RefreshAfterAccess serves the stale value immediately and refreshes
	// in the background; the caller never waits on a refresh.
	RefreshAfterAccess Policy = iota
	// RefreshBeforeAccess blocks the caller until the refresh completes.
	// Concurrent callers for the same key attach to the same refresh.
	RefreshBeforeAccess
)

// Loader is asked to produce the value for a key on a cache miss or
// refresh. A false return means the key has no value; that result is never
// cached as a long-term entry.
type Loader[K comparable, V any] interface {
	Load(ctx context.Context, key K) (V, bool)
	LoadAll(ctx context.Context, keys []K) map[K]V
}

type entry[V any] struct {
	value     V
	has       bool
	expiresAt time.Time
}

func (e *entry[V]) fresh(now time.Time) bool { return now.Before(e.expiresAt) }

// Cache is a generic key-value cache with single-flight loading.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*entry[V]

	loader Loader[K, V]
	ttl    time.Duration
	policy Policy
	group  singleflight.Group
}

// New builds a Cache backed by loader, with entries considered fresh for
// ttl and refreshed according to policy.
func New[K comparable, V any](loader Loader[K, V], ttl time.Duration, policy Policy) *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]*entry[V]),
		loader:  loader,
		ttl:     ttl,
		policy:  policy,
	}
}

func flightKey[K comparable](key K) string {
	return fmt.Sprintf("%v", key)
}

// Get returns the value for key, loading or refreshing it as needed
// according to the cache's Policy.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	now := time.Now()
	if ok && e.fresh(now) {
		return e.value, e.has
	}

	if !ok || !e.has {
		return c.loadSync(ctx, key)
	}

	switch c.policy {
	case RefreshBeforeAccess:
		return c.loadSync(ctx, key)
	default:
		c.refreshAsync(key)
		return e.value, e.has
	}
}

// GetAll is a best-effort batch form of Get: keys present and fresh are
// served from cache, everything else is loaded in one LoadAll call.
func (c *Cache[K, V]) GetAll(ctx context.Context, keys []K) map[K]V {
	out := make(map[K]V, len(keys))
	var miss []K

	now := time.Now()
	c.mu.RLock()
	for _, k := range keys {
		if e, ok := c.entries[k]; ok && e.fresh(now) {
			if e.has {
				out[k] = e.value
			}
			continue
		}
		miss = append(miss, k)
	}
	c.mu.RUnlock()

	if len(miss) == 0 {
		return out
	}

	loaded := c.loader.LoadAll(ctx, miss)
	c.mu.Lock()
	for _, k := range miss {
		v, ok := loaded[k]
		c.entries[k] = &entry[V]{value: v, has: ok, expiresAt: c.expiryFor(ok)}
		if ok {
			out[k] = v
		}
	}
	c.mu.Unlock()

	return out
}

func (c *Cache[K, V]) expiryFor(loadedOK bool) time.Time {
	if !loadedOK {
		// A failed load is never cached long-term: the next access must
		// retry, not serve a stale absence.
		return time.Now()
	}
	return time.Now().Add(c.ttl)
}

func (c *Cache[K, V]) loadSync(ctx context.Context, key K) (V, bool) {
	v, err, _ := c.group.Do(flightKey(key), func() (interface{}, error) {
		val, ok := c.loader.Load(ctx, key)
		c.store(key, val, ok)
		return result[V]{val, ok}, nil
	})
	if err != nil {
		var zero V
		return zero, false
	}
	r := v.(result[V])
	return r.value, r.ok
}

// refreshAsync triggers a background refresh for key. Single-flight
// deduplicates concurrent refresh triggers for the same key, satisfying the
// "at most one refresh in flight" invariant without a separate flag.
func (c *Cache[K, V]) refreshAsync(key K) {
	go c.group.Do(flightKey(key), func() (interface{}, error) {
		val, ok := c.loader.Load(context.Background(), key)
		c.store(key, val, ok)
		return result[V]{val, ok}, nil
	})
}

func (c *Cache[K, V]) store(key K, val V, ok bool) {
	c.mu.Lock()
	c.entries[key] = &entry[V]{value: val, has: ok, expiresAt: c.expiryFor(ok)}
	c.mu.Unlock()
}

// Set installs value directly into the cache, bypassing the loader.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.entries[key] = &entry[V]{value: value, has: true, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate discards any cached value for key.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll discards every cached entry.
func (c *Cache[K, V]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[K]*entry[V])
	c.mu.Unlock()
}

type result[V any] struct {
	value V
	ok    bool
}
