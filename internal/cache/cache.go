// Package cache implements the multi-value TTL-expiring store for
// learned records: a bounded-fan-out mapping from query fingerprint to
// a short list of responses.
//
// Key lifecycle (idle timeout + key capacity) is delegated to
// github.com/jellydator/ttlcache/v3, whose touch-on-hit behavior gives
// the global idle timeout: a fingerprint neither read nor written
// within the idle window is evicted.
// Per-value TTL and the bounded-fan-out (max values per key) semantics
// are not something a single ttlcache instance expresses, so this
// package layers a small bucket of entries on top of each ttlcache key.
package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/pebblemesh/beacon/internal/types"
)

// Config bounds the cache.
type Config struct {
	// Idle is the duration a key may go untouched before eviction.
	Idle time.Duration
	// Capacity is the maximum number of distinct keys held at once.
	Capacity uint64
	// MaxValuesPerKey bounds the fan-out of a single key's value list.
	MaxValuesPerKey int
	// TTL caps every value's time-to-live and expiry; zero leaves them
	// uncapped.
	TTL time.Duration
}

type entry struct {
	resp types.Response
	ttl  uint32
}

// Cache is the bounded, multi-value, TTL-expiring store keyed by
// query fingerprint.
type Cache struct {
	cfg   Config
	byKey *ttlcache.Cache[types.Fingerprint, []entry]
}

// New constructs a Cache per cfg and starts its background janitor
// goroutine (ttlcache's automatic expired-item eviction).
func New(cfg Config) *Cache {
	byKey := ttlcache.New[types.Fingerprint, []entry](
		ttlcache.WithTTL[types.Fingerprint, []entry](cfg.Idle),
		ttlcache.WithCapacity[types.Fingerprint, []entry](cfg.Capacity),
	)
	go byKey.Start()

	return &Cache{cfg: cfg, byKey: byKey}
}

// Close stops the cache's background janitor.
func (c *Cache) Close() {
	c.byKey.Stop()
}

// Insert adds (k, v, ttlSecs) to the cache. A value payload-equal to one
// already present for k is coalesced, not duplicated; only its TTL is
// refreshed. Otherwise v is appended, evicting the oldest entry first if
// the bucket is already at MaxValuesPerKey. The value's lifetime is
// capped at the cache-wide TTL, so a peer advertising an oversized
// record TTL cannot pin an entry past the bound.
func (c *Cache) Insert(k types.Fingerprint, v types.Response, ttlSecs uint32) {
	if c.cfg.TTL > 0 {
		if maxSecs := uint32(c.cfg.TTL / time.Second); ttlSecs > maxSecs {
			ttlSecs = maxSecs
		}
		if limit := time.Now().Add(c.cfg.TTL); v.EndsAt.After(limit) {
			v.EndsAt = limit
		}
	}

	item := c.byKey.Get(k) // touches the key, extending its idle window
	var bucket []entry
	if item != nil {
		bucket = item.Value()
	}

	for i, e := range bucket {
		if e.resp.SamePayload(v) {
			bucket[i] = entry{resp: v, ttl: ttlSecs}
			c.byKey.Set(k, bucket, ttlcache.DefaultTTL)
			return
		}
	}

	if c.cfg.MaxValuesPerKey > 0 && len(bucket) >= c.cfg.MaxValuesPerKey {
		bucket = bucket[1:]
	}
	bucket = append(bucket, entry{resp: v, ttl: ttlSecs})
	c.byKey.Set(k, bucket, ttlcache.DefaultTTL)
}

// Get returns every non-expired response cached for k.
func (c *Cache) Get(k types.Fingerprint) []types.Response {
	item := c.byKey.Get(k)
	if item == nil {
		return nil
	}
	now := time.Now()
	out := make([]types.Response, 0, len(item.Value()))
	for _, e := range item.Value() {
		if e.resp.EndsAt.After(now) {
			out = append(out, e.resp)
		}
	}
	return out
}

// Iter calls yield for every (key, response, ttlSecs) triple still
// unexpired at call time, stopping early if yield returns false.
func (c *Cache) Iter(yield func(k types.Fingerprint, v types.Response, ttlSecs uint32) bool) {
	now := time.Now()
	c.byKey.Range(func(item *ttlcache.Item[types.Fingerprint, []entry]) bool {
		for _, e := range item.Value() {
			if !e.resp.EndsAt.After(now) {
				continue
			}
			if !yield(item.Key(), e.resp, e.ttl) {
				return false
			}
		}
		return true
	})
}
