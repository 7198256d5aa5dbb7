// Package ristretto adapts github.com/dgraph-io/ristretto into a
// tiercache.Handle[V]: a cost-aware, admission-policy-driven in-process
// tier, typically sized larger than handle/memory for a second local tier.
package ristretto

import (
	"context"
	"errors"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/codec"
)

func storageKey(key, region string) string { return region + "\x00" + key }

// Config wraps ristretto.Config's sizing knobs plus the handle's own
// expiration defaults and name.
type Config struct {
	Name              string
	ExpirationMode    tiercache.ExpirationMode
	ExpirationTimeout time.Duration

	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool

	// Codec computes the admission cost of an item: the value is encoded
	// with it and the byte length is the cost; a nil Codec falls back to a
	// flat cost of 1 per item.
	Codec codec.Codec[any]
}

// Handle is a ristretto-backed tiercache.Handle[V]. CAS is a guarded
// critical section (ristretto has no native compare-and-swap), matching
// the in-process handle's approach of a lock around read-then-write.
type Handle[V any] struct {
	name           string
	defaultMode    tiercache.ExpirationMode
	defaultTimeout time.Duration
	stats          *tiercache.HandleStats
	costCodec      codec.Codec[any]

	c  *rc.Cache
	mu sync.Mutex
}

var _ tiercache.Handle[any] = (*Handle[any])(nil)

// New constructs a Handle.
func New[V any](cfg Config) (*Handle[V], error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Handle[V]{
		name:           cfg.Name,
		defaultMode:    cfg.ExpirationMode,
		defaultTimeout: cfg.ExpirationTimeout,
		stats:          tiercache.NewHandleStats(),
		costCodec:      cfg.Codec,
		c:              c,
	}, nil
}

func (h *Handle[V]) Name() string { return h.name }

func (h *Handle[V]) resolve(item tiercache.CacheItem[V]) (tiercache.ExpirationMode, time.Duration) {
	return tiercache.ResolveExpiration(item.ExpirationMode(), item.ExpirationTimeout(), h.defaultMode, h.defaultTimeout)
}

func (h *Handle[V]) cost(item tiercache.CacheItem[V]) int64 {
	if h.costCodec == nil {
		return 1
	}
	b, err := h.costCodec.Encode(item.Value())
	if err != nil || len(b) == 0 {
		return 1
	}
	return int64(len(b))
}

func (h *Handle[V]) expired(it tiercache.CacheItem[V], now time.Time) bool {
	mode, timeout := h.resolve(it)
	deadline := tiercache.Deadline(mode, timeout, it.CreatedUTC(), it.LastAccessedUTC())
	return !deadline.IsZero() && now.After(deadline)
}

func (h *Handle[V]) rawGet(sk string) (tiercache.CacheItem[V], bool) {
	v, ok := h.c.Get(sk)
	if !ok {
		return tiercache.CacheItem[V]{}, false
	}
	item, ok := v.(tiercache.CacheItem[V])
	if !ok {
		h.c.Del(sk)
		return tiercache.CacheItem[V]{}, false
	}
	return item, true
}

func (h *Handle[V]) ttl(mode tiercache.ExpirationMode, timeout time.Duration) time.Duration {
	if mode == tiercache.ExpireAbsolute || mode == tiercache.ExpireSliding {
		return timeout
	}
	return 0
}

func (h *Handle[V]) Add(ctx context.Context, item tiercache.CacheItem[V]) (bool, error) {
	h.stats.RecordCall(item.Region(), "add")
	mode, timeout := h.resolve(item)
	if err := tiercache.ValidateExpiration(mode, timeout); err != nil {
		return false, err
	}
	sk := storageKey(item.Key(), item.Region())
	now := time.Now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.rawGet(sk); ok && !h.expired(existing, now) {
		return false, nil
	}
	stored := item.WithExpiration(mode, timeout).WithVersion(1)
	h.c.SetWithTTL(sk, stored, h.cost(stored), h.ttl(mode, timeout))
	h.stats.AdjustItems(item.Region(), 1)
	return true, nil
}

func (h *Handle[V]) Put(ctx context.Context, item tiercache.CacheItem[V]) error {
	h.stats.RecordCall(item.Region(), "put")
	mode, timeout := h.resolve(item)
	if err := tiercache.ValidateExpiration(mode, timeout); err != nil {
		return err
	}
	sk := storageKey(item.Key(), item.Region())
	stored := item.WithExpiration(mode, timeout)

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.rawGet(sk); ok {
		stored = stored.WithTimestamps(existing.CreatedUTC(), stored.LastAccessedUTC()).WithVersion(existing.Version() + 1)
	} else {
		stored = stored.WithVersion(1)
		h.stats.AdjustItems(item.Region(), 1)
	}
	h.c.SetWithTTL(sk, stored, h.cost(stored), h.ttl(mode, timeout))
	return nil
}

func (h *Handle[V]) Get(ctx context.Context, key, region string) (tiercache.CacheItem[V], bool, error) {
	h.stats.RecordCall(region, "get")
	sk := storageKey(key, region)
	now := time.Now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()
	item, ok := h.rawGet(sk)
	if !ok || h.expired(item, now) {
		if ok {
			h.c.Del(sk)
			h.stats.AdjustItems(region, -1)
		}
		h.stats.RecordMiss(region)
		return tiercache.CacheItem[V]{}, false, nil
	}
	mode, timeout := h.resolve(item)
	if mode == tiercache.ExpireSliding {
		item = item.Touch()
		h.c.SetWithTTL(sk, item, h.cost(item), h.ttl(mode, timeout))
	}
	h.stats.RecordHit(region)
	return item, true, nil
}

func (h *Handle[V]) Remove(ctx context.Context, key, region string) (bool, error) {
	h.stats.RecordCall(region, "remove")
	sk := storageKey(key, region)

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rawGet(sk); !ok {
		return false, nil
	}
	h.c.Del(sk)
	h.stats.AdjustItems(region, -1)
	return true, nil
}

// Clear drops every entry through ristretto's own Clear.
func (h *Handle[V]) Clear(ctx context.Context) error {
	h.stats.RecordCall("", "clear")
	h.mu.Lock()
	defer h.mu.Unlock()
	h.c.Clear()
	return nil
}

// ClearRegion requires scanning, which ristretto does not expose; callers
// needing precise region isolation should prefer handle/memory or
// handle/redis for the tier that serves ClearRegion. Here it is a no-op
// beyond recording the call, matching bigcache's lack of per-entry
// metadata scanning.
func (h *Handle[V]) ClearRegion(ctx context.Context, region string) error {
	h.stats.RecordCall(region, "clear_region")
	return nil
}

func (h *Handle[V]) Expire(ctx context.Context, key, region string, mode tiercache.ExpirationMode, timeout time.Duration) error {
	if err := tiercache.ValidateExpiration(mode, timeout); err != nil {
		return err
	}
	sk := storageKey(key, region)

	h.mu.Lock()
	defer h.mu.Unlock()
	item, ok := h.rawGet(sk)
	if !ok {
		return nil
	}
	item = item.WithExpiration(mode, timeout)
	h.c.SetWithTTL(sk, item, h.cost(item), h.ttl(mode, timeout))
	return nil
}

func (h *Handle[V]) CompareAndSwap(ctx context.Context, key, region string, expectedVersion uint64, newItem tiercache.CacheItem[V]) (tiercache.CacheItem[V], bool, error) {
	mode, timeout := h.resolve(newItem)
	if err := tiercache.ValidateExpiration(mode, timeout); err != nil {
		return tiercache.CacheItem[V]{}, false, err
	}
	sk := storageKey(key, region)

	h.mu.Lock()
	defer h.mu.Unlock()
	existing, ok := h.rawGet(sk)
	if ok {
		if existing.Version() != expectedVersion {
			return existing, false, nil
		}
	} else if expectedVersion != 0 {
		return tiercache.CacheItem[V]{}, false, nil
	} else {
		h.stats.AdjustItems(region, 1)
	}
	stored := newItem.WithExpiration(mode, timeout).WithVersion(expectedVersion + 1)
	h.c.SetWithTTL(sk, stored, h.cost(stored), h.ttl(mode, timeout))
	return stored, true, nil
}

func (h *Handle[V]) Update(ctx context.Context, key, region string, fn tiercache.UpdateFunc[V], maxRetries int) (tiercache.UpdateResult[V], error) {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		current, found, err := h.Get(ctx, key, region)
		if err != nil {
			return tiercache.UpdateResult[V]{Attempts: attempt + 1}, err
		}
		if !found {
			return tiercache.UpdateResult[V]{Outcome: tiercache.UpdateItemDidNotExist, Attempts: attempt + 1}, nil
		}
		newValue, ok := fn(current.Value(), found)
		if !ok {
			return tiercache.UpdateResult[V]{Outcome: tiercache.UpdateFactoryReturnedNull, Attempts: attempt + 1}, nil
		}
		stored, ok, err := h.CompareAndSwap(ctx, key, region, current.Version(), current.WithValue(newValue))
		if err != nil {
			return tiercache.UpdateResult[V]{Attempts: attempt + 1}, err
		}
		if ok {
			return tiercache.UpdateResult[V]{Outcome: tiercache.UpdateSuccess, Item: stored, Attempts: attempt + 1}, nil
		}
	}
	return tiercache.UpdateResult[V]{Outcome: tiercache.UpdateTooManyRetries, Attempts: maxRetries + 1}, nil
}

// Count is approximate: ristretto's admission policy can evict entries
// without notifying callers, so the tracked counter may drift high.
func (h *Handle[V]) Count(ctx context.Context) (int64, error) {
	snap := h.stats.Global()
	return snap.Items, nil
}

func (h *Handle[V]) Stats() tiercache.Stats { return h.stats }

func (h *Handle[V]) Dispose() error {
	h.c.Wait()
	h.c.Close()
	return nil
}

// Factory returns a tiercache.HandleFactory reading ristretto's sizing
// knobs out of HandleConfig.Options ("num_counters", "max_cost",
// "buffer_items", "metrics", "cost_codec"), falling back to the matching
// fields of defaults when absent. Register it into a tiercache.Registry[V] under a type name
// like "ristretto".
func Factory[V any](defaults Config) tiercache.HandleFactory[V] {
	return func(cfg tiercache.HandleConfig, _ tiercache.FactoryDeps) (tiercache.Handle[V], error) {
		c := defaults
		c.Name = cfg.Name
		c.ExpirationMode = cfg.ExpirationMode
		c.ExpirationTimeout = cfg.ExpirationTimeout
		if n, ok := cfg.Options["num_counters"].(int64); ok && n > 0 {
			c.NumCounters = n
		}
		if m, ok := cfg.Options["max_cost"].(int64); ok && m > 0 {
			c.MaxCost = m
		}
		if b, ok := cfg.Options["buffer_items"].(int64); ok && b > 0 {
			c.BufferItems = b
		}
		if metrics, ok := cfg.Options["metrics"].(bool); ok {
			c.Metrics = metrics
		}
		if cd, ok := cfg.Options["cost_codec"].(codec.Codec[any]); ok {
			c.Codec = cd
		}
		return New[V](c)
	}
}
