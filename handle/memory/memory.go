// Package memory implements an in-process tiercache.Handle over a map
// guarded by a single mutex, with a background sweep goroutine for lazy
// expiration — the fastest, most local tier in a typical configuration.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/tiercache"
)

type entry[V any] struct {
	item tiercache.CacheItem[V]
}

func storageKey(key, region string) string { return region + "\x00" + key }

// Config configures a Handle's background sweep and default expiration.
type Config struct {
	// Name identifies the handle within a manager.
	Name string
	// ExpirationMode/ExpirationTimeout are used whenever an item's own
	// mode is ExpireDefault.
	ExpirationMode    tiercache.ExpirationMode
	ExpirationTimeout time.Duration
	// SweepInterval triggers a background pass evicting expired entries.
	// <=0 disables the sweep; entries still expire lazily on read.
	SweepInterval time.Duration
}

// Handle is an in-process tiercache.Handle[V].
type Handle[V any] struct {
	name              string
	defaultMode       tiercache.ExpirationMode
	defaultTimeout    time.Duration
	stats             *tiercache.HandleStats

	mu      sync.Mutex
	items   map[string]entry[V]
	regions map[string]struct{}

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

var _ tiercache.Handle[any] = (*Handle[any])(nil)

// New constructs a Handle, starting its background sweep if
// cfg.SweepInterval > 0.
func New[V any](cfg Config) *Handle[V] {
	h := &Handle[V]{
		name:           cfg.Name,
		defaultMode:    cfg.ExpirationMode,
		defaultTimeout: cfg.ExpirationTimeout,
		stats:          tiercache.NewHandleStats(),
		items:          make(map[string]entry[V]),
		regions:        make(map[string]struct{}),
	}
	if cfg.SweepInterval > 0 {
		h.ticker = time.NewTicker(cfg.SweepInterval)
		h.stopCh = make(chan struct{})
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ticker.C:
					h.sweep()
				case <-h.stopCh:
					return
				}
			}
		}()
	}
	return h
}

func (h *Handle[V]) Name() string { return h.name }

func (h *Handle[V]) resolve(item tiercache.CacheItem[V]) (tiercache.ExpirationMode, time.Duration) {
	return tiercache.ResolveExpiration(item.ExpirationMode(), item.ExpirationTimeout(), h.defaultMode, h.defaultTimeout)
}

func (h *Handle[V]) expired(it tiercache.CacheItem[V], now time.Time) bool {
	mode, timeout := h.resolve(it)
	deadline := tiercache.Deadline(mode, timeout, it.CreatedUTC(), it.LastAccessedUTC())
	return !deadline.IsZero() && now.After(deadline)
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
	if existing, ok := h.items[sk]; ok && !h.expired(existing.item, now) {
		return false, nil
	}
	stored := item.WithExpiration(mode, timeout).WithVersion(1)
	h.items[sk] = entry[V]{item: stored}
	h.regions[item.Region()] = struct{}{}
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
	if existing, ok := h.items[sk]; ok {
		stored = stored.WithTimestamps(existing.item.CreatedUTC(), stored.LastAccessedUTC()).WithVersion(existing.item.Version() + 1)
	} else {
		stored = stored.WithVersion(1)
		h.stats.AdjustItems(item.Region(), 1)
	}
	h.items[sk] = entry[V]{item: stored}
	h.regions[item.Region()] = struct{}{}
	return nil
}

func (h *Handle[V]) Get(ctx context.Context, key, region string) (tiercache.CacheItem[V], bool, error) {
	h.stats.RecordCall(region, "get")
	sk := storageKey(key, region)
	now := time.Now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.items[sk]
	if !ok || h.expired(e.item, now) {
		if ok {
			delete(h.items, sk)
			h.stats.AdjustItems(region, -1)
		}
		h.stats.RecordMiss(region)
		var zero tiercache.CacheItem[V]
		return zero, false, nil
	}

	mode, _ := h.resolve(e.item)
	touched := e.item
	if mode == tiercache.ExpireSliding {
		touched = touched.Touch()
		h.items[sk] = entry[V]{item: touched}
	}
	h.stats.RecordHit(region)
	return touched, true, nil
}

func (h *Handle[V]) Remove(ctx context.Context, key, region string) (bool, error) {
	h.stats.RecordCall(region, "remove")
	sk := storageKey(key, region)

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.items[sk]; !ok {
		return false, nil
	}
	delete(h.items, sk)
	h.stats.AdjustItems(region, -1)
	return true, nil
}

func (h *Handle[V]) Clear(ctx context.Context) error {
	h.stats.RecordCall("", "clear")
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = make(map[string]entry[V])
	h.regions = make(map[string]struct{})
	return nil
}

func (h *Handle[V]) ClearRegion(ctx context.Context, region string) error {
	h.stats.RecordCall(region, "clear_region")
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := int64(0)
	for sk, e := range h.items {
		if e.item.Region() == region {
			delete(h.items, sk)
			removed++
		}
	}
	delete(h.regions, region)
	h.stats.AdjustItems(region, -removed)
	return nil
}

func (h *Handle[V]) Expire(ctx context.Context, key, region string, mode tiercache.ExpirationMode, timeout time.Duration) error {
	if err := tiercache.ValidateExpiration(mode, timeout); err != nil {
		return err
	}
	sk := storageKey(key, region)

	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.items[sk]
	if !ok {
		return nil
	}
	h.items[sk] = entry[V]{item: e.item.WithExpiration(mode, timeout)}
	return nil
}

func (h *Handle[V]) CompareAndSwap(ctx context.Context, key, region string, expectedVersion uint64, newItem tiercache.CacheItem[V]) (tiercache.CacheItem[V], bool, error) {
	mode, timeout := h.resolve(newItem)
	if err := tiercache.ValidateExpiration(mode, timeout); err != nil {
		var zero tiercache.CacheItem[V]
		return zero, false, err
	}
	sk := storageKey(key, region)

	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.items[sk]
	if !ok {
		if expectedVersion != 0 {
			var zero tiercache.CacheItem[V]
			return zero, false, nil
		}
	} else if e.item.Version() != expectedVersion {
		return e.item, false, nil
	} else {
		h.stats.AdjustItems(region, -1)
	}
	stored := newItem.WithExpiration(mode, timeout).WithVersion(expectedVersion + 1)
	h.items[sk] = entry[V]{item: stored}
	h.stats.AdjustItems(region, 1)
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

func (h *Handle[V]) Count(ctx context.Context) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.items)), nil
}

func (h *Handle[V]) Stats() tiercache.Stats { return h.stats }

func (h *Handle[V]) sweep() {
	now := time.Now().UTC()
	h.mu.Lock()
	defer h.mu.Unlock()
	for sk, e := range h.items {
		if h.expired(e.item, now) {
			delete(h.items, sk)
			h.stats.AdjustItems(e.item.Region(), -1)
		}
	}
}

// Factory returns a tiercache.HandleFactory that builds Handles from a
// manager's declared HandleConfig, registerable under a type name like
// "memory" into a tiercache.Registry[V]. sweepInterval is applied to every
// handle built by the returned factory; per-handle expiration defaults
// still come from the HandleConfig itself.
func Factory[V any](sweepInterval time.Duration) tiercache.HandleFactory[V] {
	return func(cfg tiercache.HandleConfig, _ tiercache.FactoryDeps) (tiercache.Handle[V], error) {
		return New[V](Config{
			Name:              cfg.Name,
			ExpirationMode:    cfg.ExpirationMode,
			ExpirationTimeout: cfg.ExpirationTimeout,
			SweepInterval:     sweepInterval,
		}), nil
	}
}

// Dispose stops the sweep goroutine, if running. Idempotent.
func (h *Handle[V]) Dispose() error {
	if h.stopCh != nil {
		select {
		case <-h.stopCh:
		default:
			close(h.stopCh)
			h.ticker.Stop()
			h.wg.Wait()
		}
	}
	return nil
}
