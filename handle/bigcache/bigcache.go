// Package bigcache adapts github.com/allegro/bigcache/v3 into a
// tiercache.Handle[V] — a second in-process tier option for workloads that
// want bigcache's low-GC-pressure shards instead of ristretto's admission
// policy. Values are serialized with a codec.Codec[any], since bigcache
// stores []byte.
package bigcache

import (
	"context"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/internal/wire"
)

func storageKey(key, region string) string { return region + "\x00" + key }

// Config wraps bigcache.Config's sizing knobs plus the handle's own name,
// codec, and expiration defaults. bigcache has no per-entry TTL; LifeWindow
// is its single global expiration, so handle-level Absolute/Sliding
// expiration is enforced by this package on top of that.
type Config struct {
	Name              string
	ExpirationMode    tiercache.ExpirationMode
	ExpirationTimeout time.Duration
	Codec             codec.Codec[any]

	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int
}

// Handle is a bigcache-backed tiercache.Handle[V]. CAS is a guarded
// critical section, matching ristretto and memory handles.
type Handle[V any] struct {
	name           string
	defaultMode    tiercache.ExpirationMode
	defaultTimeout time.Duration
	stats          *tiercache.HandleStats
	codec          codec.Codec[any]

	c  *bc.BigCache
	mu sync.Mutex
}

var _ tiercache.Handle[any] = (*Handle[any])(nil)

func New[V any](cfg Config) (*Handle[V], error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	return &Handle[V]{
		name:           cfg.Name,
		defaultMode:    cfg.ExpirationMode,
		defaultTimeout: cfg.ExpirationTimeout,
		stats:          tiercache.NewHandleStats(),
		codec:          cfg.Codec,
		c:              c,
	}, nil
}

func (h *Handle[V]) Name() string { return h.name }

func (h *Handle[V]) resolve(item tiercache.CacheItem[V]) (tiercache.ExpirationMode, time.Duration) {
	return tiercache.ResolveExpiration(item.ExpirationMode(), item.ExpirationTimeout(), h.defaultMode, h.defaultTimeout)
}

func (h *Handle[V]) expired(mode tiercache.ExpirationMode, timeout time.Duration, createdUTC, lastAccessedUTC, now time.Time) bool {
	deadline := tiercache.Deadline(mode, timeout, createdUTC, lastAccessedUTC)
	return !deadline.IsZero() && now.After(deadline)
}

// envelope carries the metadata bigcache's plain []byte storage loses:
// version plus the timestamps needed to evaluate expiration independent
// of bigcache's own LifeWindow.
type envelope struct {
	version         uint64
	mode            tiercache.ExpirationMode
	timeout         time.Duration
	createdUTC      time.Time
	lastAccessedUTC time.Time
	payload         []byte
}

func (h *Handle[V]) encode(item tiercache.CacheItem[V], mode tiercache.ExpirationMode, timeout time.Duration) ([]byte, error) {
	payload, err := h.codec.Encode(item.Value())
	if err != nil {
		return nil, err
	}
	meta := wire.EncodeItem(item.Version(), payload)
	// mode/timeout/timestamps travel in a small header written ahead of
	// the wire envelope and are read back by decode below.
	var buf []byte
	buf = appendTimeHeader(buf, mode, timeout, item.CreatedUTC(), item.LastAccessedUTC())
	return append(buf, meta...), nil
}

func appendTimeHeader(buf []byte, mode tiercache.ExpirationMode, timeout time.Duration, created, accessed time.Time) []byte {
	b, _ := created.MarshalBinary()
	a, _ := accessed.MarshalBinary()
	buf = append(buf, byte(mode))
	buf = append(buf, byte(len(b)))
	buf = append(buf, b...)
	buf = append(buf, byte(len(a)))
	buf = append(buf, a...)
	tb := int64(timeout)
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(tb>>(56-8*i)))
	}
	return buf
}

func (h *Handle[V]) decode(raw []byte) (envelope, error) {
	if len(raw) < 2 {
		return envelope{}, wire.ErrCorrupt
	}
	mode := tiercache.ExpirationMode(raw[0])
	off := 1
	blen := int(raw[off])
	off++
	var created time.Time
	if err := created.UnmarshalBinary(raw[off : off+blen]); err != nil {
		return envelope{}, err
	}
	off += blen
	alen := int(raw[off])
	off++
	var accessed time.Time
	if err := accessed.UnmarshalBinary(raw[off : off+alen]); err != nil {
		return envelope{}, err
	}
	off += alen
	if off+8 > len(raw) {
		return envelope{}, wire.ErrCorrupt
	}
	var tb int64
	for i := 0; i < 8; i++ {
		tb = tb<<8 | int64(raw[off+i])
	}
	off += 8
	version, payload, err := wire.DecodeItem(raw[off:])
	if err != nil {
		return envelope{}, err
	}
	return envelope{
		version:         version,
		mode:            mode,
		timeout:         time.Duration(tb),
		createdUTC:      created,
		lastAccessedUTC: accessed,
		payload:         payload,
	}, nil
}

func (h *Handle[V]) toItem(key, region string, e envelope) (tiercache.CacheItem[V], error) {
	v, err := h.codec.Decode(e.payload)
	if err != nil {
		var zero tiercache.CacheItem[V]
		return zero, err
	}
	item := tiercache.NewCacheItem(key, v.(V)).
		WithRegion(region).
		WithExpiration(e.mode, e.timeout).
		WithVersion(e.version).
		WithTimestamps(e.createdUTC, e.lastAccessedUTC)
	return item, nil
}

func (h *Handle[V]) rawGet(sk string) (envelope, bool, error) {
	raw, err := h.c.Get(sk)
	if err == bc.ErrEntryNotFound {
		return envelope{}, false, nil
	}
	if err != nil {
		return envelope{}, false, err
	}
	e, err := h.decode(raw)
	if err != nil {
		h.c.Delete(sk)
		return envelope{}, false, nil
	}
	return e, true, nil
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
	if e, ok, err := h.rawGet(sk); err != nil {
		return false, err
	} else if ok && !h.expired(e.mode, e.timeout, e.createdUTC, e.lastAccessedUTC, now) {
		return false, nil
	}
	raw, err := h.encode(item.WithVersion(1), mode, timeout)
	if err != nil {
		return false, err
	}
	if err := h.c.Set(sk, raw); err != nil {
		return false, err
	}
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

	h.mu.Lock()
	defer h.mu.Unlock()
	version := uint64(1)
	toStore := item
	if e, ok, err := h.rawGet(sk); err != nil {
		return err
	} else if ok {
		version = e.version + 1
		toStore = toStore.WithTimestamps(e.createdUTC, toStore.LastAccessedUTC())
	} else {
		h.stats.AdjustItems(item.Region(), 1)
	}
	raw, err := h.encode(toStore.WithVersion(version), mode, timeout)
	if err != nil {
		return err
	}
	return h.c.Set(sk, raw)
}

func (h *Handle[V]) Get(ctx context.Context, key, region string) (tiercache.CacheItem[V], bool, error) {
	h.stats.RecordCall(region, "get")
	sk := storageKey(key, region)
	now := time.Now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok, err := h.rawGet(sk)
	if err != nil {
		return tiercache.CacheItem[V]{}, false, err
	}
	if !ok || h.expired(e.mode, e.timeout, e.createdUTC, e.lastAccessedUTC, now) {
		if ok {
			h.c.Delete(sk)
			h.stats.AdjustItems(region, -1)
		}
		h.stats.RecordMiss(region)
		return tiercache.CacheItem[V]{}, false, nil
	}
	item, err := h.toItem(key, region, e)
	if err != nil {
		return tiercache.CacheItem[V]{}, false, err
	}
	if e.mode == tiercache.ExpireSliding {
		item = item.Touch()
		if raw, err := h.encode(item.WithVersion(e.version), e.mode, e.timeout); err == nil {
			h.c.Set(sk, raw)
		}
	}
	h.stats.RecordHit(region)
	return item, true, nil
}

func (h *Handle[V]) Remove(ctx context.Context, key, region string) (bool, error) {
	h.stats.RecordCall(region, "remove")
	sk := storageKey(key, region)

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok, err := h.rawGet(sk); err != nil {
		return false, err
	} else if !ok {
		return false, nil
	}
	if err := h.c.Delete(sk); err != nil {
		return false, err
	}
	h.stats.AdjustItems(region, -1)
	return true, nil
}

// Clear resets the whole cache; bigcache offers no narrower bulk delete.
func (h *Handle[V]) Clear(ctx context.Context) error {
	h.stats.RecordCall("", "clear")
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.c.Reset()
}

// ClearRegion is a best-effort no-op: bigcache has no key enumeration by
// prefix. Handles needing precise region isolation should use
// handle/memory or handle/redis for that tier.
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
	e, ok, err := h.rawGet(sk)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	item, err := h.toItem(key, region, e)
	if err != nil {
		return err
	}
	raw, err := h.encode(item.WithExpiration(mode, timeout), mode, timeout)
	if err != nil {
		return err
	}
	return h.c.Set(sk, raw)
}

func (h *Handle[V]) CompareAndSwap(ctx context.Context, key, region string, expectedVersion uint64, newItem tiercache.CacheItem[V]) (tiercache.CacheItem[V], bool, error) {
	mode, timeout := h.resolve(newItem)
	if err := tiercache.ValidateExpiration(mode, timeout); err != nil {
		return tiercache.CacheItem[V]{}, false, err
	}
	sk := storageKey(key, region)

	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok, err := h.rawGet(sk)
	if err != nil {
		return tiercache.CacheItem[V]{}, false, err
	}
	if ok {
		if e.version != expectedVersion {
			existing, _ := h.toItem(key, region, e)
			return existing, false, nil
		}
	} else if expectedVersion != 0 {
		return tiercache.CacheItem[V]{}, false, nil
	} else {
		h.stats.AdjustItems(region, 1)
	}
	stored := newItem.WithExpiration(mode, timeout).WithVersion(expectedVersion + 1)
	raw, err := h.encode(stored, mode, timeout)
	if err != nil {
		return tiercache.CacheItem[V]{}, false, err
	}
	if err := h.c.Set(sk, raw); err != nil {
		return tiercache.CacheItem[V]{}, false, err
	}
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
	return int64(h.c.Len()), nil
}

func (h *Handle[V]) Stats() tiercache.Stats { return h.stats }

func (h *Handle[V]) Dispose() error {
	return h.c.Close()
}

// Factory returns a tiercache.HandleFactory reading bigcache's sizing
// knobs out of HandleConfig.Options ("life_window", "clean_window",
// "max_entries_in_window", "max_entry_size", "hard_max_cache_size_mb")
// plus an optional "codec" selector ("json", "cbor", "msgpack"). When
// Options has no "codec" selector, deps.Serializer (the manager-wide
// default from ManagerConfig.Serializer) is used if set, otherwise JSON.
// Register it into a tiercache.Registry[V] under a type name like
// "bigcache".
func Factory[V any](defaults Config) tiercache.HandleFactory[V] {
	return func(cfg tiercache.HandleConfig, deps tiercache.FactoryDeps) (tiercache.Handle[V], error) {
		c := defaults
		c.Name = cfg.Name
		c.ExpirationMode = cfg.ExpirationMode
		c.ExpirationTimeout = cfg.ExpirationTimeout
		if d, ok := cfg.Options["life_window"].(time.Duration); ok && d > 0 {
			c.LifeWindow = d
		}
		if d, ok := cfg.Options["clean_window"].(time.Duration); ok && d > 0 {
			c.CleanWindow = d
		}
		if n, ok := cfg.Options["max_entries_in_window"].(int); ok && n > 0 {
			c.MaxEntriesInWindow = n
		}
		if n, ok := cfg.Options["max_entry_size"].(int); ok && n > 0 {
			c.MaxEntrySize = n
		}
		if n, ok := cfg.Options["hard_max_cache_size_mb"].(int); ok && n > 0 {
			c.HardMaxCacheSizeMB = n
		}
		if c.Codec == nil {
			if name := stringOption(cfg.Options, "codec"); name != "" {
				c.Codec = codecFromName(name)
			} else if deps.Serializer != nil {
				c.Codec = deps.Serializer
			} else {
				c.Codec = codec.JSONCodec[any]{}
			}
		}
		return New[V](c)
	}
}

func stringOption(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

func codecFromName(name string) codec.Codec[any] {
	switch name {
	case "cbor":
		return codec.MustCBOR[any](false)
	case "msgpack":
		return codec.Msgpack[any]{}
	default:
		return codec.JSONCodec[any]{}
	}
}
