// Package redis adapts github.com/redis/go-redis/v9 into a
// tiercache.Handle[V] — the distributed, most-shared tier. Expiration is
// delegated to Redis's own TTL (absolute deadlines and sliding refresh on
// read). An item's own expiration mode is used to set the TTL on write but
// is not stored: items read back carry ExpireDefault, so Get refreshes the
// TTL only when the handle's default mode is Sliding, and a per-item
// Sliding mode on a handle with another default is not refreshed on read.
// Compare-and-swap is a Lua EVAL comparing a sidecar version key,
// the same atomic-bump idiom as an INCR-based generation store extended
// to a full check-and-set.
package redis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/internal/util"
)

var ErrNilClient = errors.New("redis handle: nil client")

// casScript compares the stored version against ARGV[1]; on match it
// writes the new version/createdAt into the version key and the payload
// into the data key, both under the same TTL, and returns {1, newVersion}.
// On mismatch it returns {0, currentVersion}.
const casScript = `
local verKey = KEYS[1]
local dataKey = KEYS[2]
local expected = ARGV[1]
local newVersion = ARGV[2]
local createdAt = ARGV[3]
local payload = ARGV[4]
local ttlMillis = tonumber(ARGV[5])

local cur = redis.call('GET', verKey)
local curVersion = '0'
if cur ~= false then
  local sep = string.find(cur, ':')
  curVersion = string.sub(cur, 1, sep - 1)
end
if curVersion ~= expected then
  return {0, curVersion}
end

local verVal = newVersion .. ':' .. createdAt
if ttlMillis > 0 then
  redis.call('SET', verKey, verVal, 'PX', ttlMillis)
  redis.call('SET', dataKey, payload, 'PX', ttlMillis)
else
  redis.call('SET', verKey, verVal)
  redis.call('SET', dataKey, payload)
end
return {1, newVersion}
`

// Config configures a Handle.
type Config struct {
	Name              string
	ExpirationMode    tiercache.ExpirationMode
	ExpirationTimeout time.Duration

	Client      goredis.UniversalClient
	Namespace   string
	Codec       codec.Codec[any]
	CloseClient bool // set true only if this handle exclusively owns the client
}

// Handle is a Redis-backed tiercache.Handle[V].
type Handle[V any] struct {
	name           string
	defaultMode    tiercache.ExpirationMode
	defaultTimeout time.Duration
	stats          *tiercache.HandleStats
	codec          codec.Codec[any]

	rdb         goredis.UniversalClient
	ns          string
	closeClient bool
	cas         *goredis.Script
}

var _ tiercache.Handle[any] = (*Handle[any])(nil)

func New[V any](cfg Config) (*Handle[V], error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Handle[V]{
		name:           cfg.Name,
		defaultMode:    cfg.ExpirationMode,
		defaultTimeout: cfg.ExpirationTimeout,
		stats:          tiercache.NewHandleStats(),
		codec:          cfg.Codec,
		rdb:            cfg.Client,
		ns:             cfg.Namespace,
		closeClient:    cfg.CloseClient,
		cas:            goredis.NewScript(casScript),
	}, nil
}

func (h *Handle[V]) Name() string { return h.name }

func (h *Handle[V]) dataKey(key, region string) string {
	return util.StorageKey(h.ns, region, key) + ":data"
}

func (h *Handle[V]) verKey(key, region string) string {
	return util.StorageKey(h.ns, region, key) + ":ver"
}

func (h *Handle[V]) regionSetKey(region string) string {
	return "tiercache:regions:" + h.ns + ":" + region
}

func (h *Handle[V]) resolve(item tiercache.CacheItem[V]) (tiercache.ExpirationMode, time.Duration) {
	return tiercache.ResolveExpiration(item.ExpirationMode(), item.ExpirationTimeout(), h.defaultMode, h.defaultTimeout)
}

func (h *Handle[V]) ttl(mode tiercache.ExpirationMode, timeout time.Duration) time.Duration {
	if mode == tiercache.ExpireAbsolute || mode == tiercache.ExpireSliding {
		return timeout
	}
	return 0
}

func parseVerVal(s string) (version uint64, createdUnixNano int64, err error) {
	sep := strings.IndexByte(s, ':')
	if sep < 0 {
		return 0, 0, errors.New("redis handle: malformed version value")
	}
	version, err = strconv.ParseUint(s[:sep], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	createdUnixNano, err = strconv.ParseInt(s[sep+1:], 10, 64)
	return version, createdUnixNano, err
}

func (h *Handle[V]) read(ctx context.Context, key, region string) (tiercache.CacheItem[V], uint64, bool, error) {
	var zero tiercache.CacheItem[V]
	verRaw, err := h.rdb.Get(ctx, h.verKey(key, region)).Result()
	if err == goredis.Nil {
		return zero, 0, false, nil
	}
	if err != nil {
		return zero, 0, false, err
	}
	dataRaw, err := h.rdb.Get(ctx, h.dataKey(key, region)).Bytes()
	if err == goredis.Nil {
		return zero, 0, false, nil
	}
	if err != nil {
		return zero, 0, false, err
	}
	version, createdNano, err := parseVerVal(verRaw)
	if err != nil {
		return zero, 0, false, err
	}
	v, err := h.codec.Decode(dataRaw)
	if err != nil {
		return zero, 0, false, err
	}
	created := time.Unix(0, createdNano).UTC()
	item := tiercache.NewCacheItem(key, v.(V)).
		WithRegion(region).
		WithVersion(version).
		WithTimestamps(created, created)
	return item, version, true, nil
}

func (h *Handle[V]) write(ctx context.Context, key, region string, item tiercache.CacheItem[V], version uint64, ttl time.Duration) error {
	payload, err := h.codec.Encode(item.Value())
	if err != nil {
		return err
	}
	created := item.CreatedUTC()
	if created.IsZero() {
		created = time.Now().UTC()
	}
	verVal := strconv.FormatUint(version, 10) + ":" + strconv.FormatInt(created.UnixNano(), 10)
	pipe := h.rdb.TxPipeline()
	if ttl > 0 {
		pipe.Set(ctx, h.verKey(key, region), verVal, ttl)
		pipe.Set(ctx, h.dataKey(key, region), payload, ttl)
	} else {
		pipe.Set(ctx, h.verKey(key, region), verVal, 0)
		pipe.Set(ctx, h.dataKey(key, region), payload, 0)
	}
	pipe.SAdd(ctx, h.regionSetKey(region), util.StorageKey(h.ns, region, key))
	_, err = pipe.Exec(ctx)
	return err
}

func (h *Handle[V]) Add(ctx context.Context, item tiercache.CacheItem[V]) (bool, error) {
	h.stats.RecordCall(item.Region(), "add")
	mode, timeout := h.resolve(item)
	if err := tiercache.ValidateExpiration(mode, timeout); err != nil {
		return false, err
	}
	_, _, found, err := h.read(ctx, item.Key(), item.Region())
	if err != nil {
		return false, err
	}
	if found {
		return false, nil
	}
	if err := h.write(ctx, item.Key(), item.Region(), item.WithExpiration(mode, timeout), 1, h.ttl(mode, timeout)); err != nil {
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
	existing, version, found, err := h.read(ctx, item.Key(), item.Region())
	if err != nil {
		return err
	}
	toWrite := item.WithExpiration(mode, timeout)
	if !found {
		h.stats.AdjustItems(item.Region(), 1)
		version = 0
	} else {
		toWrite = toWrite.WithTimestamps(existing.CreatedUTC(), toWrite.LastAccessedUTC())
	}
	return h.write(ctx, item.Key(), item.Region(), toWrite, version+1, h.ttl(mode, timeout))
}

func (h *Handle[V]) Get(ctx context.Context, key, region string) (tiercache.CacheItem[V], bool, error) {
	h.stats.RecordCall(region, "get")
	item, version, found, err := h.read(ctx, key, region)
	if err != nil {
		return tiercache.CacheItem[V]{}, false, err
	}
	if !found {
		h.stats.RecordMiss(region)
		return tiercache.CacheItem[V]{}, false, nil
	}
	mode, timeout := h.resolve(item)
	if mode == tiercache.ExpireSliding {
		ttl := h.ttl(mode, timeout)
		h.rdb.Expire(ctx, h.verKey(key, region), ttl)
		h.rdb.Expire(ctx, h.dataKey(key, region), ttl)
		item = item.Touch()
	}
	h.stats.RecordHit(region)
	return item.WithVersion(version), true, nil
}

func (h *Handle[V]) Remove(ctx context.Context, key, region string) (bool, error) {
	h.stats.RecordCall(region, "remove")
	n, err := h.rdb.Del(ctx, h.verKey(key, region), h.dataKey(key, region)).Result()
	if err != nil {
		return false, err
	}
	h.rdb.SRem(ctx, h.regionSetKey(region), util.StorageKey(h.ns, region, key))
	if n == 0 {
		return false, nil
	}
	h.stats.AdjustItems(region, -1)
	return true, nil
}

func (h *Handle[V]) ClearRegion(ctx context.Context, region string) error {
	h.stats.RecordCall(region, "clear_region")
	members, err := h.rdb.SMembers(ctx, h.regionSetKey(region)).Result()
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	keys := make([]string, 0, len(members)*2)
	for _, m := range members {
		keys = append(keys, m+":ver", m+":data")
	}
	if err := h.rdb.Del(ctx, keys...).Err(); err != nil {
		return err
	}
	h.stats.AdjustItems(region, -int64(len(members)))
	return h.rdb.Del(ctx, h.regionSetKey(region)).Err()
}

// Clear deletes every region this handle has ever seen; regions it has
// never written to are unaffected (there is nothing to delete).
func (h *Handle[V]) Clear(ctx context.Context) error {
	h.stats.RecordCall("", "clear")
	pattern := "tiercache:regions:" + h.ns + ":*"
	iter := h.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		region := strings.TrimPrefix(iter.Val(), "tiercache:regions:"+h.ns+":")
		if err := h.ClearRegion(ctx, region); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (h *Handle[V]) Expire(ctx context.Context, key, region string, mode tiercache.ExpirationMode, timeout time.Duration) error {
	if err := tiercache.ValidateExpiration(mode, timeout); err != nil {
		return err
	}
	item, version, found, err := h.read(ctx, key, region)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return h.write(ctx, key, region, item.WithExpiration(mode, timeout), version, h.ttl(mode, timeout))
}

func (h *Handle[V]) CompareAndSwap(ctx context.Context, key, region string, expectedVersion uint64, newItem tiercache.CacheItem[V]) (tiercache.CacheItem[V], bool, error) {
	mode, timeout := h.resolve(newItem)
	if err := tiercache.ValidateExpiration(mode, timeout); err != nil {
		return tiercache.CacheItem[V]{}, false, err
	}
	payload, err := h.codec.Encode(newItem.Value())
	if err != nil {
		return tiercache.CacheItem[V]{}, false, err
	}
	ttlMillis := int64(h.ttl(mode, timeout) / time.Millisecond)
	created := newItem.CreatedUTC()
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := h.cas.Run(ctx, h.rdb,
		[]string{h.verKey(key, region), h.dataKey(key, region)},
		strconv.FormatUint(expectedVersion, 10),
		strconv.FormatUint(expectedVersion+1, 10),
		strconv.FormatInt(created.UnixNano(), 10),
		payload,
		ttlMillis,
	).Result()
	if err != nil {
		return tiercache.CacheItem[V]{}, false, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 1 {
		return tiercache.CacheItem[V]{}, false, errors.New("redis handle: unexpected CAS script result")
	}
	if ok, _ := vals[0].(int64); ok == 0 {
		existing, _, found, err := h.read(ctx, key, region)
		if err != nil || !found {
			return tiercache.CacheItem[V]{}, false, err
		}
		return existing, false, nil
	}
	h.rdb.SAdd(ctx, h.regionSetKey(region), util.StorageKey(h.ns, region, key))
	stored := newItem.WithExpiration(mode, timeout).WithVersion(expectedVersion + 1)
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
	total := int64(0)
	pattern := "tiercache:regions:" + h.ns + ":*"
	iter := h.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		n, err := h.rdb.SCard(ctx, iter.Val()).Result()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, iter.Err()
}

func (h *Handle[V]) Stats() tiercache.Stats { return h.stats }

// Dispose releases the underlying client only when this handle owns it.
// Safe to call more than once.
func (h *Handle[V]) Dispose() error {
	if h.closeClient {
		if err := h.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

// Factory returns a tiercache.HandleFactory reading the connection and
// serialization settings out of HandleConfig.Options ("client",
// "namespace", "close_client", "codec"; codec selects among "json", "cbor",
// "msgpack"), falling back to defaults.Client/Namespace when Options omits
// them. When Options has no "codec" selector, deps.Serializer (the
// manager-wide default from ManagerConfig.Serializer) is used if set,
// otherwise JSON. Register it into a tiercache.Registry[V] under a type
// name like "redis".
func Factory[V any](defaults Config) tiercache.HandleFactory[V] {
	return func(cfg tiercache.HandleConfig, deps tiercache.FactoryDeps) (tiercache.Handle[V], error) {
		c := defaults
		c.Name = cfg.Name
		c.ExpirationMode = cfg.ExpirationMode
		c.ExpirationTimeout = cfg.ExpirationTimeout
		if client, ok := cfg.Options["client"].(goredis.UniversalClient); ok && client != nil {
			c.Client = client
		}
		if ns, ok := cfg.Options["namespace"].(string); ok && ns != "" {
			c.Namespace = ns
		}
		if close, ok := cfg.Options["close_client"].(bool); ok {
			c.CloseClient = close
		}
		if c.Codec == nil {
			switch stringOption(cfg.Options, "codec") {
			case "cbor":
				c.Codec = codec.MustCBOR[any](false)
			case "msgpack":
				c.Codec = codec.Msgpack[any]{}
			case "":
				if deps.Serializer != nil {
					c.Codec = deps.Serializer
				} else {
					c.Codec = codec.JSONCodec[any]{}
				}
			default:
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
