package tiercache

import (
	"context"
	"time"
)

// UpdateFunc computes a new value from the current one. found is false when
// no item currently exists at the key; ok false means "decline the update"
// (FactoryReturnedNull), leaving the stored value untouched.
type UpdateFunc[V any] func(old V, found bool) (newValue V, ok bool)

// UpdateOutcome classifies the result of an Update/CAS loop.
type UpdateOutcome int

const (
	UpdateSuccess UpdateOutcome = iota
	UpdateFactoryReturnedNull
	UpdateItemDidNotExist
	UpdateTooManyRetries
)

func (o UpdateOutcome) String() string {
	switch o {
	case UpdateSuccess:
		return "success"
	case UpdateFactoryReturnedNull:
		return "factory_returned_null"
	case UpdateItemDidNotExist:
		return "item_did_not_exist"
	case UpdateTooManyRetries:
		return "too_many_retries"
	default:
		return "unknown"
	}
}

// UpdateResult is the outcome of a compare-and-swap update loop.
type UpdateResult[V any] struct {
	Outcome  UpdateOutcome
	Item     CacheItem[V]
	Attempts int
}

// Handle is the uniform contract every backing store implements. A Handle
// never talks to the backplane or to other handles; that orchestration is
// the Manager's job.
type Handle[V any] interface {
	// Name identifies this handle within a manager, for stats/logging/hooks.
	Name() string

	// Add inserts item only if (key, region) is absent. Returns false if
	// an item was already present; the existing item is left untouched.
	Add(ctx context.Context, item CacheItem[V]) (bool, error)

	// Put upserts item unconditionally.
	Put(ctx context.Context, item CacheItem[V]) error

	// Get reads the current item, refreshing sliding expiration on a hit.
	// found is false when absent or expired.
	Get(ctx context.Context, key, region string) (item CacheItem[V], found bool, err error)

	// Remove deletes (key, region). Returns false if absent.
	Remove(ctx context.Context, key, region string) (bool, error)

	// Clear deletes every item in the handle.
	Clear(ctx context.Context) error

	// ClearRegion deletes every item in region.
	ClearRegion(ctx context.Context, region string) error

	// Expire rewrites (key, region)'s expiration policy in place. A no-op
	// if the key is absent.
	Expire(ctx context.Context, key, region string, mode ExpirationMode, timeout time.Duration) error

	// CompareAndSwap replaces the stored item only if its current version
	// equals expectedVersion, atomically bumping the version. ok is false
	// on a version mismatch (a conflict, not an error). Used by the
	// Manager's cross-tier Update orchestration.
	CompareAndSwap(ctx context.Context, key, region string, expectedVersion uint64, newItem CacheItem[V]) (stored CacheItem[V], ok bool, err error)

	// Update runs its own local CAS loop against fn, satisfying the
	// per-handle contract directly (independent of any manager).
	Update(ctx context.Context, key, region string, fn UpdateFunc[V], maxRetries int) (UpdateResult[V], error)

	// Count reports the current item count across all regions.
	Count(ctx context.Context) (int64, error)

	// Stats returns this handle's statistics counters.
	Stats() Stats

	// Dispose releases any resources held by the handle. Idempotent.
	Dispose() error
}
