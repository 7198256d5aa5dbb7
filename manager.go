package tiercache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Manager routes Add/Put/Get/Remove/Update/Expire/Clear/ClearRegion across
// an ordered list of Handle[V] tiers, maintains read-through promotion and
// write propagation per the configured UpdateMode, and wires a Backplane
// for cross-node coherence when one is configured.
type Manager[V any] struct {
	handles    []Handle[V]
	isSource   map[string]bool
	updateMode UpdateMode
	backplane  Backplane
	logger     Logger
	hooks      Hooks

	// mu serializes Update's cross-handle CAS-and-propagate sequence at
	// the manager level, on top of each handle's own CAS. Get/Put/Add/
	// Remove never take it.
	mu sync.Mutex

	disposed atomic.Bool
}

// NewManager assembles a Manager from already-constructed handles and an
// optional backplane. handles must be in the same order, and the same
// length, as cfg.Handles. Most callers should go through a Registry
// instead; NewManager exists for tests and for callers that wire their own
// handles without the typed registry.
func NewManager[V any](cfg ManagerConfig, handles []Handle[V], bp Backplane, logger Logger, hooks Hooks) (*Manager[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(handles) != len(cfg.Handles) {
		return nil, &ConfigError{Op: "manager", Detail: "handles slice length must match configuration"}
	}
	logger = coalesce[Logger](logger, NopLogger{})
	hooks = coalesce[Hooks](hooks, NopHooks{})
	return newManager(cfg, handles, bp, logger, hooks)
}

func newManager[V any](cfg ManagerConfig, handles []Handle[V], bp Backplane, logger Logger, hooks Hooks) (*Manager[V], error) {
	isSource := make(map[string]bool, len(cfg.Handles))
	for _, hc := range cfg.Handles {
		isSource[hc.Name] = hc.IsBackplaneSource
	}
	m := &Manager[V]{
		handles:    handles,
		isSource:   isSource,
		updateMode: cfg.UpdateMode,
		backplane:  bp,
		logger:     logger,
		hooks:      hooks,
	}
	if bp != nil {
		if err := bp.Subscribe(m.handleBackplaneMessage); err != nil {
			return nil, &ConfigError{Op: "backplane", Detail: err.Error()}
		}
	}
	return m, nil
}

func (m *Manager[V]) checkDisposed(op string) error {
	if m.disposed.Load() {
		return &DisposedError{Op: op}
	}
	return nil
}

func validateKey(key string) error {
	if key == "" {
		return &ArgumentError{Arg: "key", Detail: "must not be empty"}
	}
	return nil
}

// Add writes item through every handle in order. It returns the primary
// (first) handle's was-new status; a handle that already held the key is a
// no-op for that handle only. Publishes a Changed message.
func (m *Manager[V]) Add(ctx context.Context, item CacheItem[V]) (bool, error) {
	if err := m.checkDisposed("add"); err != nil {
		return false, err
	}
	if err := validateKey(item.Key()); err != nil {
		return false, err
	}
	var errs []error
	primary := false
	for i, h := range m.handles {
		added, err := h.Add(ctx, item)
		if err != nil {
			m.hooks.HandleError(h.Name(), "add", err)
			errs = append(errs, &HandleError{Handle: h.Name(), Op: "add", Err: err})
			continue
		}
		if i == 0 {
			primary = added
		}
	}
	if err := multiErrOrNil(errs); err != nil {
		return primary, err
	}
	m.publish(ctx, BackplaneChanged, item.Key(), item.Region())
	return primary, nil
}

// Put writes item through every handle, inserting or overwriting. Always
// succeeds per handle. Publishes a Changed message.
func (m *Manager[V]) Put(ctx context.Context, item CacheItem[V]) error {
	if err := m.checkDisposed("put"); err != nil {
		return err
	}
	if err := validateKey(item.Key()); err != nil {
		return err
	}
	var errs []error
	for _, h := range m.handles {
		if err := h.Put(ctx, item); err != nil {
			m.hooks.HandleError(h.Name(), "put", err)
			errs = append(errs, &HandleError{Handle: h.Name(), Op: "put", Err: err})
		}
	}
	if err := multiErrOrNil(errs); err != nil {
		return err
	}
	m.publish(ctx, BackplaneChanged, item.Key(), item.Region())
	return nil
}

// GetCacheItem iterates handles in declared order and returns the first
// hit, promoting it into every faster tier unless the manager's update
// mode is None. found is false if no handle has the key.
func (m *Manager[V]) GetCacheItem(ctx context.Context, key, region string) (CacheItem[V], bool, error) {
	var zero CacheItem[V]
	if err := m.checkDisposed("get"); err != nil {
		return zero, false, err
	}
	if err := validateKey(key); err != nil {
		return zero, false, err
	}
	for i, h := range m.handles {
		item, found, err := h.Get(ctx, key, region)
		if err != nil {
			m.hooks.HandleError(h.Name(), "get", err)
			return zero, false, &HandleError{Handle: h.Name(), Op: "get", Err: err}
		}
		if found {
			if i > 0 && m.updateMode != UpdateModeNone {
				m.promote(ctx, item, i)
			}
			return item, true, nil
		}
	}
	return zero, false, nil
}

// Get is GetCacheItem narrowed to the stored value.
func (m *Manager[V]) Get(ctx context.Context, key, region string) (V, bool, error) {
	item, found, err := m.GetCacheItem(ctx, key, region)
	return item.Value(), found, err
}

// promote inserts item, found at handles[hitIdx], into every handle faster
// than hitIdx (read-through fill). Add, not Put: a concurrent write may
// have already landed a fresher value in a faster tier between that
// handle's miss and this promotion, and insert-only-if-absent is what
// keeps this stale read from clobbering it. Promotion failures are
// reported via hooks, not returned: the read itself already succeeded.
func (m *Manager[V]) promote(ctx context.Context, item CacheItem[V], hitIdx int) {
	for j := 0; j < hitIdx; j++ {
		h := m.handles[j]
		if _, err := h.Add(ctx, item); err != nil {
			m.hooks.PromotionError(h.Name(), item.Key(), item.Region(), err)
			continue
		}
		m.hooks.Promotion(h.Name(), item.Key(), item.Region())
	}
}

// Remove deletes (key, region) from every handle. Returns true iff at
// least one handle held it. Publishes a Removed message.
func (m *Manager[V]) Remove(ctx context.Context, key, region string) (bool, error) {
	if err := m.checkDisposed("remove"); err != nil {
		return false, err
	}
	if err := validateKey(key); err != nil {
		return false, err
	}
	var errs []error
	removedAny := false
	for _, h := range m.handles {
		removed, err := h.Remove(ctx, key, region)
		if err != nil {
			m.hooks.HandleError(h.Name(), "remove", err)
			errs = append(errs, &HandleError{Handle: h.Name(), Op: "remove", Err: err})
			continue
		}
		if removed {
			removedAny = true
		}
	}
	if err := multiErrOrNil(errs); err != nil {
		return removedAny, err
	}
	m.publish(ctx, BackplaneRemoved, key, region)
	return removedAny, nil
}

// Update performs a compare-and-swap loop against the most-authoritative
// (last, most shared) handle, falling back to an earlier handle if the
// item is absent there. fn is invoked once per attempt; declining the
// update (ok=false) returns FactoryReturnedNull without writing. A missing
// key returns ItemDidNotExist without creating it. On conflict, retries up
// to maxRetries times before returning TooManyRetries. On success,
// propagates the new item per UpdateMode and publishes a Changed message.
func (m *Manager[V]) Update(ctx context.Context, key, region string, fn UpdateFunc[V], maxRetries int) (UpdateResult[V], error) {
	if err := m.checkDisposed("update"); err != nil {
		return UpdateResult[V]{}, err
	}
	if err := validateKey(key); err != nil {
		return UpdateResult[V]{}, err
	}
	if fn == nil {
		return UpdateResult[V]{}, &ArgumentError{Arg: "fn", Detail: "must not be nil"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	authIdx := len(m.handles) - 1
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		current, found, handleIdx, err := m.readAuthoritative(ctx, key, region, authIdx)
		if err != nil {
			return UpdateResult[V]{Attempts: attempts}, err
		}
		if !found {
			return UpdateResult[V]{Outcome: UpdateItemDidNotExist, Attempts: attempts}, nil
		}
		newValue, ok := fn(current.Value(), found)
		if !ok {
			return UpdateResult[V]{Outcome: UpdateFactoryReturnedNull, Attempts: attempts}, nil
		}
		newItem := current.WithValue(newValue)
		h := m.handles[handleIdx]
		stored, ok, err := h.CompareAndSwap(ctx, key, region, current.Version(), newItem)
		if err != nil {
			m.hooks.HandleError(h.Name(), "compare_and_swap", err)
			return UpdateResult[V]{Attempts: attempts}, &HandleError{Handle: h.Name(), Op: "compare_and_swap", Err: err}
		}
		if !ok {
			m.hooks.CASConflict(h.Name(), key, region, attempts)
			continue
		}
		m.propagate(ctx, stored, handleIdx)
		m.publish(ctx, BackplaneChanged, key, region)
		return UpdateResult[V]{Outcome: UpdateSuccess, Item: stored, Attempts: attempts}, nil
	}
	m.hooks.UpdateExhausted(key, region, attempts)
	return UpdateResult[V]{Outcome: UpdateTooManyRetries, Attempts: attempts}, nil
}

// readAuthoritative reads handles[start] and walks toward handles[0] until
// it finds the item, per the "first non-null in declared read order wins"
// rule, applied here back-to-front since start is the most-authoritative
// tier.
func (m *Manager[V]) readAuthoritative(ctx context.Context, key, region string, start int) (CacheItem[V], bool, int, error) {
	var zero CacheItem[V]
	for idx := start; idx >= 0; idx-- {
		item, found, err := m.handles[idx].Get(ctx, key, region)
		if err != nil {
			return zero, false, idx, &HandleError{Handle: m.handles[idx].Name(), Op: "get", Err: err}
		}
		if found {
			return item, true, idx, nil
		}
	}
	return zero, false, start, nil
}

// propagate writes item (already durably stored at sourceIdx) into other
// handles per the configured UpdateMode.
func (m *Manager[V]) propagate(ctx context.Context, item CacheItem[V], sourceIdx int) {
	switch m.updateMode {
	case UpdateModeUp:
		for j := 0; j < sourceIdx; j++ {
			m.writeBack(ctx, item, j)
		}
	case UpdateModeFull:
		for j := range m.handles {
			if j == sourceIdx {
				continue
			}
			m.writeBack(ctx, item, j)
		}
	}
}

func (m *Manager[V]) writeBack(ctx context.Context, item CacheItem[V], idx int) {
	h := m.handles[idx]
	if err := h.Put(ctx, item); err != nil {
		m.hooks.PromotionError(h.Name(), item.Key(), item.Region(), err)
		return
	}
	m.hooks.Promotion(h.Name(), item.Key(), item.Region())
}

// Expire rewrites (key, region)'s expiration policy in every handle. A
// handle where the key is absent is skipped by that handle's own Expire.
func (m *Manager[V]) Expire(ctx context.Context, key, region string, mode ExpirationMode, timeout time.Duration) error {
	if err := m.checkDisposed("expire"); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ValidateExpiration(mode, timeout); err != nil {
		return err
	}
	var errs []error
	for _, h := range m.handles {
		if err := h.Expire(ctx, key, region, mode, timeout); err != nil {
			m.hooks.HandleError(h.Name(), "expire", err)
			errs = append(errs, &HandleError{Handle: h.Name(), Op: "expire", Err: err})
		}
	}
	return multiErrOrNil(errs)
}

// Clear deletes every item in every handle and publishes a Cleared
// message.
func (m *Manager[V]) Clear(ctx context.Context) error {
	if err := m.checkDisposed("clear"); err != nil {
		return err
	}
	var errs []error
	for _, h := range m.handles {
		if err := h.Clear(ctx); err != nil {
			m.hooks.HandleError(h.Name(), "clear", err)
			errs = append(errs, &HandleError{Handle: h.Name(), Op: "clear", Err: err})
		}
	}
	if err := multiErrOrNil(errs); err != nil {
		return err
	}
	m.publish(ctx, BackplaneCleared, "", "")
	return nil
}

// ClearRegion deletes every item in region across every handle and
// publishes a ClearedRegion message.
func (m *Manager[V]) ClearRegion(ctx context.Context, region string) error {
	if err := m.checkDisposed("clear_region"); err != nil {
		return err
	}
	if region == "" {
		return &ArgumentError{Arg: "region", Detail: "must not be empty"}
	}
	var errs []error
	for _, h := range m.handles {
		if err := h.ClearRegion(ctx, region); err != nil {
			m.hooks.HandleError(h.Name(), "clear_region", err)
			errs = append(errs, &HandleError{Handle: h.Name(), Op: "clear_region", Err: err})
		}
	}
	if err := multiErrOrNil(errs); err != nil {
		return err
	}
	m.publish(ctx, BackplaneClearedRegion, "", region)
	return nil
}

func (m *Manager[V]) publish(ctx context.Context, op BackplaneOp, key, region string) {
	if m.backplane == nil {
		return
	}
	msg := BackplaneMessage{SenderID: m.backplane.SenderID(), Op: op, Key: key, Region: region}
	if err := m.backplane.Publish(ctx, msg); err != nil {
		m.logger.Warn("backplane publish failed", Fields{"op": op.String(), "key": key, "region": region, "error": err})
	}
}

// handleBackplaneMessage applies the inverse local operation to every
// handle not marked as a backplane source — the shared tier already saw
// the change that produced msg.
func (m *Manager[V]) handleBackplaneMessage(msg BackplaneMessage) {
	ctx := context.Background()
	for _, h := range m.handles {
		if m.isSource[h.Name()] {
			continue
		}
		var err error
		switch msg.Op {
		case BackplaneChanged, BackplaneRemoved:
			_, err = h.Remove(ctx, msg.Key, msg.Region)
		case BackplaneCleared:
			err = h.Clear(ctx)
		case BackplaneClearedRegion:
			err = h.ClearRegion(ctx, msg.Region)
		}
		if err != nil {
			m.hooks.BackplaneApplyError(h.Name(), msg.Key, msg.Region, err)
		}
	}
}

// Dispose cascades to every handle (reverse construction order) and then
// the backplane. Idempotent; safe to call more than once.
func (m *Manager[V]) Dispose() error {
	if !m.disposed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for i := len(m.handles) - 1; i >= 0; i-- {
		if err := m.handles[i].Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.backplane != nil {
		if err := m.backplane.Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	return multiErrOrNil(errs)
}
