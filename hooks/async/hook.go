// usage:
//
// import (
//
//	"github.com/unkn0wn-root/tiercache"
//	"github.com/unkn0wn-root/tiercache/hooks/async"
//	"github.com/unkn0wn-root/tiercache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    CASConflictEvery: 10, // sample logs: ~every 10th CAS conflict
//	    PromotionEvery:    1,  // log every promotion
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	mgr, _ := registry.Build(cfg, logger, hooks)
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/tiercache"
)

// Hooks wraps an inner tiercache.Hooks and offloads every callback onto a
// bounded worker pool so the manager's hot path never blocks on hook work.
// Events are dropped, not queued unbounded, when the pool falls behind.
type Hooks struct {
	inner tiercache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ tiercache.Hooks = (*Hooks)(nil)

// New starts workers goroutines draining a queue of length qlen. workers<=0
// becomes 1; qlen<=0 becomes 1024.
func New(inner tiercache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close stops accepting new work and waits for queued callbacks to drain.
// Safe to call more than once.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) Promotion(handle, key, region string) {
	h.try(func() { h.inner.Promotion(handle, key, region) })
}

func (h *Hooks) CASConflict(handle, key, region string, attempt int) {
	h.try(func() { h.inner.CASConflict(handle, key, region, attempt) })
}

func (h *Hooks) UpdateExhausted(key, region string, attempts int) {
	h.try(func() { h.inner.UpdateExhausted(key, region, attempts) })
}

func (h *Hooks) BackplaneApplyError(handle, key, region string, err error) {
	h.try(func() { h.inner.BackplaneApplyError(handle, key, region, err) })
}

func (h *Hooks) HandleError(handle, op string, err error) {
	h.try(func() { h.inner.HandleError(handle, op, err) })
}

func (h *Hooks) PromotionError(handle, key, region string, err error) {
	h.try(func() { h.inner.PromotionError(handle, key, region, err) })
}
