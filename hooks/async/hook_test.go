package asynchook

import (
	"sync"
	"testing"
	"time"
)

type recordingHooks struct {
	mu         sync.Mutex
	promotions int
	conflicts  int
}

func (r *recordingHooks) Promotion(handle, key, region string) {
	r.mu.Lock()
	r.promotions++
	r.mu.Unlock()
}
func (r *recordingHooks) CASConflict(handle, key, region string, attempt int) {
	r.mu.Lock()
	r.conflicts++
	r.mu.Unlock()
}
func (r *recordingHooks) UpdateExhausted(key, region string, attempts int)         {}
func (r *recordingHooks) BackplaneApplyError(handle, key, region string, err error) {}
func (r *recordingHooks) HandleError(handle, op string, err error)                  {}
func (r *recordingHooks) PromotionError(handle, key, region string, err error)      {}

func (r *recordingHooks) snapshot() (promotions, conflicts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.promotions, r.conflicts
}

func TestHooksDispatchesAsynchronously(t *testing.T) {
	inner := &recordingHooks{}
	h := New(inner, 2, 16)
	defer h.Close()

	for i := 0; i < 10; i++ {
		h.Promotion("l1", "k1", "")
	}
	h.CASConflict("l1", "k1", "", 1)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p, c := inner.snapshot(); p == 10 && c == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	p, c := inner.snapshot()
	t.Fatalf("promotions=%d conflicts=%d, want 10/1", p, c)
}

func TestHooksDropsWhenQueueIsFull(t *testing.T) {
	blocker := make(chan struct{})
	inner := &blockingHooks{block: blocker}
	h := New(inner, 1, 1)
	defer func() {
		close(blocker)
		h.Close()
	}()

	// The single worker is blocked on the first call; every call after
	// that either fills the one-slot queue or gets dropped.
	for i := 0; i < 5; i++ {
		h.Promotion("l1", "k1", "")
	}
	// No assertion beyond "this does not block the caller" — Promotion
	// must return immediately even with a stuck worker and a full queue.
}

type blockingHooks struct {
	block chan struct{}
}

func (b *blockingHooks) Promotion(handle, key, region string) { <-b.block }
func (b *blockingHooks) CASConflict(handle, key, region string, attempt int) {}
func (b *blockingHooks) UpdateExhausted(key, region string, attempts int)         {}
func (b *blockingHooks) BackplaneApplyError(handle, key, region string, err error) {}
func (b *blockingHooks) HandleError(handle, op string, err error)                  {}
func (b *blockingHooks) PromotionError(handle, key, region string, err error)      {}

func TestCloseIsIdempotent(t *testing.T) {
	h := New(&recordingHooks{}, 1, 4)
	h.Close()
	h.Close()
}
