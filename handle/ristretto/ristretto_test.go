package ristretto

import (
	"context"
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/codec"
)

func newTestHandle(t *testing.T) *Handle[string] {
	t.Helper()
	h, err := New[string](Config{
		Name:        "l2",
		NumCounters: 1000,
		MaxCost:     1 << 20,
		BufferItems: 64,
		Codec:       codec.JSONCodec[any]{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { h.Dispose() })
	return h
}

func TestHandlePutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t)

	if err := h.Put(ctx, tiercache.NewCacheItem("k1", "v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// ristretto's internal buffer is processed asynchronously; give a hit
	// a moment to become visible before asserting on it.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if item, found, err := h.Get(ctx, "k1", ""); err == nil && found {
			if item.Value() != "v1" {
				t.Fatalf("Value() = %q, want v1", item.Value())
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("k1 never became visible after Put")
}

func TestHandleCompareAndSwapGuardedSection(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t)

	stored, ok, err := h.CompareAndSwap(ctx, "k1", "", 0, tiercache.NewCacheItem("k1", "v1"))
	if err != nil || !ok {
		t.Fatalf("initial CAS: ok=%v err=%v, want true/nil", ok, err)
	}
	if stored.Version() != 1 {
		t.Fatalf("stored.Version() = %d, want 1", stored.Version())
	}

	if _, ok, err := h.CompareAndSwap(ctx, "k1", "", 99, tiercache.NewCacheItem("k1", "v2")); err != nil || ok {
		t.Fatalf("CAS with stale expected version: ok=%v err=%v, want false/nil", ok, err)
	}
}

func TestHandleInvalidConfigIsRejected(t *testing.T) {
	if _, err := New[string](Config{Name: "l2"}); err == nil {
		t.Fatalf("New with zero-valued sizing knobs should fail")
	}
}

func TestCostFallsBackToOneWithoutCodec(t *testing.T) {
	h, err := New[string](Config{Name: "l2", NumCounters: 100, MaxCost: 100, BufferItems: 16})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Dispose()
	if c := h.cost(tiercache.NewCacheItem("k1", "v1")); c != 1 {
		t.Fatalf("cost() without a codec = %d, want 1", c)
	}
}
