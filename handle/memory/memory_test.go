package memory

import (
	"context"
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache"
)

func TestHandleAddRejectsExistingLiveKey(t *testing.T) {
	ctx := context.Background()
	h := New[string](Config{Name: "l1"})
	defer h.Dispose()

	added, err := h.Add(ctx, tiercache.NewCacheItem("k1", "v1"))
	if err != nil || !added {
		t.Fatalf("first Add: added=%v err=%v, want true/nil", added, err)
	}
	added, err = h.Add(ctx, tiercache.NewCacheItem("k1", "v2"))
	if err != nil || added {
		t.Fatalf("second Add on a live key: added=%v err=%v, want false/nil", added, err)
	}
	item, _, _ := h.Get(ctx, "k1", "")
	if item.Value() != "v1" {
		t.Fatalf("value after rejected Add = %q, want v1", item.Value())
	}
}

func TestHandlePutIncrementsVersionOnOverwrite(t *testing.T) {
	ctx := context.Background()
	h := New[string](Config{Name: "l1"})
	defer h.Dispose()

	if err := h.Put(ctx, tiercache.NewCacheItem("k1", "v1")); err != nil {
		t.Fatalf("Put #1: %v", err)
	}
	item, _, _ := h.Get(ctx, "k1", "")
	if item.Version() != 1 {
		t.Fatalf("version after first Put = %d, want 1", item.Version())
	}

	if err := h.Put(ctx, tiercache.NewCacheItem("k1", "v2")); err != nil {
		t.Fatalf("Put #2: %v", err)
	}
	item, _, _ = h.Get(ctx, "k1", "")
	if item.Version() != 2 {
		t.Fatalf("version after second Put = %d, want 2", item.Version())
	}
}

func TestHandleAbsoluteExpirationEvictsOnRead(t *testing.T) {
	ctx := context.Background()
	h := New[string](Config{Name: "l1"})
	defer h.Dispose()

	item := tiercache.NewCacheItem("k1", "v1").WithExpiration(tiercache.ExpireAbsolute, 10*time.Millisecond)
	if err := h.Put(ctx, item); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, found, _ := h.Get(ctx, "k1", ""); !found {
		t.Fatalf("key should still be live immediately after Put")
	}
	time.Sleep(20 * time.Millisecond)
	if _, found, _ := h.Get(ctx, "k1", ""); found {
		t.Fatalf("key should have expired and been evicted on read")
	}
	if n, _ := h.Count(ctx); n != 0 {
		t.Fatalf("Count() after lazy eviction = %d, want 0", n)
	}
}

func TestHandleSlidingExpirationRenewsOnRead(t *testing.T) {
	ctx := context.Background()
	h := New[string](Config{Name: "l1"})
	defer h.Dispose()

	item := tiercache.NewCacheItem("k1", "v1").WithExpiration(tiercache.ExpireSliding, 30*time.Millisecond)
	if err := h.Put(ctx, item); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, found, _ := h.Get(ctx, "k1", ""); !found {
		t.Fatalf("sliding key should still be live before its window elapses")
	}
	time.Sleep(20 * time.Millisecond)
	if _, found, _ := h.Get(ctx, "k1", ""); !found {
		t.Fatalf("the read at t=20ms should have renewed the deadline past t=40ms")
	}
}

func TestHandleCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	h := New[string](Config{Name: "l1"})
	defer h.Dispose()

	if err := h.Put(ctx, tiercache.NewCacheItem("k1", "v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	item, _, _ := h.Get(ctx, "k1", "")

	if _, ok, err := h.CompareAndSwap(ctx, "k1", "", item.Version()+1, item.WithValue("stale")); err != nil || ok {
		t.Fatalf("CAS with wrong expected version: ok=%v err=%v, want false/nil", ok, err)
	}
	stored, ok, err := h.CompareAndSwap(ctx, "k1", "", item.Version(), item.WithValue("v2"))
	if err != nil || !ok {
		t.Fatalf("CAS with correct expected version: ok=%v err=%v, want true/nil", ok, err)
	}
	if stored.Value() != "v2" || stored.Version() != item.Version()+1 {
		t.Fatalf("stored after CAS = %q/%d, want v2/%d", stored.Value(), stored.Version(), item.Version()+1)
	}
}

func TestHandleUpdateAppliesFunction(t *testing.T) {
	ctx := context.Background()
	h := New[int](Config{Name: "l1"})
	defer h.Dispose()

	if err := h.Put(ctx, tiercache.NewCacheItem("counter", 1)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	res, err := h.Update(ctx, "counter", "", func(old int, found bool) (int, bool) {
		return old + 1, true
	}, 2)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.Outcome != tiercache.UpdateSuccess || res.Item.Value() != 2 {
		t.Fatalf("Update result = %+v, want success/2", res)
	}
}

func TestHandleClearRegionOnlyTouchesThatRegion(t *testing.T) {
	ctx := context.Background()
	h := New[string](Config{Name: "l1"})
	defer h.Dispose()

	if err := h.Put(ctx, tiercache.NewCacheItem("k1", "v1").WithRegion("a")); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if err := h.Put(ctx, tiercache.NewCacheItem("k2", "v2").WithRegion("b")); err != nil {
		t.Fatalf("Put b: %v", err)
	}
	if err := h.ClearRegion(ctx, "a"); err != nil {
		t.Fatalf("ClearRegion: %v", err)
	}
	if _, found, _ := h.Get(ctx, "k1", "a"); found {
		t.Fatalf("k1 in region a should have been cleared")
	}
	if _, found, _ := h.Get(ctx, "k2", "b"); !found {
		t.Fatalf("k2 in region b should survive ClearRegion(a)")
	}
}

func TestHandleDisposeStopsSweepAndIsIdempotent(t *testing.T) {
	h := New[string](Config{Name: "l1", SweepInterval: time.Millisecond})
	if err := h.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if err := h.Dispose(); err != nil {
		t.Fatalf("second Dispose should be a no-op, got %v", err)
	}
}

func TestFactoryBuildsFromHandleConfig(t *testing.T) {
	factory := Factory[string](time.Minute)
	h, err := factory(tiercache.HandleConfig{Name: "l1", ExpirationMode: tiercache.ExpireAbsolute, ExpirationTimeout: time.Hour}, tiercache.FactoryDeps{})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	defer h.Dispose()
	if h.Name() != "l1" {
		t.Fatalf("Name() = %q, want l1", h.Name())
	}
}
