package tiercache_test

import (
	"sync"
	"testing"

	"github.com/unkn0wn-root/tiercache"
)

func TestHandleStatsRecordsGlobalAndRegion(t *testing.T) {
	s := tiercache.NewHandleStats()
	s.RecordCall("users", "get")
	s.RecordHit("users")
	s.RecordCall("orders", "get")
	s.RecordMiss("orders")
	s.AdjustItems("users", 3)
	s.AdjustItems("orders", 1)

	global := s.Global()
	if global.GetCalls != 2 {
		t.Fatalf("Global().GetCalls = %d, want 2", global.GetCalls)
	}
	if global.Hits != 1 || global.Misses != 1 {
		t.Fatalf("Global() hits/misses = %d/%d, want 1/1", global.Hits, global.Misses)
	}
	if global.Items != 4 {
		t.Fatalf("Global().Items = %d, want 4", global.Items)
	}

	users := s.Region("users")
	if users.GetCalls != 1 || users.Hits != 1 || users.Items != 3 {
		t.Fatalf("Region(users) = %+v, want GetCalls=1 Hits=1 Items=3", users)
	}

	regions := s.Regions()
	if len(regions) != 2 {
		t.Fatalf("Regions() = %v, want 2 entries", regions)
	}
}

func TestHandleStatsRegionIsLazilyCreated(t *testing.T) {
	s := tiercache.NewHandleStats()
	empty := s.Region("never-touched")
	if empty.GetCalls != 0 || empty.Hits != 0 || empty.Items != 0 {
		t.Fatalf("Region() for an untouched region should be all-zero, got %+v", empty)
	}
	found := false
	for _, r := range s.Regions() {
		if r == "never-touched" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Region() should register the region even with no counters yet")
	}
}

func TestHandleStatsConcurrentRegionCreation(t *testing.T) {
	s := tiercache.NewHandleStats()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordHit("shared-region")
		}()
	}
	wg.Wait()
	if got := s.Region("shared-region").Hits; got != 50 {
		t.Fatalf("Region(shared-region).Hits = %d, want 50", got)
	}
}
