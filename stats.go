package tiercache

import "sync"

// Counters holds one handle-or-region's operation counts. All fields are
// updated with sync/atomic; read them through Stats (Global/Region), which
// return a CountersSnapshot, rather than reading the struct directly.
type Counters struct {
	hits             atomicCounter
	misses           atomicCounter
	items            atomicCounter
	getCalls         atomicCounter
	putCalls         atomicCounter
	addCalls         atomicCounter
	removeCalls      atomicCounter
	clearCalls       atomicCounter
	clearRegionCalls atomicCounter
}

// CountersSnapshot is a point-in-time, non-atomic copy of Counters safe to
// read and compare after capture.
type CountersSnapshot struct {
	Hits             int64
	Misses           int64
	Items            int64
	GetCalls         int64
	PutCalls         int64
	AddCalls         int64
	RemoveCalls      int64
	ClearCalls       int64
	ClearRegionCalls int64
}

func (c *Counters) snapshot() CountersSnapshot {
	return CountersSnapshot{
		Hits:             c.hits.load(),
		Misses:           c.misses.load(),
		Items:            c.items.load(),
		GetCalls:         c.getCalls.load(),
		PutCalls:         c.putCalls.load(),
		AddCalls:         c.addCalls.load(),
		RemoveCalls:      c.removeCalls.load(),
		ClearCalls:       c.clearCalls.load(),
		ClearRegionCalls: c.clearRegionCalls.load(),
	}
}

// Stats exposes a handle's per-region statistics. Implementations must make
// Global/Region lock-free to read; region creation may take a short mutex.
type Stats interface {
	// Global returns counters aggregated across every region plus the
	// null region.
	Global() CountersSnapshot
	// Region returns the counters for a single region, creating it lazily
	// (as all-zero) if it has never been referenced.
	Region(region string) CountersSnapshot
	// Regions lists every region that has been referenced, including ones
	// created lazily by Region whose counters are all zero.
	Regions() []string
}

// HandleStats is the concrete Stats implementation shared by the in-tree
// handle packages: atomic counters shared across all regions plus a
// mutex-guarded map for per-region breakdowns: reads never block on the
// map lock, only region creation does.
type HandleStats struct {
	global Counters

	mu      sync.RWMutex
	regions map[string]*Counters
}

// NewHandleStats constructs an empty statistics block.
func NewHandleStats() *HandleStats {
	return &HandleStats{regions: make(map[string]*Counters)}
}

func (s *HandleStats) regionCounters(region string) *Counters {
	s.mu.RLock()
	c, ok := s.regions[region]
	s.mu.RUnlock()
	if ok {
		return c
	}
	s.mu.Lock()
	c, ok = s.regions[region]
	if !ok {
		c = &Counters{}
		s.regions[region] = c
	}
	s.mu.Unlock()
	return c
}

func (s *HandleStats) Global() CountersSnapshot { return s.global.snapshot() }

func (s *HandleStats) Region(region string) CountersSnapshot {
	return s.regionCounters(region).snapshot()
}

func (s *HandleStats) Regions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.regions))
	for r := range s.regions {
		out = append(out, r)
	}
	return out
}

// RecordHit increments Hits on both the global and per-region counters.
func (s *HandleStats) RecordHit(region string) {
	s.global.hits.add(1)
	s.regionCounters(region).hits.add(1)
}

// RecordMiss increments Misses on both the global and per-region counters.
func (s *HandleStats) RecordMiss(region string) {
	s.global.misses.add(1)
	s.regionCounters(region).misses.add(1)
}

// RecordCall increments the call counter named by op ("get", "put", "add",
// "remove", "clear", "clear_region") on both global and per-region
// counters.
func (s *HandleStats) RecordCall(region, op string) {
	g, r := &s.global, s.regionCounters(region)
	switch op {
	case "get":
		g.getCalls.add(1)
		r.getCalls.add(1)
	case "put":
		g.putCalls.add(1)
		r.putCalls.add(1)
	case "add":
		g.addCalls.add(1)
		r.addCalls.add(1)
	case "remove":
		g.removeCalls.add(1)
		r.removeCalls.add(1)
	case "clear":
		g.clearCalls.add(1)
		r.clearCalls.add(1)
	case "clear_region":
		g.clearRegionCalls.add(1)
		r.clearRegionCalls.add(1)
	}
}

// AdjustItems adds delta (positive or negative) to the item count on both
// global and per-region counters.
func (s *HandleStats) AdjustItems(region string, delta int64) {
	s.global.items.add(delta)
	s.regionCounters(region).items.add(delta)
}
