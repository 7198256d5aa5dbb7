package tiercache

import "sync/atomic"

// atomicCounter is a thin wrapper over atomic.Int64 kept as its own type so
// Counters' field list stays readable.
type atomicCounter struct {
	v atomic.Int64
}

func (c *atomicCounter) add(delta int64) { c.v.Add(delta) }
func (c *atomicCounter) load() int64     { return c.v.Load() }
