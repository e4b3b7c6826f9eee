package stdwatchers

import (
	"sync"
	"sync/atomic"

	"github.com/morezero/process-watchers/pkg/watcher"
)

// Counters is a set of named atomic counters created on first use.
type Counters struct {
	mu sync.Mutex
	m  map[string]*atomic.Int64
}

// NewCounters creates counters with the given names already present at zero.
func NewCounters(names ...string) *Counters {
	c := &Counters{m: make(map[string]*atomic.Int64, len(names))}
	for _, n := range names {
		c.Counter(n)
	}
	return c
}

// Counter returns the counter called name, creating it if needed.
func (c *Counters) Counter(name string) *atomic.Int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctr, ok := c.m[name]
	if !ok {
		ctr = &atomic.Int64{}
		c.m[name] = ctr
	}
	return ctr
}

// Inc adds one to name and returns the new value.
func (c *Counters) Inc(name string) int64 {
	return c.Counter(name).Add(1)
}

func (c *Counters) snapshot() map[string]*atomic.Int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*atomic.Int64, len(c.m))
	for k, v := range c.m {
		out[k] = v
	}
	return out
}

// Node exposes the counters as a map of writable INT leaves in name order.
func (c *Counters) Node() *watcher.Map {
	leaf := watcher.Member(
		func(ctr *atomic.Int64) int64 { return ctr.Load() },
		func(ctr *atomic.Int64, v int64) { ctr.Store(v) },
	)
	return watcher.MapOf(func(any) map[string]*atomic.Int64 { return c.snapshot() }, watcher.StringKey, leaf).
		WithDoc("named event counters")
}
