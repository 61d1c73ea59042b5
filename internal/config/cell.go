package config

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nbtaylor/island/internal/epoch"
)

// ErrIslandSizeShrink is returned by UpdateEnd when a pending edit
// would lower IslandSize below the currently published value.
var ErrIslandSizeShrink = errors.New("config: island_size must not decrease")

// Cell publishes an immutable *Config snapshot. Reads are wait-free
// (a single atomic load); updates are serialized by publishMu so only
// one writer is ever mid-publish.
type Cell struct {
	ptr       atomic.Pointer[Config]
	publishMu sync.Mutex
	domain    *epoch.Domain

	// allocatedSnapshots tracks published Config snapshots that have
	// not yet cleared their grace period. It exists for tests and the
	// shutdown-time diagnostic (no heap remains allocated for old
	// config snapshots once every reader that could have observed
	// them has left); it plays no role in correctness, since Go's
	// garbage collector — not this counter — owns actual memory.
	allocatedSnapshots int64
}

// NewCell creates a Cell already published with initial. domain is the
// reclamation domain old snapshots are deferred-freed through.
func NewCell(domain *epoch.Domain, initial *Config) *Cell {
	c := &Cell{domain: domain}
	c.ptr.Store(initial)
	c.allocatedSnapshots = 1
	return c
}

// AllocatedSnapshots reports how many Config snapshots have been
// published and not yet reclaimed. Used by tests and the shutdown
// diagnostic only.
func (c *Cell) AllocatedSnapshots() int64 {
	return atomic.LoadInt64(&c.allocatedSnapshots)
}

// Snapshot returns the currently published configuration. r must hold
// an open read section for the lifetime of the returned pointer's use;
// Snapshot panics if it does not, since a snapshot read outside a read
// section has no reclamation guarantee.
func (c *Cell) Snapshot(r *epoch.Reader) *Config {
	if !r.Active() {
		panic("config: Snapshot called without an open read section")
	}
	return c.ptr.Load()
}

// UpdateBegin acquires the publish mutex and returns a writable copy of
// the currently published configuration for the caller to edit. It
// must be followed by exactly one of UpdateEnd or UpdateAbort.
func (c *Cell) UpdateBegin() *Config {
	c.publishMu.Lock()
	cur := c.ptr.Load()
	next := *cur
	return &next
}

// UpdateEnd publishes next atomically and releases the publish mutex.
// If next.IslandSize would shrink relative to the currently published
// value, the update is rejected (ErrIslandSizeShrink) and nothing is
// published — the edit site, not the Cell, is expected to have
// validated this already, but the Cell defends the invariant too.
func (c *Cell) UpdateEnd(next *Config) error {
	defer c.publishMu.Unlock()

	old := c.ptr.Load()
	if next.IslandSize < old.IslandSize {
		return ErrIslandSizeShrink
	}

	c.ptr.Store(next)
	atomic.AddInt64(&c.allocatedSnapshots, 1)
	c.domain.Release(func() {
		atomic.AddInt64(&c.allocatedSnapshots, -1)
	})
	return nil
}

// UpdateAbort releases the publish mutex without publishing next. The
// local copy is simply dropped; Go's GC reclaims it once unreferenced.
func (c *Cell) UpdateAbort(next *Config) {
	_ = next
	c.publishMu.Unlock()
}
