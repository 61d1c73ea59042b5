// Package epoch implements a deferred-reclamation domain: a read-side
// critical section primitive that lets any number of goroutines
// dereference objects published through [registry] or [config]
// without per-object reference counting on the read path.
//
// The scheme is epoch-based reclamation. A single monotonically
// increasing counter, the global epoch, is bumped by every writer that
// unpublishes an object. Each registered reader records the global
// epoch it observed the moment it became active; an object retired at
// epoch E is safe to free once every reader that could have entered
// before E either left its read section or re-entered at a later
// epoch. LeaveRead is a single atomic add; EnterRead is an atomic add,
// plus a load of the global epoch and a store of it on the outermost
// entry: no lock, no CAS, no contention between readers.
package epoch

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// pollInterval is how often Barrier re-checks whether a grace period
// has elapsed. It is independent of, and much shorter than, the work
// queue's blocking-on-empty poll (workqueue.DefaultPollInterval).
const pollInterval = time.Millisecond

// Domain owns the global epoch counter and the set of registered
// readers. One Domain is created per process; every worker goroutine
// registers with it before entering a read section.
type Domain struct {
	globalEpoch uint64 // atomic

	readers sync.Map // *Reader -> struct{}

	retiredMu sync.Mutex
	retired   []retirement
}

type retirement struct {
	epoch uint64
	free  func()
}

// NewDomain returns an empty reclamation domain.
func NewDomain() *Domain {
	return &Domain{globalEpoch: 1}
}

// Reader is a single thread's (goroutine's) registration with a
// Domain. Enter/Leave are reentrant: a goroutine may nest read
// sections, and only the outermost Enter records the current epoch.
type Reader struct {
	epoch uint64 // atomic: epoch recorded at the outermost Enter
	depth int32  // atomic: reentrancy depth, 0 means not in a read section
}

// Register creates and registers a Reader. Call Unregister when the
// calling goroutine will never call EnterRead again (typically right
// before a worker exits).
func (d *Domain) Register() *Reader {
	r := &Reader{}
	d.readers.Store(r, struct{}{})
	return r
}

// Unregister removes r from the domain.
func (d *Domain) Unregister(r *Reader) {
	d.readers.Delete(r)
}

// EnterRead begins (or re-enters) a read section. Every call must be
// matched by exactly one LeaveRead.
func (r *Reader) EnterRead(d *Domain) {
	if atomic.AddInt32(&r.depth, 1) == 1 {
		atomic.StoreUint64(&r.epoch, atomic.LoadUint64(&d.globalEpoch))
	}
}

// LeaveRead ends the innermost open read section.
func (r *Reader) LeaveRead() {
	atomic.AddInt32(&r.depth, -1)
}

// Active reports whether r currently holds an open read section.
// Intended for assertions at call sites that require one (e.g.
// config.Snapshot), not for control flow on the hot path.
func (r *Reader) Active() bool {
	return atomic.LoadInt32(&r.depth) > 0
}

// Release publishes the retirement of an object: free will eventually
// run, but not until every read section that could have observed the
// object (i.e. that began before this call) has exited. Callers must
// have already made the object unreachable from any index or
// configuration pointer before calling Release — Release only defers
// the *free*, it does not unpublish.
func (d *Domain) Release(free func()) {
	e := atomic.LoadUint64(&d.globalEpoch)
	atomic.AddUint64(&d.globalEpoch, 1)

	d.retiredMu.Lock()
	d.retired = append(d.retired, retirement{epoch: e, free: free})
	d.retiredMu.Unlock()

	d.reclaim()
}

// reclaim runs a single, non-blocking reclamation pass: every retired
// object whose epoch predates every currently active reader's recorded
// epoch is freed immediately.
func (d *Domain) reclaim() {
	minActive := atomic.LoadUint64(&d.globalEpoch)

	d.readers.Range(func(key, _ any) bool {
		r := key.(*Reader)
		if atomic.LoadInt32(&r.depth) > 0 {
			if e := atomic.LoadUint64(&r.epoch); e < minActive {
				minActive = e
			}
		}
		return true
	})

	d.retiredMu.Lock()
	if len(d.retired) == 0 {
		d.retiredMu.Unlock()
		return
	}
	kept := d.retired[:0]
	var toFree []func()
	for _, it := range d.retired {
		if it.epoch < minActive {
			toFree = append(toFree, it.free)
		} else {
			kept = append(kept, it)
		}
	}
	d.retired = kept
	d.retiredMu.Unlock()

	for _, free := range toFree {
		free()
	}
}

// Barrier blocks until every reclamation enqueued before this call has
// executed. Used during shutdown, after apocalypse and before the
// process exits, to guarantee no pending deferred frees survive a
// clean shutdown.
func (d *Domain) Barrier() {
	target := atomic.LoadUint64(&d.globalEpoch)
	for {
		d.reclaim()

		d.retiredMu.Lock()
		drained := true
		for _, it := range d.retired {
			if it.epoch < target {
				drained = false
				break
			}
		}
		d.retiredMu.Unlock()

		if drained {
			return
		}
		runtime.Gosched()
		time.Sleep(pollInterval)
	}
}

// Pending reports the number of retirements still waiting for their
// grace period to elapse. Exposed for tests and diagnostics only.
func (d *Domain) Pending() int {
	d.retiredMu.Lock()
	defer d.retiredMu.Unlock()
	return len(d.retired)
}
