// Package registry implements the live-entity index: four logical
// views over key -> *animal.Animal (one "all" view and one per
// species), supporting concurrent lookup, add-unique, delete, and
// iteration.
//
// Each view is backed by a sync.Map rather than a hand-rolled
// lock-free hash table. sync.Map is documented as optimized for
// exactly this access pattern — entries written once and read many
// times, with a roughly disjoint working set of keys touched by each
// goroutine — which is the shape every view sees here: a key is
// inserted once at birth, read many times by concurrent lookups, and
// deleted once at death. Its Load is allocation-free on the hit path
// and never blocks a concurrent LoadOrStore/Delete on a different key
// (see DESIGN.md for why this was chosen over reimplementing
// cds_lfht-style open addressing by hand).
package registry

import (
	"sync"

	"github.com/nbtaylor/island/internal/animal"
	"github.com/nbtaylor/island/internal/config"
)

// View names one of the four logical maps.
type View int

const (
	All View = iota
	GerbilView
	CatView
	SnakeView
)

// SpeciesView returns the kind-specific view for s.
func SpeciesView(s config.Species) View {
	switch s {
	case config.Gerbil:
		return GerbilView
	case config.Cat:
		return CatView
	case config.Snake:
		return SnakeView
	default:
		panic("registry: unknown species")
	}
}

// Registry holds the four views. The zero value is not usable; use
// New.
type Registry struct {
	views [4]sync.Map // keyed by uint64, valued *animal.Animal
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

func (r *Registry) view(v View) *sync.Map {
	return &r.views[v]
}

// Lookup returns the live animal at key in the given view, or
// (nil, false) if none is present. Wait-free; the returned pointer is
// only valid for the caller's current read section.
func (r *Registry) Lookup(v View, key uint64) (*animal.Animal, bool) {
	val, ok := r.view(v).Load(key)
	if !ok {
		return nil, false
	}
	return val.(*animal.Animal), true
}

// AddUnique installs a at key in the given view iff no entry for key
// already exists there, returning true on success and false on
// collision. Linearizable with concurrent AddUnique, Lookup, and
// Delete on the same view.
func (r *Registry) AddUnique(v View, key uint64, a *animal.Animal) bool {
	_, loaded := r.view(v).LoadOrStore(key, a)
	return !loaded
}

// Delete idempotently removes key from the given view. It returns true
// if this call performed the removal, false if the entry was already
// gone (a detectable no-op).
func (r *Registry) Delete(v View, key uint64) bool {
	_, loaded := r.view(v).LoadAndDelete(key)
	return loaded
}

// Iterate yields every entry currently live in the given view. It may
// miss entries inserted concurrently and may yield entries
// concurrently deleted; callers must re-validate under the entity lock
// (animal.LockTestSingle / LockTestPair) before mutating anything
// observed this way. Iteration itself never blocks a concurrent
// mutator.
func (r *Registry) Iterate(v View, fn func(key uint64, a *animal.Animal)) {
	r.view(v).Range(func(k, val any) bool {
		fn(k.(uint64), val.(*animal.Animal))
		return true
	})
}

// Count returns the number of entries currently visible in the given
// view. O(n); intended for the periodic output surface and tests, not
// the hot path.
func (r *Registry) Count(v View) int {
	n := 0
	r.view(v).Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// IsRemoved reports a's liveness marker. Cheap, but only authoritative
// when read while a.Lock is held — the lock-test idiom in package
// animal is what actually establishes that discipline; this is exposed
// standalone for the rare caller (e.g. apocalypse) that re-checks
// liveness immediately after acquiring the lock itself.
func IsRemoved(a *animal.Animal) bool {
	return a.Removed.Load()
}
