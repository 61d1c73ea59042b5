// Package animal defines the Animal entity and the per-entity locking
// discipline the rest of the simulation mutates it through.
package animal

import (
	"sync"
	"sync/atomic"

	"github.com/nbtaylor/island/internal/config"
)

// Sex is immutable after construction.
type Sex int

const (
	Male Sex = iota
	Female
)

// Animal is the central entity of the simulation. Kind and Sex are set
// once at construction and never mutated again. Stamina and
// NrPregnant are mutable only under Lock, per the lock-test idiom in
// this package. Removed is the liveness marker ecology.KillAnimal sets
// once the animal has been deleted from its registry views; the
// existence check is Removed.Load() performed while Lock is held.
type Animal struct {
	Key  uint64
	Kind config.AnimalKind
	Sex  Sex

	Lock sync.Mutex

	// Guarded by Lock.
	Stamina    uint64
	NrPregnant uint64

	// Removed is flipped exactly once, by ecology.KillAnimal, after
	// the animal has been deleted from its kind view and the "all"
	// view. It is only authoritative when read while Lock is held
	// (the lock-test idiom).
	Removed atomic.Bool
}

// New constructs an animal. It is not yet inserted into any registry
// view; the caller (ecology.TryBirth) does that under the lock-test
// idiom described in this package.
func New(key uint64, kind config.AnimalKind, sex Sex, stamina uint64) *Animal {
	a := &Animal{
		Key:     key,
		Kind:    kind,
		Sex:     sex,
		Stamina: stamina,
	}
	return a
}

// LockTestSingle acquires a's lock and re-checks that a is still live.
// On failure it releases the lock and returns false; on success it
// returns true with the lock held. This is the lock-test idiom: the
// registry alone cannot prevent writes to a zombie animal because
// a deleter removes from the registry but cannot retroactively
// invalidate references a concurrent reader already holds. The
// per-entity lock plus this post-lock re-check restores a linearizable
// liveness check without routing every mutation through the registry.
func LockTestSingle(a *Animal) bool {
	a.Lock.Lock()
	if a.Removed.Load() {
		a.Lock.Unlock()
		return false
	}
	return true
}

// UnlockSingle releases a's lock after a successful LockTestSingle.
func UnlockSingle(a *Animal) {
	a.Lock.Unlock()
}

// LockTestPair acquires both a and b's locks in strict ascending key
// order and re-checks liveness of both. On any failure every lock
// taken so far is released and false is returned; on success both
// locks are held and true is returned. Ordering by key is what makes
// concurrent pairwise mutations over overlapping animal pairs
// deadlock-free.
func LockTestPair(a, b *Animal) bool {
	first, second := a, b
	if first.Key > second.Key {
		first, second = second, first
	}

	first.Lock.Lock()
	if first.Removed.Load() {
		first.Lock.Unlock()
		return false
	}
	second.Lock.Lock()
	if second.Removed.Load() {
		second.Lock.Unlock()
		first.Lock.Unlock()
		return false
	}
	return true
}

// UnlockPair releases both locks after a successful LockTestPair, in
// the reverse order they were acquired.
func UnlockPair(a, b *Animal) {
	first, second := a, b
	if first.Key > second.Key {
		first, second = second, first
	}
	second.Lock.Unlock()
	first.Lock.Unlock()
}
