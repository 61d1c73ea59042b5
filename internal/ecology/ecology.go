// Package ecology implements the interaction engine: the three
// primitive operations — try_eat, try_mate, try_birth — plus
// kill_animal and apocalypse, built on top of the registry and
// the per-entity locking discipline.
//
// Every exported method here assumes the caller already holds an open
// read section (an epoch.Reader between EnterRead and LeaveRead); none
// of them open one themselves.
package ecology

import (
	"math/rand"
	"sync/atomic"

	"github.com/nbtaylor/island/internal/animal"
	"github.com/nbtaylor/island/internal/config"
	"github.com/nbtaylor/island/internal/epoch"
	"github.com/nbtaylor/island/internal/registry"
	"github.com/nbtaylor/island/internal/vegetation"
)

// Engine bundles the collaborators the interaction operations mutate
// through.
type Engine struct {
	Registry   *registry.Registry
	Config     *config.Cell
	Vegetation *vegetation.Vegetation
	Domain     *epoch.Domain

	// allocatedAnimals tracks animals that have been committed into the
	// registry and not yet reclaimed. It exists for tests and the
	// shutdown-time diagnostic (no heap remains allocated for animals
	// after apocalypse and the subsequent barrier); it plays no role in
	// correctness, since Go's garbage collector — not this counter —
	// owns actual memory.
	allocatedAnimals int64
}

// New returns an Engine over the given collaborators.
func New(reg *registry.Registry, cell *config.Cell, veg *vegetation.Vegetation, domain *epoch.Domain) *Engine {
	return &Engine{Registry: reg, Config: cell, Vegetation: veg, Domain: domain}
}

// AllocatedAnimals reports how many animals have been born and not yet
// reclaimed. Used by tests and the shutdown diagnostic only.
func (e *Engine) AllocatedAnimals() int64 {
	return atomic.LoadInt64(&e.allocatedAnimals)
}

// TryMate attempts to impregnate the female of a mixed-sex,
// same-species pair. Preconditions are checked lock-free; on success
// both locks are held only for the duration of the pregnancy check and
// update.
func (e *Engine) TryMate(rng *rand.Rand, a, b *animal.Animal) bool {
	if b == nil {
		return false
	}
	if a.Kind.Species != b.Kind.Species {
		return false
	}
	if a.Sex == b.Sex {
		return false
	}

	female := a
	if a.Sex != animal.Female {
		female = b
	}

	if !animal.LockTestPair(a, b) {
		return false
	}
	defer animal.UnlockPair(a, b)

	if a.NrPregnant != 0 || b.NrPregnant != 0 {
		return false
	}
	if female.Kind.MaxPregnant == 0 {
		panic("ecology: invariant violation: max_pregnant == 0 on a live animal")
	}
	female.NrPregnant = uint64(rng.Int63n(int64(female.Kind.MaxPregnant)))
	return true
}

// TryEat runs one eat encounter. If b is nil, a attempts to graze on
// vegetation according to its diet. Otherwise two independent
// predation attempts are made — a eating b, then b eating a — and if
// neither lands, every surviving participant loses one point of
// stamina, dying immediately if it reaches zero.
func (e *Engine) TryEat(a, b *animal.Animal) bool {
	ate := false

	if b == nil {
		if a.Kind.Diet&config.DietFlowers != 0 {
			if animal.LockTestSingle(a) {
				if e.Vegetation.TryEatFlower() {
					a.Stamina++
					ate = true
				}
				animal.UnlockSingle(a)
			}
		}
		if !ate && a.Kind.Diet&config.DietTrees != 0 {
			if animal.LockTestSingle(a) {
				if e.Vegetation.TryEatTree() {
					a.Stamina++
					ate = true
				}
				animal.UnlockSingle(a)
			}
		}
	} else {
		if e.predate(a, b) {
			ate = true
		}
		if e.predate(b, a) {
			ate = true
		}
	}

	if !ate {
		e.starve(a)
		if b != nil {
			e.starve(b)
		}
	}
	return ate
}

// predate attempts to have eater kill and consume victim. It fails
// silently (no log, no error — a precondition-failed outcome) if
// eater's diet does not include victim's species or if victim has
// already been removed by a concurrent mutation.
func (e *Engine) predate(eater, victim *animal.Animal) bool {
	if eater.Kind.Diet&config.DietBitForSpecies(victim.Kind.Species) == 0 {
		return false
	}
	if !animal.LockTestPair(eater, victim) {
		return false
	}
	e.KillAnimal(victim)
	eater.Stamina++
	animal.UnlockPair(eater, victim)
	return true
}

// starve decrements a's stamina by one, killing it on reaching zero.
// Stamina never underflows: an animal already at zero stays at zero
// and is killed rather than wrapping (saturating, never underflowing).
func (e *Engine) starve(a *animal.Animal) {
	if !animal.LockTestSingle(a) {
		return
	}
	if a.Stamina > 0 {
		a.Stamina--
	}
	if a.Stamina == 0 {
		e.KillAnimal(a)
	}
	animal.UnlockSingle(a)
}

// TryBirth attempts to have parent give birth to a new animal at
// newKey. If god is false, parent must currently be pregnant
// (NrPregnant != 0); if god is true, the precondition is bypassed (a
// "god action", distinguished only by skipping the pregnancy
// requirement and the resulting decrement) and new_key's species
// follows parent's.
func (e *Engine) TryBirth(r *epoch.Reader, rng *rand.Rand, parent *animal.Animal, newKey uint64, god bool) bool {
	if !god && parent.NrPregnant == 0 {
		return false
	}
	return e.birth(r, rng, parent, parent.Kind.Species, newKey, god)
}

// GodSpawn creates a new animal of the given species out of thin air,
// bypassing any parent entirely. It is the administrative "spawn N"
// god action (the god menu).
func (e *Engine) GodSpawn(r *epoch.Reader, rng *rand.Rand, species config.Species, newKey uint64) bool {
	return e.birth(r, rng, nil, species, newKey, true)
}

func (e *Engine) birth(r *epoch.Reader, rng *rand.Rand, parent *animal.Animal, species config.Species, newKey uint64, god bool) bool {
	cfg := e.Config.Snapshot(r)
	kind := cfg.KindFor(species)
	if kind.MaxPregnant == 0 {
		panic("ecology: invariant violation: max_pregnant == 0 in configuration")
	}

	sex := animal.Male
	if rng.Intn(2) == 1 {
		sex = animal.Female
	}
	var stamina uint64
	if kind.MaxBirthStamina > 0 {
		stamina = uint64(rng.Int63n(int64(kind.MaxBirthStamina)))
	}
	child := animal.New(newKey, kind, sex, stamina)

	var ok bool
	if !god {
		ok = animal.LockTestPair(parent, child)
	} else {
		ok = animal.LockTestSingle(child)
	}
	if !ok {
		return false
	}

	// Two-step insert: "all" first, then the species-specific view.
	// The child's lock stays held across both so no concurrent
	// kill_animal can observe the child in "all" but not yet in its
	// kind view — such a deleter would block on the child's lock
	// until this function releases it, by which point both inserts
	// have completed.
	if !e.Registry.AddUnique(registry.All, newKey, child) {
		e.unlockBirth(parent, child, god)
		return false
	}

	kindView := registry.SpeciesView(species)
	if !e.Registry.AddUnique(kindView, newKey, child) {
		panic("ecology: invariant violation: kind-view collision after all-view insert succeeded")
	}

	atomic.AddInt64(&e.allocatedAnimals, 1)

	if !god {
		parent.NrPregnant--
	}
	e.unlockBirth(parent, child, god)
	return true
}

func (e *Engine) unlockBirth(parent, child *animal.Animal, god bool) {
	if !god {
		animal.UnlockPair(parent, child)
	} else {
		animal.UnlockSingle(child)
	}
}

// KillAnimal removes a from the registry and schedules its deferred
// reclamation. The caller must already hold a.Lock — either through
// the lock-test idiom in package animal, or because this call is made
// during single-threaded Apocalypse.
//
// Deletion order is kind view first, then "all": the reverse order
// would let a concurrent TryBirth targeting the same key observe no
// "all" entry, insert successfully into "all", and then fail its
// kind-view add_unique because the dying animal's kind entry is still
// present — an unrecoverable invariant violation. Kind-first avoids
// that window entirely.
func (e *Engine) KillAnimal(a *animal.Animal) {
	kindView := registry.SpeciesView(a.Kind.Species)
	if !e.Registry.Delete(kindView, a.Key) {
		panic("ecology: invariant violation: kind-view delete found animal already absent")
	}
	if !e.Registry.Delete(registry.All, a.Key) {
		panic("ecology: invariant violation: all-view delete found animal already absent")
	}
	a.Removed.Store(true)
	e.Domain.Release(func() {
		atomic.AddInt64(&e.allocatedAnimals, -1)
	})
}

// Apocalypse bulk-kills every currently live animal. It must be called
// from within an open read section (so the "all" view iteration is
// itself safe), and is only ever invoked after every worker thread has
// been joined — so there is no concurrent mutator left to race with,
// but each animal's lock is still acquired and re-checked even in
// this single-threaded context.
func (e *Engine) Apocalypse(r *epoch.Reader) {
	if !r.Active() {
		panic("ecology: Apocalypse called without an open read section")
	}

	var victims []*animal.Animal
	e.Registry.Iterate(registry.All, func(_ uint64, a *animal.Animal) {
		victims = append(victims, a)
	})

	for _, a := range victims {
		a.Lock.Lock()
		if !registry.IsRemoved(a) {
			e.KillAnimal(a)
		}
		a.Lock.Unlock()
	}
}
