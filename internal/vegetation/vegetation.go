// Package vegetation implements the island's shared vegetation
// counters: two u64 counters under a single mutex, consumed by
// herbivorous and omnivorous eat paths and by god-action replenishment.
package vegetation

import "sync"

// Vegetation holds the island's flower and tree counts. Counters
// saturate at zero; they are never decremented past it.
type Vegetation struct {
	mu      sync.Mutex
	flowers uint64
	trees   uint64
}

// New returns vegetation seeded with the given counts.
func New(flowers, trees uint64) *Vegetation {
	return &Vegetation{flowers: flowers, trees: trees}
}

// TryEatFlower decrements the flower counter by one and reports true
// if there was a flower to eat, false (no state change) otherwise.
func (v *Vegetation) TryEatFlower() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.flowers == 0 {
		return false
	}
	v.flowers--
	return true
}

// TryEatTree is TryEatFlower's counterpart for trees.
func (v *Vegetation) TryEatTree() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.trees == 0 {
		return false
	}
	v.trees--
	return true
}

// Counts returns the current flower and tree counts, under lock.
func (v *Vegetation) Counts() (flowers, trees uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.flowers, v.trees
}

// SetFlowers sets the flower counter directly (god action).
func (v *Vegetation) SetFlowers(n uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.flowers = n
}

// SetTrees sets the tree counter directly (god action).
func (v *Vegetation) SetTrees(n uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.trees = n
}
