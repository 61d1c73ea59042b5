package dispatch

import (
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbtaylor/island/internal/animal"
	"github.com/nbtaylor/island/internal/config"
	"github.com/nbtaylor/island/internal/ecology"
	"github.com/nbtaylor/island/internal/epoch"
	"github.com/nbtaylor/island/internal/registry"
	"github.com/nbtaylor/island/internal/vegetation"
	"github.com/nbtaylor/island/internal/workqueue"
)

func newDeterministicRand() *rand.Rand {
	return rand.New(rand.NewSource(1))
}

func newTestDispatcher(t *testing.T, numWorkers int) *Dispatcher {
	t.Helper()
	d := epoch.NewDomain()
	reg := registry.New()
	cfg := config.Default()
	cfg.StepDelay = time.Millisecond
	cell := config.NewCell(d, cfg)
	veg := vegetation.New(0, 0)
	engine := ecology.New(reg, cell, veg, d)
	disp := New(d, cell, engine, numWorkers, time.Millisecond, zerolog.Nop())
	return disp
}

func TestNewPanicsOnNonPositiveWorkerCount(t *testing.T) {
	d := epoch.NewDomain()
	cell := config.NewCell(d, config.Default())
	engine := ecology.New(registry.New(), cell, vegetation.New(0, 0), d)

	assert.Panics(t, func() {
		New(d, cell, engine, 0, time.Millisecond, zerolog.Nop())
	}, "a worker pool of size zero is not a valid configuration")
}

func TestEnqueueRoundFeedsEveryWorkerExactlyOneItem(t *testing.T) {
	disp := newTestDispatcher(t, 4)

	disp.enqueueRound(100)

	for i, q := range disp.queues {
		w, ok := q.TryDequeue()
		assert.True(t, ok, "worker %d should have received one work item", i)
		assert.Less(t, w.FirstKey, uint64(100))
		assert.Less(t, w.SecondKey, uint64(100))
		assert.False(t, w.Exit)

		_, ok = q.TryDequeue()
		assert.False(t, ok, "worker %d should have received exactly one item this round", i)
	}
}

func TestEnqueueRoundIsNoOpWhenIslandSizeIsZero(t *testing.T) {
	disp := newTestDispatcher(t, 2)

	disp.enqueueRound(0)

	for _, q := range disp.queues {
		_, ok := q.TryDequeue()
		assert.False(t, ok, "an empty island must not hand out candidate keys")
	}
}

func TestIssueExitSentinelsReachesEveryWorker(t *testing.T) {
	disp := newTestDispatcher(t, 3)

	disp.issueExitSentinels()

	for _, q := range disp.queues {
		w, ok := q.TryDequeue()
		assert.True(t, ok)
		assert.True(t, w.Exit)
	}
}

func TestRunStopsAfterRequestShutdownAndSentinelsAllWorkers(t *testing.T) {
	disp := newTestDispatcher(t, 3)

	done := make(chan struct{})
	go func() {
		disp.Run()
		close(done)
	}()

	disp.RequestShutdown()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after RequestShutdown")
	}

	for i, q := range disp.queues {
		w, ok := q.TryDequeue()
		require.True(t, ok, "worker %d must have an exit sentinel waiting", i)
		assert.True(t, w.Exit)
	}
}

func TestWorkerLoopExitsOnSentinel(t *testing.T) {
	disp := newTestDispatcher(t, 1)
	disp.StartWorkers()

	disp.queues[0].Enqueue(workqueue.Work{Exit: true})

	done := make(chan struct{})
	go func() {
		disp.WaitWorkers()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not terminate on its exit sentinel")
	}
}

func TestProcessWorkCollapsesIdenticalLookupToSingleAnimal(t *testing.T) {
	disp := newTestDispatcher(t, 1)
	cfg := config.Default()
	a := animal.New(5, cfg.Gerbil, animal.Male, 3)
	require.True(t, disp.engine.Registry.AddUnique(registry.All, 5, a))
	require.True(t, disp.engine.Registry.AddUnique(registry.GerbilView, 5, a))

	reader := disp.domain.Register()
	defer disp.domain.Unregister(reader)
	rng := newDeterministicRand()

	reader.EnterRead(disp.domain)
	first, ok1 := disp.engine.Registry.Lookup(registry.All, 5)
	second, ok2 := disp.engine.Registry.Lookup(registry.All, 5)
	reader.LeaveRead()

	require.True(t, ok1)
	require.True(t, ok2)
	assert.Same(t, first, second, "looking the same key up twice must yield the same animal")

	disp.processWork(reader, rng, workqueue.Work{FirstKey: 5, SecondKey: 5})
	// A single gerbil with no flowers around starves by exactly one and survives.
	assert.Equal(t, uint64(2), a.Stamina)
}

func TestProcessWorkOnEmptyKeysIsANoOp(t *testing.T) {
	disp := newTestDispatcher(t, 1)
	reader := disp.domain.Register()
	defer disp.domain.Unregister(reader)
	rng := newDeterministicRand()

	assert.NotPanics(t, func() {
		disp.processWork(reader, rng, workqueue.Work{FirstKey: 1, SecondKey: 2})
	}, "two misses must be handled without side effects")
}

func TestDispatcherRunDrainsWorkersAndApocalypseReclaimsEveryAnimal(t *testing.T) {
	disp := newTestDispatcher(t, 4)
	cfg := config.Default()

	seedReader := disp.domain.Register()
	seedRng := newDeterministicRand()
	seedReader.EnterRead(disp.domain)
	for i := uint64(0); i < 20; i++ {
		require.True(t, disp.engine.GodSpawn(seedReader, seedRng, cfg.Gerbil.Species, i),
			"seed animal %d must spawn into an empty island", i)
	}
	seedReader.LeaveRead()
	disp.domain.Unregister(seedReader)

	assert.Equal(t, int64(20), disp.engine.AllocatedAnimals(), "every seeded animal must be tracked as allocated")

	disp.StartWorkers()

	done := make(chan struct{})
	go func() {
		disp.Run()
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	disp.RequestShutdown()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after RequestShutdown")
	}

	select {
	case <-waitWorkersDone(disp):
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not drain their exit sentinels")
	}

	finalReader := disp.domain.Register()
	defer disp.domain.Unregister(finalReader)
	finalReader.EnterRead(disp.domain)
	disp.engine.Apocalypse(finalReader)
	finalReader.LeaveRead()

	disp.domain.Barrier()

	assert.Equal(t, int64(0), disp.engine.AllocatedAnimals(), "apocalypse plus a barrier must reclaim every animal still on the island")
}

func waitWorkersDone(disp *Dispatcher) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		disp.WaitWorkers()
		close(done)
	}()
	return done
}

func TestProcessWorkAttemptsBirthBeforeEatAndMate(t *testing.T) {
	disp := newTestDispatcher(t, 1)
	cfg := config.Default()
	parent := animal.New(1, cfg.Gerbil, animal.Female, 50)
	parent.NrPregnant = 1
	require.True(t, disp.engine.Registry.AddUnique(registry.All, 1, parent))
	require.True(t, disp.engine.Registry.AddUnique(registry.GerbilView, 1, parent))

	reader := disp.domain.Register()
	defer disp.domain.Unregister(reader)
	rng := newDeterministicRand()

	disp.processWork(reader, rng, workqueue.Work{FirstKey: 1, SecondKey: 2})

	assert.Equal(t, uint64(0), parent.NrPregnant, "a pregnant lone parent looked up alone must give birth via the work item's second_key")
	_, found := disp.engine.Registry.Lookup(registry.All, 2)
	assert.True(t, found, "the newborn must land at the work item's second_key")
}
