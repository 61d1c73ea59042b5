// Package dispatch implements the dispatcher and worker pool: a
// single dispatcher goroutine that samples the configuration once
// per round and feeds each worker one candidate pair of keys, and a
// fixed pool of worker goroutines that each own one workqueue.Queue
// and, per dequeued item, attempt birth, then eating, then mating.
package dispatch

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nbtaylor/island/internal/config"
	"github.com/nbtaylor/island/internal/ecology"
	"github.com/nbtaylor/island/internal/epoch"
	"github.com/nbtaylor/island/internal/registry"
	"github.com/nbtaylor/island/internal/workqueue"
)

// Dispatcher owns the worker pool's queues and the single dispatcher
// goroutine feeding them.
type Dispatcher struct {
	domain *epoch.Domain
	cfg    *config.Cell
	engine *ecology.Engine
	log    zerolog.Logger

	queues []*workqueue.Queue
	reader *epoch.Reader
	rng    *rand.Rand

	exitProgram atomic.Bool
	workerWG    sync.WaitGroup
}

// New builds a Dispatcher with numWorkers queues, each polling at
// pollInterval (workqueue.DefaultPollInterval if zero).
func New(domain *epoch.Domain, cfg *config.Cell, engine *ecology.Engine, numWorkers int, pollInterval time.Duration, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		panic("dispatch: numWorkers must be > 0")
	}

	queues := make([]*workqueue.Queue, numWorkers)
	for i := range queues {
		queues[i] = workqueue.New(pollInterval)
	}

	return &Dispatcher{
		domain: domain,
		cfg:    cfg,
		engine: engine,
		log:    log,
		queues: queues,
		reader: domain.Register(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NumWorkers reports the size of the worker pool.
func (d *Dispatcher) NumWorkers() int {
	return len(d.queues)
}

// RequestShutdown sets the shared exit_program flag the dispatcher
// loop observes between rounds.
func (d *Dispatcher) RequestShutdown() {
	d.exitProgram.Store(true)
}

// StartWorkers launches the worker pool. Call once, before Run.
func (d *Dispatcher) StartWorkers() {
	for i, q := range d.queues {
		d.workerWG.Add(1)
		go d.workerLoop(i, q)
	}
}

// WaitWorkers blocks until every worker goroutine has observed its
// exit sentinel and returned. The caller (main) is responsible for
// this join — the dispatcher goroutine only joins itself (Run
// returns on its own once it has issued the sentinels).
func (d *Dispatcher) WaitWorkers() {
	d.workerWG.Wait()
}

// Run is the dispatcher loop: sample config, enqueue one round, sleep
// for the configured step delay, repeat until RequestShutdown has been
// called — at which point it issues an exit sentinel to every worker
// and returns. Intended to run on its own goroutine
// (go dispatcher.Run()); it self-terminates and does not wait for the
// workers.
func (d *Dispatcher) Run() {
	defer d.domain.Unregister(d.reader)

	for !d.exitProgram.Load() {
		islandSize, stepDelay := d.sampleConfig()
		d.enqueueRound(islandSize)
		time.Sleep(stepDelay)
	}

	d.issueExitSentinels()
}

func (d *Dispatcher) sampleConfig() (uint64, time.Duration) {
	d.reader.EnterRead(d.domain)
	defer d.reader.LeaveRead()

	cfg := d.cfg.Snapshot(d.reader)
	return cfg.IslandSize, cfg.StepDelay
}

func (d *Dispatcher) enqueueRound(islandSize uint64) {
	if islandSize == 0 {
		return
	}
	for _, q := range d.queues {
		q.Enqueue(workqueue.Work{
			FirstKey:  uint64(d.rng.Int63n(int64(islandSize))),
			SecondKey: uint64(d.rng.Int63n(int64(islandSize))),
		})
	}
}

func (d *Dispatcher) issueExitSentinels() {
	for _, q := range d.queues {
		q.Enqueue(workqueue.Work{Exit: true})
	}
}

func (d *Dispatcher) workerLoop(id int, q *workqueue.Queue) {
	defer d.workerWG.Done()

	r := d.domain.Register()
	defer d.domain.Unregister(r)

	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(id)))

	for {
		w := q.Dequeue()
		if w.Exit {
			return
		}
		d.processWork(r, rng, w)
	}
}

// processWork looks up both candidate keys in the "all" view, collapses
// them per the pairing rule, and tries birth, then eating, then mating,
// each of which is individually guarded and simply returns false when
// its own preconditions are not met.
func (d *Dispatcher) processWork(r *epoch.Reader, rng *rand.Rand, w workqueue.Work) {
	r.EnterRead(d.domain)
	defer r.LeaveRead()

	first, ok1 := d.engine.Registry.Lookup(registry.All, w.FirstKey)
	second, ok2 := d.engine.Registry.Lookup(registry.All, w.SecondKey)

	switch {
	case ok1 && ok2 && first == second:
		second = nil
	case !ok1 && ok2:
		first, second = second, nil
	case ok1 && !ok2:
		second = nil
	case !ok1 && !ok2:
		return
	}

	if d.engine.TryBirth(r, rng, first, w.SecondKey, false) {
		return
	}
	if d.engine.TryEat(first, second) {
		return
	}
	d.engine.TryMate(rng, first, second)
}
