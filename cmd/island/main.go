// Command island runs the concurrent in-memory ecosystem simulation:
// a dispatcher and worker pool mutating a shared live-entity index
// under epoch-based reclamation, a raw-terminal keyboard menu for
// config edits and god actions, and a periodic census line.
package main

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/nbtaylor/island/internal/applog"
	"github.com/nbtaylor/island/internal/config"
	"github.com/nbtaylor/island/internal/dispatch"
	"github.com/nbtaylor/island/internal/display"
	"github.com/nbtaylor/island/internal/ecology"
	"github.com/nbtaylor/island/internal/epoch"
	"github.com/nbtaylor/island/internal/keyboard"
	"github.com/nbtaylor/island/internal/registry"
	"github.com/nbtaylor/island/internal/vegetation"
)

func main() {
	var verbose bool
	var noClearScreen bool
	var numWorkers int

	root := &cobra.Command{
		Use:           "island",
		Short:         "A concurrent in-memory ecosystem simulation",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if numWorkers <= 0 {
				return fmt.Errorf("-w worker count must be > 0, got %d", numWorkers)
			}
			return run(verbose, !noClearScreen, numWorkers)
		},
	}
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose debug logging")
	root.Flags().BoolVarP(&noClearScreen, "no-clear", "c", false, "disable terminal clear-screen escape")
	root.Flags().IntVarP(&numWorkers, "workers", "w", 8, "number of worker threads")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Something went wrong!")
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(verbose, clearScreen bool, numWorkers int) error {
	log := applog.New(verbose)
	log.Info().Msg("Welcome to the Island of RCU")

	domain := epoch.NewDomain()
	cell := config.NewCell(domain, config.Default())
	reg := registry.New()
	veg := vegetation.New(config.DefaultVegetationFlowers, config.DefaultVegetationTrees)
	engine := ecology.New(reg, cell, veg, domain)

	disp := dispatch.New(domain, cell, engine, numWorkers, 0, log)
	log.Info().Int("workers", disp.NumWorkers()).Msg("Spawning worker threads.")

	kbReader, err := keyboard.Open()
	if err != nil {
		return fmt.Errorf("open keyboard: %w", err)
	}
	defer kbReader.Close()

	var menuOpen atomic.Bool
	stopDisplay := make(chan struct{})
	var shutdownOnce sync.Once
	shutdown := func() {
		disp.RequestShutdown()
		shutdownOnce.Do(func() { close(stopDisplay) })
	}

	ctrl := keyboard.New(kbReader, cell, domain, engine, veg, shutdown, menuOpen.Store, log)
	census := display.New(os.Stdout, reg, cell, veg, clearScreen)

	disp.StartWorkers()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		disp.Run()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		census.Run(domain, display.DefaultRefresh, menuOpen.Load, stopDisplay)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctrl.Run()
		shutdown()
	}()

	wg.Wait()
	disp.WaitWorkers()

	r := domain.Register()
	r.EnterRead(domain)
	engine.Apocalypse(r)
	r.LeaveRead()
	domain.Unregister(r)

	domain.Barrier()

	log.Info().Msg("Goodbye!")
	return nil
}
