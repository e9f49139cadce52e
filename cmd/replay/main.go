// Command replay resumes a snapshot headless and runs it forward, printing
// the outcome. Useful for reproducing a run's tail from an archived state.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"warefleet.ai/internal/persistence/snapshot"
	"warefleet.ai/internal/sim/events"
	"warefleet.ai/internal/sim/tuning"
	"warefleet.ai/internal/sim/world"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to snapshot archive")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (built-in defaults when empty)")
		seed       = flag.Int64("seed", 1337, "simulation seed")
		maxTicks   = flag.Int("max_ticks", 10000, "tick budget")
		verbose    = flag.Bool("v", false, "print every event")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	logger := log.New(os.Stdout, "[replay] ", log.LstdFlags)

	cfg := tuning.Defaults()
	if *tuningPath != "" {
		var err error
		cfg, err = tuning.Load(*tuningPath)
		if err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	arch, err := snapshot.Read(*snapPath)
	if err != nil {
		logger.Fatalf("read snapshot: %v", err)
	}

	var sink events.Sink = events.Discard
	if *verbose {
		sink = events.SinkFunc(func(ev events.Event) {
			logger.Printf("tick=%d %s %v", ev.Tick, ev.Type, ev.Payload)
		})
	}

	w := world.New(cfg, *seed, logger, sink)
	if err := w.ImportState(&arch.State); err != nil {
		logger.Fatalf("import snapshot: %v", err)
	}
	logger.Printf("resumed run %s at tick %d: %d robots, %d items",
		arch.Header.RunID, w.Tick(), len(w.Robots()), len(w.Items()))

	w.Start()
	ticks := 0
	for ; ticks < *maxTicks; ticks++ {
		if !w.Step() {
			break
		}
	}

	fmt.Printf("replayed %d ticks: tick=%d steps=%d delivered=%d running=%v\n",
		ticks, w.Tick(), w.TotalSteps(), w.Delivered(), w.Running())
}
