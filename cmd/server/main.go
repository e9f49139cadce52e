// Command server runs one warehouse simulation and exposes it over a
// websocket: control commands in, state frames and event batches out.
// Snapshots and run counters are persisted on the side.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"warefleet.ai/internal/persistence/archive"
	"warefleet.ai/internal/persistence/indexdb"
	persistlog "warefleet.ai/internal/persistence/log"
	"warefleet.ai/internal/persistence/snapshot"
	"warefleet.ai/internal/protocol"
	"warefleet.ai/internal/sim/events"
	"warefleet.ai/internal/sim/grid"
	"warefleet.ai/internal/sim/tuning"
	"warefleet.ai/internal/sim/world"
	"warefleet.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		seed       = flag.Int64("seed", 1337, "simulation seed")
		hz         = flag.Int("hz", 10, "tick rate")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (built-in defaults when empty)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the run index")

		robots  = flag.Int("robots", 4, "initial robot count")
		items   = flag.Int("items", 10, "initial item count")
		layout  = flag.String("layout", "default", "initial layout: default or random")
		density = flag.Float64("density", 0.1, "obstacle density for -layout random")

		eventLog   = flag.Bool("event_log", true, "persist the event stream as compressed JSONL")
		snapPath   = flag.String("snapshot", "", "snapshot to resume from (optional)")
		snapEvery  = flag.Duration("snapshot_every", time.Minute, "interval between snapshots (0 disables)")
		stateEvery = flag.Duration("state_every", time.Second, "interval between state frames")
		autostart  = flag.Bool("autostart", true, "start the run immediately")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg := tuning.Defaults()
	if *tuningPath != "" {
		var err error
		cfg, err = tuning.Load(*tuningPath)
		if err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	runID := uuid.NewString()

	// The pump broadcasts the event stream; the watcher remembers how the
	// run ended for the index row.
	stream := events.NewChannelSink(4096)
	var endedForced atomic.Bool
	watcher := events.SinkFunc(func(ev events.Event) {
		if ev.Type == events.RunCompleted {
			if f, ok := ev.Payload["forced"].(bool); ok && f {
				endedForced.Store(true)
			}
		}
	})

	sinks := events.NewFanOut(stream, watcher)

	var elog *persistlog.EventLogger
	if *eventLog {
		elog = persistlog.NewEventLogger(filepath.Join(*dataDir, "runs", runID))
		logStream := events.NewChannelSink(8192)
		sinks.Add(logStream)
		go func() {
			for ev := range logStream.Events() {
				if err := elog.WriteEvent(ev); err != nil {
					logger.Printf("event log: %v", err)
					return
				}
			}
		}()
	}

	w := world.New(cfg, *seed, logger, sinks)
	if *snapPath != "" {
		arch, err := snapshot.Read(*snapPath)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if err := w.ImportState(&arch.State); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed run %s at tick %d", arch.Header.RunID, arch.Header.Tick)
	} else if *layout == "random" {
		w.GenerateRandomLayout(*robots, *items, *density)
	} else {
		if !w.SetDropPoint(grid.Pos{X: cfg.GridWidth / 2, Y: cfg.GridHeight - 1}) {
			logger.Fatalf("default drop point rejected")
		}
		w.Initialize(*robots, *items)
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		var err error
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "runs.db"))
		if err != nil {
			logger.Fatalf("open run index: %v", err)
		}
		defer idx.Close()
	}
	idx.RecordRunStart(runID, *seed, cfg.GridWidth, cfg.GridHeight)

	cmds := make(chan func(*world.World), 256)
	srv := ws.NewServer(cmds, runID, protocol.WorldParams{
		Width:      cfg.GridWidth,
		Height:     cfg.GridHeight,
		TickRateHz: *hz,
		Seed:       *seed,
	}, logger)

	ctx, cancel := signalContext()
	defer cancel()

	go srv.Pump(ctx, stream.Events())
	if *stateEvery > 0 {
		go srv.StateLoop(ctx, *stateEvery)
	}
	if *snapEvery > 0 {
		snapDir := filepath.Join(*dataDir, "snapshots", runID)
		go snapshotLoop(ctx, cmds, snapDir, runID, *snapEvery, idx, logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", srv.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	httpSrv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		logger.Printf("run %s listening on %s", runID, *addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http: %v", err)
		}
	}()

	if *autostart {
		cmds <- func(w *world.World) { w.Start() }
	}

	if err := w.Run(ctx, *hz, cmds); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("run loop: %v", err)
	}

	// The loop has stopped; the world is safe to touch directly.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	// Final snapshot, so a killed run can always resume from its last tick,
	// then archive it with the run's closing numbers.
	finalState := w.ExportState()
	finalPath := filepath.Join(*dataDir, "snapshots", runID, fmt.Sprintf("tick%08d.zst", finalState.Tick))
	if err := snapshot.Write(finalPath, runID, *finalState); err != nil {
		logger.Printf("final snapshot: %v", err)
	} else {
		idx.RecordSnapshot(runID, finalState.Tick, finalPath)
		if _, err := archive.ArchiveRun(*dataDir, runID, finalPath,
			w.Tick(), w.TotalSteps(), w.Delivered(), endedForced.Load()); err != nil {
			logger.Printf("archive run: %v", err)
		}
	}
	if elog != nil {
		_ = elog.Close()
	}

	idx.RecordRunEnd(runID, w.Tick(), w.TotalSteps(), w.Delivered(), endedForced.Load())
	idx.Flush()
	logger.Printf("run %s stopped: tick=%d steps=%d delivered=%d",
		runID, w.Tick(), w.TotalSteps(), w.Delivered())
}

// snapshotLoop periodically exports state on the world goroutine and writes
// the archive off it.
func snapshotLoop(ctx context.Context, cmds chan<- func(*world.World), dir, runID string,
	every time.Duration, idx *indexdb.SQLiteIndex, logger *log.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		job := func(w *world.World) {
			state := w.ExportState()
			path := filepath.Join(dir, fmt.Sprintf("tick%08d.zst", state.Tick))
			go func() {
				if err := snapshot.Write(path, runID, *state); err != nil {
					logger.Printf("snapshot: %v", err)
					return
				}
				idx.RecordSnapshot(runID, state.Tick, path)
				logger.Printf("snapshot written: %s", path)
			}()
		}
		select {
		case cmds <- job:
		case <-ctx.Done():
			return
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
