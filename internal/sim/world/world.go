// Package world owns the simulation: the grid, the entities, the tick loop
// and the control surface the transports call into. A World is single
// threaded; Run funnels external commands into the loop between ticks.
package world

import (
	"context"
	"log"
	"math/rand"
	"time"

	"warefleet.ai/internal/sim/assign"
	"warefleet.ai/internal/sim/events"
	"warefleet.ai/internal/sim/grid"
	"warefleet.ai/internal/sim/model"
	"warefleet.ai/internal/sim/obstacle"
	"warefleet.ai/internal/sim/path"
	"warefleet.ai/internal/sim/tuning"
)

type World struct {
	cfg    tuning.Tuning
	logger *log.Logger
	rng    *rand.Rand
	sink   events.Sink

	g         *grid.Grid
	obstacles *obstacle.Manager
	finder    *path.Finder
	assigner  *assign.Assigner
	mover     *mover
	stall     *stallTracker

	robots     []*model.Robot
	items      []*model.Item
	robotStart map[int64]grid.Pos

	nextID     int64
	tick       int64
	delivered  int
	totalSteps int

	running  bool
	paused   bool
	lastTier int
}

func New(cfg tuning.Tuning, seed int64, logger *log.Logger, sink events.Sink) *World {
	if sink == nil {
		sink = events.Discard
	}
	g := grid.New(cfg.GridWidth, cfg.GridHeight)
	obstacles := obstacle.NewManager(g)
	rng := rand.New(rand.NewSource(seed))
	finder := path.NewFinder(path.Env{Grid: g, Obstacles: obstacles}, rng)
	w := &World{
		cfg:        cfg,
		logger:     logger,
		rng:        rng,
		g:          g,
		obstacles:  obstacles,
		finder:     finder,
		robotStart: map[int64]grid.Pos{},
		nextID:     1,
	}
	// Deliveries count as progress no matter which component completes
	// them, so the world watches its own event stream.
	w.sink = events.SinkFunc(func(ev events.Event) {
		if ev.Type == events.ItemDelivered {
			w.delivered++
			w.stall.noteProgress()
		}
		sink.Publish(ev)
	})
	w.assigner = assign.New(g, finder, rng, w.sink, assign.Config{
		ClusterRadius:      cfg.Assign.ClusterRadius,
		FailureCeiling:     cfg.Assign.FailureCeiling,
		FailureClearChance: cfg.Assign.FailureClearChance,
	})
	w.mover = newMover(g, obstacles, finder, w.sink, cfg.Movement)
	w.stall = newStallTracker(cfg.Stall, cfg.HardTimeoutTicks)
	return w
}

// Initialize seeds the floor with robots along the bottom edge and items
// scattered over the top half, mirroring the default warehouse layout.
func (w *World) Initialize(robotCount, itemCount int) {
	for i := 0; i < robotCount; i++ {
		p := w.defaultRobotPos(i)
		capacity := 10 + (i*2)%6
		w.spawnRobot(p, capacity)
	}
	for i := 0; i < itemCount; i++ {
		p, ok := w.randomItemPos()
		if !ok {
			w.logger.Printf("no empty cell for item %d", i)
			continue
		}
		weight := 1 + w.rng.Intn(8)
		w.spawnItem(p, weight)
	}
}

func (w *World) defaultRobotPos(i int) grid.Pos {
	p := grid.Pos{X: 2 + i*2, Y: w.g.Height - 2}
	if p.X >= w.g.Width {
		p.X = p.X%(w.g.Width-4) + 2
		p.Y--
	}
	for attempts := 0; !w.g.IsCellEmpty(p) && attempts < 100; attempts++ {
		p.X = (p.X+1)%(w.g.Width-2) + 1
	}
	if !w.g.IsCellEmpty(p) {
		if q, ok := w.firstEmptyCell(); ok {
			return q
		}
	}
	return p
}

func (w *World) randomItemPos() (grid.Pos, bool) {
	for attempts := 0; attempts < 100; attempts++ {
		p := grid.Pos{
			X: 1 + w.rng.Intn(w.g.Width-2),
			Y: w.rng.Intn(w.g.Height/2) + 1,
		}
		if w.g.IsCellEmpty(p) {
			return p, true
		}
	}
	return w.firstEmptyCell()
}

func (w *World) firstEmptyCell() (grid.Pos, bool) {
	for y := 0; y < w.g.Height; y++ {
		for x := 0; x < w.g.Width; x++ {
			p := grid.Pos{X: x, Y: y}
			if w.g.IsCellEmpty(p) {
				return p, true
			}
		}
	}
	return grid.Pos{}, false
}

// Start begins (or resumes) the run.
func (w *World) Start() {
	if !w.running {
		w.running = true
		w.paused = false
		w.sink.Publish(events.Event{Tick: w.tick, Type: events.RunStarted})
		return
	}
	w.paused = false
}

// TogglePause flips the pause state of a running world.
func (w *World) TogglePause() {
	if !w.running {
		return
	}
	w.paused = !w.paused
	if w.paused {
		w.sink.Publish(events.Event{Tick: w.tick, Type: events.RunPaused})
	}
}

func (w *World) Running() bool { return w.running && !w.paused }

func (w *World) Tick() int64 { return w.tick }

// Step advances the world one tick. Returns false when the world is not
// running or the run just finished (completed, force-completed or timed
// out).
func (w *World) Step() bool {
	if !w.running || w.paused {
		return false
	}
	w.tick++

	stallTime := w.stall.checkProgress(w.items, w.delivered)
	if w.handleStall(stallTime) {
		w.finish(true)
		return false
	}
	if w.stall.timedOut() {
		w.logger.Printf("run aborted: no completion after %d ticks", w.stall.loopCount)
		w.sink.Publish(events.Event{Tick: w.tick, Type: events.RunAborted, Payload: map[string]any{
			"ticks": w.stall.loopCount,
		}})
		w.running = false
		return false
	}

	drop, _ := w.g.DropPointPos()
	w.assigner.Cycle(w.tick, w.robots, w.items, drop)

	w.totalSteps += w.mover.step(w.tick, w.robots, nil)

	for _, p := range w.obstacles.UpdateCycle() {
		w.sink.Publish(events.Event{Tick: w.tick, Type: events.ObstacleExpired, Payload: map[string]any{
			"pos": p,
		}})
	}
	w.shareKnowledge()

	if w.isComplete() {
		w.finish(false)
		return false
	}
	return true
}

// shareKnowledge occasionally lets one random robot teach another its
// recent obstacle observations.
func (w *World) shareKnowledge() {
	if len(w.robots) < 2 || w.rng.Float64() >= w.cfg.Obstacles.ShareChance {
		return
	}
	i := w.rng.Intn(len(w.robots))
	j := w.rng.Intn(len(w.robots) - 1)
	if j >= i {
		j++
	}
	src, dst := w.robots[i], w.robots[j]
	if n := w.obstacles.ShareKnowledge(src.ID, dst.ID); n > 0 {
		w.sink.Publish(events.Event{Tick: w.tick, Type: events.KnowledgeShared, Payload: map[string]any{
			"from": src.ID, "to": dst.ID, "entries": n,
		}})
	}
}

// isComplete reports whether every item is picked and no robot still
// carries a load.
func (w *World) isComplete() bool {
	for _, it := range w.items {
		if !it.Picked {
			return false
		}
	}
	for _, r := range w.robots {
		if r.IsCarrying() {
			return false
		}
	}
	return len(w.items) > 0
}

func (w *World) finish(forced bool) {
	w.running = false
	w.sink.Publish(events.Event{Tick: w.tick, Type: events.RunCompleted, Payload: map[string]any{
		"forced":    forced,
		"ticks":     w.tick,
		"steps":     w.totalSteps,
		"delivered": w.delivered,
	}})
	w.logger.Printf("run complete: tick=%d steps=%d delivered=%d forced=%v",
		w.tick, w.totalSteps, w.delivered, forced)
}

// Run drives the tick loop at hz ticks per second, applying commands from
// cmds between ticks. It returns when ctx is cancelled.
func (w *World) Run(ctx context.Context, hz int, cmds <-chan func(*World)) error {
	if hz <= 0 {
		hz = 10
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-cmds:
			cmd(w)
		case <-ticker.C:
			w.Step()
		}
	}
}

// Accessors used by transports and persistence. Callers must not retain
// the returned slices across ticks.

func (w *World) Grid() *grid.Grid { return w.g }

func (w *World) Robots() []*model.Robot { return w.robots }

func (w *World) Items() []*model.Item { return w.items }

func (w *World) Obstacles() *obstacle.Manager { return w.obstacles }

func (w *World) Finder() *path.Finder { return w.finder }

func (w *World) Delivered() int { return w.delivered }

func (w *World) TotalSteps() int { return w.totalSteps }
