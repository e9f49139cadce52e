package world

import (
	"warefleet.ai/internal/sim/events"
	"warefleet.ai/internal/sim/grid"
	"warefleet.ai/internal/sim/obstacle"
)

// Reset returns the run to its starting state: robots back to their spawn
// cells, items back on the floor, obstacles preserved and recently expired
// ones respawned as temporary. Learned pathfinding state is discarded
// unless the tuning keeps it.
func (w *World) Reset() {
	w.running = false
	w.paused = false

	// Respawn obstacles that vanished during the run; their exact class is
	// unknown by now, so they come back temporary.
	for _, p := range w.obstacles.RecentlyRemoved() {
		if w.g.IsCellEmpty(p) {
			w.obstacles.Add(p, grid.TemporaryObstacle, obstacle.ConfidencePermanent, w.cfg.Obstacles.TemporaryLifespan)
		}
	}

	for _, r := range w.robots {
		start, ok := w.robotStart[r.ID]
		if !ok {
			start = r.Pos
		}
		r.Reset(start)
		w.g.RegisterEntity(r.ID, start, grid.Robot)
	}
	for _, it := range w.items {
		it.Picked = false
		it.Assigned = false
		if w.g.IsCellEmpty(it.Pos) || w.g.Cell(it.Pos) == grid.Item {
			w.g.RegisterEntity(it.ID, it.Pos, grid.Item)
		}
	}
	if drop, ok := w.g.DropPointPos(); ok {
		if w.g.Cell(drop) == grid.Empty {
			w.g.SetCell(drop, grid.DropPoint)
		}
	}

	w.assigner.Reset()
	w.mover.reset()
	w.stall.reset()
	if !w.cfg.PersistLearningOnReset {
		w.finder.ResetLearning()
	}
	w.tick = 0
	w.delivered = 0
	w.totalSteps = 0
	w.lastTier = 0
	w.sink.Publish(events.Event{Type: events.RunReset})
	w.logger.Printf("world reset: %d robots, %d items", len(w.robots), len(w.items))
}
