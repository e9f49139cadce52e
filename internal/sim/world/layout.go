package world

import (
	"warefleet.ai/internal/sim/events"
	"warefleet.ai/internal/sim/grid"
	"warefleet.ai/internal/sim/obstacle"
)

// GenerateRandomLayout wipes the floor and builds a fresh random scenario:
// drop point in the bottom half, permanent obstacles at the given density
// (kept connected bottom-to-top), robots along the bottom rows and items in
// the top half. Existing entities and obstacles are discarded.
func (w *World) GenerateRandomLayout(robotCount, itemCount int, density float64) {
	w.clearEverything()

	drop := grid.Pos{
		X: 1 + w.rng.Intn(w.g.Width-2),
		Y: w.g.Height/2 + w.rng.Intn(w.g.Height-w.g.Height/2-1),
	}
	w.g.SetDropPoint(drop)

	w.placeObstacles(density)

	for i := 0; i < robotCount; i++ {
		if p, ok := w.bottomEmptyCell(); ok {
			capacity := 10 + w.rng.Intn(6)
			w.spawnRobot(p, capacity)
		}
	}
	for i := 0; i < itemCount; i++ {
		if p, ok := w.randomItemPos(); ok {
			w.spawnItem(p, 1+w.rng.Intn(8))
		}
	}
	w.sink.Publish(events.Event{Tick: w.tick, Type: events.RunReset, Payload: map[string]any{
		"layout": "random", "drop": drop,
	}})
}

func (w *World) clearEverything() {
	for _, r := range w.robots {
		w.g.UnregisterEntity(r.ID)
	}
	for _, it := range w.items {
		w.g.UnregisterEntity(it.ID)
	}
	w.robots = nil
	w.items = nil
	w.robotStart = map[int64]grid.Pos{}
	for y := 0; y < w.g.Height; y++ {
		for x := 0; x < w.g.Width; x++ {
			w.g.SetCell(grid.Pos{X: x, Y: y}, grid.Empty)
		}
	}
	w.obstacles.Restore(map[grid.Pos]obstacle.Record{})
	w.assigner.Reset()
	w.mover.reset()
	w.stall.reset()
	w.tick = 0
	w.delivered = 0
	w.totalSteps = 0
	w.running = false
	w.paused = false
	w.lastTier = 0
}

// placeObstacles scatters permanent obstacles, backing out any placement
// that severs the bottom-to-top corridor.
func (w *World) placeObstacles(density float64) {
	target := int(float64(w.g.Width*w.g.Height) * density)
	placed := 0
	for attempts := 0; placed < target && attempts < target*20; attempts++ {
		p := grid.Pos{X: w.rng.Intn(w.g.Width), Y: w.rng.Intn(w.g.Height)}
		if !w.g.IsCellEmpty(p) {
			continue
		}
		if !w.obstacles.AddPermanent(p) {
			continue
		}
		placed++
		if placed%5 == 0 && !w.verticalPathExists() {
			w.obstacles.Remove(p)
			placed--
		}
	}
}

// verticalPathExists flood-fills from the bottom row and reports whether
// the top row is reachable through empty cells.
func (w *World) verticalPathExists() bool {
	start, ok := grid.Pos{}, false
	for x := 0; x < w.g.Width; x++ {
		p := grid.Pos{X: x, Y: w.g.Height - 1}
		if w.g.IsCellWalkable(p, false) {
			start, ok = p, true
			break
		}
	}
	if !ok {
		return false
	}
	visited := map[grid.Pos]bool{}
	queue := []grid.Pos{start}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if p.Y == 0 {
			return true
		}
		if visited[p] {
			continue
		}
		visited[p] = true
		for _, d := range [4]grid.Pos{{Y: -1}, {X: 1}, {Y: 1}, {X: -1}} {
			n := grid.Pos{X: p.X + d.X, Y: p.Y + d.Y}
			if w.g.IsCellWalkable(n, false) && !visited[n] {
				queue = append(queue, n)
			}
		}
	}
	return false
}

// bottomEmptyCell scans upward from the bottom row for a free cell.
func (w *World) bottomEmptyCell() (grid.Pos, bool) {
	for attempts := 0; attempts < 100; attempts++ {
		row := w.g.Height - 1 - attempts/w.g.Width
		if row < 0 {
			row = w.rng.Intn(w.g.Height)
		}
		p := grid.Pos{X: w.rng.Intn(w.g.Width), Y: row}
		if w.g.IsCellEmpty(p) {
			return p, true
		}
	}
	return w.firstEmptyCell()
}
