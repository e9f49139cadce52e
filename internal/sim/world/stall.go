package world

import (
	"sort"

	"warefleet.ai/internal/sim/events"
	"warefleet.ai/internal/sim/grid"
	"warefleet.ai/internal/sim/model"
	"warefleet.ai/internal/sim/path"
	"warefleet.ai/internal/sim/tuning"
)

// stallTracker counts ticks since the last pickup or delivery. The world
// reads the stall time each tick and escalates through the recovery tiers.
type stallTracker struct {
	cfg         tuning.StallTuning
	hardTimeout int

	loopCount     int
	lastProgress  int
	prevPicked    int
	prevDelivered int
}

func newStallTracker(cfg tuning.StallTuning, hardTimeout int) *stallTracker {
	return &stallTracker{cfg: cfg, hardTimeout: hardTimeout}
}

func (s *stallTracker) reset() {
	s.loopCount = 0
	s.lastProgress = 0
	s.prevPicked = 0
	s.prevDelivered = 0
}

// checkProgress advances the loop counter and returns the current stall
// time: ticks since a pickup or delivery count last changed.
func (s *stallTracker) checkProgress(items []*model.Item, delivered int) int {
	s.loopCount++
	picked := 0
	for _, it := range items {
		if it.Picked {
			picked++
		}
	}
	if picked > s.prevPicked || delivered > s.prevDelivered {
		s.lastProgress = s.loopCount
	}
	s.prevPicked = picked
	s.prevDelivered = delivered
	return s.loopCount - s.lastProgress
}

func (s *stallTracker) noteProgress() { s.lastProgress = s.loopCount }

func (s *stallTracker) timedOut() bool { return s.loopCount > s.hardTimeout }

// handleStall escalates through the recovery tiers. Returns true when the
// highest tier force-completed the run.
func (w *World) handleStall(stallTime int) bool {
	cfg := w.cfg.Stall
	tier := 0
	switch {
	case stallTime > cfg.ForceCompleteTicks:
		tier = 4
	case stallTime > cfg.RelocateAllTicks:
		tier = 3
	case stallTime > cfg.RelocateOneTicks:
		tier = 2
	case stallTime > cfg.ReleaseTicks:
		tier = 1
	}
	if tier == 0 {
		if w.lastTier > 0 {
			w.sink.Publish(events.Event{Tick: w.tick, Type: events.StallResolved})
			w.lastTier = 0
		}
		return false
	}
	if tier > w.lastTier {
		w.sink.Publish(events.Event{Tick: w.tick, Type: events.StallTierEntered, Payload: map[string]any{
			"tier": tier, "stall_time": stallTime,
		}})
		w.lastTier = tier
	}

	if stallTime > cfg.ReleaseTicks {
		w.stallRelease()
	}
	if stallTime > cfg.RelocateOneTicks {
		w.stallRelocateOne()
	}
	if stallTime > cfg.RelocateAllTicks {
		w.stallRelocateAll()
	}
	if stallTime > cfg.ForceCompleteTicks {
		w.stallForceComplete()
		return true
	}
	return false
}

// stallRelease frees assigned-but-unpicked items and unbinds robots that
// hold targets without a path.
func (w *World) stallRelease() {
	for _, it := range w.items {
		if !it.Picked && it.Assigned {
			it.Assigned = false
		}
	}
	for _, r := range w.robots {
		if len(r.Path) == 0 && len(r.Targets) > 0 && !r.IsCarrying() {
			r.ReleaseTargets()
		}
	}
}

// stallRelocateOne teleports the most loaded pathless carrying robot to the
// drop point, then force-binds the closest unassigned item to an idle
// robot, teleporting the robot beside the item if no path exists.
func (w *World) stallRelocateOne() {
	drop, hasDrop := w.g.DropPointPos()

	var carrying []*model.Robot
	for _, r := range w.robots {
		if r.IsCarrying() {
			carrying = append(carrying, r)
		}
	}
	if hasDrop && len(carrying) > 0 {
		sort.Slice(carrying, func(i, j int) bool {
			pi, pj := len(carrying[i].Path) == 0, len(carrying[j].Path) == 0
			if pi != pj {
				return pi
			}
			if li, lj := len(carrying[i].Carrying), len(carrying[j].Carrying); li != lj {
				return li > lj
			}
			return carrying[i].ID < carrying[j].ID
		})
		target := carrying[0]
		if len(target.Path) == 0 || len(target.Path) > 15 {
			w.teleportRobot(target, drop)
			target.Path = nil
		}
	}

	var unassigned []*model.Item
	for _, it := range w.items {
		if it.Available() {
			unassigned = append(unassigned, it)
		}
	}
	if len(unassigned) == 0 {
		return
	}

	var prober *model.Robot
	for _, r := range w.robots {
		if len(r.Path) == 0 && !r.IsCarrying() {
			prober = r
			break
		}
	}
	if prober == nil {
		best := int(^uint(0) >> 1)
		for _, r := range w.robots {
			if !r.IsCarrying() && len(r.Path) < best {
				prober, best = r, len(r.Path)
			}
		}
	}
	if prober == nil {
		return
	}
	sort.Slice(unassigned, func(i, j int) bool {
		di := grid.Manhattan(unassigned[i].Pos, prober.Pos)
		dj := grid.Manhattan(unassigned[j].Pos, prober.Pos)
		if di != dj {
			return di < dj
		}
		return unassigned[i].ID < unassigned[j].ID
	})
	it := unassigned[0]
	it.Assigned = true
	prober.ReleaseTargets()
	prober.Targets = []*model.Item{it}
	prober.Path = w.finder.FindPath(path.Request{Start: prober.Pos, Goal: it.Pos, RobotID: prober.ID})
	if len(prober.Path) == 0 {
		if p, ok := w.emptyCellNear(it.Pos, 1); ok {
			w.teleportRobot(prober, p)
			prober.Path = w.finder.FindPath(path.Request{Start: prober.Pos, Goal: it.Pos, RobotID: prober.ID})
		}
	}
	w.sink.Publish(events.Event{Tick: w.tick, Type: events.ItemAssigned, Payload: map[string]any{
		"robot_id": prober.ID, "item_id": it.ID, "forced": true,
	}})
}

// stallRelocateAll teleports every carrying robot next to the drop point
// and parks an idle robot beside the first remaining item.
func (w *World) stallRelocateAll() {
	drop, hasDrop := w.g.DropPointPos()
	if hasDrop {
		ring := w.dropRing(drop)
		i := 0
		for _, r := range w.robots {
			if !r.IsCarrying() {
				continue
			}
			dest := drop
			if i < len(ring) {
				dest = ring[i]
				i++
			}
			w.teleportRobot(r, dest)
			r.Path = nil
		}
	}

	var remaining []*model.Item
	for _, it := range w.items {
		if !it.Picked {
			remaining = append(remaining, it)
		}
	}
	if len(remaining) == 0 {
		return
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].ID < remaining[j].ID })
	var free *model.Robot
	for _, r := range w.robots {
		if !r.IsCarrying() {
			free = r
			break
		}
	}
	if free == nil {
		return
	}
	it := remaining[0]
	if p, ok := w.emptyCellNear(it.Pos, 2); ok {
		w.teleportRobot(free, p)
		free.ReleaseTargets()
		it.Assigned = true
		free.Targets = []*model.Item{it}
		free.Path = w.finder.FindPath(path.Request{Start: free.Pos, Goal: it.Pos, RobotID: free.ID})
	}
}

// stallForceComplete abandons the run's remaining work: unpicked items are
// marked done and removed, loads are cleared.
func (w *World) stallForceComplete() {
	for _, it := range w.items {
		if it.Picked {
			continue
		}
		it.Picked = true
		it.Assigned = false
		w.g.UnregisterEntity(it.ID)
	}
	for _, r := range w.robots {
		r.DropAll()
		r.Path = nil
		r.ReleaseTargets()
	}
}

// dropRing lists the in-bounds empty cells around the drop point.
func (w *World) dropRing(drop grid.Pos) []grid.Pos {
	var ring []grid.Pos
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			p := grid.Pos{X: drop.X + dx, Y: drop.Y + dy}
			if w.g.IsCellEmpty(p) {
				ring = append(ring, p)
			}
		}
	}
	return ring
}

// emptyCellNear scans rings of increasing radius for an empty cell.
func (w *World) emptyCellNear(center grid.Pos, maxRadius int) (grid.Pos, bool) {
	for radius := 1; radius <= maxRadius; radius++ {
		for dy := -radius; dy <= radius; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				if abs(dx)+abs(dy) != radius {
					continue
				}
				p := grid.Pos{X: center.X + dx, Y: center.Y + dy}
				if w.g.IsCellEmpty(p) {
					return p, true
				}
			}
		}
	}
	return grid.Pos{}, false
}

// teleportRobot moves a robot without pathing, fixing the drop point tag
// when the robot vacates it.
func (w *World) teleportRobot(r *model.Robot, to grid.Pos) {
	drop, hasDrop := w.g.DropPointPos()
	from := r.Pos
	if !w.g.MoveEntity(r.ID, to, grid.Robot) {
		return
	}
	if hasDrop && from == drop && to != drop {
		w.g.SetCell(drop, grid.DropPoint)
	}
	r.Pos = to
	w.sink.Publish(events.Event{Tick: w.tick, Type: events.RobotMoved, Payload: map[string]any{
		"robot_id": r.ID, "pos": to, "relocated": true,
	}})
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
