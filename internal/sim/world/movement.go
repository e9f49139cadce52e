package world

import (
	"warefleet.ai/internal/sim/events"
	"warefleet.ai/internal/sim/grid"
	"warefleet.ai/internal/sim/model"
	"warefleet.ai/internal/sim/obstacle"
	"warefleet.ai/internal/sim/path"
	"warefleet.ai/internal/sim/tuning"
)

type waitState struct {
	pos     grid.Pos
	current int
	total   int
}

// mover advances robots along their paths each tick. It owns the per-robot
// stuck counters and the waiting table for temporary obstacles; both reset
// with the run.
type mover struct {
	g         *grid.Grid
	obstacles *obstacle.Manager
	finder    *path.Finder
	sink      events.Sink
	cfg       tuning.MovementTuning

	stuck    map[int64]int
	waiting  map[int64]waitState
	nearDrop map[int64]int
}

func newMover(g *grid.Grid, obstacles *obstacle.Manager, finder *path.Finder, sink events.Sink, cfg tuning.MovementTuning) *mover {
	return &mover{
		g:         g,
		obstacles: obstacles,
		finder:    finder,
		sink:      sink,
		cfg:       cfg,
		stuck:     map[int64]int{},
		waiting:   map[int64]waitState{},
		nearDrop:  map[int64]int{},
	}
}

func (m *mover) reset() {
	m.stuck = map[int64]int{}
	m.waiting = map[int64]waitState{}
	m.nearDrop = map[int64]int{}
}

func (m *mover) forgetRobot(id int64) {
	delete(m.stuck, id)
	delete(m.waiting, id)
	delete(m.nearDrop, id)
}

// step moves every robot one cell at most. onProgress fires once per
// delivery. Returns the number of steps actually taken.
func (m *mover) step(tick int64, robots []*model.Robot, onProgress func()) int {
	proposals := map[int64]grid.Pos{}
	for _, r := range robots {
		if len(r.Path) == 0 {
			continue
		}
		if _, waiting := m.waiting[r.ID]; waiting {
			continue
		}
		proposals[r.ID] = r.Path[0]
	}
	skip := resolveCollisions(robots, proposals, m.stuck)

	drop, hasDrop := m.g.DropPointPos()
	total := 0
	for _, r := range robots {
		moved := false
		switch {
		case len(r.Targets) > 0 && !r.IsCarrying():
			if m.handleTemporaryObstacles(r, r.Targets[0].Pos) {
				m.trackNearDrop(r, hasDrop, drop, moved)
				continue
			}
		case r.IsCarrying() && hasDrop:
			if m.handleTemporaryObstacles(r, drop) {
				m.trackNearDrop(r, hasDrop, drop, moved)
				continue
			}
		}

		if len(r.Path) == 0 {
			if r.IsCarrying() {
				m.stuck[r.ID]++
			}
			m.trackNearDrop(r, hasDrop, drop, moved)
			continue
		}
		if _, s := skip[r.ID]; s {
			m.stuck[r.ID]++
			m.trackNearDrop(r, hasDrop, drop, moved)
			continue
		}
		m.stuck[r.ID] = 0

		next := r.Path[0]
		r.Path = r.Path[1:]
		if !m.executeMove(tick, r, next, hasDrop, drop) {
			m.trackNearDrop(r, hasDrop, drop, moved)
			continue
		}
		moved = true
		total++

		m.checkItemPickup(tick, r, hasDrop, drop)
		m.checkDelivery(tick, r, hasDrop, drop, onProgress)
		m.trackNearDrop(r, hasDrop, drop, moved)
	}

	total += m.handleStuckRobots(tick, robots, hasDrop, drop, onProgress)
	return total
}

// handleTemporaryObstacles runs the wait-or-detour decision for the next
// path cell. Returns true while the robot is sitting out a wait.
func (m *mover) handleTemporaryObstacles(r *model.Robot, goal grid.Pos) bool {
	if w, ok := m.waiting[r.ID]; ok {
		w.current--
		if w.current <= 0 {
			delete(m.waiting, r.ID)
			return false
		}
		m.waiting[r.ID] = w
		return true
	}
	if len(r.Path) == 0 {
		return false
	}
	next := r.Path[0]
	if m.g.Cell(next) != grid.TemporaryObstacle {
		return false
	}
	wait := m.finder.WaitOrDetour(path.Request{
		Start: r.Pos, Goal: goal, RobotID: r.ID, CarriedWeight: r.CurrentWeight,
	}, next)
	if wait > 0 {
		m.waiting[r.ID] = waitState{pos: next, current: wait, total: wait}
		return true
	}
	return false
}

// executeMove steps the robot onto next if the cell allows it. Believed
// temporary and semi-permanent obstacles are passable; walking through one
// registers the interaction that erodes its confidence.
func (m *mover) executeMove(tick int64, r *model.Robot, next grid.Pos, hasDrop bool, drop grid.Pos) bool {
	switch cell := m.g.Cell(next); cell {
	case grid.TemporaryObstacle:
		// The plan expected this cell to have expired by now; it is still
		// standing, so never enter it. Replan instead.
		r.Path = nil
		m.stuck[r.ID]++
		return false
	case grid.SemiPermanentObstacle:
		// Walking through tests the belief and erodes its confidence.
		if rc := m.obstacles.RegisterInteraction(r.ID, next, true); rc != nil {
			m.sink.Publish(events.Event{Tick: tick, Type: events.ObstacleReclassified, Payload: map[string]any{
				"pos": rc.Pos, "from": rc.From.String(), "to": rc.To.String(),
			}})
		}
	case grid.Item:
		if m.targetAt(r, next) == nil {
			// Someone else's item; put the step back and hold.
			r.Path = append([]grid.Pos{next}, r.Path...)
			m.stuck[r.ID]++
			return false
		}
	case grid.Robot:
		r.Path = append([]grid.Pos{next}, r.Path...)
		m.stuck[r.ID]++
		return false
	case grid.PermanentObstacle:
		m.obstacles.RegisterInteraction(r.ID, next, false)
		r.Path = nil
		if r.IsCarrying() {
			m.stuck[r.ID]++
		}
		return false
	}

	if it := m.targetAt(r, next); it != nil && r.CanCarry(it.Weight) {
		m.g.UnregisterEntity(it.ID)
	}
	m.relocate(r, next, hasDrop, drop)
	r.Steps++
	m.sink.Publish(events.Event{Tick: tick, Type: events.RobotMoved, Payload: map[string]any{
		"robot_id": r.ID, "pos": next,
	}})
	return true
}

// relocate moves the robot's grid entry and restores the drop point tag if
// the robot just stepped off it.
func (m *mover) relocate(r *model.Robot, to grid.Pos, hasDrop bool, drop grid.Pos) {
	from := r.Pos
	m.g.MoveEntity(r.ID, to, grid.Robot)
	if hasDrop && from == drop && to != drop {
		m.g.SetCell(drop, grid.DropPoint)
	}
	r.Pos = to
}

func (m *mover) targetAt(r *model.Robot, p grid.Pos) *model.Item {
	for _, it := range r.Targets {
		if it.Pos == p && !it.Picked {
			return it
		}
	}
	return nil
}

// checkItemPickup loads the head target when the robot stands on it, then
// routes to the next fitting target or the drop point.
func (m *mover) checkItemPickup(tick int64, r *model.Robot, hasDrop bool, drop grid.Pos) {
	if len(r.Targets) == 0 {
		return
	}
	it := r.Targets[0]
	if r.Pos != it.Pos {
		return
	}
	if !r.CanCarry(it.Weight) {
		// Standing on a target that no longer fits; bank what we have.
		if hasDrop {
			r.Path = m.dropPath(r, drop)
		}
		return
	}
	r.PickUp(it)
	m.g.UnregisterEntity(it.ID)
	m.sink.Publish(events.Event{Tick: tick, Type: events.ItemPicked, Payload: map[string]any{
		"robot_id": r.ID, "item_id": it.ID,
	}})
	m.continuePicking(r, hasDrop, drop)
}

// continuePicking routes to the next target while it fits, otherwise to the
// drop point.
func (m *mover) continuePicking(r *model.Robot, hasDrop bool, drop grid.Pos) {
	if len(r.Targets) > 0 {
		next := r.Targets[0]
		if r.CanCarry(next.Weight) {
			r.Path = m.finder.FindPath(path.Request{Start: r.Pos, Goal: next.Pos, RobotID: r.ID})
			if len(r.Path) > 0 {
				return
			}
		}
	}
	if hasDrop {
		r.Path = m.dropPath(r, drop)
	}
}

func (m *mover) dropPath(r *model.Robot, drop grid.Pos) []grid.Pos {
	return m.finder.FindPath(path.Request{
		Start: r.Pos, Goal: drop, RobotID: r.ID, CarriedWeight: r.CurrentWeight,
	})
}

func (m *mover) checkDelivery(tick int64, r *model.Robot, hasDrop bool, drop grid.Pos, onProgress func()) {
	if !hasDrop || !r.IsCarrying() || r.Pos != drop {
		return
	}
	for _, it := range r.DropAll() {
		m.sink.Publish(events.Event{Tick: tick, Type: events.ItemDelivered, Payload: map[string]any{
			"robot_id": r.ID, "item_id": it.ID,
		}})
	}
	r.Path = nil
	if onProgress != nil {
		onProgress()
	}
}

// trackNearDrop counts non-progressing ticks spent adjacent to the drop
// point; past the ceiling the robot is pulled onto it and delivers.
func (m *mover) trackNearDrop(r *model.Robot, hasDrop bool, drop grid.Pos, moved bool) {
	if !hasDrop || !r.IsCarrying() || moved || grid.Manhattan(r.Pos, drop) != 1 {
		delete(m.nearDrop, r.ID)
		return
	}
	m.nearDrop[r.ID]++
}

// handleStuckRobots applies the escalation for carrying robots that cannot
// make progress: forced adjacent delivery, then an emergency sidestep
// toward the drop point, and finally releasing the load.
func (m *mover) handleStuckRobots(tick int64, robots []*model.Robot, hasDrop bool, drop grid.Pos, onProgress func()) int {
	steps := 0
	for _, r := range robots {
		if !r.IsCarrying() {
			continue
		}

		if hasDrop && m.nearDrop[r.ID] >= m.cfg.ForceDeliverAdjacentTicks && m.g.Cell(drop) == grid.DropPoint {
			m.relocate(r, drop, hasDrop, drop)
			r.Steps++
			steps++
			delete(m.nearDrop, r.ID)
			m.checkDelivery(tick, r, hasDrop, drop, onProgress)
			continue
		}

		if len(r.Path) > 0 || m.stuck[r.ID] < m.cfg.EmergencyStepTicks {
			continue
		}
		if hasDrop && m.emergencyStep(tick, r, drop) {
			steps++
			continue
		}
		if m.stuck[r.ID] > m.cfg.ReleaseLoadTicks {
			for _, it := range r.ReleaseLoad() {
				if m.g.IsCellEmpty(it.Pos) {
					m.g.RegisterEntity(it.ID, it.Pos, grid.Item)
				}
				m.sink.Publish(events.Event{Tick: tick, Type: events.ItemReleased, Payload: map[string]any{
					"robot_id": r.ID, "item_id": it.ID, "stuck": true,
				}})
			}
			r.Path = nil
			r.ReleaseTargets()
		}
	}
	return steps
}

// emergencyStep tries one cell in the directions most aligned with the drop
// point. Anything but a permanent obstacle or another robot is fair game.
func (m *mover) emergencyStep(tick int64, r *model.Robot, drop grid.Pos) bool {
	dx := sign(drop.X - r.Pos.X)
	dy := sign(drop.Y - r.Pos.Y)
	tries := []grid.Pos{
		{X: dx, Y: dy},
		{X: dx, Y: 0},
		{X: 0, Y: dy},
		{X: -dx, Y: 0},
		{X: 0, Y: -dy},
		{X: 1, Y: 0}, {X: -1, Y: 0}, {X: 0, Y: 1}, {X: 0, Y: -1},
	}
	for _, d := range tries {
		if d.X == 0 && d.Y == 0 {
			continue
		}
		p := grid.Pos{X: r.Pos.X + d.X, Y: r.Pos.Y + d.Y}
		if !m.g.InBounds(p) {
			continue
		}
		switch m.g.Cell(p) {
		case grid.PermanentObstacle, grid.TemporaryObstacle, grid.Robot, grid.Item:
			continue
		}
		m.relocate(r, p, true, drop)
		r.Steps++
		m.stuck[r.ID] = 0
		m.sink.Publish(events.Event{Tick: tick, Type: events.RobotMoved, Payload: map[string]any{
			"robot_id": r.ID, "pos": p, "emergency": true,
		}})
		return true
	}
	return false
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
