package world

import (
	"warefleet.ai/internal/sim/events"
	"warefleet.ai/internal/sim/grid"
	"warefleet.ai/internal/sim/model"
	"warefleet.ai/internal/sim/obstacle"
)

// Control surface. Every operation validates and returns false instead of
// mutating on conflict; transports relay the boolean to the caller.

func (w *World) allocID() int64 {
	id := w.nextID
	w.nextID++
	return id
}

func (w *World) spawnRobot(p grid.Pos, capacity int) *model.Robot {
	r := &model.Robot{ID: w.allocID(), Pos: p, Capacity: capacity}
	w.g.RegisterEntity(r.ID, p, grid.Robot)
	w.robots = append(w.robots, r)
	w.robotStart[r.ID] = p
	w.sink.Publish(events.Event{Tick: w.tick, Type: events.RobotAdded, Payload: map[string]any{
		"robot_id": r.ID, "pos": p, "capacity": capacity,
	}})
	return r
}

func (w *World) spawnItem(p grid.Pos, weight int) *model.Item {
	it := &model.Item{ID: w.allocID(), Pos: p, Weight: weight}
	w.g.RegisterEntity(it.ID, p, grid.Item)
	w.items = append(w.items, it)
	w.sink.Publish(events.Event{Tick: w.tick, Type: events.ItemAdded, Payload: map[string]any{
		"item_id": it.ID, "pos": p, "weight": weight,
	}})
	return it
}

// AddRobot places a robot on an empty cell. Returns the new id.
func (w *World) AddRobot(p grid.Pos, capacity int) (int64, bool) {
	if !w.g.IsCellEmpty(p) || capacity <= 0 {
		return 0, false
	}
	return w.spawnRobot(p, capacity).ID, true
}

// EditRobot moves or resizes an idle robot. Active robots (carrying or en
// route) are rejected.
func (w *World) EditRobot(id int64, p grid.Pos, capacity int) bool {
	r := w.findRobot(id)
	if r == nil || capacity <= 0 {
		return false
	}
	if r.IsCarrying() || len(r.Path) > 0 {
		return false
	}
	if p != r.Pos {
		if !w.g.IsCellEmpty(p) {
			return false
		}
		w.g.MoveEntity(id, p, grid.Robot)
		r.Pos = p
		w.robotStart[id] = p
	}
	r.Capacity = capacity
	w.sink.Publish(events.Event{Tick: w.tick, Type: events.RobotEdited, Payload: map[string]any{
		"robot_id": id, "pos": p, "capacity": capacity,
	}})
	return true
}

// DeleteRobot removes a robot that is not carrying anything and clears its
// learned and tracked state everywhere.
func (w *World) DeleteRobot(id int64) bool {
	idx := -1
	for i, r := range w.robots {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	r := w.robots[idx]
	if r.IsCarrying() {
		return false
	}
	r.ReleaseTargets()
	w.g.UnregisterEntity(id)
	w.robots = append(w.robots[:idx], w.robots[idx+1:]...)
	delete(w.robotStart, id)
	w.assigner.ForgetRobot(id)
	w.finder.ForgetRobot(id)
	w.obstacles.ForgetRobot(id)
	w.mover.forgetRobot(id)
	w.sink.Publish(events.Event{Tick: w.tick, Type: events.RobotDeleted, Payload: map[string]any{
		"robot_id": id,
	}})
	return true
}

// AddItem places an item on an empty cell. Returns the new id.
func (w *World) AddItem(p grid.Pos, weight int) (int64, bool) {
	if !w.g.IsCellEmpty(p) || weight <= 0 {
		return 0, false
	}
	return w.spawnItem(p, weight).ID, true
}

// EditItem moves or reweighs an item that is neither picked nor assigned.
func (w *World) EditItem(id int64, p grid.Pos, weight int) bool {
	it := w.findItem(id)
	if it == nil || weight <= 0 {
		return false
	}
	if it.Picked || it.Assigned {
		return false
	}
	if p != it.Pos {
		if !w.g.IsCellEmpty(p) {
			return false
		}
		w.g.MoveEntity(id, p, grid.Item)
		it.Pos = p
	}
	it.Weight = weight
	w.sink.Publish(events.Event{Tick: w.tick, Type: events.ItemEdited, Payload: map[string]any{
		"item_id": id, "pos": p, "weight": weight,
	}})
	return true
}

// DeleteItem removes an item that is neither picked nor assigned.
func (w *World) DeleteItem(id int64) bool {
	idx := -1
	for i, it := range w.items {
		if it.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	it := w.items[idx]
	if it.Picked || it.Assigned {
		return false
	}
	w.g.UnregisterEntity(id)
	w.items = append(w.items[:idx], w.items[idx+1:]...)
	w.sink.Publish(events.Event{Tick: w.tick, Type: events.ItemDeleted, Payload: map[string]any{
		"item_id": id,
	}})
	return true
}

// AddObstacle places an obstacle of the given class. A lifespan of zero
// uses the configured default for the class.
func (w *World) AddObstacle(p grid.Pos, class grid.CellType, lifespan int) bool {
	var ok bool
	switch class {
	case grid.PermanentObstacle:
		ok = w.obstacles.AddPermanent(p)
	case grid.TemporaryObstacle:
		if lifespan <= 0 {
			lifespan = w.cfg.Obstacles.TemporaryLifespan
		}
		ok = w.obstacles.AddTemporary(p, lifespan)
	case grid.SemiPermanentObstacle:
		if lifespan <= 0 {
			lifespan = w.cfg.Obstacles.SemiPermanentLifespan
		}
		ok = w.obstacles.AddSemiPermanent(p, lifespan)
	default:
		return false
	}
	if !ok {
		return false
	}
	w.invalidatePathsThrough(p)
	w.sink.Publish(events.Event{Tick: w.tick, Type: events.ObstacleAdded, Payload: map[string]any{
		"pos": p, "class": class.String(), "lifespan": lifespan,
	}})
	return true
}

// RemoveObstacle clears an obstacle cell.
func (w *World) RemoveObstacle(p grid.Pos) bool {
	if !w.obstacles.Remove(p) {
		return false
	}
	w.sink.Publish(events.Event{Tick: w.tick, Type: events.ObstacleRemoved, Payload: map[string]any{
		"pos": p,
	}})
	return true
}

// ToggleObstacle flips a cell between empty and permanent obstacle.
func (w *World) ToggleObstacle(p grid.Pos) bool {
	added, ok := w.obstacles.Toggle(p)
	if !ok {
		return false
	}
	if added {
		w.invalidatePathsThrough(p)
		w.sink.Publish(events.Event{Tick: w.tick, Type: events.ObstacleAdded, Payload: map[string]any{
			"pos": p, "class": grid.PermanentObstacle.String(),
		}})
	} else {
		w.sink.Publish(events.Event{Tick: w.tick, Type: events.ObstacleRemoved, Payload: map[string]any{
			"pos": p,
		}})
	}
	return true
}

// invalidatePathsThrough clears any robot path crossing p so the next
// assignment cycle replans around the new obstacle.
func (w *World) invalidatePathsThrough(p grid.Pos) {
	for _, r := range w.robots {
		for _, step := range r.Path {
			if step == p {
				r.Path = nil
				break
			}
		}
	}
}

// SetDropPoint relocates the delivery cell.
func (w *World) SetDropPoint(p grid.Pos) bool {
	if !w.g.SetDropPoint(p) {
		return false
	}
	w.sink.Publish(events.Event{Tick: w.tick, Type: events.DropPointSet, Payload: map[string]any{
		"pos": p,
	}})
	return true
}

// ResizeGrid grows the floor. Shrinking is rejected so no entity is ever
// displaced.
func (w *World) ResizeGrid(width, height int) bool {
	if width < w.g.Width || height < w.g.Height {
		return false
	}
	old := grid.Pos{X: w.g.Width, Y: w.g.Height}
	if !w.g.Resize(width, height) {
		return false
	}
	w.sink.Publish(events.Event{Tick: w.tick, Type: events.GridResized, Payload: map[string]any{
		"old_width": old.X, "old_height": old.Y, "width": width, "height": height,
	}})
	return true
}

// ObstacleInfo exposes the belief record for a cell.
func (w *World) ObstacleInfo(p grid.Pos) (obstacle.Record, bool) {
	return w.obstacles.Info(p)
}

func (w *World) findRobot(id int64) *model.Robot {
	for _, r := range w.robots {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (w *World) findItem(id int64) *model.Item {
	for _, it := range w.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}
