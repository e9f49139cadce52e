package ws

import (
	"sort"

	"warefleet.ai/internal/protocol"
	"warefleet.ai/internal/sim/encoding"
	"warefleet.ai/internal/sim/grid"
	"warefleet.ai/internal/sim/world"
)

// ApplyCommand runs one control operation against the world. Must be called
// on the world goroutine. The returned code is empty on success and one of
// the protocol error codes on rejection.
func ApplyCommand(w *world.World, cmd protocol.CommandMsg) (bool, string, string) {
	switch cmd.Op {
	case protocol.OpStart:
		w.Start()
		return true, "", ""
	case protocol.OpPause:
		if !w.Running() {
			return false, protocol.ErrNotRunning, "nothing to pause"
		}
		w.TogglePause()
		return true, "", ""
	case protocol.OpReset:
		w.Reset()
		return true, "", ""
	case protocol.OpRandomLayout:
		robots, items, density := cmd.Robots, cmd.Items, cmd.Density
		if robots <= 0 {
			robots = 4
		}
		if items <= 0 {
			items = 10
		}
		if density <= 0 {
			density = 0.1
		}
		w.GenerateRandomLayout(robots, items, density)
		return true, "", ""

	case protocol.OpAddRobot:
		if cmd.Pos == nil {
			return false, protocol.ErrBadRequest, "pos required"
		}
		if _, ok := w.AddRobot(*cmd.Pos, cmd.Capacity); !ok {
			return false, protocol.ErrConflict, "cell occupied or capacity invalid"
		}
		return true, "", ""
	case protocol.OpEditRobot:
		if cmd.Pos == nil {
			return false, protocol.ErrBadRequest, "pos required"
		}
		if !w.EditRobot(cmd.ID, *cmd.Pos, cmd.Capacity) {
			return false, protocol.ErrInvalidTarget, "unknown robot, active robot or bad parameters"
		}
		return true, "", ""
	case protocol.OpDeleteRobot:
		if !w.DeleteRobot(cmd.ID) {
			return false, protocol.ErrInvalidTarget, "unknown robot or robot is carrying"
		}
		return true, "", ""

	case protocol.OpAddItem:
		if cmd.Pos == nil {
			return false, protocol.ErrBadRequest, "pos required"
		}
		if _, ok := w.AddItem(*cmd.Pos, cmd.Weight); !ok {
			return false, protocol.ErrConflict, "cell occupied or weight invalid"
		}
		return true, "", ""
	case protocol.OpEditItem:
		if cmd.Pos == nil {
			return false, protocol.ErrBadRequest, "pos required"
		}
		if !w.EditItem(cmd.ID, *cmd.Pos, cmd.Weight) {
			return false, protocol.ErrInvalidTarget, "unknown item, item in play or bad parameters"
		}
		return true, "", ""
	case protocol.OpDeleteItem:
		if !w.DeleteItem(cmd.ID) {
			return false, protocol.ErrInvalidTarget, "unknown item or item in play"
		}
		return true, "", ""

	case protocol.OpAddObstacle:
		if cmd.Pos == nil {
			return false, protocol.ErrBadRequest, "pos required"
		}
		class, ok := parseClass(cmd.Class)
		if !ok {
			return false, protocol.ErrBadRequest, "unknown obstacle class"
		}
		if !w.AddObstacle(*cmd.Pos, class, cmd.Lifespan) {
			return false, protocol.ErrConflict, "cell occupied"
		}
		return true, "", ""
	case protocol.OpRemoveObstacle:
		if cmd.Pos == nil {
			return false, protocol.ErrBadRequest, "pos required"
		}
		if !w.RemoveObstacle(*cmd.Pos) {
			return false, protocol.ErrInvalidTarget, "no obstacle at pos"
		}
		return true, "", ""
	case protocol.OpToggleObstacle:
		if cmd.Pos == nil {
			return false, protocol.ErrBadRequest, "pos required"
		}
		if !w.ToggleObstacle(*cmd.Pos) {
			return false, protocol.ErrInvalidTarget, "cell holds an entity"
		}
		return true, "", ""

	case protocol.OpSetDropPoint:
		if cmd.Pos == nil {
			return false, protocol.ErrBadRequest, "pos required"
		}
		if !w.SetDropPoint(*cmd.Pos) {
			return false, protocol.ErrInvalidTarget, "cell occupied or out of bounds"
		}
		return true, "", ""
	case protocol.OpResizeGrid:
		if !w.ResizeGrid(cmd.Width, cmd.Height) {
			return false, protocol.ErrBadRequest, "grid can only grow"
		}
		return true, "", ""
	}
	return false, protocol.ErrUnknownOp, "unknown op " + cmd.Op
}

func parseClass(name string) (grid.CellType, bool) {
	switch name {
	case grid.PermanentObstacle.String():
		return grid.PermanentObstacle, true
	case grid.TemporaryObstacle.String():
		return grid.TemporaryObstacle, true
	case grid.SemiPermanentObstacle.String():
		return grid.SemiPermanentObstacle, true
	}
	return grid.Empty, false
}

// BuildState assembles a full state frame. Must be called on the world
// goroutine.
func BuildState(w *world.World, runID string) protocol.StateMsg {
	g := w.Grid()
	msg := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Tick:            w.Tick(),
		RunID:           runID,
		Width:           g.Width,
		Height:          g.Height,
		Cells:           encoding.EncodeCells(g),
		Running:         w.Running(),
		Delivered:       w.Delivered(),
		TotalSteps:      w.TotalSteps(),
		Robots:          []protocol.RobotView{},
		Items:           []protocol.ItemView{},
		Obstacles:       []protocol.ObstacleView{},
	}
	if drop, ok := g.DropPointPos(); ok {
		d := drop
		msg.Drop = &d
	}
	for _, r := range w.Robots() {
		view := protocol.RobotView{
			ID:            r.ID,
			Pos:           r.Pos,
			Capacity:      r.Capacity,
			CurrentWeight: r.CurrentWeight,
			PathLen:       len(r.Path),
			Steps:         r.Steps,
		}
		for _, it := range r.Carrying {
			view.Carrying = append(view.Carrying, it.ID)
		}
		for _, it := range r.Targets {
			view.Targets = append(view.Targets, it.ID)
		}
		msg.Robots = append(msg.Robots, view)
	}
	for _, it := range w.Items() {
		msg.Items = append(msg.Items, protocol.ItemView{
			ID:       it.ID,
			Pos:      it.Pos,
			Weight:   it.Weight,
			Picked:   it.Picked,
			Assigned: it.Assigned,
		})
	}
	obstacles := w.Obstacles()
	for p, rec := range obstacles.Records() {
		msg.Obstacles = append(msg.Obstacles, protocol.ObstacleView{
			Pos:        p,
			Class:      rec.Class.String(),
			Confidence: rec.Confidence,
			Remaining:  obstacles.RemainingLifespan(p),
		})
	}
	sort.Slice(msg.Obstacles, func(i, j int) bool {
		a, b := msg.Obstacles[i].Pos, msg.Obstacles[j].Pos
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return msg
}
