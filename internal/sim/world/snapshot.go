package world

import (
	"fmt"
	"sort"

	"warefleet.ai/internal/sim/grid"
	"warefleet.ai/internal/sim/model"
	"warefleet.ai/internal/sim/obstacle"
	"warefleet.ai/internal/sim/path"
)

// State is the full serializable world state. The persistence layer frames
// and compresses it; the world only builds and applies it.
type State struct {
	Tick       int64 `json:"tick"`
	NextID     int64 `json:"next_id"`
	Delivered  int   `json:"delivered"`
	TotalSteps int   `json:"total_steps"`

	Width  int       `json:"width"`
	Height int       `json:"height"`
	Drop   *grid.Pos `json:"drop,omitempty"`

	Robots    []RobotState    `json:"robots"`
	Items     []ItemState     `json:"items"`
	Obstacles []ObstacleState `json:"obstacles"`

	Policy        []path.PolicyCell `json:"policy,omitempty"`
	PolicyUpdates int               `json:"policy_updates,omitempty"`
}

type RobotState struct {
	ID       int64      `json:"id"`
	Pos      grid.Pos   `json:"pos"`
	Start    grid.Pos   `json:"start"`
	Capacity int        `json:"capacity"`
	Carrying []int64    `json:"carrying,omitempty"`
	Targets  []int64    `json:"targets,omitempty"`
	Path     []grid.Pos `json:"path,omitempty"`
	Steps    int        `json:"steps"`
}

type ItemState struct {
	ID       int64    `json:"id"`
	Pos      grid.Pos `json:"pos"`
	Weight   int      `json:"weight"`
	Picked   bool     `json:"picked"`
	Assigned bool     `json:"assigned"`
}

type ObstacleState struct {
	Pos    grid.Pos        `json:"pos"`
	Record obstacle.Record `json:"record"`
}

// ExportState captures everything needed to resume the run elsewhere.
func (w *World) ExportState() *State {
	s := &State{
		Tick:       w.tick,
		NextID:     w.nextID,
		Delivered:  w.delivered,
		TotalSteps: w.totalSteps,
		Width:      w.g.Width,
		Height:     w.g.Height,
	}
	if drop, ok := w.g.DropPointPos(); ok {
		d := drop
		s.Drop = &d
	}
	for _, r := range w.robots {
		rs := RobotState{
			ID: r.ID, Pos: r.Pos, Start: w.robotStart[r.ID],
			Capacity: r.Capacity, Steps: r.Steps,
			Path: append([]grid.Pos(nil), r.Path...),
		}
		for _, it := range r.Carrying {
			rs.Carrying = append(rs.Carrying, it.ID)
		}
		for _, it := range r.Targets {
			rs.Targets = append(rs.Targets, it.ID)
		}
		s.Robots = append(s.Robots, rs)
	}
	for _, it := range w.items {
		s.Items = append(s.Items, ItemState{
			ID: it.ID, Pos: it.Pos, Weight: it.Weight,
			Picked: it.Picked, Assigned: it.Assigned,
		})
	}
	for p, rec := range w.obstacles.Records() {
		s.Obstacles = append(s.Obstacles, ObstacleState{Pos: p, Record: rec})
	}
	sort.Slice(s.Obstacles, func(i, j int) bool {
		a, b := s.Obstacles[i].Pos, s.Obstacles[j].Pos
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	s.Policy, s.PolicyUpdates = w.finder.Policy().ExportPolicy()
	return s
}

// ImportState replaces the world's contents with the snapshot.
func (w *World) ImportState(s *State) error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("snapshot: bad grid size %dx%d", s.Width, s.Height)
	}
	w.clearEverything()
	if s.Width != w.g.Width || s.Height != w.g.Height {
		if !w.g.Resize(s.Width, s.Height) {
			return fmt.Errorf("snapshot: cannot resize to %dx%d", s.Width, s.Height)
		}
	}

	records := make(map[grid.Pos]obstacle.Record, len(s.Obstacles))
	for _, o := range s.Obstacles {
		records[o.Pos] = o.Record
	}
	w.obstacles.Restore(records)

	if s.Drop != nil {
		if !w.g.SetDropPoint(*s.Drop) {
			return fmt.Errorf("snapshot: bad drop point %v", *s.Drop)
		}
	}

	byID := map[int64]*model.Item{}
	for _, is := range s.Items {
		it := &model.Item{ID: is.ID, Pos: is.Pos, Weight: is.Weight, Picked: is.Picked, Assigned: is.Assigned}
		w.items = append(w.items, it)
		byID[it.ID] = it
		if !it.Picked {
			w.g.RegisterEntity(it.ID, it.Pos, grid.Item)
		}
	}
	for _, rs := range s.Robots {
		r := &model.Robot{ID: rs.ID, Pos: rs.Pos, Capacity: rs.Capacity, Steps: rs.Steps}
		r.Path = append([]grid.Pos(nil), rs.Path...)
		for _, id := range rs.Carrying {
			it := byID[id]
			if it == nil {
				return fmt.Errorf("snapshot: robot %d carries unknown item %d", rs.ID, id)
			}
			r.Carrying = append(r.Carrying, it)
			r.CurrentWeight += it.Weight
		}
		for _, id := range rs.Targets {
			it := byID[id]
			if it == nil {
				return fmt.Errorf("snapshot: robot %d targets unknown item %d", rs.ID, id)
			}
			r.Targets = append(r.Targets, it)
		}
		w.robots = append(w.robots, r)
		w.robotStart[r.ID] = rs.Start
		w.g.RegisterEntity(r.ID, r.Pos, grid.Robot)
	}

	w.finder.Policy().RestorePolicy(s.Policy, s.PolicyUpdates)
	w.tick = s.Tick
	w.nextID = s.NextID
	w.delivered = s.Delivered
	w.totalSteps = s.TotalSteps
	return nil
}
