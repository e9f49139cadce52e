// Package model defines the simulation entities. Entities are owned by the
// world; other components receive references and never keep positional copies
// across ticks.
package model

import "warefleet.ai/internal/sim/grid"

// Item is a discrete payload waiting on the floor. Lifecycle: available ->
// assigned (bound to a robot's target queue) -> picked (carried) -> delivered
// (inert; Picked stays true and the item leaves the grid).
type Item struct {
	ID     int64
	Pos    grid.Pos
	Weight int

	Picked   bool
	Assigned bool
}

func (it *Item) Available() bool { return !it.Picked && !it.Assigned }

// Robot is a capacity-constrained carrier.
type Robot struct {
	ID       int64
	Pos      grid.Pos
	Capacity int

	// CurrentWeight always equals the sum of Carrying weights.
	CurrentWeight int
	Carrying      []*Item
	Targets       []*Item

	// Path is the queued waypoint sequence; Path[0] is the next cell.
	Path []grid.Pos

	Steps     int
	WaitTicks int
}

func (r *Robot) IsCarrying() bool { return len(r.Carrying) > 0 }

func (r *Robot) IsIdle() bool { return len(r.Path) == 0 && len(r.Carrying) == 0 }

// CanCarry reports whether an additional weight fits the remaining capacity.
func (r *Robot) CanCarry(weight int) bool {
	return r.CurrentWeight+weight <= r.Capacity
}

// PickUp loads an item, removes it from the target queue and marks it picked.
// Returns false if the item does not fit.
func (r *Robot) PickUp(it *Item) bool {
	if !r.CanCarry(it.Weight) {
		return false
	}
	r.Carrying = append(r.Carrying, it)
	r.CurrentWeight += it.Weight
	for i, t := range r.Targets {
		if t == it {
			r.Targets = append(r.Targets[:i], r.Targets[i+1:]...)
			break
		}
	}
	it.Picked = true
	return true
}

// DropAll unloads every carried item and returns them.
func (r *Robot) DropAll() []*Item {
	items := r.Carrying
	r.Carrying = nil
	r.CurrentWeight = 0
	return items
}

// ReleaseLoad returns carried items to the available pool (used when the drop
// point is unreachable) and clears the load.
func (r *Robot) ReleaseLoad() []*Item {
	items := r.DropAll()
	for _, it := range items {
		it.Picked = false
		it.Assigned = false
	}
	return items
}

// ReleaseTargets unbinds the target queue, returning items to the pool.
func (r *Robot) ReleaseTargets() {
	for _, it := range r.Targets {
		it.Assigned = false
	}
	r.Targets = nil
}

// Reset restores the robot to its idle starting state at pos.
func (r *Robot) Reset(pos grid.Pos) {
	r.Pos = pos
	r.Carrying = nil
	r.Targets = nil
	r.CurrentWeight = 0
	r.Path = nil
	r.Steps = 0
	r.WaitTicks = 0
}
