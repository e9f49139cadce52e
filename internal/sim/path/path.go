// Package path holds the pathfinding strategies, the selector that picks
// between them and the Finder facade the world plans through.
//
// All strategies share the same contract: paths exclude the start cell and
// end on the goal; an empty result means no route was found. Temporary
// obstacles close to expiry are treated as walkable during planning only,
// with a per-strategy horizon.
package path

import (
	"container/heap"

	"warefleet.ai/internal/sim/grid"
	"warefleet.ai/internal/sim/obstacle"
)

// Name identifies a strategy.
type Name string

const (
	GridSearchName Name = "grid_search"
	AdaptiveName   Name = "adaptive"
	PolicyName     Name = "policy_dijkstra"
)

// Request carries everything a strategy needs for one search.
type Request struct {
	Start         grid.Pos
	Goal          grid.Pos
	RobotID       int64
	CarriedWeight int
}

// Strategy is one pathfinding algorithm.
type Strategy interface {
	Name() Name
	FindPath(req Request) []grid.Pos
}

// Env bundles the read surfaces strategies plan against.
type Env struct {
	Grid      *grid.Grid
	Obstacles *obstacle.Manager
}

// dirs8 is the 8-connected neighborhood, cardinals first. Policy weight
// export relies on this order staying fixed.
var dirs8 = [8]grid.Pos{
	{X: 0, Y: -1}, {X: 0, Y: 1}, {X: -1, Y: 0}, {X: 1, Y: 0},
	{X: -1, Y: -1}, {X: 1, Y: -1}, {X: -1, Y: 1}, {X: 1, Y: 1},
}

// walkable applies the planning walkability rules: permanent and
// semi-permanent obstacles block, temporary ones block unless they expire
// within horizon ticks, and any cell but the goal occupied by another
// entity blocks.
func (e Env) walkable(p, goal grid.Pos, robotID int64, horizon int) bool {
	if !e.Grid.InBounds(p) {
		return false
	}
	switch e.Grid.Cell(p) {
	case grid.PermanentObstacle, grid.SemiPermanentObstacle:
		return false
	case grid.TemporaryObstacle:
		if e.Obstacles == nil {
			return false
		}
		left := e.Obstacles.RemainingLifespan(p)
		return left >= 0 && left <= horizon
	}
	if p != goal {
		for _, id := range e.Grid.EntitiesAt(p) {
			if id != robotID {
				return false
			}
		}
	}
	return true
}

// moveCost prices a step: diagonal surcharge, carried-weight factor and the
// obstacle penalties for cells a planner may pass through.
func (e Env) moveCost(from, to grid.Pos, diagCost float64, weightFactor float64) float64 {
	cost := 1.0
	if from.X != to.X && from.Y != to.Y {
		cost = diagCost
	}
	cost *= weightFactor
	switch e.Grid.Cell(to) {
	case grid.TemporaryObstacle:
		if e.Obstacles != nil && e.Obstacles.RemainingLifespan(to) <= 2 {
			return cost * 1.5
		}
		return cost * 3.0
	case grid.SemiPermanentObstacle:
		return cost * 5.0
	}
	return cost
}

// obstacleDensity is the obstacle fraction of the padded bounding box
// spanned by a and b.
func (e Env) obstacleDensity(a, b grid.Pos, pad int) float64 {
	minX, maxX := minMax(a.X, b.X)
	minY, maxY := minMax(a.Y, b.Y)
	minX, maxX = clamp(minX-pad, 0, e.Grid.Width-1), clamp(maxX+pad, 0, e.Grid.Width-1)
	minY, maxY = clamp(minY-pad, 0, e.Grid.Height-1), clamp(maxY+pad, 0, e.Grid.Height-1)

	total, blocked := 0, 0
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			total++
			if e.Grid.Cell(grid.Pos{X: x, Y: y}).IsObstacle() {
				blocked++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(blocked) / float64(total)
}

func minMax(a, b int) (int, int) {
	if a < b {
		return a, b
	}
	return b, a
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
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

// openSet is a min-heap keyed on priority with a stable insertion-order
// tie-break so searches are deterministic.
type openSet struct {
	items []openItem
	seq   int
}

type openItem struct {
	pos      grid.Pos
	priority float64
	seq      int
}

func (q *openSet) Len() int { return len(q.items) }

func (q *openSet) Less(i, j int) bool {
	if q.items[i].priority != q.items[j].priority {
		return q.items[i].priority < q.items[j].priority
	}
	return q.items[i].seq < q.items[j].seq
}

func (q *openSet) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *openSet) Push(x any) { q.items = append(q.items, x.(openItem)) }

func (q *openSet) Pop() any {
	old := q.items
	n := len(old)
	it := old[n-1]
	q.items = old[:n-1]
	return it
}

func (q *openSet) push(p grid.Pos, priority float64) {
	heap.Push(q, openItem{pos: p, priority: priority, seq: q.seq})
	q.seq++
}

func (q *openSet) pop() grid.Pos {
	return heap.Pop(q).(openItem).pos
}

// reconstruct walks cameFrom back from goal; the result excludes start.
func reconstruct(cameFrom map[grid.Pos]grid.Pos, goal grid.Pos) []grid.Pos {
	var rev []grid.Pos
	cur := goal
	for {
		prev, ok := cameFrom[cur]
		if !ok {
			break
		}
		rev = append(rev, cur)
		cur = prev
	}
	path := make([]grid.Pos, len(rev))
	for i, p := range rev {
		path[len(rev)-1-i] = p
	}
	return path
}
