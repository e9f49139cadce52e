package path

import (
	"sort"

	"warefleet.ai/internal/sim/grid"
)

// GridSearch is the baseline strategy: 8-directional A* with a Manhattan
// heuristic, diagonal cost 1.5 and an iteration budget tied to grid area.
// Drop-point goals get a doubled budget and a wider alternate-goal scan.
type GridSearch struct {
	env Env
}

func NewGridSearch(env Env) *GridSearch { return &GridSearch{env: env} }

func (s *GridSearch) Name() Name { return GridSearchName }

// Planning horizon: temporary obstacles expiring within 2 ticks count
// walkable.
const gridSearchHorizon = 2

func (s *GridSearch) FindPath(req Request) []grid.Pos {
	return s.findPath(req, true)
}

func (s *GridSearch) findPath(req Request, allowAlternates bool) []grid.Pos {
	if req.Start == req.Goal {
		return nil
	}
	g := s.env.Grid
	toDrop := s.isDropGoal(req.Goal)
	budget := g.Width * g.Height * 2
	if toDrop {
		budget = g.Width * g.Height * 4
	}
	weightFactor := 1 + float64(req.CarriedWeight)/20

	open := &openSet{}
	open.push(req.Start, 0)
	cameFrom := map[grid.Pos]grid.Pos{}
	gScore := map[grid.Pos]float64{req.Start: 0}
	closed := map[grid.Pos]struct{}{}

	for open.Len() > 0 && budget > 0 {
		budget--
		cur := open.pop()
		if cur == req.Goal {
			return reconstruct(cameFrom, cur)
		}
		if _, done := closed[cur]; done {
			continue
		}
		closed[cur] = struct{}{}

		for _, d := range dirs8 {
			next := grid.Pos{X: cur.X + d.X, Y: cur.Y + d.Y}
			if _, done := closed[next]; done {
				continue
			}
			if !s.env.walkable(next, req.Goal, req.RobotID, gridSearchHorizon) {
				continue
			}
			tentative := gScore[cur] + s.env.moveCost(cur, next, 1.5, weightFactor)
			if old, seen := gScore[next]; seen && tentative >= old {
				continue
			}
			cameFrom[next] = cur
			gScore[next] = tentative
			open.push(next, tentative+float64(grid.Manhattan(next, req.Goal)))
		}
	}

	if allowAlternates {
		if p := s.tryAlternates(req, toDrop); p != nil {
			return p
		}
	}

	// Blocked outright: remember the failed approach if the goal itself is a
	// believed obstacle.
	if s.env.Obstacles != nil && s.env.Grid.Cell(req.Goal).IsObstacle() {
		s.env.Obstacles.RegisterInteraction(req.RobotID, req.Goal, false)
	}

	if toDrop {
		return s.emergencyStep(req)
	}
	return nil
}

// tryAlternates scans a square around the goal for walkable stand-ins,
// nearest to the goal first, and routes to the first reachable one.
func (s *GridSearch) tryAlternates(req Request, toDrop bool) []grid.Pos {
	scan := 5
	if toDrop {
		scan = 8
	}
	type candidate struct {
		pos              grid.Pos
		toGoal, fromHere int
	}
	var cands []candidate
	for dy := -scan; dy <= scan; dy++ {
		for dx := -scan; dx <= scan; dx++ {
			p := grid.Pos{X: req.Goal.X + dx, Y: req.Goal.Y + dy}
			if p == req.Start || !s.env.walkable(p, req.Goal, req.RobotID, gridSearchHorizon) {
				continue
			}
			cands = append(cands, candidate{
				pos:      p,
				toGoal:   grid.Manhattan(p, req.Goal),
				fromHere: grid.Manhattan(req.Start, p),
			})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].toGoal != cands[j].toGoal {
			return cands[i].toGoal < cands[j].toGoal
		}
		if cands[i].fromHere != cands[j].fromHere {
			return cands[i].fromHere < cands[j].fromHere
		}
		if cands[i].pos.Y != cands[j].pos.Y {
			return cands[i].pos.Y < cands[j].pos.Y
		}
		return cands[i].pos.X < cands[j].pos.X
	})
	for i := 0; i < len(cands) && i < 5; i++ {
		alt := req
		alt.Goal = cands[i].pos
		if p := s.findPath(alt, false); p != nil {
			return p
		}
	}
	return nil
}

// emergencyStep returns a single step that at least leaves the current cell,
// preferring the goal direction. Only used for drop-point goals.
func (s *GridSearch) emergencyStep(req Request) []grid.Pos {
	dx := sign(req.Goal.X - req.Start.X)
	dy := sign(req.Goal.Y - req.Start.Y)
	for _, d := range []grid.Pos{
		{X: dx, Y: dy},
		{X: 0, Y: dy},
		{X: dx, Y: 0},
		{X: 0, Y: -dy},
		{X: -dx, Y: 0},
	} {
		if d == (grid.Pos{}) {
			continue
		}
		p := grid.Pos{X: req.Start.X + d.X, Y: req.Start.Y + d.Y}
		if s.env.walkable(p, req.Goal, req.RobotID, gridSearchHorizon) {
			return []grid.Pos{p}
		}
	}
	return nil
}

func (s *GridSearch) isDropGoal(goal grid.Pos) bool {
	drop, ok := s.env.Grid.DropPointPos()
	return ok && drop == goal
}
