package path

import (
	"sort"

	"warefleet.ai/internal/sim/grid"
)

// Adaptive is the inflated-heuristic strategy. It scales its heuristic by an
// inflation factor derived from distance, local obstacle density and carried
// weight, expands neighbors goal-direction first, and falls back to a ring
// of alternate goals when the budget runs out.
type Adaptive struct {
	env Env

	inflation float64
	hCache    map[[2]grid.Pos]float64
}

func NewAdaptive(env Env) *Adaptive {
	return &Adaptive{env: env, inflation: 1.0, hCache: map[[2]grid.Pos]float64{}}
}

func (s *Adaptive) Name() Name { return AdaptiveName }

const (
	adaptiveHorizon = 3
	adaptiveBudget  = 1500
)

// heuristic is Manhattan distance with a diagonal discount, scaled by the
// current inflation factor.
func (s *Adaptive) heuristic(a, b grid.Pos) float64 {
	key := [2]grid.Pos{a, b}
	h, ok := s.hCache[key]
	if !ok {
		dx, dy := a.X-b.X, a.Y-b.Y
		if dx < 0 {
			dx = -dx
		}
		if dy < 0 {
			dy = -dy
		}
		diag := dx
		if dy < diag {
			diag = dy
		}
		h = float64(dx+dy) - 0.5*float64(diag)
		s.hCache[key] = h
	}
	return h * s.inflation
}

// adjust recomputes the inflation factor for this search. Long hauls inflate
// toward greedier search; dense areas and heavy loads pull back toward
// admissible.
func (s *Adaptive) adjust(start, goal grid.Pos, density float64, carried int) {
	inflation := 1.0
	dist := grid.Manhattan(start, goal)
	if dist > 15 {
		extra := float64(dist) / 50
		if extra > 0.5 {
			extra = 0.5
		}
		inflation += extra
	}
	if density > 0.2 {
		inflation -= density * 0.5
	}
	if carried > 0 {
		penalty := float64(carried) / 30
		if penalty > 0.3 {
			penalty = 0.3
		}
		inflation -= penalty
	}
	if inflation < 1.0 {
		inflation = 1.0
	}
	if inflation > 2.0 {
		inflation = 2.0
	}
	s.inflation = inflation
}

func (s *Adaptive) FindPath(req Request) []grid.Pos {
	if req.Start == req.Goal {
		return nil
	}
	s.adjust(req.Start, req.Goal, s.env.obstacleDensity(req.Start, req.Goal, 5), req.CarriedWeight)
	weightFactor := 1 + float64(req.CarriedWeight)/20

	// Goal direction first, then cardinals toward, away, remaining diagonals.
	gdx := sign(req.Goal.X - req.Start.X)
	gdy := sign(req.Goal.Y - req.Start.Y)
	ordered := dedupeDirs([]grid.Pos{
		{X: gdx, Y: gdy},
		{X: 0, Y: gdy}, {X: gdx, Y: 0},
		{X: 0, Y: -gdy}, {X: -gdx, Y: 0},
		{X: gdx, Y: -gdy}, {X: -gdx, Y: gdy}, {X: -gdx, Y: -gdy},
	})

	open := &openSet{}
	open.push(req.Start, 0)
	cameFrom := map[grid.Pos]grid.Pos{}
	gScore := map[grid.Pos]float64{req.Start: 0}
	closed := map[grid.Pos]struct{}{}

	// The budget counts expansions; stale duplicates left on the heap by
	// re-pushes are free. The heuristic carries the same weight factor as
	// the g-scores, so heavy loads do not flatten it into uniform cost.
	for budget := adaptiveBudget; open.Len() > 0 && budget > 0; {
		cur := open.pop()
		if _, done := closed[cur]; done {
			continue
		}
		if cur == req.Goal {
			return reconstruct(cameFrom, cur)
		}
		closed[cur] = struct{}{}
		budget--

		for _, d := range ordered {
			next := grid.Pos{X: cur.X + d.X, Y: cur.Y + d.Y}
			if _, done := closed[next]; done {
				continue
			}
			if !s.env.walkable(next, req.Goal, req.RobotID, adaptiveHorizon) {
				continue
			}
			tentative := gScore[cur] + s.env.moveCost(cur, next, 1.4, weightFactor)
			if old, seen := gScore[next]; seen && tentative >= old {
				continue
			}
			cameFrom[next] = cur
			gScore[next] = tentative
			open.push(next, tentative+s.heuristic(next, req.Goal)*weightFactor)
		}
	}

	return s.alternatePath(req)
}

// alternatePath expands Manhattan rings around the unreachable goal and
// routes to the closest reachable stand-in with a plain uninflated search.
func (s *Adaptive) alternatePath(req Request) []grid.Pos {
	type candidate struct {
		score float64
		pos   grid.Pos
	}
	var cands []candidate
	for radius := 1; radius <= 10 && len(cands) < 5; radius++ {
		var ring []candidate
		for dy := -radius; dy <= radius; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				if abs(dy)+abs(dx) != radius {
					continue
				}
				p := grid.Pos{X: req.Goal.X + dx, Y: req.Goal.Y + dy}
				if !s.env.walkable(p, req.Goal, req.RobotID, adaptiveHorizon) {
					continue
				}
				score := 0.7*float64(grid.Manhattan(p, req.Goal)) + 0.3*float64(grid.Manhattan(p, req.Start))
				ring = append(ring, candidate{score: score, pos: p})
			}
		}
		sort.Slice(ring, func(i, j int) bool {
			if ring[i].score != ring[j].score {
				return ring[i].score < ring[j].score
			}
			if ring[i].pos.Y != ring[j].pos.Y {
				return ring[i].pos.Y < ring[j].pos.Y
			}
			return ring[i].pos.X < ring[j].pos.X
		})
		cands = append(cands, ring...)
	}
	for i := 0; i < len(cands) && i < 5; i++ {
		if p := s.plainSearch(req, cands[i].pos); p != nil {
			return p
		}
	}
	return nil
}

// plainSearch is a stripped uninflated A* used for alternate goals to avoid
// re-entering the full search. It applies the same walkability rules as the
// main search so stand-in routes never cross occupied cells.
func (s *Adaptive) plainSearch(req Request, goal grid.Pos) []grid.Pos {
	start := req.Start
	if start == goal {
		return nil
	}
	open := &openSet{}
	open.push(start, 0)
	cameFrom := map[grid.Pos]grid.Pos{}
	gScore := map[grid.Pos]float64{start: 0}
	closed := map[grid.Pos]struct{}{}

	for budget := 500; open.Len() > 0 && budget > 0; budget-- {
		cur := open.pop()
		if cur == goal {
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
			if !s.env.walkable(next, goal, req.RobotID, adaptiveHorizon) {
				continue
			}
			cost := 1.0
			if d.X != 0 && d.Y != 0 {
				cost = 1.4
			}
			tentative := gScore[cur] + cost
			if old, seen := gScore[next]; seen && tentative >= old {
				continue
			}
			cameFrom[next] = cur
			gScore[next] = tentative
			open.push(next, tentative+float64(grid.Manhattan(next, goal)))
		}
	}
	return nil
}

func dedupeDirs(in []grid.Pos) []grid.Pos {
	var out []grid.Pos
	seen := map[grid.Pos]struct{}{}
	for _, d := range in {
		if d == (grid.Pos{}) {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
