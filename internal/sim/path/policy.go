package path

import (
	"math"
	"math/rand"
	"sort"

	"warefleet.ai/internal/sim/grid"
)

// PolicyDijkstra is the learning strategy: uniform-cost search whose edge
// costs blend learned per-cell direction weights with the goal direction.
// Successful paths reinforce the directions taken; exploration decays as the
// policy matures. Recent successful paths are cached and replayed when still
// valid.
type PolicyDijkstra struct {
	env Env
	rng *rand.Rand

	weights     map[grid.Pos]*[8]float64
	updates     int
	exploration float64
	recentPaths [][]grid.Pos
}

func NewPolicyDijkstra(env Env, rng *rand.Rand) *PolicyDijkstra {
	return &PolicyDijkstra{
		env:         env,
		rng:         rng,
		weights:     map[grid.Pos]*[8]float64{},
		exploration: policyBaseExploration,
	}
}

func (s *PolicyDijkstra) Name() Name { return PolicyName }

const (
	policyHorizon         = 4
	policyBudget          = 2000
	policyBaseExploration = 0.1
	policyInitialWeight   = 0.125
	policyReinforce       = 0.05
	policyDecay           = 0.01
	policyWeightFloor     = 0.01
)

// Reset clears all learned state.
func (s *PolicyDijkstra) Reset() {
	s.weights = map[grid.Pos]*[8]float64{}
	s.updates = 0
	s.exploration = policyBaseExploration
	s.recentPaths = nil
}

func (s *PolicyDijkstra) cellWeights(p grid.Pos) *[8]float64 {
	w := s.weights[p]
	if w == nil {
		w = &[8]float64{}
		for i := range w {
			w[i] = policyInitialWeight
		}
		s.weights[p] = w
	}
	return w
}

// update reinforces the direction taken at each step of a successful path
// and decays the rest, then renormalizes. factor scales the reinforcement
// (1.0 full success, 0.5 alternate-goal path, 0 failure).
func (s *PolicyDijkstra) update(full []grid.Pos, factor float64) {
	s.updates++
	s.exploration = policyBaseExploration * math.Exp(-float64(s.updates)/50)
	if s.exploration < 0.01 {
		s.exploration = 0.01
	}
	if factor <= 0 || len(full) < 2 {
		return
	}
	for i := 0; i+1 < len(full); i++ {
		d := grid.Pos{X: full[i+1].X - full[i].X, Y: full[i+1].Y - full[i].Y}
		di := dirIndex(d)
		if di < 0 {
			continue
		}
		w := s.cellWeights(full[i])
		total := 0.0
		for j := range w {
			if j == di {
				w[j] += policyReinforce * factor
			} else if w[j]-policyDecay > policyWeightFloor {
				w[j] -= policyDecay
			} else {
				w[j] = policyWeightFloor
			}
			total += w[j]
		}
		for j := range w {
			w[j] /= total
		}
	}
	s.recentPaths = append(s.recentPaths, full)
	if len(s.recentPaths) > 10 {
		s.recentPaths = s.recentPaths[1:]
	}
}

// directionWeight blends the learned policy (0.6) with goal alignment (0.4).
func (s *PolicyDijkstra) directionWeight(cur grid.Pos, di int, goal grid.Pos) float64 {
	policy := policyInitialWeight * 4 // neutral when the cell is unlearned
	if w := s.weights[cur]; w != nil {
		policy = w[di]
	}
	goalDir := grid.Pos{X: sign(goal.X - cur.X), Y: sign(goal.Y - cur.Y)}
	d := dirs8[di]
	goalWeight := 0.5
	if d == goalDir {
		goalWeight = 1.0
	} else if d.X == goalDir.X || d.Y == goalDir.Y {
		goalWeight = 0.75
	}
	return policy*0.6 + goalWeight*0.4
}

func (s *PolicyDijkstra) FindPath(req Request) []grid.Pos {
	if req.Start == req.Goal {
		return nil
	}
	if p := s.cachedPath(req.Start, req.Goal); p != nil {
		return p
	}
	weightFactor := 1 + math.Log1p(float64(req.CarriedWeight)/15)

	dist := map[grid.Pos]float64{req.Start: 0}
	prev := map[grid.Pos]grid.Pos{}
	visited := map[grid.Pos]struct{}{}
	open := &openSet{}
	open.push(req.Start, 0)

	for budget := policyBudget; open.Len() > 0 && budget > 0; budget-- {
		cur := open.pop()
		if _, done := visited[cur]; done {
			continue
		}
		visited[cur] = struct{}{}

		if cur == req.Goal {
			p := reconstruct(prev, cur)
			s.update(append([]grid.Pos{req.Start}, p...), 1.0)
			return p
		}

		for di, d := range dirs8 {
			next := grid.Pos{X: cur.X + d.X, Y: cur.Y + d.Y}
			if _, done := visited[next]; done {
				continue
			}
			if !s.env.walkable(next, req.Goal, req.RobotID, policyHorizon) {
				continue
			}
			dw := s.directionWeight(cur, di, req.Goal)
			if s.rng.Float64() < s.exploration {
				dw = 0.5 + 0.5*s.rng.Float64()
			}
			cost := s.stepCost(cur, next, d, weightFactor) / (dw + 0.01)
			nd := dist[cur] + cost
			if old, seen := dist[next]; !seen || nd < old {
				dist[next] = nd
				prev[next] = cur
				open.push(next, nd)
			}
		}
	}

	if p := s.alternatePath(req); p != nil {
		s.update(append([]grid.Pos{req.Start}, p...), 0.5)
		return p
	}
	s.update([]grid.Pos{req.Start}, 0)
	return nil
}

// stepCost prices one edge before the policy division: diagonal surcharge,
// logarithmic load factor and softer obstacle penalties than the other
// strategies.
func (s *PolicyDijkstra) stepCost(from, to, d grid.Pos, weightFactor float64) float64 {
	cost := 1.0
	if d.X != 0 && d.Y != 0 {
		cost = 1.4
	}
	cost *= weightFactor
	switch s.env.Grid.Cell(to) {
	case grid.TemporaryObstacle:
		if s.env.Obstacles != nil && s.env.Obstacles.RemainingLifespan(to) <= 2 {
			return cost * 1.2
		}
		return cost * 2.0
	case grid.SemiPermanentObstacle:
		return cost * 3.0
	}
	return cost
}

// cachedPath replays a recent successful path for the same endpoints if
// every cell along it is still walkable for planning.
func (s *PolicyDijkstra) cachedPath(start, goal grid.Pos) []grid.Pos {
	for _, full := range s.recentPaths {
		if len(full) < 2 || full[0] != start || full[len(full)-1] != goal {
			continue
		}
		valid := true
		for _, p := range full {
			if !s.env.Grid.IsCellWalkable(p, true) {
				valid = false
				break
			}
		}
		if valid {
			out := make([]grid.Pos, len(full)-1)
			copy(out, full[1:])
			return out
		}
	}
	return nil
}

// alternatePath tries the nearest ring of walkable stand-ins around the
// goal with an unweighted uniform-cost search.
func (s *PolicyDijkstra) alternatePath(req Request) []grid.Pos {
	type candidate struct {
		dist int
		pos  grid.Pos
	}
	var cands []candidate
	for radius := 1; radius <= 8 && len(cands) == 0; radius++ {
		for dy := -radius; dy <= radius; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				if abs(dy)+abs(dx) != radius {
					continue
				}
				p := grid.Pos{X: req.Goal.X + dx, Y: req.Goal.Y + dy}
				if !s.env.Grid.InBounds(p) || !s.env.Grid.IsCellWalkable(p, true) {
					continue
				}
				cands = append(cands, candidate{dist: grid.Manhattan(p, req.Goal), pos: p})
			}
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		if cands[i].pos.Y != cands[j].pos.Y {
			return cands[i].pos.Y < cands[j].pos.Y
		}
		return cands[i].pos.X < cands[j].pos.X
	})
	for i := 0; i < len(cands) && i < 3; i++ {
		if p := s.plainDijkstra(req.Start, cands[i].pos); p != nil {
			return p
		}
	}
	return nil
}

func (s *PolicyDijkstra) plainDijkstra(start, goal grid.Pos) []grid.Pos {
	if start == goal {
		return nil
	}
	dist := map[grid.Pos]float64{start: 0}
	prev := map[grid.Pos]grid.Pos{}
	visited := map[grid.Pos]struct{}{}
	open := &openSet{}
	open.push(start, 0)

	for open.Len() > 0 {
		cur := open.pop()
		if _, done := visited[cur]; done {
			continue
		}
		visited[cur] = struct{}{}
		if cur == goal {
			return reconstruct(prev, cur)
		}
		for _, d := range dirs8 {
			next := grid.Pos{X: cur.X + d.X, Y: cur.Y + d.Y}
			if _, done := visited[next]; done {
				continue
			}
			if !s.env.Grid.IsCellWalkable(next, true) {
				continue
			}
			cost := 1.0
			if d.X != 0 && d.Y != 0 {
				cost = 1.4
			}
			nd := dist[cur] + cost
			if old, seen := dist[next]; !seen || nd < old {
				dist[next] = nd
				prev[next] = cur
				open.push(next, nd)
			}
		}
	}
	return nil
}

func dirIndex(d grid.Pos) int {
	for i, dd := range dirs8 {
		if dd == d {
			return i
		}
	}
	return -1
}

// PolicyCell is one cell's learned direction weights in dirs8 order, for
// snapshot export.
type PolicyCell struct {
	Pos     grid.Pos   `json:"pos"`
	Weights [8]float64 `json:"weights"`
}

// ExportPolicy returns the learned table plus the update counter.
func (s *PolicyDijkstra) ExportPolicy() ([]PolicyCell, int) {
	out := make([]PolicyCell, 0, len(s.weights))
	for p, w := range s.weights {
		out = append(out, PolicyCell{Pos: p, Weights: *w})
	}
	return out, s.updates
}

// RestorePolicy replaces the learned table, recomputing the exploration
// rate from the restored update counter.
func (s *PolicyDijkstra) RestorePolicy(cells []PolicyCell, updates int) {
	s.weights = make(map[grid.Pos]*[8]float64, len(cells))
	for _, c := range cells {
		w := c.Weights
		s.weights[c.Pos] = &w
	}
	s.updates = updates
	s.exploration = policyBaseExploration * math.Exp(-float64(updates)/50)
	if s.exploration < 0.01 {
		s.exploration = 0.01
	}
	s.recentPaths = nil
}
