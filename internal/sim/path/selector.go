package path

import (
	"fmt"
	"math/rand"
	"time"

	"warefleet.ai/internal/sim/grid"
)

// Selector picks a strategy per search. Known contexts reuse their best
// performer with a small exploration rate; a robot's current strategy is
// sticky while it performs; otherwise rule-based selection on context
// features, with a performance-weighted blend as the final fallback.
type Selector struct {
	env Env
	rng *rand.Rand

	perf          map[Name]*perfStats
	contextScores map[string]map[Name]float64
	robotChoice   map[int64]Name
	traversals    map[string]int
}

type perfStats struct {
	successRate float64
	speed       float64
	quality     float64
	usedCount   int

	successes []bool          // last 20 outcomes
	durations []time.Duration // last 10 searches
}

func NewSelector(env Env, rng *rand.Rand) *Selector {
	return &Selector{
		env: env,
		rng: rng,
		perf: map[Name]*perfStats{
			GridSearchName: {successRate: 0.5, speed: 0.5, quality: 0.5},
			AdaptiveName:   {successRate: 0.5, speed: 0.5, quality: 0.5},
			PolicyName:     {successRate: 0.5, speed: 0.5, quality: 0.5},
		},
		contextScores: map[string]map[Name]float64{},
		robotChoice:   map[int64]Name{},
		traversals:    map[string]int{},
	}
}

// Select picks the strategy for this request.
func (s *Selector) Select(req Request) Name {
	ctx := s.contextKey(req)

	// Known context: reuse its best strategy 90% of the time.
	if scores, ok := s.contextScores[ctx]; ok && len(scores) > 0 && s.rng.Float64() > 0.1 {
		best, bestScore := Name(""), -1.0
		for name, score := range scores {
			if score > bestScore || (score == bestScore && name < best) {
				best, bestScore = name, score
			}
		}
		s.robotChoice[req.RobotID] = best
		return best
	}

	// Sticky: a strategy that keeps working for this robot stays.
	if cur, ok := s.robotChoice[req.RobotID]; ok {
		p := s.perf[cur]
		if p.successRate > 0.7 && p.quality > 0.6 && s.rng.Float64() < 0.8 {
			return cur
		}
	}

	return s.selectByRules(req)
}

func (s *Selector) selectByRules(req Request) Name {
	f := s.features(req)

	var choice Name
	switch {
	case f.toDrop && req.CarriedWeight > 5:
		choice = AdaptiveName
	case f.dynamicObstacles > 3:
		choice = PolicyName
	case f.distance > 15 && f.density > 0.2:
		choice = AdaptiveName
	case f.traversals > 2 && f.predictability > 0.7:
		choice = PolicyName
	case f.predictability > 0.8 && f.density <= 0.2:
		choice = GridSearchName
	case req.CarriedWeight > 0:
		choice = AdaptiveName
	default:
		best, bestScore := Name(""), -1.0
		for name, p := range s.perf {
			score := p.successRate*0.5 + p.speed*0.25 + p.quality*0.25
			if score > bestScore || (score == bestScore && name < best) {
				best, bestScore = name, score
			}
		}
		choice = best
		if s.rng.Float64() < 0.1 {
			least, leastCount := Name(""), int(^uint(0)>>1)
			for name, p := range s.perf {
				if p.usedCount < leastCount || (p.usedCount == leastCount && name < least) {
					least, leastCount = name, p.usedCount
				}
			}
			choice = least
		}
	}

	s.robotChoice[req.RobotID] = choice
	return choice
}

type contextFeatures struct {
	distance         int
	density          float64
	dynamicObstacles int
	toDrop           bool
	predictability   float64
	traversals       int
}

func (s *Selector) features(req Request) contextFeatures {
	f := contextFeatures{distance: grid.Manhattan(req.Start, req.Goal)}
	if drop, ok := s.env.Grid.DropPointPos(); ok {
		f.toDrop = drop == req.Goal
	}

	minX, maxX := minMax(req.Start.X, req.Goal.X)
	minY, maxY := minMax(req.Start.Y, req.Goal.Y)
	minX, maxX = clamp(minX-3, 0, s.env.Grid.Width-1), clamp(maxX+3, 0, s.env.Grid.Width-1)
	minY, maxY = clamp(minY-3, 0, s.env.Grid.Height-1), clamp(maxY+3, 0, s.env.Grid.Height-1)

	total, blocked := 0, 0
	var sumX, sumY float64
	var cells []grid.Pos
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			total++
			p := grid.Pos{X: x, Y: y}
			switch s.env.Grid.Cell(p) {
			case grid.PermanentObstacle:
				blocked++
			case grid.TemporaryObstacle, grid.SemiPermanentObstacle:
				blocked++
				f.dynamicObstacles++
			default:
				continue
			}
			sumX += float64(x)
			sumY += float64(y)
			cells = append(cells, p)
		}
	}
	if total > 0 {
		f.density = float64(blocked) / float64(total)
	}

	// Predictability: tightly clustered obstacles leave the rest of the box
	// open, so routes through it are stable.
	if blocked > 0 {
		cx, cy := sumX/float64(blocked), sumY/float64(blocked)
		variance := 0.0
		for _, p := range cells {
			variance += (float64(p.Y)-cy)*(float64(p.Y)-cy) + (float64(p.X)-cx)*(float64(p.X)-cx)
		}
		variance /= float64(blocked)
		maxVariance := float64((maxY-minY+1)*(maxX-minX+1)) / 4
		ratio := variance / maxVariance
		if ratio > 1 {
			ratio = 1
		}
		f.predictability = 1 - ratio
	} else {
		f.predictability = 1.0
	}

	lx, hx := minMax(req.Start.X, req.Goal.X)
	ly, hy := minMax(req.Start.Y, req.Goal.Y)
	tk := fmt.Sprintf("%d,%d-%d,%d", lx, ly, hx, hy)
	s.traversals[tk]++
	f.traversals = s.traversals[tk]
	return f
}

// contextKey discretizes endpoints to ~10 regions per axis and buckets the
// carried weight, so similar searches share learning.
func (s *Selector) contextKey(req Request) string {
	size := s.env.Grid.Width
	if s.env.Grid.Height > size {
		size = s.env.Grid.Height
	}
	cell := size / 10
	if cell < 1 {
		cell = 1
	}
	wb := req.CarriedWeight / 5
	if wb > 3 {
		wb = 3
	}
	return fmt.Sprintf("%d,%d_%d,%d_%d",
		req.Start.X/cell, req.Start.Y/cell, req.Goal.X/cell, req.Goal.Y/cell, wb)
}

// Record feeds one search outcome back into the stats.
func (s *Selector) Record(name Name, req Request, pathLen int, elapsed time.Duration) {
	p := s.perf[name]
	p.usedCount++

	p.durations = append(p.durations, elapsed)
	if len(p.durations) > 10 {
		p.durations = p.durations[1:]
	}
	p.successes = append(p.successes, pathLen > 0)
	if len(p.successes) > 20 {
		p.successes = p.successes[1:]
	}

	ok := 0
	for _, b := range p.successes {
		if b {
			ok++
		}
	}
	p.successRate = float64(ok) / float64(len(p.successes))

	// Speed is this strategy's mean search time against the cross-strategy
	// mean; 1.0 means at or faster than average.
	if mine := meanSeconds(p.durations); mine > 0 || len(p.durations) > 0 {
		var all []float64
		for _, other := range s.perf {
			if m := meanSeconds(other.durations); len(other.durations) > 0 {
				all = append(all, m)
			}
		}
		if len(all) > 0 {
			sum := 0.0
			for _, v := range all {
				sum += v
			}
			speed := (sum / float64(len(all))) / (mine + 0.001)
			if speed > 1 {
				speed = 1
			}
			p.speed = speed
		}
	}

	// Quality compares path length to the Manhattan lower bound.
	if pathLen > 0 {
		if md := grid.Manhattan(req.Start, req.Goal); md > 0 {
			q := 2.0 - (float64(pathLen)/float64(md))/1.5
			if q < 0 {
				q = 0
			}
			if q > 1 {
				q = 1
			}
			p.quality = q
		}
	}

	ctx := s.contextKey(req)
	score := p.successRate*0.6 + p.speed*0.2 + p.quality*0.2
	if s.contextScores[ctx] == nil {
		s.contextScores[ctx] = map[Name]float64{}
	}
	if old, ok := s.contextScores[ctx][name]; ok {
		s.contextScores[ctx][name] = old*0.8 + score*0.2
	} else {
		s.contextScores[ctx][name] = score
	}
}

// Performance returns a snapshot of per-strategy stats.
func (s *Selector) Performance() map[Name]StrategyPerformance {
	out := make(map[Name]StrategyPerformance, len(s.perf))
	for name, p := range s.perf {
		out[name] = StrategyPerformance{
			SuccessRate: p.successRate,
			Speed:       p.speed,
			Quality:     p.quality,
			UsedCount:   p.usedCount,
		}
	}
	return out
}

// StrategyPerformance is the exported view of one strategy's stats.
type StrategyPerformance struct {
	SuccessRate float64 `json:"success_rate"`
	Speed       float64 `json:"speed"`
	Quality     float64 `json:"quality"`
	UsedCount   int     `json:"used_count"`
}

// ForgetRobot drops a deleted robot's sticky choice.
func (s *Selector) ForgetRobot(robotID int64) {
	delete(s.robotChoice, robotID)
}

func meanSeconds(ds []time.Duration) float64 {
	if len(ds) == 0 {
		return 0
	}
	var sum float64
	for _, d := range ds {
		sum += d.Seconds()
	}
	return sum / float64(len(ds))
}
