package path

import (
	"fmt"
	"math/rand"
	"time"

	"warefleet.ai/internal/sim/grid"
)

// Finder is the planning facade: it routes each request through the
// selector (or a manually pinned strategy), feeds outcomes back into the
// selector's stats, and answers the wait-or-detour question for temporary
// obstacles.
type Finder struct {
	env        Env
	rng        *rand.Rand
	strategies map[Name]Strategy
	policy     *PolicyDijkstra
	selector   *Selector

	useSelector bool
	pinned      Name
}

func NewFinder(env Env, rng *rand.Rand) *Finder {
	policy := NewPolicyDijkstra(env, rng)
	return &Finder{
		env: env,
		rng: rng,
		strategies: map[Name]Strategy{
			GridSearchName: NewGridSearch(env),
			AdaptiveName:   NewAdaptive(env),
			PolicyName:     policy,
		},
		policy:      policy,
		selector:    NewSelector(env, rng),
		useSelector: true,
	}
}

// FindPath plans a route for the request. The returned path excludes the
// start cell; empty means unreachable.
func (f *Finder) FindPath(req Request) []grid.Pos {
	name := f.pinned
	if f.useSelector {
		name = f.selector.Select(req)
	}
	strat := f.strategies[name]

	started := time.Now()
	p := strat.FindPath(req)
	if f.useSelector {
		f.selector.Record(name, req, len(p), time.Since(started))
	}
	return p
}

// Pin forces a single strategy and disables the selector.
func (f *Finder) Pin(name Name) error {
	if _, ok := f.strategies[name]; !ok {
		return fmt.Errorf("unknown strategy %q", name)
	}
	f.pinned = name
	f.useSelector = false
	return nil
}

// EnableSelector re-enables automatic strategy selection.
func (f *Finder) EnableSelector() {
	f.useSelector = true
	f.pinned = ""
}

// WaitOrDetour decides whether a robot blocked by a temporary obstacle
// should wait it out. Returns the number of ticks to wait, or 0 to replan
// around it. Waiting wins when the obstacle clears soon and the detour is
// either missing or more than twice as long as the wait.
func (f *Finder) WaitOrDetour(req Request, obstaclePos grid.Pos) int {
	if f.env.Obstacles == nil || f.env.Grid.Cell(obstaclePos) != grid.TemporaryObstacle {
		return 0
	}
	left := f.env.Obstacles.RemainingLifespan(obstaclePos)
	if left < 0 || left > 5 {
		return 0
	}
	alt := f.FindPath(req)
	// Fallback planning returns alternate-goal stubs when the goal is cut
	// off; only a route that actually reaches the goal without crossing the
	// blocked cell counts as a detour.
	viable := len(alt) > 0 && alt[len(alt)-1] == req.Goal
	if viable {
		for _, step := range alt {
			if step == obstaclePos {
				viable = false
				break
			}
		}
	}
	if !viable || len(alt) > left*2 {
		return left
	}
	return 0
}

// Policy exposes the learning strategy for snapshot export/import.
func (f *Finder) Policy() *PolicyDijkstra { return f.policy }

// Performance returns the selector's per-strategy stats.
func (f *Finder) Performance() map[Name]StrategyPerformance {
	return f.selector.Performance()
}

// ForgetRobot drops per-robot selector state when a robot is deleted.
func (f *Finder) ForgetRobot(robotID int64) {
	f.selector.ForgetRobot(robotID)
}

// ResetLearning discards all learned strategy state: the policy table,
// selector stats and sticky choices.
func (f *Finder) ResetLearning() {
	f.policy.Reset()
	f.selector = NewSelector(f.env, f.rng)
}
