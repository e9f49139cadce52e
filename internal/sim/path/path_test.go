package path

import (
	"math/rand"
	"testing"

	"warefleet.ai/internal/sim/grid"
	"warefleet.ai/internal/sim/obstacle"
)

func testEnv(w, h int) Env {
	g := grid.New(w, h)
	return Env{Grid: g, Obstacles: obstacle.NewManager(g)}
}

// wall builds a vertical wall at x with one gap.
func wall(env Env, x, gapY int) {
	for y := 0; y < env.Grid.Height; y++ {
		if y == gapY {
			continue
		}
		env.Obstacles.AddPermanent(grid.Pos{X: x, Y: y})
	}
}

func checkContinuous(t *testing.T, start grid.Pos, p []grid.Pos) {
	t.Helper()
	prev := start
	for i, step := range p {
		dx, dy := step.X-prev.X, step.Y-prev.Y
		if dx < -1 || dx > 1 || dy < -1 || dy > 1 || (dx == 0 && dy == 0) {
			t.Fatalf("step %d not adjacent: %v -> %v", i, prev, step)
		}
		prev = step
	}
}

func TestGridSearchOpenGrid(t *testing.T) {
	env := testEnv(10, 10)
	s := NewGridSearch(env)
	req := Request{Start: grid.Pos{X: 0, Y: 0}, Goal: grid.Pos{X: 9, Y: 9}}
	p := s.FindPath(req)
	if len(p) == 0 {
		t.Fatalf("no path on open grid")
	}
	if p[len(p)-1] != req.Goal {
		t.Fatalf("path ends at %v, want %v", p[len(p)-1], req.Goal)
	}
	checkContinuous(t, req.Start, p)
	// Diagonals allowed: the direct route is 9 steps.
	if len(p) != 9 {
		t.Fatalf("path length = %d, want 9", len(p))
	}
}

func TestGridSearchRoutesThroughGap(t *testing.T) {
	env := testEnv(11, 11)
	wall(env, 5, 7)
	s := NewGridSearch(env)
	req := Request{Start: grid.Pos{X: 0, Y: 0}, Goal: grid.Pos{X: 10, Y: 0}}
	p := s.FindPath(req)
	if len(p) == 0 {
		t.Fatalf("no path through gap")
	}
	checkContinuous(t, req.Start, p)
	found := false
	for _, step := range p {
		if step.X == 5 {
			if step.Y != 7 {
				t.Fatalf("path crosses wall at %v", step)
			}
			found = true
		}
	}
	if !found {
		t.Fatalf("path never crosses the wall column")
	}
}

func TestGridSearchSealedGoalUsesAlternate(t *testing.T) {
	env := testEnv(12, 12)
	goal := grid.Pos{X: 10, Y: 10}
	// Seal the goal behind a full box.
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			env.Obstacles.AddPermanent(grid.Pos{X: goal.X + dx, Y: goal.Y + dy})
		}
	}
	s := NewGridSearch(env)
	p := s.FindPath(Request{Start: grid.Pos{X: 0, Y: 0}, Goal: goal})
	if len(p) == 0 {
		t.Fatalf("expected alternate path near sealed goal")
	}
	if p[len(p)-1] == goal {
		t.Fatalf("sealed goal reached directly")
	}
	if grid.Manhattan(p[len(p)-1], goal) > 5 {
		t.Fatalf("alternate endpoint %v too far from goal", p[len(p)-1])
	}
}

func TestGridSearchAvoidsOtherRobots(t *testing.T) {
	env := testEnv(5, 3)
	// Corridor: block all but row 1, and park a robot mid-corridor.
	for x := 0; x < 5; x++ {
		env.Obstacles.AddPermanent(grid.Pos{X: x, Y: 0})
		env.Obstacles.AddPermanent(grid.Pos{X: x, Y: 2})
	}
	env.Grid.RegisterEntity(99, grid.Pos{X: 2, Y: 1}, grid.Robot)
	s := NewGridSearch(env)
	p := s.FindPath(Request{Start: grid.Pos{X: 0, Y: 1}, Goal: grid.Pos{X: 4, Y: 1}, RobotID: 1})
	for _, step := range p {
		if step == (grid.Pos{X: 2, Y: 1}) {
			t.Fatalf("path passes through occupied cell")
		}
	}
}

func TestPlanningHorizonTemporary(t *testing.T) {
	env := testEnv(5, 3)
	for x := 0; x < 5; x++ {
		env.Obstacles.AddPermanent(grid.Pos{X: x, Y: 0})
		env.Obstacles.AddPermanent(grid.Pos{X: x, Y: 2})
	}
	block := grid.Pos{X: 2, Y: 1}
	env.Obstacles.AddTemporary(block, 2)
	s := NewGridSearch(env)
	req := Request{Start: grid.Pos{X: 0, Y: 1}, Goal: grid.Pos{X: 4, Y: 1}}
	p := s.FindPath(req)
	if len(p) == 0 {
		t.Fatalf("short-lived temporary obstacle should be plannable through")
	}

	// A long-lived temporary obstacle in the only corridor blocks planning.
	env2 := testEnv(5, 3)
	for x := 0; x < 5; x++ {
		env2.Obstacles.AddPermanent(grid.Pos{X: x, Y: 0})
		env2.Obstacles.AddPermanent(grid.Pos{X: x, Y: 2})
	}
	// A long-lived temporary obstacle in the only corridor cannot be planned
	// through; at best the fallback yields a partial path short of the goal.
	env2.Obstacles.AddTemporary(block, 9)
	s2 := NewGridSearch(env2)
	p2 := s2.FindPath(req)
	for _, step := range p2 {
		if step == block {
			t.Fatalf("path crosses long-lived temporary obstacle")
		}
	}
	if len(p2) > 0 && p2[len(p2)-1] == req.Goal {
		t.Fatalf("goal reached through sealed corridor")
	}
}

func TestAdaptiveInflationBounds(t *testing.T) {
	env := testEnv(40, 40)
	s := NewAdaptive(env)
	s.adjust(grid.Pos{}, grid.Pos{X: 39, Y: 39}, 0, 0)
	if s.inflation < 1.0 || s.inflation > 2.0 {
		t.Fatalf("inflation out of range: %v", s.inflation)
	}
	if s.inflation <= 1.0 {
		t.Fatalf("long haul should inflate, got %v", s.inflation)
	}
	s.adjust(grid.Pos{}, grid.Pos{X: 3, Y: 3}, 0.9, 100)
	if s.inflation != 1.0 {
		t.Fatalf("dense/heavy search should clamp to 1.0, got %v", s.inflation)
	}
}

func TestAdaptiveFindsPath(t *testing.T) {
	env := testEnv(15, 15)
	wall(env, 7, 3)
	s := NewAdaptive(env)
	req := Request{Start: grid.Pos{X: 0, Y: 14}, Goal: grid.Pos{X: 14, Y: 14}, CarriedWeight: 8}
	p := s.FindPath(req)
	if len(p) == 0 || p[len(p)-1] != req.Goal {
		t.Fatalf("adaptive failed: %v", p)
	}
	checkContinuous(t, req.Start, p)

	// A heavy load scales g and h together; the search must still reach the
	// goal instead of degrading to uniform cost and burning the budget.
	req.CarriedWeight = 18
	p = s.FindPath(req)
	if len(p) == 0 || p[len(p)-1] != req.Goal {
		t.Fatalf("adaptive failed under load: %v", p)
	}
	checkContinuous(t, req.Start, p)
}

func TestAdaptiveAlternateAvoidsOccupiedCells(t *testing.T) {
	env := testEnv(12, 12)
	goal := grid.Pos{X: 10, Y: 10}
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			env.Obstacles.AddPermanent(grid.Pos{X: goal.X + dx, Y: goal.Y + dy})
		}
	}
	// The nearest stand-in outside the box is parked on by another robot.
	occupied := grid.Pos{X: 10, Y: 8}
	env.Grid.RegisterEntity(99, occupied, grid.Robot)

	s := NewAdaptive(env)
	p := s.FindPath(Request{Start: grid.Pos{X: 0, Y: 0}, Goal: goal, RobotID: 1})
	if len(p) == 0 {
		t.Fatalf("expected alternate path near sealed goal")
	}
	if p[len(p)-1] == goal {
		t.Fatalf("sealed goal reached directly")
	}
	for _, step := range p {
		if step == occupied {
			t.Fatalf("alternate path uses occupied cell %v", step)
		}
	}
}

func TestPolicyLearnsAndReplays(t *testing.T) {
	env := testEnv(10, 10)
	rng := rand.New(rand.NewSource(3))
	s := NewPolicyDijkstra(env, rng)
	req := Request{Start: grid.Pos{X: 0, Y: 0}, Goal: grid.Pos{X: 9, Y: 9}}

	p1 := s.FindPath(req)
	if len(p1) == 0 {
		t.Fatalf("no path on open grid")
	}
	checkContinuous(t, req.Start, p1)
	if s.updates != 1 {
		t.Fatalf("updates = %d after one success", s.updates)
	}

	// Second identical request replays the cached path.
	p2 := s.FindPath(req)
	if len(p2) != len(p1) {
		t.Fatalf("cached replay length %d != %d", len(p2), len(p1))
	}
	for i := range p1 {
		if p1[i] != p2[i] {
			t.Fatalf("cached replay diverges at %d", i)
		}
	}

	// Reinforced direction outweighs the others at the start cell.
	w := s.weights[req.Start]
	if w == nil {
		t.Fatalf("no weights learned at start")
	}
	di := dirIndex(grid.Pos{X: p1[0].X - req.Start.X, Y: p1[0].Y - req.Start.Y})
	for j := range w {
		if j != di && w[j] > w[di] {
			t.Fatalf("taken direction not reinforced: w[%d]=%v > w[%d]=%v", j, w[j], di, w[di])
		}
	}
}

func TestPolicyExportRestore(t *testing.T) {
	env := testEnv(8, 8)
	s := NewPolicyDijkstra(env, rand.New(rand.NewSource(1)))
	s.FindPath(Request{Start: grid.Pos{X: 0, Y: 0}, Goal: grid.Pos{X: 7, Y: 7}})
	cells, updates := s.ExportPolicy()
	if len(cells) == 0 || updates != 1 {
		t.Fatalf("export: %d cells, %d updates", len(cells), updates)
	}

	restored := NewPolicyDijkstra(env, rand.New(rand.NewSource(2)))
	restored.RestorePolicy(cells, updates)
	if len(restored.weights) != len(cells) {
		t.Fatalf("restore lost cells: %d != %d", len(restored.weights), len(cells))
	}
	if restored.updates != updates {
		t.Fatalf("restore lost update counter")
	}
}

func TestSelectorRules(t *testing.T) {
	env := testEnv(30, 30)
	env.Grid.SetDropPoint(grid.Pos{X: 29, Y: 29})
	rng := rand.New(rand.NewSource(7))
	s := NewSelector(env, rng)

	// Loaded leg to the drop point with a heavy load prefers the adaptive
	// strategy.
	got := s.selectByRules(Request{
		Start: grid.Pos{X: 0, Y: 0}, Goal: grid.Pos{X: 29, Y: 29},
		RobotID: 1, CarriedWeight: 9,
	})
	if got != AdaptiveName {
		t.Fatalf("heavy drop leg selected %q", got)
	}

	// Many dynamic obstacles around the corridor prefer the policy strategy.
	for i := 0; i < 6; i++ {
		env.Obstacles.AddTemporary(grid.Pos{X: 5 + i, Y: 5}, 20)
	}
	got = s.selectByRules(Request{
		Start: grid.Pos{X: 3, Y: 4}, Goal: grid.Pos{X: 12, Y: 6}, RobotID: 2,
	})
	if got != PolicyName {
		t.Fatalf("dynamic-obstacle context selected %q", got)
	}
}

func TestFinderFallbackAndPin(t *testing.T) {
	env := testEnv(12, 12)
	f := NewFinder(env, rand.New(rand.NewSource(11)))

	req := Request{Start: grid.Pos{X: 0, Y: 0}, Goal: grid.Pos{X: 11, Y: 11}, RobotID: 1}
	if p := f.FindPath(req); len(p) == 0 {
		t.Fatalf("finder found no path on open grid")
	}

	if err := f.Pin("bogus"); err == nil {
		t.Fatalf("pinning unknown strategy must fail")
	}
	if err := f.Pin(GridSearchName); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if p := f.FindPath(req); len(p) == 0 {
		t.Fatalf("pinned strategy found no path")
	}
}

func TestWaitOrDetour(t *testing.T) {
	env := testEnv(7, 3)
	for x := 0; x < 7; x++ {
		env.Obstacles.AddPermanent(grid.Pos{X: x, Y: 0})
		env.Obstacles.AddPermanent(grid.Pos{X: x, Y: 2})
	}
	block := grid.Pos{X: 3, Y: 1}
	env.Obstacles.AddTemporary(block, 4)

	f := NewFinder(env, rand.New(rand.NewSource(5)))
	req := Request{Start: grid.Pos{X: 2, Y: 1}, Goal: grid.Pos{X: 6, Y: 1}, RobotID: 1}

	// No detour exists in a sealed corridor: wait out the obstacle.
	if wait := f.WaitOrDetour(req, block); wait != 4 {
		t.Fatalf("wait = %d, want 4", wait)
	}

	// Permanent obstacles never justify waiting.
	perm := grid.Pos{X: 5, Y: 0}
	if wait := f.WaitOrDetour(req, perm); wait != 0 {
		t.Fatalf("wait on permanent obstacle = %d", wait)
	}

	// On an open floor a short detour around the blocked cell exists, so
	// replanning beats waiting.
	openEnv := testEnv(7, 3)
	openEnv.Obstacles.AddTemporary(block, 4)
	f2 := NewFinder(openEnv, rand.New(rand.NewSource(5)))
	if err := f2.Pin(GridSearchName); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if wait := f2.WaitOrDetour(req, block); wait != 0 {
		t.Fatalf("short detour should replan, got wait %d", wait)
	}
}
