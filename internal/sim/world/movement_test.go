package world

import (
	"math/rand"
	"testing"

	"warefleet.ai/internal/sim/events"
	"warefleet.ai/internal/sim/grid"
	"warefleet.ai/internal/sim/model"
	"warefleet.ai/internal/sim/obstacle"
	"warefleet.ai/internal/sim/path"
	"warefleet.ai/internal/sim/tuning"
)

func newTestMover(width, height int) (*mover, *grid.Grid, *obstacle.Manager, *events.Recorder) {
	g := grid.New(width, height)
	obs := obstacle.NewManager(g)
	finder := path.NewFinder(path.Env{Grid: g, Obstacles: obs}, rand.New(rand.NewSource(7)))
	rec := &events.Recorder{}
	return newMover(g, obs, finder, rec, tuning.Defaults().Movement), g, obs, rec
}

func placeRobot(g *grid.Grid, id int64, p grid.Pos, capacity int) *model.Robot {
	r := &model.Robot{ID: id, Pos: p, Capacity: capacity}
	g.RegisterEntity(id, p, grid.Robot)
	return r
}

func placeItem(g *grid.Grid, id int64, p grid.Pos, weight int) *model.Item {
	it := &model.Item{ID: id, Pos: p, Weight: weight}
	g.RegisterEntity(id, p, grid.Item)
	return it
}

func TestMoverFollowsPath(t *testing.T) {
	m, g, _, rec := newTestMover(5, 5)
	r := placeRobot(g, 1, grid.Pos{X: 1, Y: 1}, 10)
	r.Path = []grid.Pos{{X: 2, Y: 1}, {X: 3, Y: 1}}
	robots := []*model.Robot{r}

	if n := m.step(1, robots, nil); n != 1 {
		t.Fatalf("first step took %d moves", n)
	}
	if r.Pos != (grid.Pos{X: 2, Y: 1}) {
		t.Fatalf("robot at %v after first step", r.Pos)
	}
	m.step(2, robots, nil)
	if r.Pos != (grid.Pos{X: 3, Y: 1}) || len(r.Path) != 0 {
		t.Fatalf("robot at %v path=%d after second step", r.Pos, len(r.Path))
	}
	if r.Steps != 2 || rec.Count(events.RobotMoved) != 2 {
		t.Fatalf("steps=%d moved events=%d", r.Steps, rec.Count(events.RobotMoved))
	}
	if g.Cell(grid.Pos{X: 1, Y: 1}) != grid.Empty || g.Cell(grid.Pos{X: 3, Y: 1}) != grid.Robot {
		t.Fatalf("cell tags not maintained")
	}
}

func TestPickupRoutesToDrop(t *testing.T) {
	m, g, _, rec := newTestMover(6, 6)
	drop := grid.Pos{X: 0, Y: 5}
	g.SetDropPoint(drop)
	r := placeRobot(g, 1, grid.Pos{X: 1, Y: 1}, 10)
	it := placeItem(g, 2, grid.Pos{X: 2, Y: 1}, 3)
	it.Assigned = true
	r.Targets = []*model.Item{it}
	r.Path = []grid.Pos{it.Pos}

	m.step(1, []*model.Robot{r}, nil)

	if !it.Picked || len(r.Carrying) != 1 || r.CurrentWeight != 3 {
		t.Fatalf("pickup did not load: picked=%v carrying=%d weight=%d",
			it.Picked, len(r.Carrying), r.CurrentWeight)
	}
	if rec.Count(events.ItemPicked) != 1 {
		t.Fatalf("no pickup event")
	}
	if len(r.Path) == 0 || r.Path[len(r.Path)-1] != drop {
		t.Fatalf("no route to the drop point after pickup: %v", r.Path)
	}
}

func TestDeliveryAtDropPoint(t *testing.T) {
	m, g, _, rec := newTestMover(5, 5)
	drop := grid.Pos{X: 2, Y: 2}
	g.SetDropPoint(drop)
	r := placeRobot(g, 1, grid.Pos{X: 2, Y: 1}, 10)
	it := &model.Item{ID: 2, Pos: grid.Pos{X: 4, Y: 4}, Weight: 3, Picked: true}
	r.Carrying = []*model.Item{it}
	r.CurrentWeight = 3
	r.Path = []grid.Pos{drop}

	progressed := 0
	m.step(1, []*model.Robot{r}, func() { progressed++ })

	if r.IsCarrying() || r.CurrentWeight != 0 {
		t.Fatalf("load not dropped")
	}
	if rec.Count(events.ItemDelivered) != 1 || progressed != 1 {
		t.Fatalf("delivery not reported: events=%d progressed=%d",
			rec.Count(events.ItemDelivered), progressed)
	}
	if len(r.Path) != 0 {
		t.Fatalf("path not cleared after delivery")
	}
}

func TestRobotInTheWayHoldsTheStep(t *testing.T) {
	m, g, _, _ := newTestMover(5, 5)
	r1 := placeRobot(g, 1, grid.Pos{X: 1, Y: 1}, 10)
	r2 := placeRobot(g, 2, grid.Pos{X: 2, Y: 1}, 10)
	r1.Path = []grid.Pos{{X: 2, Y: 1}}

	m.step(1, []*model.Robot{r1, r2}, nil)

	if r1.Pos != (grid.Pos{X: 1, Y: 1}) {
		t.Fatalf("robot moved onto an occupied cell")
	}
	if len(r1.Path) != 1 || r1.Path[0] != (grid.Pos{X: 2, Y: 1}) {
		t.Fatalf("held step was not put back: %v", r1.Path)
	}
	if m.stuck[r1.ID] != 1 {
		t.Fatalf("stuck counter = %d", m.stuck[r1.ID])
	}
}

func TestForeignItemHoldsTheStep(t *testing.T) {
	m, g, _, _ := newTestMover(5, 5)
	r := placeRobot(g, 1, grid.Pos{X: 1, Y: 1}, 10)
	placeItem(g, 2, grid.Pos{X: 2, Y: 1}, 3)
	r.Path = []grid.Pos{{X: 2, Y: 1}}

	m.step(1, []*model.Robot{r}, nil)

	if r.Pos != (grid.Pos{X: 1, Y: 1}) {
		t.Fatalf("robot walked over an item it does not target")
	}
	if len(r.Path) != 1 || m.stuck[r.ID] != 1 {
		t.Fatalf("hold not recorded: path=%v stuck=%d", r.Path, m.stuck[r.ID])
	}
}

func TestStandingTemporaryObstacleForcesReplan(t *testing.T) {
	m, g, obs, _ := newTestMover(5, 5)
	r := placeRobot(g, 1, grid.Pos{X: 1, Y: 1}, 10)
	blocked := grid.Pos{X: 2, Y: 1}
	obs.AddTemporary(blocked, 5)
	r.Path = []grid.Pos{blocked, {X: 3, Y: 1}}

	m.step(1, []*model.Robot{r}, nil)

	if r.Pos == blocked {
		t.Fatalf("robot entered a standing temporary obstacle")
	}
	if len(r.Path) != 0 {
		t.Fatalf("path through the obstacle was kept: %v", r.Path)
	}
	if m.stuck[r.ID] != 1 {
		t.Fatalf("stuck counter = %d", m.stuck[r.ID])
	}
}

func TestSemiPermanentObstacleIsProbed(t *testing.T) {
	m, g, obs, _ := newTestMover(5, 5)
	r := placeRobot(g, 1, grid.Pos{X: 1, Y: 1}, 10)
	probe := grid.Pos{X: 2, Y: 1}
	obs.AddSemiPermanent(probe, 30)
	r.Path = []grid.Pos{probe}

	m.step(1, []*model.Robot{r}, nil)

	if r.Pos != probe {
		t.Fatalf("robot did not pass through the believed obstacle")
	}
	rec, ok := obs.Info(probe)
	if !ok || rec.Confidence >= obstacle.ConfidenceSemiPermanent {
		t.Fatalf("interaction did not erode confidence: %+v", rec)
	}
}

func TestForceDeliverWhenStuckBesideDrop(t *testing.T) {
	m, g, _, rec := newTestMover(5, 5)
	drop := grid.Pos{X: 2, Y: 2}
	g.SetDropPoint(drop)
	r := placeRobot(g, 1, grid.Pos{X: 2, Y: 1}, 10)
	r.Carrying = []*model.Item{{ID: 2, Weight: 3, Picked: true}}
	r.CurrentWeight = 3

	// No path, sitting one cell from the drop: after the adjacency
	// ceiling the robot is pulled onto it.
	robots := []*model.Robot{r}
	for i := 0; i < m.cfg.ForceDeliverAdjacentTicks+1; i++ {
		m.step(int64(i+1), robots, nil)
	}
	if r.Pos != drop {
		t.Fatalf("robot was not pulled onto the drop point: %v", r.Pos)
	}
	if r.IsCarrying() || rec.Count(events.ItemDelivered) != 1 {
		t.Fatalf("forced delivery did not happen")
	}
}

func TestEmergencyStepMovesTowardDrop(t *testing.T) {
	m, g, _, rec := newTestMover(6, 6)
	drop := grid.Pos{X: 5, Y: 5}
	g.SetDropPoint(drop)
	r := placeRobot(g, 1, grid.Pos{X: 1, Y: 1}, 10)
	r.Carrying = []*model.Item{{ID: 2, Weight: 3, Picked: true}}
	r.CurrentWeight = 3
	m.stuck[r.ID] = m.cfg.EmergencyStepTicks

	m.step(1, []*model.Robot{r}, nil)

	if r.Pos != (grid.Pos{X: 2, Y: 2}) {
		t.Fatalf("emergency step went to %v", r.Pos)
	}
	if m.stuck[r.ID] != 0 {
		t.Fatalf("stuck counter not cleared: %d", m.stuck[r.ID])
	}
	ev, ok := rec.Last(events.RobotMoved)
	if !ok || ev.Payload["emergency"] != true {
		t.Fatalf("emergency move not reported: %+v", ev)
	}
}

func TestTrappedRobotReleasesLoad(t *testing.T) {
	m, g, obs, rec := newTestMover(6, 6)
	drop := grid.Pos{X: 5, Y: 5}
	g.SetDropPoint(drop)
	r := placeRobot(g, 1, grid.Pos{X: 1, Y: 1}, 10)
	home := grid.Pos{X: 3, Y: 3}
	it := &model.Item{ID: 2, Pos: home, Weight: 3, Picked: true}
	r.Carrying = []*model.Item{it}
	r.CurrentWeight = 3
	// Every cell the emergency step would try.
	for _, p := range []grid.Pos{{X: 2, Y: 2}, {X: 2, Y: 1}, {X: 1, Y: 2}, {X: 0, Y: 1}, {X: 1, Y: 0}} {
		obs.AddPermanent(p)
	}
	m.stuck[r.ID] = m.cfg.ReleaseLoadTicks

	m.step(1, []*model.Robot{r}, nil)

	if r.IsCarrying() {
		t.Fatalf("trapped robot kept its load")
	}
	if it.Picked || it.Assigned {
		t.Fatalf("released item not returned to the pool: %+v", it)
	}
	if g.Cell(home) != grid.Item {
		t.Fatalf("released item not back on the grid: %v", g.Cell(home))
	}
	if rec.Count(events.ItemReleased) != 1 {
		t.Fatalf("release not reported")
	}
}
