package assign

import (
	"math/rand"
	"testing"

	"warefleet.ai/internal/sim/events"
	"warefleet.ai/internal/sim/grid"
	"warefleet.ai/internal/sim/model"
	"warefleet.ai/internal/sim/obstacle"
	"warefleet.ai/internal/sim/path"
)

type fixture struct {
	g      *grid.Grid
	m      *obstacle.Manager
	finder *path.Finder
	rec    *events.Recorder
	a      *Assigner
}

func newFixture(t *testing.T, w, h int, cfg Config) *fixture {
	t.Helper()
	g := grid.New(w, h)
	m := obstacle.NewManager(g)
	rng := rand.New(rand.NewSource(1))
	finder := path.NewFinder(path.Env{Grid: g, Obstacles: m}, rng)
	rec := &events.Recorder{}
	if cfg.ClusterRadius == 0 {
		cfg.ClusterRadius = 5
	}
	if cfg.FailureCeiling == 0 {
		cfg.FailureCeiling = 3
	}
	return &fixture{g: g, m: m, finder: finder, rec: rec,
		a: New(g, finder, rng, rec, cfg)}
}

func (f *fixture) addRobot(id int64, p grid.Pos, capacity int) *model.Robot {
	r := &model.Robot{ID: id, Pos: p, Capacity: capacity}
	f.g.RegisterEntity(id, p, grid.Robot)
	return r
}

func (f *fixture) addItem(id int64, p grid.Pos, weight int) *model.Item {
	it := &model.Item{ID: id, Pos: p, Weight: weight}
	f.g.RegisterEntity(id, p, grid.Item)
	return it
}

func TestAssignPrefersDenserCluster(t *testing.T) {
	f := newFixture(t, 20, 20, Config{})
	f.g.SetDropPoint(grid.Pos{X: 19, Y: 19})
	r := f.addRobot(1, grid.Pos{X: 0, Y: 0}, 20)

	// A tight three-item cluster a bit away and a lone nearby item.
	items := []*model.Item{
		f.addItem(10, grid.Pos{X: 2, Y: 0}, 3),
		f.addItem(11, grid.Pos{X: 10, Y: 10}, 6),
		f.addItem(12, grid.Pos{X: 11, Y: 10}, 6),
		f.addItem(13, grid.Pos{X: 10, Y: 11}, 6),
	}

	n := f.a.Cycle(1, []*model.Robot{r}, items, grid.Pos{X: 19, Y: 19})
	if n == 0 {
		t.Fatalf("nothing assigned")
	}
	if len(r.Targets) == 0 {
		t.Fatalf("robot has no targets")
	}
	if len(r.Path) == 0 {
		t.Fatalf("assignment committed without a path")
	}
	for _, it := range r.Targets {
		if !it.Assigned {
			t.Fatalf("target %d not marked assigned", it.ID)
		}
	}
	if got := f.rec.Count(events.ItemAssigned); got != n {
		t.Fatalf("assigned events = %d, want %d", got, n)
	}
	// Capacity is never exceeded by the committed set.
	total := 0
	for _, it := range r.Targets {
		total += it.Weight
	}
	if total > r.Capacity {
		t.Fatalf("capacity exceeded: %d > %d", total, r.Capacity)
	}
}

func TestDeliverAtDropPoint(t *testing.T) {
	f := newFixture(t, 10, 10, Config{})
	drop := grid.Pos{X: 5, Y: 5}
	f.g.SetDropPoint(drop)
	r := f.addRobot(1, drop, 15)
	it := &model.Item{ID: 7, Pos: grid.Pos{X: 1, Y: 1}, Weight: 5}
	it.Assigned = true
	r.PickUp(it)
	r.Pos = drop

	f.a.Cycle(3, []*model.Robot{r}, []*model.Item{it}, drop)
	if r.IsCarrying() || r.CurrentWeight != 0 {
		t.Fatalf("load not delivered")
	}
	ev, ok := f.rec.Last(events.ItemDelivered)
	if !ok || ev.Payload["item_id"] != int64(7) {
		t.Fatalf("missing delivered event: %+v", ev)
	}
}

func TestDropPathFailureReleasesLoad(t *testing.T) {
	f := newFixture(t, 12, 12, Config{FailureCeiling: 3})
	drop := grid.Pos{X: 11, Y: 11}
	f.g.SetDropPoint(drop)

	// Seal the carrying robot into a one-cell box.
	pos := grid.Pos{X: 2, Y: 2}
	r := f.addRobot(1, pos, 15)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			f.m.AddPermanent(grid.Pos{X: pos.X + dx, Y: pos.Y + dy})
		}
	}
	it := &model.Item{ID: 9, Pos: grid.Pos{X: 3, Y: 3}, Weight: 4}
	it.Assigned = true
	r.PickUp(it)

	for i := 0; i < 3; i++ {
		f.a.Cycle(int64(i), []*model.Robot{r}, []*model.Item{it}, drop)
	}
	if r.IsCarrying() {
		t.Fatalf("load not released after repeated drop-path failures")
	}
	if it.Picked || it.Assigned {
		t.Fatalf("released item still bound: picked=%v assigned=%v", it.Picked, it.Assigned)
	}
	if f.rec.Count(events.ItemReleased) != 1 {
		t.Fatalf("release events = %d", f.rec.Count(events.ItemReleased))
	}
}

func TestUnassignedAgeForceCompletes(t *testing.T) {
	f := newFixture(t, 8, 8, Config{UnassignedCeiling: 5})
	it := f.addItem(4, grid.Pos{X: 3, Y: 3}, 3)
	for i := 0; i < 6; i++ {
		f.a.Cycle(int64(i), nil, []*model.Item{it}, grid.Pos{})
	}
	if !it.Picked {
		t.Fatalf("stuck item not force-completed")
	}
	if f.rec.Count(events.ItemDeleted) != 1 {
		t.Fatalf("deleted events = %d", f.rec.Count(events.ItemDeleted))
	}
	if f.g.Cell(grid.Pos{X: 3, Y: 3}) != grid.Empty {
		t.Fatalf("force-completed item still on grid")
	}
}

func TestSingleItemModeWhenClusteringOff(t *testing.T) {
	f := newFixture(t, 15, 15, Config{})
	f.g.SetDropPoint(grid.Pos{X: 14, Y: 14})
	f.a.SetClustering(false)
	r := f.addRobot(1, grid.Pos{X: 0, Y: 0}, 30)
	items := []*model.Item{
		f.addItem(20, grid.Pos{X: 2, Y: 2}, 3),
		f.addItem(21, grid.Pos{X: 3, Y: 2}, 3),
	}
	f.a.Cycle(1, []*model.Robot{r}, items, grid.Pos{X: 14, Y: 14})
	if len(r.Targets) != 1 {
		t.Fatalf("clustering off should bind one item, got %d", len(r.Targets))
	}
	if r.Targets[0].ID != 20 {
		t.Fatalf("nearest item not chosen: %d", r.Targets[0].ID)
	}
}
