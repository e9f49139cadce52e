package grid

import (
	"math/rand"
	"testing"
)

func TestDualIndexConsistency(t *testing.T) {
	g := New(10, 10)
	if !g.RegisterEntity(1, Pos{X: 2, Y: 3}, Robot) {
		t.Fatalf("register failed")
	}
	p, ok := g.EntityPos(1)
	if !ok || p != (Pos{X: 2, Y: 3}) {
		t.Fatalf("entity pos = %v, %v", p, ok)
	}
	if ids := g.EntitiesAt(Pos{X: 2, Y: 3}); len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("entities at pos = %v", ids)
	}
	if !g.MoveEntity(1, Pos{X: 4, Y: 4}, Robot) {
		t.Fatalf("move failed")
	}
	if g.Cell(Pos{X: 2, Y: 3}) != Empty {
		t.Fatalf("old cell not cleared")
	}
	if g.Cell(Pos{X: 4, Y: 4}) != Robot {
		t.Fatalf("new cell not tagged")
	}
	if ids := g.EntitiesAt(Pos{X: 2, Y: 3}); len(ids) != 0 {
		t.Fatalf("stale position index: %v", ids)
	}
	if !g.UnregisterEntity(1) {
		t.Fatalf("unregister failed")
	}
	if _, ok := g.EntityPos(1); ok {
		t.Fatalf("entity still indexed after unregister")
	}
}

func TestWalkablePlanningRelaxation(t *testing.T) {
	g := New(5, 5)
	p := Pos{X: 1, Y: 1}
	g.SetCell(p, TemporaryObstacle)
	if g.IsCellWalkable(p, false) {
		t.Fatalf("temporary obstacle walkable for movement")
	}
	if !g.IsCellWalkable(p, true) {
		t.Fatalf("temporary obstacle not walkable for planning")
	}
	g.SetCell(p, PermanentObstacle)
	if g.IsCellWalkable(p, true) {
		t.Fatalf("permanent obstacle walkable")
	}
}

func TestResizeGrowOnly(t *testing.T) {
	g := New(5, 5)
	g.RegisterEntity(7, Pos{X: 4, Y: 4}, Robot)
	if g.Resize(3, 3) {
		t.Fatalf("shrink displacing entity must be rejected")
	}
	if g.Width != 5 || g.Height != 5 {
		t.Fatalf("rejected resize mutated bounds: %dx%d", g.Width, g.Height)
	}
	if !g.Resize(8, 8) {
		t.Fatalf("grow rejected")
	}
	if g.Cell(Pos{X: 4, Y: 4}) != Robot {
		t.Fatalf("cell content lost on grow")
	}
	if !g.SetDropPoint(Pos{X: 7, Y: 7}) {
		t.Fatalf("set drop point failed")
	}
	if g.Resize(6, 6) {
		t.Fatalf("shrink displacing drop point must be rejected")
	}
}

func TestSetDropPointClearsOld(t *testing.T) {
	g := New(5, 5)
	if !g.SetDropPoint(Pos{X: 0, Y: 0}) {
		t.Fatalf("first drop point rejected")
	}
	if !g.SetDropPoint(Pos{X: 2, Y: 2}) {
		t.Fatalf("second drop point rejected")
	}
	if g.Cell(Pos{X: 0, Y: 0}) != Empty {
		t.Fatalf("previous drop cell not cleared")
	}
	if g.Cell(Pos{X: 2, Y: 2}) != DropPoint {
		t.Fatalf("new drop cell not tagged")
	}
}

func TestGenerateRandomObstaclesDensity(t *testing.T) {
	g := New(20, 20)
	rng := rand.New(rand.NewSource(1))
	placed := g.GenerateRandomObstacles(rng, 0.25)
	if placed == 0 {
		t.Fatalf("no obstacles placed at density 0.25")
	}
	if placed >= 20*20 {
		t.Fatalf("all cells filled at density 0.25")
	}
}
