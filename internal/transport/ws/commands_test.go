package ws

import (
	"io"
	"log"
	"testing"

	"warefleet.ai/internal/protocol"
	"warefleet.ai/internal/sim/encoding"
	"warefleet.ai/internal/sim/events"
	"warefleet.ai/internal/sim/grid"
	"warefleet.ai/internal/sim/tuning"
	"warefleet.ai/internal/sim/world"
)

func commandWorld(t *testing.T) *world.World {
	t.Helper()
	cfg := tuning.Defaults()
	cfg.GridWidth = 10
	cfg.GridHeight = 10
	return world.New(cfg, 1, log.New(io.Discard, "", 0), events.Discard)
}

func TestApplyCommandControlSurface(t *testing.T) {
	w := commandWorld(t)

	ok, code, _ := ApplyCommand(w, protocol.CommandMsg{
		Op: protocol.OpSetDropPoint, Pos: &grid.Pos{X: 0, Y: 9},
	})
	if !ok || code != "" {
		t.Fatalf("set drop rejected: %s", code)
	}
	ok, _, _ = ApplyCommand(w, protocol.CommandMsg{
		Op: protocol.OpAddRobot, Pos: &grid.Pos{X: 1, Y: 9}, Capacity: 10,
	})
	if !ok {
		t.Fatalf("add robot rejected")
	}
	if len(w.Robots()) != 1 {
		t.Fatalf("robot not added")
	}

	// Same cell again: rejected with a conflict code.
	ok, code, _ = ApplyCommand(w, protocol.CommandMsg{
		Op: protocol.OpAddRobot, Pos: &grid.Pos{X: 1, Y: 9}, Capacity: 10,
	})
	if ok || code != protocol.ErrConflict {
		t.Fatalf("occupied cell accepted: ok=%v code=%s", ok, code)
	}

	ok, code, _ = ApplyCommand(w, protocol.CommandMsg{
		Op: protocol.OpAddObstacle, Pos: &grid.Pos{X: 5, Y: 5}, Class: "TEMPORARY_OBSTACLE", Lifespan: 4,
	})
	if !ok {
		t.Fatalf("add obstacle rejected: %s", code)
	}
	ok, code, _ = ApplyCommand(w, protocol.CommandMsg{
		Op: protocol.OpAddObstacle, Pos: &grid.Pos{X: 5, Y: 6}, Class: "LAVA",
	})
	if ok || code != protocol.ErrBadRequest {
		t.Fatalf("bogus class accepted: ok=%v code=%s", ok, code)
	}

	ok, code, _ = ApplyCommand(w, protocol.CommandMsg{Op: protocol.OpAddItem})
	if ok || code != protocol.ErrBadRequest {
		t.Fatalf("missing pos accepted")
	}

	ok, code, _ = ApplyCommand(w, protocol.CommandMsg{Op: protocol.OpResizeGrid, Width: 5, Height: 5})
	if ok || code != protocol.ErrBadRequest {
		t.Fatalf("shrinking resize accepted")
	}

	ok, code, _ = ApplyCommand(w, protocol.CommandMsg{Op: "DANCE"})
	if ok || code != protocol.ErrUnknownOp {
		t.Fatalf("unknown op accepted: ok=%v code=%s", ok, code)
	}

	ok, code, _ = ApplyCommand(w, protocol.CommandMsg{Op: protocol.OpPause})
	if ok || code != protocol.ErrNotRunning {
		t.Fatalf("pause on idle world accepted")
	}
	ApplyCommand(w, protocol.CommandMsg{Op: protocol.OpStart})
	if !w.Running() {
		t.Fatalf("start did not run the world")
	}
}

func TestBuildStateFrame(t *testing.T) {
	w := commandWorld(t)
	ApplyCommand(w, protocol.CommandMsg{Op: protocol.OpSetDropPoint, Pos: &grid.Pos{X: 0, Y: 9}})
	ApplyCommand(w, protocol.CommandMsg{Op: protocol.OpAddRobot, Pos: &grid.Pos{X: 1, Y: 9}, Capacity: 10})
	ApplyCommand(w, protocol.CommandMsg{Op: protocol.OpAddItem, Pos: &grid.Pos{X: 4, Y: 2}, Weight: 3})
	ApplyCommand(w, protocol.CommandMsg{Op: protocol.OpAddObstacle, Pos: &grid.Pos{X: 5, Y: 5}, Class: "PERMANENT_OBSTACLE"})
	ApplyCommand(w, protocol.CommandMsg{Op: protocol.OpAddObstacle, Pos: &grid.Pos{X: 3, Y: 5}, Class: "PERMANENT_OBSTACLE"})

	state := BuildState(w, "run-1")

	if state.Type != protocol.TypeState || state.RunID != "run-1" {
		t.Fatalf("frame header wrong: %+v", state)
	}
	if state.Width != 10 || state.Height != 10 {
		t.Fatalf("grid size wrong: %dx%d", state.Width, state.Height)
	}
	if state.Drop == nil || *state.Drop != (grid.Pos{X: 0, Y: 9}) {
		t.Fatalf("drop missing: %+v", state.Drop)
	}
	if len(state.Robots) != 1 || len(state.Items) != 1 {
		t.Fatalf("entities missing: %d robots %d items", len(state.Robots), len(state.Items))
	}
	if len(state.Obstacles) != 2 {
		t.Fatalf("obstacles missing: %d", len(state.Obstacles))
	}
	// Deterministic order: row first, then column.
	if state.Obstacles[0].Pos != (grid.Pos{X: 3, Y: 5}) {
		t.Fatalf("obstacle order not stable: %+v", state.Obstacles)
	}
	if state.Obstacles[0].Remaining != -1 {
		t.Fatalf("permanent obstacle remaining = %d", state.Obstacles[0].Remaining)
	}

	cells, err := encoding.DecodeCells(state.Cells, state.Width, state.Height)
	if err != nil {
		t.Fatalf("decode cells: %v", err)
	}
	if cells[5*10+5] != grid.PermanentObstacle || cells[9*10+1] != grid.Robot {
		t.Fatalf("cell encoding wrong")
	}
}
