package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"warefleet.ai/internal/sim/events"
	"warefleet.ai/internal/sim/grid"
)

func TestEventLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLogger(dir)

	in := []events.Event{
		{Tick: 1, Type: events.ItemPicked, Payload: map[string]any{"item": int64(3), "robot": int64(1)}},
		{Tick: 2, Type: events.RobotMoved, Payload: map[string]any{"robot": int64(1), "to": grid.Pos{X: 2, Y: 3}}},
		{Tick: 5, Type: events.ItemDelivered},
	}
	for _, ev := range in {
		if err := l.WriteEvent(ev); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "events", "events-*.jsonl.zst"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one log file, got %v (%v)", files, err)
	}
	f, err := os.Open(files[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	var out []events.Event
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var ev events.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("unmarshal %q: %v", sc.Text(), err)
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(out) != len(in) {
		t.Fatalf("expected %d entries, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i].Tick != in[i].Tick || out[i].Type != in[i].Type {
			t.Fatalf("entry %d wrong: %+v", i, out[i])
		}
	}
}

func TestCloseWithoutWrites(t *testing.T) {
	l := NewEventLogger(t.TempDir())
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
