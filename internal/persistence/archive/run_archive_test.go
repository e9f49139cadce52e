package archive

import (
	"os"
	"path/filepath"
	"testing"
)

func TestArchiveRun(t *testing.T) {
	dataDir := t.TempDir()
	snap := filepath.Join(dataDir, "snapshots", "run-1", "tick00000080.zst")
	if err := os.MkdirAll(filepath.Dir(snap), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(snap, []byte("snapshot-bytes"), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	dst, err := ArchiveRun(dataDir, "run-1", snap, 80, 312, 9, false)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	b, err := os.ReadFile(dst)
	if err != nil || string(b) != "snapshot-bytes" {
		t.Fatalf("archived copy wrong: %q %v", b, err)
	}

	meta, err := ReadMeta(dataDir, "run-1")
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	if meta.RunID != "run-1" || meta.EndTick != 80 || meta.Steps != 312 || meta.Delivered != 9 || meta.Forced {
		t.Fatalf("meta wrong: %+v", meta)
	}
	if meta.Snapshot != "tick00000080.zst" {
		t.Fatalf("snapshot name wrong: %s", meta.Snapshot)
	}
}

func TestArchiveRunRejectsEmptyID(t *testing.T) {
	if _, err := ArchiveRun(t.TempDir(), "", "nope", 0, 0, 0, false); err == nil {
		t.Fatalf("expected error")
	}
}
