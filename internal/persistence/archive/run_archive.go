// Package archive preserves finished runs: the final snapshot plus a small
// meta.json, copied under `<dataDir>/archives/<runID>/` so the live snapshot
// directory can be pruned without losing completed runs.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

type RunArchiveMeta struct {
	RunID     string `json:"run_id"`
	EndTick   int64  `json:"end_tick"`
	Steps     int    `json:"steps"`
	Delivered int    `json:"delivered"`
	Forced    bool   `json:"forced"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
}

// ArchiveRun copies the final snapshot of a completed run into the archive
// directory and writes meta.json beside it. Returns the archived snapshot
// path.
func ArchiveRun(dataDir, runID, snapshotPath string, endTick int64, steps, delivered int, forced bool) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("empty run id")
	}
	archiveDir := filepath.Join(dataDir, "archives", runID)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", err
	}

	meta := RunArchiveMeta{
		RunID:     runID,
		EndTick:   endTick,
		Steps:     steps,
		Delivered: delivered,
		Forced:    forced,
		Snapshot:  filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644); err != nil {
		return "", err
	}
	return dst, nil
}

// ReadMeta loads the meta.json of an archived run.
func ReadMeta(dataDir, runID string) (RunArchiveMeta, error) {
	var meta RunArchiveMeta
	b, err := os.ReadFile(filepath.Join(dataDir, "archives", runID, "meta.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(b, &meta)
	return meta, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
