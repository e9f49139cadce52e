// Package snapshot persists full world state to disk: a zstd-compressed
// archive holding the grid, entities, obstacle beliefs and the learned
// policy table, so a run can be resumed or replayed elsewhere.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"warefleet.ai/internal/sim/world"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Tick    int64  `json:"tick"`
}

// Archive is what lands on disk: the header repeated for tooling that only
// reads the first line, then the complete world state.
type Archive struct {
	Header Header
	State  world.State
}

// Write stores the state at path. The file starts with one JSON header line
// so `zstdcat file | head -1` identifies a snapshot without decoding the
// body.
func Write(path, runID string, state world.State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	arch := Archive{
		Header: Header{Version: Version, RunID: runID, Tick: state.Tick},
		State:  state,
	}
	hb, _ := json.Marshal(arch.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&arch); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

// Read loads an archive written by Write.
func Read(path string) (Archive, error) {
	var arch Archive
	f, err := os.Open(path)
	if err != nil {
		return arch, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return arch, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Skip the header line; gob carries the header too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return arch, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&arch); err != nil {
		return arch, fmt.Errorf("gob decode: %w", err)
	}
	if arch.Header.Version != Version {
		return arch, fmt.Errorf("unsupported snapshot version %d", arch.Header.Version)
	}
	return arch, nil
}
