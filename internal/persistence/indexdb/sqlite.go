// Package indexdb keeps a small SQLite index of runs off the hot path: when
// each run started and ended, its counters, and where its snapshots landed.
// Writes go through a single writer goroutine and are dropped rather than
// ever stalling the tick loop.
package indexdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqRunStart reqKind = iota + 1
	reqRunEnd
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	start    runStartRow
	end      runEndRow
	snapshot snapshotRow
	done     chan struct{}
}

type runStartRow struct {
	RunID     string
	Seed      int64
	Width     int
	Height    int
	StartedAt string
}

type runEndRow struct {
	RunID     string
	Ticks     int64
	Steps     int
	Delivered int
	Forced    bool
	EndedAt   string
}

type snapshotRow struct {
	RunID string
	Tick  int64
	Path  string
}

// RunSummary is one row of the runs table, for reporting.
type RunSummary struct {
	RunID     string
	Seed      int64
	Width     int
	Height    int
	StartedAt string
	EndedAt   string
	Ticks     int64
	Steps     int
	Delivered int
	Forced    bool
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-style workload; NORMAL is enough durability for
	// a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			ticks INTEGER NOT NULL DEFAULT 0,
			steps INTEGER NOT NULL DEFAULT 0,
			delivered INTEGER NOT NULL DEFAULT 0,
			forced INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			path TEXT NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordRunStart registers a new run. Never blocks.
func (s *SQLiteIndex) RecordRunStart(runID string, seed int64, width, height int) {
	if s == nil || s.closed.Load() || runID == "" {
		return
	}
	r := runStartRow{
		RunID: runID, Seed: seed, Width: width, Height: height,
		StartedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqRunStart, start: r}:
	default:
	}
}

// RecordRunEnd stores the final counters for a run. Never blocks.
func (s *SQLiteIndex) RecordRunEnd(runID string, ticks int64, steps, delivered int, forced bool) {
	if s == nil || s.closed.Load() || runID == "" {
		return
	}
	r := runEndRow{
		RunID: runID, Ticks: ticks, Steps: steps, Delivered: delivered, Forced: forced,
		EndedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqRunEnd, end: r}:
	default:
	}
}

// RecordSnapshot notes where a snapshot for a run landed. Never blocks.
func (s *SQLiteIndex) RecordSnapshot(runID string, tick int64, path string) {
	if s == nil || s.closed.Load() || runID == "" || path == "" {
		return
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: snapshotRow{RunID: runID, Tick: tick, Path: path}}:
	default:
	}
}

// Flush blocks until every write queued before it has been applied.
func (s *SQLiteIndex) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqFlush, done: done}
	<-done
}

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqRunStart:
			_, _ = s.db.Exec(
				`INSERT OR REPLACE INTO runs(run_id,seed,width,height,started_at) VALUES(?,?,?,?,?)`,
				r.start.RunID, r.start.Seed, r.start.Width, r.start.Height, r.start.StartedAt)
		case reqRunEnd:
			_, _ = s.db.Exec(
				`UPDATE runs SET ended_at=?, ticks=?, steps=?, delivered=?, forced=? WHERE run_id=?`,
				r.end.EndedAt, r.end.Ticks, r.end.Steps, r.end.Delivered, boolInt(r.end.Forced), r.end.RunID)
		case reqSnapshot:
			_, _ = s.db.Exec(
				`INSERT OR REPLACE INTO snapshots(run_id,tick,path) VALUES(?,?,?)`,
				r.snapshot.RunID, r.snapshot.Tick, r.snapshot.Path)
		case reqFlush:
			close(r.done)
		}
	}
}

// Summaries returns the most recently started runs, newest first.
func (s *SQLiteIndex) Summaries(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT run_id, seed, width, height, started_at, COALESCE(ended_at,''),
		        ticks, steps, delivered, forced
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var forced int
		if err := rows.Scan(&r.RunID, &r.Seed, &r.Width, &r.Height, &r.StartedAt,
			&r.EndedAt, &r.Ticks, &r.Steps, &r.Delivered, &forced); err != nil {
			return nil, err
		}
		r.Forced = forced != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// SnapshotPaths lists the snapshots recorded for one run, oldest first.
func (s *SQLiteIndex) SnapshotPaths(runID string) (map[int64]string, error) {
	rows, err := s.db.Query(`SELECT tick, path FROM snapshots WHERE run_id=? ORDER BY tick`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]string{}
	for rows.Next() {
		var tick int64
		var path string
		if err := rows.Scan(&tick, &path); err != nil {
			return nil, err
		}
		out[tick] = path
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
