// Package indexdb keeps a queryable sqlite index of generation runs and the
// chunks they produced. The artifact files remain the source of truth.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
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

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqChunk reqKind = iota + 1
	reqFinish
)

type req struct {
	kind   reqKind
	chunk  ChunkRow
	finish RunSummary
}

// Run describes one server start.
type Run struct {
	RunID        string
	StartedAt    time.Time
	Seed         uint64
	TuningDigest string
	TuningJSON   string
	Total        int
}

type RunSummary struct {
	RunID     string
	Installed int
	Failed    int
	Cached    int
	Elapsed   time.Duration
}

// RunRow is a runs table row as read back by tools.
type RunRow struct {
	Run
	FinishedAt string
	Installed  int
	Failed     int
	Cached     int
	ElapsedMs  int64
}

type ChunkRow struct {
	RunID        string
	X, Y, Z      int
	State        string
	Tick         uint64
	Digest       string
	Vertices     int
	Triangles    int
	Cached       bool
	DurationMs   float64
	Error        string
	ArtifactPath string
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	Dropped       uint64
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
		ch: make(chan req, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
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
			started_at TEXT NOT NULL,
			seed TEXT NOT NULL,
			tuning_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL,
			total INTEGER NOT NULL,
			finished_at TEXT,
			installed INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			cached INTEGER NOT NULL DEFAULT 0,
			elapsed_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			run_id TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			state TEXT NOT NULL,
			tick INTEGER NOT NULL,
			digest TEXT NOT NULL,
			vertices INTEGER NOT NULL,
			triangles INTEGER NOT NULL,
			cached INTEGER NOT NULL,
			duration_ms REAL NOT NULL,
			error TEXT,
			artifact_path TEXT,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (run_id, x, y, z)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_pos ON chunks(x, y, z);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_state ON chunks(run_id, state);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
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

// BeginRun inserts the run row synchronously so later chunk rows have a parent.
func (s *SQLiteIndex) BeginRun(r Run) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO runs(run_id,started_at,seed,tuning_digest,tuning_json,total) VALUES(?,?,?,?,?,?)`,
		r.RunID,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		strconv.FormatUint(r.Seed, 10),
		r.TuningDigest,
		r.TuningJSON,
		r.Total,
	)
	return err
}

// RecordChunk queues a chunk row. It never blocks; rows are dropped when the
// writer falls behind.
func (s *SQLiteIndex) RecordChunk(row ChunkRow) {
	s.enqueue(req{kind: reqChunk, chunk: row})
}

func (s *SQLiteIndex) FinishRun(sum RunSummary) {
	s.enqueue(req{kind: reqFinish, finish: sum})
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{QueueDepth: len(s.ch), QueueCapacity: cap(s.ch), Dropped: s.dropped.Load()}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertChunk, _ := s.db.Prepare(`INSERT OR REPLACE INTO chunks(run_id,x,y,z,state,tick,digest,vertices,triangles,cached,duration_ms,error,artifact_path,recorded_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	finishRun, _ := s.db.Prepare(`UPDATE runs SET finished_at=?, installed=?, failed=?, cached=?, elapsed_ms=? WHERE run_id=?`)
	defer func() {
		if insertChunk != nil {
			_ = insertChunk.Close()
		}
		if finishRun != nil {
			_ = finishRun.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)
		switch r.kind {
		case reqChunk:
			c := r.chunk
			if insertChunk == nil {
				continue
			}
			cached := 0
			if c.Cached {
				cached = 1
			}
			if _, err := tx.Stmt(insertChunk).Exec(
				c.RunID, c.X, c.Y, c.Z,
				c.State,
				int64(c.Tick),
				c.Digest,
				c.Vertices,
				c.Triangles,
				cached,
				c.DurationMs,
				c.Error,
				c.ArtifactPath,
				now,
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqFinish:
			f := r.finish
			if finishRun == nil {
				continue
			}
			if _, err := tx.Stmt(finishRun).Exec(now, f.Installed, f.Failed, f.Cached, f.Elapsed.Milliseconds(), f.RunID); err != nil {
				rollback()
				continue
			}
			// A finished run is worth making durable right away.
			commit()
			continue
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
