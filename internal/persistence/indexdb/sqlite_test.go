package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func TestSQLiteIndex_RunAndChunks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index", "terrain.sqlite")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := idx.BeginRun(Run{RunID: "r1", StartedAt: started, Seed: 23478235784239483, TuningDigest: "td", TuningJSON: "{}", Total: 2}); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	idx.RecordChunk(ChunkRow{RunID: "r1", X: 0, Y: 1, Z: 2, State: "installed", Tick: 3, Digest: "d0", Vertices: 10, Triangles: 8, DurationMs: 1.5, ArtifactPath: "/a/0_1_2.mesh.zst"})
	idx.RecordChunk(ChunkRow{RunID: "r1", X: 1, Y: 1, Z: 2, State: "failed", Tick: 4, Error: "boom", Cached: true})
	idx.FinishRun(RunSummary{RunID: "r1", Installed: 1, Failed: 1, Elapsed: 1500 * time.Millisecond})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := OpenForQuery(path)
	if err != nil {
		t.Fatalf("OpenForQuery: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	runs, err := ListRuns(ctx, db)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs=%+v", runs)
	}
	r := runs[0]
	if r.Seed != 23478235784239483 || !r.StartedAt.Equal(started) || r.Total != 2 {
		t.Fatalf("run=%+v", r)
	}
	if r.FinishedAt == "" || r.Installed != 1 || r.Failed != 1 || r.ElapsedMs != 1500 {
		t.Fatalf("run summary not applied: %+v", r)
	}

	chunks, err := ListChunks(ctx, db, "r1")
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks=%+v", chunks)
	}
	if c := chunks[0]; c.X != 0 || c.State != "installed" || c.Digest != "d0" || c.Vertices != 10 || c.ArtifactPath == "" {
		t.Fatalf("chunk 0=%+v", c)
	}
	if c := chunks[1]; c.State != "failed" || c.Error != "boom" || !c.Cached || c.Tick != 4 {
		t.Fatalf("chunk 1=%+v", c)
	}
	if other, _ := ListChunks(ctx, db, "nope"); len(other) != 0 {
		t.Fatalf("unexpected rows for unknown run: %+v", other)
	}
}

func TestSQLiteIndex_SchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terrain.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	_ = idx.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var v string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key='schema_version'`).Scan(&v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v != "1" {
		t.Fatalf("schema_version=%q", v)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.RecordChunk(ChunkRow{RunID: "r"})
	s.RecordChunk(ChunkRow{RunID: "r"})
	s.FinishRun(RunSummary{RunID: "r"})

	st := s.Stats()
	if st.Dropped != 2 {
		t.Fatalf("Dropped=%d want=2", st.Dropped)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_NilIsNoop(t *testing.T) {
	var s *SQLiteIndex
	s.RecordChunk(ChunkRow{})
	s.FinishRun(RunSummary{})
	if err := s.BeginRun(Run{}); err != nil {
		t.Fatalf("BeginRun on nil: %v", err)
	}
	if s.Stats() != (Stats{}) {
		t.Fatalf("stats on nil")
	}
}
