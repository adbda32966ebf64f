package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// OpenForQuery opens an index for tools. It does not start a writer.
func OpenForQuery(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return db, nil
}

func ListRuns(ctx context.Context, db *sql.DB) ([]RunRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT run_id,started_at,seed,tuning_digest,total,COALESCE(finished_at,''),installed,failed,cached,elapsed_ms FROM runs ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var (
			r       RunRow
			started string
			seed    string
		)
		if err := rows.Scan(&r.RunID, &started, &seed, &r.TuningDigest, &r.Total, &r.FinishedAt, &r.Installed, &r.Failed, &r.Cached, &r.ElapsedMs); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.Seed, _ = strconv.ParseUint(seed, 10, 64)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListChunks returns the chunk rows of one run, or of every run when runID is
// empty.
func ListChunks(ctx context.Context, db *sql.DB, runID string) ([]ChunkRow, error) {
	q := `SELECT run_id,x,y,z,state,tick,digest,vertices,triangles,cached,duration_ms,COALESCE(error,''),COALESCE(artifact_path,'') FROM chunks`
	var args []any
	if runID != "" {
		q += ` WHERE run_id=?`
		args = append(args, runID)
	}
	q += ` ORDER BY run_id,x,y,z`
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChunkRow
	for rows.Next() {
		var (
			c      ChunkRow
			tick   int64
			cached int
		)
		if err := rows.Scan(&c.RunID, &c.X, &c.Y, &c.Z, &c.State, &tick, &c.Digest, &c.Vertices, &c.Triangles, &cached, &c.DurationMs, &c.Error, &c.ArtifactPath); err != nil {
			return nil, err
		}
		c.Tick = uint64(tick)
		c.Cached = cached != 0
		out = append(out, c)
	}
	return out, rows.Err()
}
