package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"subair/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/terrain.sqlite)")
	runID := fs.String("run", "", "run id filter (chunks; default: latest run)")
	state := fs.String("state", "", "state filter (chunks)")
	limit := fs.Int("limit", 0, "result limit (0: no limit)")
	_ = fs.Parse(args)

	q := "runs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "terrain.sqlite")
	}
	db, err := indexdb.OpenForQuery(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runs, err := indexdb.ListRuns(ctx, db)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query runs:", err)
		os.Exit(1)
	}

	switch q {
	case "runs":
		for i, r := range runs {
			if *limit > 0 && i >= *limit {
				break
			}
			printJSON(struct {
				RunID        string `json:"run_id"`
				StartedAt    string `json:"started_at"`
				FinishedAt   string `json:"finished_at,omitempty"`
				Seed         string `json:"seed"`
				TuningDigest string `json:"tuning_digest"`
				Total        int    `json:"total"`
				Installed    int    `json:"installed"`
				Failed       int    `json:"failed"`
				Cached       int    `json:"cached"`
				ElapsedMs    int64  `json:"elapsed_ms"`
			}{
				RunID:        r.RunID,
				StartedAt:    r.StartedAt.UTC().Format(time.RFC3339Nano),
				FinishedAt:   r.FinishedAt,
				Seed:         strconv.FormatUint(r.Seed, 10),
				TuningDigest: r.TuningDigest,
				Total:        r.Total,
				Installed:    r.Installed,
				Failed:       r.Failed,
				Cached:       r.Cached,
				ElapsedMs:    r.ElapsedMs,
			})
		}

	case "chunks":
		id := strings.TrimSpace(*runID)
		if id == "" {
			if len(runs) == 0 {
				fmt.Fprintln(os.Stderr, "no runs found")
				os.Exit(2)
			}
			id = runs[len(runs)-1].RunID
		}
		rows, err := indexdb.ListChunks(ctx, db, id)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query chunks:", err)
			os.Exit(1)
		}
		n := 0
		for _, c := range rows {
			if *state != "" && c.State != *state {
				continue
			}
			if *limit > 0 && n >= *limit {
				break
			}
			n++
			printJSON(struct {
				RunID      string  `json:"run_id"`
				Coord      [3]int  `json:"coord"`
				State      string  `json:"state"`
				Tick       uint64  `json:"tick"`
				Digest     string  `json:"digest,omitempty"`
				Vertices   int     `json:"vertices"`
				Triangles  int     `json:"triangles"`
				Cached     bool    `json:"cached,omitempty"`
				DurationMs float64 `json:"duration_ms"`
				Error      string  `json:"error,omitempty"`
				Artifact   string  `json:"artifact,omitempty"`
			}{
				RunID:      c.RunID,
				Coord:      [3]int{c.X, c.Y, c.Z},
				State:      c.State,
				Tick:       c.Tick,
				Digest:     c.Digest,
				Vertices:   c.Vertices,
				Triangles:  c.Triangles,
				Cached:     c.Cached,
				DurationMs: c.DurationMs,
				Error:      c.Error,
				Artifact:   c.ArtifactPath,
			})
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want runs|chunks)")
		os.Exit(2)
	}
}
