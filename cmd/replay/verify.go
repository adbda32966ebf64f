package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	persistlog "subair/internal/persistence/log"
	"subair/internal/persistence/snapshot"
	"subair/internal/sim/tuning"
	"subair/internal/terrain/chunk"
)

type verifyConfig struct {
	DataDir string
	Tuning  tuning.Tuning
	Workers int
	// Events also checks every CHUNK_INSTALLED digest in the event log.
	Events bool
}

type mismatch struct {
	Coord  chunk.Coord `json:"coord"`
	Source string      `json:"source"`
	Want   string      `json:"want"`
	Got    string      `json:"got"`
}

type report struct {
	Checked    int        `json:"checked"`
	Stale      int        `json:"stale"`
	Events     int        `json:"events"`
	Mismatches []mismatch `json:"mismatches,omitempty"`
}

func (r report) OK() bool { return len(r.Mismatches) == 0 }

// verify regenerates every stored chunk that was produced with the given
// tuning and compares digests. Artifacts from another seed or tuning are
// counted as stale and skipped.
func verify(ctx context.Context, cfg verifyConfig) (report, error) {
	var rep report
	seed := cfg.Tuning.Seed
	digest := cfg.Tuning.Digest()
	params := cfg.Tuning.ChunkParams()
	span := cfg.Tuning.Chunk.Span

	paths, err := snapshot.List(cfg.DataDir)
	if err != nil {
		return rep, err
	}

	want := map[chunk.Coord]string{}
	for _, p := range paths {
		hdr, err := snapshot.ReadHeader(p)
		if err != nil {
			return rep, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		if hdr.Seed != seed || hdr.TuningDigest != digest {
			rep.Stale++
			continue
		}
		want[hdr.Coord] = hdr.Digest
	}

	type logged struct {
		coord  chunk.Coord
		digest string
	}
	var fromEvents []logged
	if cfg.Events {
		files, err := filepath.Glob(filepath.Join(cfg.DataDir, "events", "events-*.jsonl.zst"))
		if err != nil {
			return rep, err
		}
		sort.Strings(files)
		for _, f := range files {
			err := persistlog.ReadJSONL(f, func(line []byte) error {
				var e persistlog.Event
				if err := json.Unmarshal(line, &e); err != nil {
					return err
				}
				if e.Kind == persistlog.EventInstalled && e.Coord != nil {
					fromEvents = append(fromEvents, logged{coord: *e.Coord, digest: e.Digest})
				}
				return nil
			})
			if err != nil {
				return rep, fmt.Errorf("%s: %w", filepath.Base(f), err)
			}
		}
	}

	coords := make(map[chunk.Coord]struct{}, len(want)+len(fromEvents))
	for c := range want {
		coords[c] = struct{}{}
	}
	for _, l := range fromEvents {
		coords[l.coord] = struct{}{}
	}

	var (
		mu  sync.Mutex
		got = make(map[chunk.Coord]string, len(coords))
	)
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Workers > 0 {
		g.SetLimit(cfg.Workers)
	}
	for c := range coords {
		c := c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, err := chunk.Generate(seed, c, c.Offset(span), params)
			if err != nil {
				return err
			}
			d := a.Digest()
			mu.Lock()
			got[c] = d
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}

	for c, d := range want {
		rep.Checked++
		if got[c] != d {
			rep.Mismatches = append(rep.Mismatches, mismatch{Coord: c, Source: "artifact", Want: d, Got: got[c]})
		}
	}
	for _, l := range fromEvents {
		rep.Events++
		if got[l.coord] != l.digest {
			rep.Mismatches = append(rep.Mismatches, mismatch{Coord: l.coord, Source: "event", Want: l.digest, Got: got[l.coord]})
		}
	}
	sort.Slice(rep.Mismatches, func(i, j int) bool {
		a, b := rep.Mismatches[i].Coord, rep.Mismatches[j].Coord
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return rep, nil
}
