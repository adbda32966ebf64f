package main

import (
	"log"
	"sync"
	"sync/atomic"

	"subair/internal/persistence/indexdb"
	persistlog "subair/internal/persistence/log"
	"subair/internal/persistence/snapshot"
	"subair/internal/sim/scheduler"
	"subair/internal/sim/world"
	"subair/internal/terrain/chunk"
)

type artifactWrite struct {
	path string
	hdr  snapshot.Header
	a    *chunk.Artifact
}

// persistSink fans resolved chunks out to the artifact files, the event log
// and the index. Artifact files are written on a separate goroutine; a full
// queue drops the write since the artifact can always be regenerated.
type persistSink struct {
	dataDir      string
	runID        string
	seed         uint64
	tuningDigest string

	events *persistlog.EventLogger
	idx    *indexdb.SQLiteIndex
	logger *log.Logger

	writes chan artifactWrite
	wg     sync.WaitGroup
	once   sync.Once

	written atomic.Uint64
	dropped atomic.Uint64
}

type sinkConfig struct {
	DataDir      string
	RunID        string
	Seed         uint64
	TuningDigest string
	// QueueSize should cover the whole range so a burst of installs never drops.
	QueueSize int
	// SkipArtifacts disables artifact files; events and index rows still flow.
	SkipArtifacts bool

	Events *persistlog.EventLogger
	Index  *indexdb.SQLiteIndex
	Logger *log.Logger
}

func newPersistSink(cfg sinkConfig) *persistSink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	s := &persistSink{
		dataDir:      cfg.DataDir,
		runID:        cfg.RunID,
		seed:         cfg.Seed,
		tuningDigest: cfg.TuningDigest,
		events:       cfg.Events,
		idx:          cfg.Index,
		logger:       cfg.Logger,
	}
	if !cfg.SkipArtifacts {
		s.writes = make(chan artifactWrite, cfg.QueueSize)
		s.wg.Add(1)
		go s.writeLoop()
	}
	return s
}

func (s *persistSink) ChunkResolved(ev world.ChunkEvent) {
	c := ev.Coord
	if ev.Err != nil {
		s.writeEvent(persistlog.Event{
			Kind:  persistlog.EventFailed,
			Tick:  ev.Tick,
			Coord: &c,
			Error: ev.Err.Error(),
		})
		s.idx.RecordChunk(indexdb.ChunkRow{
			RunID: s.runID,
			X:     c.X,
			Y:     c.Y,
			Z:     c.Z,
			State: scheduler.Failed.String(),
			Tick:  ev.Tick,
			Error: ev.Err.Error(),
		})
		return
	}

	a := ev.Artifact
	path := snapshot.ArtifactPath(s.dataDir, c)
	hdr := snapshot.NewHeader(a, s.seed, s.tuningDigest)
	if !ev.Cached && s.writes != nil {
		select {
		case s.writes <- artifactWrite{path: path, hdr: hdr, a: a}:
		default:
			s.dropped.Add(1)
			s.logf("artifact queue full; dropped %s", c)
		}
	}

	durMs := float64(a.Stats.Total.Microseconds()) / 1000
	s.writeEvent(persistlog.Event{
		Kind:       persistlog.EventInstalled,
		Tick:       ev.Tick,
		Coord:      &c,
		Digest:     hdr.Digest,
		Vertices:   hdr.Vertices,
		Triangles:  hdr.Triangles,
		Cached:     ev.Cached,
		DurationMs: durMs,
	})
	s.idx.RecordChunk(indexdb.ChunkRow{
		RunID:        s.runID,
		X:            c.X,
		Y:            c.Y,
		Z:            c.Z,
		State:        scheduler.Installed.String(),
		Tick:         ev.Tick,
		Digest:       hdr.Digest,
		Vertices:     hdr.Vertices,
		Triangles:    hdr.Triangles,
		Cached:       ev.Cached,
		DurationMs:   durMs,
		ArtifactPath: path,
	})
}

func (s *persistSink) GenerationDone(tick uint64, p scheduler.Progress) {
	s.writeEvent(persistlog.Event{
		Kind:       persistlog.EventDone,
		Tick:       tick,
		DurationMs: float64(p.Elapsed.Microseconds()) / 1000,
	})
	s.idx.FinishRun(indexdb.RunSummary{
		RunID:     s.runID,
		Installed: p.Installed,
		Failed:    p.Failed,
		Cached:    p.Cached,
		Elapsed:   p.Elapsed,
	})
}

// Close drains pending artifact writes. It must only be called after the
// world loop has stopped.
func (s *persistSink) Close() {
	s.once.Do(func() {
		if s.writes != nil {
			close(s.writes)
		}
		s.wg.Wait()
	})
}

func (s *persistSink) writeLoop() {
	defer s.wg.Done()
	for w := range s.writes {
		if err := snapshot.WriteArtifact(w.path, w.hdr, w.a); err != nil {
			s.logf("artifact write %s: %v", w.path, err)
			continue
		}
		s.written.Add(1)
	}
}

func (s *persistSink) writeEvent(e persistlog.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.WriteEvent(e); err != nil {
		s.logf("event log: %v", err)
	}
}

func (s *persistSink) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
