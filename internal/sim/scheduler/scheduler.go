// Package scheduler builds terrain chunks on a worker pool and hands finished
// chunks to a single consumer goroutine.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/alitto/pond/v2"

	"subair/internal/terrain/chunk"
)

type State uint8

const (
	Pending State = iota + 1
	Installed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Installed:
		return "installed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type Config struct {
	Workers int
	Seed    uint64
	Span    int
	Params  chunk.Params

	// Load is tried before generating. A false return falls through to
	// generation.
	Load func(c chunk.Coord) (chunk.Artifact, bool)
	// Generate replaces chunk.Generate when set.
	Generate func(c chunk.Coord) (chunk.Artifact, error)
}

// Record is the registry entry of one coordinate. Err is set for failed chunks.
type Record struct {
	State State
	Err   error
}

type Progress struct {
	Total     int           `json:"total"`
	Pending   int           `json:"pending"`
	Installed int           `json:"installed"`
	Failed    int           `json:"failed"`
	Cached    int           `json:"cached"`
	Started   time.Time     `json:"started"`
	Elapsed   time.Duration `json:"elapsed"`
	Done      bool          `json:"done"`
}

// Scheduler is not safe for concurrent use. Submit and Poll belong to the
// consumer goroutine; only the job bodies run on pool workers.
type Scheduler struct {
	cfg  Config
	pool pond.ResultPool[product]

	entries map[chunk.Coord]*Record
	pending []*Job

	installed int
	failed    int
	cached    int
	started   time.Time
	finished  time.Time
}

func New(cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	s := &Scheduler{
		cfg:     cfg,
		pool:    pond.NewResultPool[product](cfg.Workers),
		entries: map[chunk.Coord]*Record{},
	}
	if s.cfg.Generate == nil {
		s.cfg.Generate = func(c chunk.Coord) (chunk.Artifact, error) {
			return chunk.Generate(cfg.Seed, c, c.Offset(cfg.Span), cfg.Params)
		}
	}
	return s
}

func (s *Scheduler) Workers() int { return s.cfg.Workers }

// SubmitRange queues one job per coordinate of r that has no record yet.
// Jobs still queued when ctx is cancelled resolve as failed without running.
func (s *Scheduler) SubmitRange(ctx context.Context, r chunk.Range) []*Job {
	coords := r.Coords()
	jobs := make([]*Job, 0, len(coords))
	for _, c := range coords {
		if j := s.Submit(ctx, c); j != nil {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// Submit queues one coordinate. It returns nil when the coordinate is already
// pending or resolved.
func (s *Scheduler) Submit(ctx context.Context, c chunk.Coord) *Job {
	if _, ok := s.entries[c]; ok {
		return nil
	}
	if s.started.IsZero() {
		s.started = time.Now()
	}
	s.finished = time.Time{}

	load, generate := s.cfg.Load, s.cfg.Generate
	run := func() (p product, err error) {
		if err := ctx.Err(); err != nil {
			return product{}, err
		}
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("chunk %s: panic: %v", c, r)
			}
		}()
		if load != nil {
			if a, ok := load(c); ok {
				return product{artifact: a, cached: true}, nil
			}
		}
		a, err := generate(c)
		if err != nil {
			return product{}, err
		}
		return product{artifact: a}, nil
	}

	j := &Job{coord: c, result: s.pool.SubmitErr(run)}
	s.entries[c] = &Record{State: Pending}
	s.pending = append(s.pending, j)
	return j
}

// Poll visits every pending job once without blocking. Finished jobs are
// resolved, passed to install and dropped from the pending list. It returns
// the number of jobs resolved.
func (s *Scheduler) Poll(install func(Outcome)) int {
	if len(s.pending) == 0 {
		return 0
	}
	n := 0
	kept := s.pending[:0]
	for _, j := range s.pending {
		out, ok := j.TryReceive()
		if !ok {
			kept = append(kept, j)
			continue
		}
		n++
		e := s.entries[out.Coord]
		if out.Err != nil {
			e.State, e.Err = Failed, out.Err
			s.failed++
		} else {
			e.State = Installed
			s.installed++
			if out.Cached {
				s.cached++
			}
		}
		if install != nil {
			install(out)
		}
	}
	for i := len(kept); i < len(s.pending); i++ {
		s.pending[i] = nil
	}
	s.pending = kept
	if len(s.pending) == 0 && n > 0 {
		s.finished = time.Now()
	}
	return n
}

func (s *Scheduler) Lookup(c chunk.Coord) (Record, bool) {
	e, ok := s.entries[c]
	if !ok {
		return Record{}, false
	}
	return *e, true
}

func (s *Scheduler) Progress() Progress {
	p := Progress{
		Total:     len(s.entries),
		Pending:   len(s.pending),
		Installed: s.installed,
		Failed:    s.failed,
		Cached:    s.cached,
		Started:   s.started,
		Done:      len(s.entries) > 0 && len(s.pending) == 0,
	}
	switch {
	case s.started.IsZero():
	case !s.finished.IsZero():
		p.Elapsed = s.finished.Sub(s.started)
	default:
		p.Elapsed = time.Since(s.started)
	}
	return p
}

// Close waits for running and queued jobs to finish.
func (s *Scheduler) Close() {
	s.pool.StopAndWait()
}
