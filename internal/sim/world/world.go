// Package world owns the live terrain: it schedules chunk generation, installs
// finished chunks on a single tick loop goroutine and streams them to
// observers.
package world

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"subair/internal/sim/scheduler"
	"subair/internal/terrain/chunk"
)

type World struct {
	cfg   WorldConfig
	log   *log.Logger
	sinks []Sink

	sched   *scheduler.Scheduler
	started bool
	done    bool
	tick    atomic.Uint64

	// Install order; observers stream from a cursor into it.
	order     []installedChunk
	failures  []failedChunk
	vertices  int
	triangles int
	lastPct   int

	// installed is written only by the world goroutine; the lock covers
	// readers on other goroutines.
	mu        sync.RWMutex
	installed map[chunk.Coord]*chunk.Artifact

	observers     map[string]*observerClient
	encoded       map[chunk.Coord]*encodedChunk
	observerJoin  chan ObserverJoinRequest
	observerLeave chan string
	stop          chan struct{}
	stopOnce      sync.Once

	metrics atomic.Value
}

type installedChunk struct {
	tick  uint64
	coord chunk.Coord
}

type failedChunk struct {
	tick  uint64
	coord chunk.Coord
	err   error
}

func New(cfg WorldConfig, logger *log.Logger, sinks ...Sink) *World {
	cfg.normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[world] ", log.LstdFlags|log.Lmicroseconds)
	}
	w := &World{
		cfg:   cfg,
		log:   logger,
		sinks: sinks,
		sched: scheduler.New(scheduler.Config{
			Workers:  cfg.Workers,
			Seed:     cfg.Seed,
			Span:     cfg.Span,
			Params:   cfg.Params,
			Load:     cfg.Load,
			Generate: cfg.Generate,
		}),
		installed:     map[chunk.Coord]*chunk.Artifact{},
		observers:     map[string]*observerClient{},
		encoded:       map[chunk.Coord]*encodedChunk{},
		observerJoin:  make(chan ObserverJoinRequest, 32),
		observerLeave: make(chan string, 32),
		stop:          make(chan struct{}),
	}
	w.metrics.Store(WorldMetrics{Workers: w.sched.Workers()})
	return w
}

func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) ObserverJoin() chan<- ObserverJoinRequest { return w.observerJoin }
func (w *World) ObserverLeave() chan<- string             { return w.observerLeave }

// Start submits a generation job for every coordinate of the configured
// range. It must be called from the goroutine that steps the world; Run calls
// it on entry.
func (w *World) Start(ctx context.Context) {
	if w.started {
		return
	}
	w.started = true
	jobs := w.sched.SubmitRange(ctx, w.cfg.Range)
	w.log.Printf("world %s: queued %d chunks on %d workers (seed=%d size=%d span=%d)",
		w.cfg.ID, len(jobs), w.sched.Workers(), w.cfg.Seed, w.cfg.Params.Size, w.cfg.Span)
}

func (w *World) Run(ctx context.Context) error {
	w.Start(ctx)
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.closeObservers()
			return ctx.Err()
		case <-w.stop:
			w.closeObservers()
			return nil
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case <-ticker.C:
			w.step()
		}
	}
}

// StepOnce applies queued observer joins and leaves and advances one tick.
// It is the test entry point; do not mix it with Run.
func (w *World) StepOnce() uint64 {
	if !w.started {
		w.Start(context.Background())
	}
drain:
	for {
		select {
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		default:
			break drain
		}
	}
	w.step()
	return w.tick.Load()
}

// Stop makes Run return.
func (w *World) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Close waits for the generation pool to drain. Call it after Run returns.
func (w *World) Close() {
	w.sched.Close()
}

func (w *World) step() {
	start := time.Now()
	nowTick := w.tick.Add(1)

	w.sched.Poll(func(o scheduler.Outcome) { w.resolve(nowTick, o) })

	p := w.sched.Progress()
	if p.Done && !w.done {
		w.done = true
		w.log.Printf("world generation done in %d ms (installed=%d failed=%d cached=%d vertices=%d triangles=%d)",
			p.Elapsed.Milliseconds(), p.Installed, p.Failed, p.Cached, w.vertices, w.triangles)
		for _, s := range w.sinks {
			s.GenerationDone(nowTick, p)
		}
	} else if p.Total > 0 && !w.done {
		if pct := (p.Installed + p.Failed) * 100 / p.Total; pct/10 > w.lastPct/10 {
			w.lastPct = pct
			w.log.Printf("generation %d%%: %d chunks remaining", pct, p.Pending)
		}
	}

	w.stepObservers(nowTick, p)

	w.metrics.Store(WorldMetrics{
		Tick:      nowTick,
		Total:     p.Total,
		Pending:   p.Pending,
		Installed: p.Installed,
		Failed:    p.Failed,
		Cached:    p.Cached,
		Done:      p.Done,
		Vertices:  w.vertices,
		Triangles: w.triangles,
		Observers: len(w.observers),
		Workers:   w.sched.Workers(),
		ElapsedMS: float64(p.Elapsed.Microseconds()) / 1000.0,
		StepMS:    float64(time.Since(start).Microseconds()) / 1000.0,
	})
}

func (w *World) resolve(nowTick uint64, o scheduler.Outcome) {
	ev := ChunkEvent{Tick: nowTick, Coord: o.Coord, Cached: o.Cached, Err: o.Err}
	if o.Err != nil {
		w.log.Printf("chunk %s failed: %v", o.Coord, o.Err)
		w.failures = append(w.failures, failedChunk{tick: nowTick, coord: o.Coord, err: o.Err})
	} else {
		a := o.Artifact
		w.install(&a)
		ev.Artifact = &a
		if w.cfg.Debug {
			st := a.Stats
			w.log.Printf("chunk %s: extract=%s tree=%s dedup=%s (removed %.1f%% of %d) normals=%s cached=%v",
				o.Coord, st.Extract, st.TreeBuild, st.Dedup, st.RemovedPercent(), st.Candidates, st.Normals, o.Cached)
		}
	}
	for _, s := range w.sinks {
		s.ChunkResolved(ev)
	}
}

func (w *World) install(a *chunk.Artifact) {
	w.mu.Lock()
	w.installed[a.Coord] = a
	w.mu.Unlock()
	w.order = append(w.order, installedChunk{tick: w.tick.Load(), coord: a.Coord})
	w.vertices += len(a.Mesh.Positions)
	w.triangles += a.Mesh.TriangleCount()
}

// Chunk returns the installed chunk at c. Safe from any goroutine.
func (w *World) Chunk(c chunk.Coord) (*chunk.Artifact, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	a, ok := w.installed[c]
	return a, ok
}

// ChunkAt returns the installed chunk covering the world point p.
func (w *World) ChunkAt(p mgl32.Vec3) (*chunk.Artifact, bool) {
	return w.Chunk(chunk.CoordAt(p, w.cfg.Span))
}

// InstalledCoords lists installed chunks. Safe from any goroutine.
func (w *World) InstalledCoords() []chunk.Coord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]chunk.Coord, 0, len(w.installed))
	for c := range w.installed {
		out = append(out, c)
	}
	return out
}
