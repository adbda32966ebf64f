package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"subair/internal/persistence/indexdb"
	persistlog "subair/internal/persistence/log"
	"subair/internal/persistence/snapshot"
	"subair/internal/sim/tuning"
	"subair/internal/sim/world"
	"subair/internal/terrain/chunk"
	"subair/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "terrain", "world id")
		tuningPath = flag.String("tuning", "./configs/terrain.yaml", "path to terrain.yaml (empty: built-in defaults)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		seed       = flag.String("seed", "", "noise seed as a uint64 (empty: use the tuning file)")
		workers    = flag.Int("workers", 0, "generation workers (0: tuning file, then NumCPU)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite chunk index")
		noEvents   = flag.Bool("disable_events", false, "disable the generation event log")
		noWrite    = flag.Bool("disable_artifacts", false, "do not write chunk artifact files")
		loadCached = flag.Bool("load_cached", false, "reuse artifact files generated with the same seed and tuning")
		allowObs   = flag.Bool("allow_remote_observers", false, "serve the observer stream to non-loopback clients")
		debug      = flag.Bool("debug", false, "log per-chunk stage timings")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if v, ok, err := parseSeedFlag(*seed); err != nil {
		logger.Fatalf("-seed: %v", err)
	} else if ok {
		tune.Seed = v
	}
	if *workers > 0 {
		tune.Workers = *workers
	}
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}
	digest := tune.Digest()
	rng := tune.ChunkRange()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	started := time.Now()
	runID := fmt.Sprintf("%s-%s", *worldID, started.UTC().Format("20060102T150405.000Z"))

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "terrain.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		tuneJSON, _ := json.Marshal(tune)
		if err := idx.BeginRun(indexdb.Run{
			RunID:        runID,
			StartedAt:    started,
			Seed:         tune.Seed,
			TuningDigest: digest,
			TuningJSON:   string(tuneJSON),
			Total:        rng.Count(),
		}); err != nil {
			logger.Printf("index: begin run: %v", err)
		}
	}

	var events *persistlog.EventLogger
	if !*noEvents {
		events = persistlog.NewEventLogger(*dataDir)
		defer events.Close()
	}

	var sinks []world.Sink
	sink := newPersistSink(sinkConfig{
		DataDir:       *dataDir,
		RunID:         runID,
		Seed:          tune.Seed,
		TuningDigest:  digest,
		QueueSize:     rng.Count(),
		SkipArtifacts: *noWrite,
		Events:        events,
		Index:         idx,
		Logger:        logger,
	})
	sinks = append(sinks, sink)

	cfg := world.WorldConfig{
		ID:           *worldID,
		Seed:         tune.Seed,
		TickRateHz:   tune.TickRateHz,
		Workers:      tune.Workers,
		Span:         tune.Chunk.Span,
		Range:        rng,
		Params:       tune.ChunkParams(),
		TuningDigest: digest,
		Debug:        *debug,
	}
	if *loadCached {
		cfg.Load = func(c chunk.Coord) (chunk.Artifact, bool) {
			a, ok, err := snapshot.LoadCached(*dataDir, c, tune.Seed, digest)
			if err != nil {
				logger.Printf("cached artifact %s: %v", c, err)
				return chunk.Artifact{}, false
			}
			return a, ok
		}
	}
	w := world.New(cfg, log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds), sinks...)

	obsSrv := observer.NewServer(w, log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds))
	obsSrv.AllowRemote = *allowObs

	enableAdminHTTP := envBool("SUBAIR_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("SUBAIR_ENABLE_PPROF_HTTP", false)
	if !enableAdminHTTP {
		logger.Printf("admin endpoints disabled (SUBAIR_ENABLE_ADMIN_HTTP=false)")
	}
	if !enablePprofHTTP {
		logger.Printf("pprof endpoints disabled (SUBAIR_ENABLE_PPROF_HTTP=false)")
	}
	mux := newMux(muxDeps{
		World:       w,
		Observer:    obsSrv,
		Index:       idx,
		Sink:        sink,
		RunID:       runID,
		EnableAdmin: enableAdminHTTP,
		EnablePprof: enablePprofHTTP,
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := w.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logger.Printf("listening on %s (run=%s seed=%d chunks=%d)", *addr, runID, tune.Seed, rng.Count())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ListenAndServe: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		w.Stop()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})

	err = g.Wait()
	w.Close()
	sink.Close()
	if err != nil {
		logger.Printf("stopped: %v", err)
	}
	logger.Printf("shutdown complete")
}

// parseSeedFlag reports ok=false for an empty flag. Any uint64, zero
// included, is a valid seed.
func parseSeedFlag(s string) (uint64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
