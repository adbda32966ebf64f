package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"

	"subair/internal/persistence/indexdb"
	"subair/internal/sim/world"
	"subair/internal/transport/observer"
)

type muxDeps struct {
	World    *world.World
	Observer *observer.Server
	Index    *indexdb.SQLiteIndex
	Sink     *persistSink
	RunID    string

	EnableAdmin bool
	EnablePprof bool
}

func newMux(d muxDeps) *http.ServeMux {
	w := d.World
	worldID := w.Config().ID

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, worldID, w.Metrics(), d)
	})

	if d.EnableAdmin {
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				WorldID      string             `json:"world_id"`
				RunID        string             `json:"run_id"`
				Seed         string             `json:"seed"`
				TuningDigest string             `json:"tuning_digest"`
				Tick         uint64             `json:"tick"`
				Metrics      world.WorldMetrics `json:"metrics"`
				Index        indexdb.Stats      `json:"index"`
			}{
				WorldID:      worldID,
				RunID:        d.RunID,
				Seed:         strconv.FormatUint(w.Config().Seed, 10),
				TuningDigest: w.Config().TuningDigest,
				Tick:         w.CurrentTick(),
				Metrics:      w.Metrics(),
				Index:        d.Index.Stats(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
	}
	if d.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	if d.Observer != nil {
		mux.HandleFunc("/v1/observer/bootstrap", d.Observer.BootstrapHandler())
		mux.HandleFunc("/v1/observer/ws", d.Observer.WSHandler())
	}
	return mux
}

// writeMetrics emits the Prometheus text exposition format.
func writeMetrics(rw http.ResponseWriter, worldID string, m world.WorldMetrics, d muxDeps) {
	fmt.Fprintf(rw, "# HELP subair_world_tick Current world tick.\n")
	fmt.Fprintf(rw, "# TYPE subair_world_tick gauge\n")
	fmt.Fprintf(rw, "subair_world_tick{world=%q} %d\n", worldID, m.Tick)

	fmt.Fprintf(rw, "# HELP subair_chunks Chunk count by state.\n")
	fmt.Fprintf(rw, "# TYPE subair_chunks gauge\n")
	fmt.Fprintf(rw, "subair_chunks{world=%q,state=%q} %d\n", worldID, "pending", m.Pending)
	fmt.Fprintf(rw, "subair_chunks{world=%q,state=%q} %d\n", worldID, "installed", m.Installed)
	fmt.Fprintf(rw, "subair_chunks{world=%q,state=%q} %d\n", worldID, "failed", m.Failed)

	fmt.Fprintf(rw, "# HELP subair_chunks_total Chunks in the generation range.\n")
	fmt.Fprintf(rw, "# TYPE subair_chunks_total gauge\n")
	fmt.Fprintf(rw, "subair_chunks_total{world=%q} %d\n", worldID, m.Total)

	fmt.Fprintf(rw, "# HELP subair_chunks_cached Installed chunks loaded from artifact files.\n")
	fmt.Fprintf(rw, "# TYPE subair_chunks_cached gauge\n")
	fmt.Fprintf(rw, "subair_chunks_cached{world=%q} %d\n", worldID, m.Cached)

	fmt.Fprintf(rw, "# HELP subair_generation_done Whether every chunk has resolved.\n")
	fmt.Fprintf(rw, "# TYPE subair_generation_done gauge\n")
	fmt.Fprintf(rw, "subair_generation_done{world=%q} %d\n", worldID, boolInt(m.Done))

	fmt.Fprintf(rw, "# HELP subair_generation_elapsed_ms Generation wall time in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE subair_generation_elapsed_ms gauge\n")
	fmt.Fprintf(rw, "subair_generation_elapsed_ms{world=%q} %.3f\n", worldID, m.ElapsedMS)

	fmt.Fprintf(rw, "# HELP subair_mesh_vertices Vertices across installed chunks.\n")
	fmt.Fprintf(rw, "# TYPE subair_mesh_vertices gauge\n")
	fmt.Fprintf(rw, "subair_mesh_vertices{world=%q} %d\n", worldID, m.Vertices)

	fmt.Fprintf(rw, "# HELP subair_mesh_triangles Triangles across installed chunks.\n")
	fmt.Fprintf(rw, "# TYPE subair_mesh_triangles gauge\n")
	fmt.Fprintf(rw, "subair_mesh_triangles{world=%q} %d\n", worldID, m.Triangles)

	fmt.Fprintf(rw, "# HELP subair_world_observers Connected observers.\n")
	fmt.Fprintf(rw, "# TYPE subair_world_observers gauge\n")
	fmt.Fprintf(rw, "subair_world_observers{world=%q} %d\n", worldID, m.Observers)

	fmt.Fprintf(rw, "# HELP subair_world_workers Generation pool size.\n")
	fmt.Fprintf(rw, "# TYPE subair_world_workers gauge\n")
	fmt.Fprintf(rw, "subair_world_workers{world=%q} %d\n", worldID, m.Workers)

	fmt.Fprintf(rw, "# HELP subair_world_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE subair_world_step_ms gauge\n")
	fmt.Fprintf(rw, "subair_world_step_ms{world=%q} %.3f\n", worldID, m.StepMS)

	if d.Sink != nil {
		fmt.Fprintf(rw, "# HELP subair_artifacts_written_total Artifact files written.\n")
		fmt.Fprintf(rw, "# TYPE subair_artifacts_written_total counter\n")
		fmt.Fprintf(rw, "subair_artifacts_written_total %d\n", d.Sink.written.Load())

		fmt.Fprintf(rw, "# HELP subair_artifacts_dropped_total Artifact writes dropped on a full queue.\n")
		fmt.Fprintf(rw, "# TYPE subair_artifacts_dropped_total counter\n")
		fmt.Fprintf(rw, "subair_artifacts_dropped_total %d\n", d.Sink.dropped.Load())
	}

	if d.Index != nil {
		s := d.Index.Stats()
		fmt.Fprintf(rw, "# HELP subair_index_queue_depth Current index writer queue depth.\n")
		fmt.Fprintf(rw, "# TYPE subair_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "subair_index_queue_depth %d\n", s.QueueDepth)

		fmt.Fprintf(rw, "# HELP subair_index_dropped_total Index rows dropped on a full queue.\n")
		fmt.Fprintf(rw, "# TYPE subair_index_dropped_total counter\n")
		fmt.Fprintf(rw, "subair_index_dropped_total %d\n", s.Dropped)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
