package world

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"subair/internal/observerproto"
	"subair/internal/sim/encoding"
	"subair/internal/sim/scheduler"
	"subair/internal/terrain/chunk"
)

type recordingSink struct {
	events []ChunkEvent
	done   int
	last   scheduler.Progress
}

func (s *recordingSink) ChunkResolved(ev ChunkEvent) { s.events = append(s.events, ev) }
func (s *recordingSink) GenerationDone(_ uint64, p scheduler.Progress) {
	s.done++
	s.last = p
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func smallConfig() WorldConfig {
	p := chunk.DefaultParams()
	p.Size = 8
	p.Noise.Frequency = 0.2
	return WorldConfig{
		ID:      "test",
		Seed:    5,
		Workers: 2,
		Params:  p,
		Range:   chunk.Range{Max: chunk.Coord{X: 2, Y: 2, Z: 1}},
	}
}

func stepUntil(t *testing.T, w *World, cond func(WorldMetrics) bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond(w.Metrics()) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out: %+v", w.Metrics())
		}
		w.StepOnce()
		time.Sleep(time.Millisecond)
	}
}

func TestWorld_InstallsEveryChunkOnce(t *testing.T) {
	sink := &recordingSink{}
	w := New(smallConfig(), quietLogger(), sink)
	defer w.Close()

	stepUntil(t, w, func(m WorldMetrics) bool { return m.Done })
	w.StepOnce()

	m := w.Metrics()
	if m.Total != 4 || m.Installed != 4 || m.Failed != 0 || m.Pending != 0 {
		t.Fatalf("metrics=%+v", m)
	}
	if len(sink.events) != 4 || sink.done != 1 {
		t.Fatalf("events=%d done=%d", len(sink.events), sink.done)
	}
	seen := map[chunk.Coord]bool{}
	vertices := 0
	for _, ev := range sink.events {
		if ev.Err != nil || ev.Artifact == nil {
			t.Fatalf("event %+v", ev)
		}
		if seen[ev.Coord] {
			t.Fatalf("coord %s resolved twice", ev.Coord)
		}
		seen[ev.Coord] = true
		vertices += len(ev.Artifact.Mesh.Positions)
		if err := ev.Artifact.Mesh.Validate(); err != nil {
			t.Fatalf("%s: %v", ev.Coord, err)
		}
	}
	if m.Vertices != vertices {
		t.Fatalf("metrics vertices=%d want %d", m.Vertices, vertices)
	}
	if len(w.InstalledCoords()) != 4 {
		t.Fatalf("installed coords=%v", w.InstalledCoords())
	}
}

func TestWorld_ChunkAt(t *testing.T) {
	w := New(smallConfig(), quietLogger())
	defer w.Close()
	stepUntil(t, w, func(m WorldMetrics) bool { return m.Done })

	// span defaults to size-1 = 7
	a, ok := w.ChunkAt(mgl32.Vec3{8, 0.5, 3})
	if !ok || a.Coord != (chunk.Coord{X: 1, Y: 0, Z: 0}) {
		t.Fatalf("ChunkAt=%v,%v", a, ok)
	}
	if a.Offset != (mgl32.Vec3{7, 0, 0}) {
		t.Fatalf("offset=%v", a.Offset)
	}
	if _, ok := w.ChunkAt(mgl32.Vec3{-1, 0, 0}); ok {
		t.Fatalf("point outside the range resolved to a chunk")
	}
}

func TestWorld_FailedChunkIsRecorded(t *testing.T) {
	cfg := smallConfig()
	bad := chunk.Coord{X: 1, Y: 1}
	cfg.Generate = func(c chunk.Coord) (chunk.Artifact, error) {
		if c == bad {
			return chunk.Artifact{}, errors.New("boom")
		}
		return chunk.Generate(cfg.Seed, c, c.Offset(7), cfg.Params)
	}
	sink := &recordingSink{}
	w := New(cfg, quietLogger(), sink)
	defer w.Close()

	stepUntil(t, w, func(m WorldMetrics) bool { return m.Done })
	m := w.Metrics()
	if m.Installed != 3 || m.Failed != 1 {
		t.Fatalf("metrics=%+v", m)
	}
	if _, ok := w.Chunk(bad); ok {
		t.Fatalf("failed chunk was installed")
	}
	var failed int
	for _, ev := range sink.events {
		if ev.Err != nil {
			failed++
			if ev.Coord != bad || ev.Artifact != nil {
				t.Fatalf("failure event %+v", ev)
			}
		}
	}
	if failed != 1 || sink.last.Failed != 1 {
		t.Fatalf("failed events=%d progress=%+v", failed, sink.last)
	}
}

type gate struct{ chans map[chunk.Coord]chan struct{} }

func TestWorld_ObserverReplayThenStream(t *testing.T) {
	cfg := smallConfig()
	// every job blocks on its own gate, so each needs its own worker
	cfg.Workers = cfg.Range.Count()
	g := gate{chans: map[chunk.Coord]chan struct{}{}}
	for _, c := range cfg.Range.Coords() {
		g.chans[c] = make(chan struct{})
	}
	bad := chunk.Coord{X: 0, Y: 1}
	cfg.Generate = func(c chunk.Coord) (chunk.Artifact, error) {
		<-g.chans[c]
		if c == bad {
			return chunk.Artifact{}, errors.New("boom")
		}
		return chunk.Generate(cfg.Seed, c, c.Offset(7), cfg.Params)
	}
	w := New(cfg, quietLogger())
	opened := map[chunk.Coord]bool{}
	open := func(c chunk.Coord) {
		if !opened[c] {
			opened[c] = true
			close(g.chans[c])
		}
	}
	t.Cleanup(func() {
		for c := range g.chans {
			open(c)
		}
		w.Close()
	})

	first := chunk.Coord{X: 1, Y: 0}
	open(first)
	stepUntil(t, w, func(m WorldMetrics) bool { return m.Installed == 1 })

	tickOut := make(chan []byte, 1)
	dataOut := make(chan []byte, 16)
	w.ObserverJoin() <- ObserverJoinRequest{SessionID: "O1", TickOut: tickOut, DataOut: dataOut}
	w.StepOnce()

	msg := readChunk(t, dataOut)
	if msg.Coord != [3]int{1, 0, 0} {
		t.Fatalf("replayed coord=%v", msg.Coord)
	}
	a, _ := w.Chunk(first)
	pos, err := encoding.DecodeVec3s(msg.Positions)
	if err != nil || len(pos) != len(a.Mesh.Positions) {
		t.Fatalf("positions decode: %v (%d vs %d)", err, len(pos), len(a.Mesh.Positions))
	}
	idx, err := encoding.DecodeIndices(msg.Indices)
	if err != nil || len(idx) != len(a.Mesh.Indices) {
		t.Fatalf("indices decode: %v", err)
	}
	if msg.Digest != a.Digest() || msg.Normals == "" {
		t.Fatalf("chunk message mismatch")
	}

	var prog observerproto.ProgressMsg
	if err := json.Unmarshal(<-tickOut, &prog); err != nil || prog.Type != observerproto.TypeProgress {
		t.Fatalf("progress=%+v err=%v", prog, err)
	}
	if prog.Installed != 1 || prog.Total != 4 {
		t.Fatalf("progress=%+v", prog)
	}

	for c := range g.chans {
		open(c)
	}
	stepUntil(t, w, func(m WorldMetrics) bool { return m.Done })
	w.StepOnce()

	got := map[[3]int]string{msg.Coord: msg.Type}
	for len(got) < 4 {
		select {
		case b := <-dataOut:
			var m struct {
				Type  string `json:"type"`
				Coord [3]int `json:"coord"`
			}
			if err := json.Unmarshal(b, &m); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if _, dup := got[m.Coord]; dup {
				t.Fatalf("coord %v streamed twice", m.Coord)
			}
			got[m.Coord] = m.Type
		default:
			t.Fatalf("only %d chunks streamed", len(got))
		}
	}
	for c, typ := range got {
		want := observerproto.TypeChunk
		if c == [3]int{bad.X, bad.Y, bad.Z} {
			want = observerproto.TypeChunkFailed
		}
		if typ != want {
			t.Fatalf("coord %v: type %s want %s", c, typ, want)
		}
	}
	if m := w.Metrics(); m.Installed != 3 || m.Failed != 1 {
		t.Fatalf("metrics=%+v", m)
	}

	w.ObserverLeave() <- "O1"
	w.StepOnce()
	if _, ok := <-dataOut; ok {
		t.Fatalf("data channel not closed after leave")
	}
	if w.Metrics().Observers != 0 {
		t.Fatalf("observer still registered")
	}
}

func TestWorld_ObserverLimits(t *testing.T) {
	w := New(smallConfig(), quietLogger())
	defer w.Close()
	stepUntil(t, w, func(m WorldMetrics) bool { return m.Done })

	tickOut := make(chan []byte, 1)
	dataOut := make(chan []byte, 16)
	w.ObserverJoin() <- ObserverJoinRequest{SessionID: "O2", TickOut: tickOut, DataOut: dataOut, MaxChunks: 2, SkipNormals: true}
	w.StepOnce()
	w.StepOnce()

	if len(dataOut) != 2 {
		t.Fatalf("sent %d chunks want 2", len(dataOut))
	}
	m := readChunk(t, dataOut)
	if m.Normals != "" {
		t.Fatalf("normals sent despite skip_normals")
	}
}

func TestWorld_RunStopsOnCancel(t *testing.T) {
	cfg := smallConfig()
	cfg.TickRateHz = 200
	w := New(cfg, quietLogger())
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	deadline := time.Now().Add(10 * time.Second)
	for !w.Metrics().Done {
		if time.Now().After(deadline) {
			t.Fatalf("generation did not finish: %+v", w.Metrics())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
	}
}

func readChunk(t *testing.T, ch chan []byte) observerproto.ChunkMsg {
	t.Helper()
	select {
	case b := <-ch:
		var m observerproto.ChunkMsg
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("decode chunk: %v", err)
		}
		if m.Type != observerproto.TypeChunk {
			t.Fatalf("type=%q", m.Type)
		}
		return m
	default:
		t.Fatalf("no chunk message")
	}
	return observerproto.ChunkMsg{}
}
