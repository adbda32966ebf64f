package world

import (
	"encoding/json"
	"strconv"

	"subair/internal/observerproto"
	"subair/internal/sim/encoding"
	"subair/internal/sim/scheduler"
	"subair/internal/terrain/chunk"
)

type ObserverJoinRequest struct {
	SessionID string
	// TickOut carries PROGRESS messages; only the latest matters.
	TickOut chan []byte
	// DataOut carries CHUNK and CHUNK_FAILED messages in install order.
	DataOut chan []byte

	MaxChunks   int
	SkipNormals bool
}

type observerClient struct {
	id      string
	tickOut chan []byte
	dataOut chan []byte

	maxChunks   int
	skipNormals bool

	// Positions in w.order and w.failures already sent.
	cursor     int
	failCursor int
}

type encodedChunk struct {
	full []byte
	lean []byte
}

func clampInt(v, min, max, def int) int {
	if v == 0 {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.TickOut == nil || req.DataOut == nil {
		return
	}
	if old := w.observers[req.SessionID]; old != nil {
		close(old.tickOut)
		close(old.dataOut)
	}
	c := &observerClient{
		id:          req.SessionID,
		tickOut:     req.TickOut,
		dataOut:     req.DataOut,
		maxChunks:   clampInt(req.MaxChunks, 1, 1<<20, 1<<20),
		skipNormals: req.SkipNormals,
	}
	w.observers[req.SessionID] = c
	// Replay what is already installed right away.
	w.flushObserver(c)
}

func (w *World) handleObserverLeave(id string) {
	c := w.observers[id]
	if c == nil {
		return
	}
	delete(w.observers, id)
	close(c.tickOut)
	close(c.dataOut)
}

func (w *World) closeObservers() {
	for id := range w.observers {
		w.handleObserverLeave(id)
	}
}

func (w *World) stepObservers(nowTick uint64, p scheduler.Progress) {
	if len(w.observers) == 0 {
		return
	}
	b, _ := json.Marshal(progressMsg(nowTick, p))
	for _, c := range w.observers {
		w.flushObserver(c)
		sendLatest(c.tickOut, b)
	}
}

// flushObserver sends pending chunk messages until the client's buffer is
// full or its chunk budget is spent. The rest goes out on later ticks.
func (w *World) flushObserver(c *observerClient) {
	for c.cursor < len(w.order) && c.cursor < c.maxChunks {
		b := w.chunkMessage(w.order[c.cursor], c.skipNormals)
		select {
		case c.dataOut <- b:
			c.cursor++
		default:
			return
		}
	}
	for c.failCursor < len(w.failures) {
		f := w.failures[c.failCursor]
		b, _ := json.Marshal(observerproto.ChunkFailedMsg{
			Type:            observerproto.TypeChunkFailed,
			ProtocolVersion: observerproto.Version,
			Tick:            f.tick,
			Coord:           [3]int{f.coord.X, f.coord.Y, f.coord.Z},
			Error:           f.err.Error(),
		})
		select {
		case c.dataOut <- b:
			c.failCursor++
		default:
			return
		}
	}
}

func (w *World) chunkMessage(ic installedChunk, skipNormals bool) []byte {
	e := w.encoded[ic.coord]
	if e == nil {
		a, _ := w.Chunk(ic.coord)
		e = &encodedChunk{}
		msg := ChunkMessage(ic.tick, a)
		e.full, _ = json.Marshal(msg)
		msg.Normals = ""
		e.lean, _ = json.Marshal(msg)
		w.encoded[ic.coord] = e
	}
	if skipNormals {
		return e.lean
	}
	return e.full
}

// ChunkMessage builds the CHUNK message for an installed artifact.
func ChunkMessage(tick uint64, a *chunk.Artifact) observerproto.ChunkMsg {
	return observerproto.ChunkMsg{
		Type:            observerproto.TypeChunk,
		ProtocolVersion: observerproto.Version,
		Tick:            tick,
		Coord:           [3]int{a.Coord.X, a.Coord.Y, a.Coord.Z},
		Offset:          a.Offset,
		Digest:          a.Digest(),
		Vertices:        len(a.Mesh.Positions),
		Triangles:       a.Mesh.TriangleCount(),
		Encoding:        observerproto.MeshEncoding,
		Positions:       encoding.EncodeVec3s(a.Mesh.Positions),
		Normals:         encoding.EncodeVec3s(a.Mesh.Normals),
		Indices:         encoding.EncodeIndices(a.Mesh.Indices),
	}
}

func progressMsg(tick uint64, p scheduler.Progress) observerproto.ProgressMsg {
	return observerproto.ProgressMsg{
		Type:            observerproto.TypeProgress,
		ProtocolVersion: observerproto.Version,
		Tick:            tick,
		Total:           p.Total,
		Pending:         p.Pending,
		Installed:       p.Installed,
		Failed:          p.Failed,
		Cached:          p.Cached,
		ElapsedMs:       float64(p.Elapsed.Microseconds()) / 1000.0,
		Done:            p.Done,
	}
}

// Bootstrap describes the world for observer clients. Safe from any goroutine.
func (w *World) Bootstrap() observerproto.BootstrapResponse {
	m := w.Metrics()
	r := w.cfg.Range
	return observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		WorldID:         w.cfg.ID,
		Tick:            w.CurrentTick(),
		WorldParams: observerproto.WorldParams{
			TickRateHz:   w.cfg.TickRateHz,
			ChunkSize:    w.cfg.Params.Size,
			Span:         w.cfg.Span,
			Seed:         strconv.FormatUint(w.cfg.Seed, 10),
			RangeMin:     [3]int{r.Min.X, r.Min.Y, r.Min.Z},
			RangeMax:     [3]int{r.Max.X, r.Max.Y, r.Max.Z},
			Isovalue:     w.cfg.Params.Iso,
			TuningDigest: w.cfg.TuningDigest,
		},
		Progress: observerproto.ProgressMsg{
			Type:            observerproto.TypeProgress,
			ProtocolVersion: observerproto.Version,
			Tick:            m.Tick,
			Total:           m.Total,
			Pending:         m.Pending,
			Installed:       m.Installed,
			Failed:          m.Failed,
			Cached:          m.Cached,
			ElapsedMs:       m.ElapsedMS,
			Done:            m.Done,
		},
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
