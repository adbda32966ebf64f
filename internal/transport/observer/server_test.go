package observer

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"subair/internal/observerproto"
	"subair/internal/sim/world"
	"subair/internal/terrain/chunk"
)

func startWorld(t *testing.T) (*world.World, *httptest.Server) {
	t.Helper()
	p := chunk.DefaultParams()
	p.Size = 8
	p.Noise.Frequency = 0.2
	w := world.New(world.WorldConfig{
		ID:         "test",
		Seed:       3,
		TickRateHz: 100,
		Workers:    2,
		Params:     p,
		Range:      chunk.Range{Max: chunk.Coord{X: 2, Y: 1, Z: 2}},
	}, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	srv := NewServer(w, log.New(io.Discard, "", 0))
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/observer/bootstrap", srv.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", srv.WSHandler())
	hs := httptest.NewServer(mux)

	t.Cleanup(func() {
		hs.Close()
		cancel()
		<-done
		w.Close()
	})
	return w, hs
}

func dial(t *testing.T, hs *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBootstrap(t *testing.T) {
	_, hs := startWorld(t)
	resp, err := http.Get(hs.URL + "/v1/observer/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var b observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.ProtocolVersion != observerproto.Version || b.WorldID != "test" {
		t.Fatalf("bootstrap=%+v", b)
	}
	if b.WorldParams.Seed != "3" || b.WorldParams.ChunkSize != 8 || b.WorldParams.Span != 7 || b.WorldParams.RangeMax != [3]int{2, 1, 2} {
		t.Fatalf("world params=%+v", b.WorldParams)
	}

	post, err := http.Post(hs.URL+"/v1/observer/bootstrap", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST status=%d", post.StatusCode)
	}
}

func TestWS_StreamsEveryChunk(t *testing.T) {
	_, hs := startWorld(t)
	conn := dial(t, hs)

	sub := observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	chunks := map[[3]int]bool{}
	sawProgress := false
	_ = conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	for len(chunks) < 4 || !sawProgress {
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read (chunks=%d): %v", len(chunks), err)
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(b, &head); err != nil {
			t.Fatalf("decode: %v", err)
		}
		switch head.Type {
		case observerproto.TypeChunk:
			var m observerproto.ChunkMsg
			_ = json.Unmarshal(b, &m)
			if chunks[m.Coord] {
				t.Fatalf("chunk %v sent twice", m.Coord)
			}
			chunks[m.Coord] = true
			if m.Encoding != observerproto.MeshEncoding || m.Digest == "" {
				t.Fatalf("chunk=%+v", m)
			}
		case observerproto.TypeProgress:
			var p observerproto.ProgressMsg
			_ = json.Unmarshal(b, &p)
			if p.Total != 4 {
				t.Fatalf("progress=%+v", p)
			}
			sawProgress = true
		default:
			t.Fatalf("unexpected message %s", b)
		}
	}
}

func TestWS_RejectsBadSubscribe(t *testing.T) {
	_, hs := startWorld(t)
	conn := dial(t, hs)

	if err := conn.WriteJSON(map[string]string{"type": "HELLO"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v want policy violation close", err)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:1234": true,
		"[::1]:80":       true,
		"10.0.0.2:5555":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}

type busyWorld struct {
	join  chan world.ObserverJoinRequest
	leave chan string
}

func (b *busyWorld) Bootstrap() observerproto.BootstrapResponse { return observerproto.BootstrapResponse{} }
func (b *busyWorld) ObserverJoin() chan<- world.ObserverJoinRequest { return b.join }
func (b *busyWorld) ObserverLeave() chan<- string { return b.leave }

func TestLeave_WaitsForSlowWorld(t *testing.T) {
	bw := &busyWorld{leave: make(chan string)}
	srv := NewServer(bw, log.New(io.Discard, "", 0))

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.leave("O7")
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case sid := <-bw.leave:
		if sid != "O7" {
			t.Fatalf("sid=%q", sid)
		}
	case <-time.After(time.Second):
		t.Fatalf("leave was dropped")
	}
	<-done
}

func TestLeave_GivesUpWhenWorldStopped(t *testing.T) {
	bw := &busyWorld{leave: make(chan string)}
	srv := NewServer(bw, log.New(io.Discard, "", 0))
	srv.leaveTimeout = 20 * time.Millisecond

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.leave("O8")
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("leave blocked past its timeout")
	}
}
