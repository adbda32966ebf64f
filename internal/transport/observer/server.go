// Package observer serves the terrain observer stream over HTTP and websocket.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"subair/internal/observerproto"
	"subair/internal/sim/world"
)

// World is the part of *world.World the observer server needs.
type World interface {
	Bootstrap() observerproto.BootstrapResponse
	ObserverJoin() chan<- world.ObserverJoinRequest
	ObserverLeave() chan<- string
}

type Server struct {
	world World
	log   *log.Logger

	// AllowRemote lifts the loopback-only restriction.
	AllowRemote bool

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	sessions atomic.Int64

	leaveTimeout time.Duration
}

func NewServer(w World, logger *log.Logger) *Server {
	return &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 256 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		leaveTimeout: 5 * time.Second,
	}
}

// leave waits for the world loop to take the leave request. It gives up only
// after leaveTimeout, when the loop has stopped draining its channels.
func (s *Server) leave(sid string) {
	t := time.NewTimer(s.leaveTimeout)
	defer t.Stop()
	select {
	case s.world.ObserverLeave() <- sid:
	case <-t.C:
		if s.log != nil {
			s.log.Printf("observer %s: leave not delivered after %s", sid, s.leaveTimeout)
		}
	}
}

// Sessions is the number of connected observers.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

func (s *Server) allowed(r *http.Request) bool {
	return s.AllowRemote || isLoopbackRemote(r.RemoteAddr)
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.world.Bootstrap())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, "bad subscribe")
			return
		}
		if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		tickOut := make(chan []byte, 4)
		dataOut := make(chan []byte, 256)

		joinReq := world.ObserverJoinRequest{
			SessionID:   sid,
			TickOut:     tickOut,
			DataOut:     dataOut,
			MaxChunks:   sub.MaxChunks,
			SkipNormals: sub.SkipNormals,
		}
		select {
		case s.world.ObserverJoin() <- joinReq:
		default:
			closeWith(conn, websocket.CloseTryAgainLater, "server busy")
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		if s.log != nil {
			s.log.Printf("observer %s joined from %s", sid, r.RemoteAddr)
		}
		defer s.leave(sid)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine. Chunk data goes first so a PROGRESS message never
		// claims more than the client has received.
		writeErr := make(chan error, 1)
		go func() {
			// forward reports whether the writer should keep going. A closed
			// channel means the world dropped this observer.
			forward := func(b []byte, ok bool) bool {
				if !ok {
					closeWith(conn, websocket.CloseGoingAway, "world stopped")
					writeErr <- nil
					return false
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return false
				}
				return true
			}
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-dataOut:
					if !forward(b, ok) {
						return
					}
					continue
				default:
				}
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-dataOut:
					if !forward(b, ok) {
						return
					}
				case b, ok := <-tickOut:
					if !forward(b, ok) {
						return
					}
				}
			}
		}()

		// Reader loop: no client messages after SUBSCRIBE matter, but reading
		// keeps control frames flowing and detects disconnects.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		if s.log != nil {
			s.log.Printf("observer %s left", sid)
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
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
