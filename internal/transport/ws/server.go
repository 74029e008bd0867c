// Package ws carries protocol messages over WebSocket. Each text frame is one
// request; replies go back on the same connection in request order. A
// connection that touches a match is subscribed to its EVENT_BATCH stream.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"dryas.ai/internal/match"
	"dryas.ai/internal/protocol"
	"dryas.ai/internal/transport/api"
)

const (
	outQueue     = 64
	readTimeout  = 120 * time.Second
	writeTimeout = 5 * time.Second
)

type Server struct {
	dispatch *api.Dispatcher
	log      *log.Logger

	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[string]map[*client]struct{}

	dropped atomic.Uint64
}

type client struct {
	out chan []byte
}

func NewServer(m *match.Manager, v *protocol.RequestValidator, logger *log.Logger) *Server {
	return &Server{
		dispatch: api.NewDispatcher(m, v),
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[string]map[*client]struct{}{},
	}
}

// Dropped counts broadcast frames skipped because a subscriber was slow.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Publish fans an event batch out to every connection subscribed to its
// match. Slow subscribers miss frames rather than stall the caller.
func (s *Server) Publish(batch protocol.EventBatch) {
	b, err := json.Marshal(protocol.EventBatchMsg{
		Type:            protocol.TypeEventBatch,
		ProtocolVersion: protocol.Version,
		EventBatch:      batch,
	})
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.subs[batch.MatchID] {
		select {
		case c.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Server) subscribe(matchID string, c *client) {
	if matchID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.subs[matchID]
	if set == nil {
		set = map[*client]struct{}{}
		s.subs[matchID] = set
	}
	set[c] = struct{}{}
}

func (s *Server) unsubscribeAll(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, set := range s.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(s.subs, id)
		}
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		c := &client{out: make(chan []byte, outQueue)}
		defer s.unsubscribeAll(c)

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply := s.serve(ctx, c, msg)
			select {
			case c.out <- reply:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-done
	}
}

func (s *Server) serve(ctx context.Context, c *client, msg []byte) []byte {
	res, err := s.dispatch.Handle(ctx, msg)
	var out any
	if err != nil {
		reqID := ""
		if base, derr := protocol.DecodeBase(msg); derr == nil {
			reqID = base.ReqID
		}
		em := api.ErrorMsg(reqID, err)
		if s.log != nil && (em.Code == protocol.ErrInternal || em.Code == protocol.ErrInvariant) {
			s.log.Printf("ws %s: %s", em.Code, em.Message)
		}
		out = em
	} else {
		s.subscribe(res.MatchID, c)
		out = res.Msg
	}
	b, err := json.Marshal(out)
	if err != nil {
		b, _ = json.Marshal(api.ErrorMsg("", protocol.NewError(protocol.ErrInternal, "encode reply")))
	}
	return b
}
