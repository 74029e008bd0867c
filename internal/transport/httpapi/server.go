// Package httpapi exposes the match operations over plain HTTP+JSON.
// Request and response bodies are the same protocol messages the
// WebSocket transport carries.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"dryas.ai/internal/match"
	"dryas.ai/internal/protocol"
	"dryas.ai/internal/transport/api"
)

const maxBody = 1 << 20

type Server struct {
	matches  *match.Manager
	dispatch *api.Dispatcher
	log      *log.Logger
}

func NewServer(m *match.Manager, v *protocol.RequestValidator, logger *log.Logger) *Server {
	return &Server{matches: m, dispatch: api.NewDispatcher(m, v), log: logger}
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/rpc", s.handle("", false))
	mux.HandleFunc("GET /v1/matches", s.listMatches)
	mux.HandleFunc("POST /v1/matches", s.handle(protocol.TypeCreateMatch, false))
	mux.HandleFunc("GET /v1/matches/{id}/observation", s.observation)
	mux.HandleFunc("POST /v1/matches/{id}/actions", s.handle(protocol.TypeSubmitAction, true))
	mux.HandleFunc("POST /v1/matches/{id}/advance", s.handle(protocol.TypeAdvance, true))
	mux.HandleFunc("POST /v1/matches/{id}/negotiate", s.handle(protocol.TypeNegotiate, true))
}

// StatusFor maps a wire error code to an HTTP status.
func StatusFor(code string) int {
	switch code {
	case protocol.ErrMatchNotFound:
		return http.StatusNotFound
	case protocol.ErrProtoBadRequest, protocol.ErrBadRequest, protocol.ErrActionIDMismatch:
		return http.StatusBadRequest
	case protocol.ErrMatchEnded, protocol.ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handle fills the envelope fields the route implies and dispatches. With
// withID the {id} path value becomes match_id; a body naming another match
// is rejected.
func (s *Server) handle(msgType string, withID bool) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
		if err != nil || len(body) > maxBody {
			s.fail(rw, "", protocol.NewError(protocol.ErrProtoBadRequest, "unreadable or oversized body"))
			return
		}
		if len(body) == 0 {
			body = []byte("{}")
		}
		fields := map[string]json.RawMessage{}
		if err := json.Unmarshal(body, &fields); err != nil {
			s.fail(rw, "", protocol.NewError(protocol.ErrProtoBadRequest, "body must be a JSON object"))
			return
		}
		var reqID string
		if raw, ok := fields["req_id"]; ok {
			_ = json.Unmarshal(raw, &reqID)
		}
		setDefault(fields, "protocol_version", protocol.Version)
		if msgType != "" {
			if err := setFixed(fields, "type", msgType); err != nil {
				s.fail(rw, reqID, err)
				return
			}
		}
		if withID {
			if err := setFixed(fields, "match_id", r.PathValue("id")); err != nil {
				s.fail(rw, reqID, err)
				return
			}
		}
		msg, _ := json.Marshal(fields)
		s.run(rw, r, reqID, msg)
	}
}

func setDefault(fields map[string]json.RawMessage, key, value string) {
	if _, ok := fields[key]; !ok {
		b, _ := json.Marshal(value)
		fields[key] = b
	}
}

func setFixed(fields map[string]json.RawMessage, key, value string) error {
	if raw, ok := fields[key]; ok {
		var got string
		if err := json.Unmarshal(raw, &got); err != nil || got != value {
			return protocol.NewError(protocol.ErrProtoBadRequest, fmt.Sprintf("%s must be %q for this route", key, value))
		}
	}
	b, _ := json.Marshal(value)
	fields[key] = b
	return nil
}

func (s *Server) observation(rw http.ResponseWriter, r *http.Request) {
	player, err := strconv.ParseUint(r.URL.Query().Get("player"), 10, 64)
	if err != nil {
		s.fail(rw, "", protocol.NewError(protocol.ErrProtoBadRequest, "player query parameter must be an unsigned integer"))
		return
	}
	msg, _ := json.Marshal(protocol.GetObservationReq{
		Type:            protocol.TypeGetObservation,
		ProtocolVersion: protocol.Version,
		MatchID:         r.PathValue("id"),
		PlayerID:        player,
	})
	s.run(rw, r, "", msg)
}

func (s *Server) listMatches(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, struct {
		Matches []string `json:"matches"`
	}{Matches: s.matches.MatchIDs()})
}

func (s *Server) run(rw http.ResponseWriter, r *http.Request, reqID string, msg []byte) {
	res, err := s.dispatch.Handle(r.Context(), msg)
	if err != nil {
		s.fail(rw, reqID, err)
		return
	}
	writeJSON(rw, http.StatusOK, res.Msg)
}

func (s *Server) fail(rw http.ResponseWriter, reqID string, err error) {
	em := api.ErrorMsg(reqID, err)
	status := StatusFor(em.Code)
	if status >= 500 && s.log != nil {
		s.log.Printf("http %s: %s", em.Code, em.Message)
	}
	writeJSON(rw, status, em)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
