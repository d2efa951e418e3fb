package peerservice

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/nexusrelay/internal/envelope"
	"github.com/baalimago/nexusrelay/internal/ident"
	"github.com/baalimago/nexusrelay/internal/wsconn"
	"golang.org/x/net/websocket"
)

// Service is the upstream which relays pair their sessions to. Every
// session is welcomed with a fresh client id and then served request by
// request.
type Service struct {
	dir          *Directory
	writeTimeout time.Duration
	newClientID  func() string
}

type Option func(*Service)

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.writeTimeout = d
	}
}

func WithClientIDs(f func() string) Option {
	return func(s *Service) {
		s.newClientID = f
	}
}

func New(dir *Directory, opts ...Option) *Service {
	s := &Service{
		dir:          dir,
		writeTimeout: 5 * time.Second,
		newClientID:  ident.ClientID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler serving sessions on / and a small http api below /api/
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", websocket.Handler(s.serveSession))
	mux.HandleFunc("GET /api/health", s.healthHandler())
	mux.HandleFunc("GET /api/peers", s.peersHandler())
	mux.HandleFunc("GET /api/routing/stats", s.statsHandler())
	mux.HandleFunc("POST /api/command", s.commandHandler())
	return mux
}

func (s *Service) serveSession(ws *websocket.Conn) {
	conn := wsconn.Wrap(ws, s.writeTimeout)
	defer conn.Close()
	clientID := s.newClientID()
	ancli.Noticef("new session from: '%v', client id: '%v'", conn.RemoteAddr(), clientID)

	if err := s.send(conn, envelope.Welcome, clientID, envelope.Notice{
		Message: "Connected to NexusRemote peer service",
	}); err != nil {
		ancli.Warnf("failed to welcome '%v': %v", clientID, err)
		return
	}

	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if !wsconn.IsClosure(err) {
				ancli.Warnf("session '%v' receive error: %v", clientID, err)
			}
			ancli.Noticef("client '%v' disconnected", clientID)
			return
		}
		if err := s.handleFrame(conn, clientID, f.Data); err != nil {
			ancli.Warnf("session '%v' send error: %v", clientID, err)
			return
		}
	}
}

// handleFrame answers one request. Only failures to write are returned,
// anything wrong with the request itself is answered with an error envelope.
func (s *Service) handleFrame(conn wsconn.Conn, clientID string, data []byte) error {
	env, err := envelope.Decode(data)
	if err != nil {
		ancli.Warnf("malformed frame from '%v': %v", clientID, err)
		return s.send(conn, envelope.Error, clientID, envelope.Notice{
			Message: "malformed message",
			Error:   err.Error(),
		})
	}

	switch env.Type() {
	case envelope.Ping:
		return s.send(conn, envelope.Pong, clientID, nil)
	case envelope.GetPeers:
		var req envelope.GetPeersPayload
		// target_id is optional, a malformed one is treated as absent
		_ = env.Into(&req)
		return s.send(conn, envelope.Peers, clientID, envelope.PeersPayload{
			Peers: s.dir.Lookup(req.TargetID, MaxPeersPerLookup),
		})
	case envelope.SendCommand:
		var req envelope.SendCommandPayload
		if err := env.Into(&req); err != nil {
			return s.send(conn, envelope.Error, clientID, envelope.Notice{
				Message: "malformed send_command",
				Error:   err.Error(),
			})
		}
		ancli.Noticef("command received: '%v' for target: '%v'", req.Command, req.Target)
		return s.send(conn, envelope.CommandResult, clientID, envelope.CommandResultPayload{
			Command: req.Command,
			Target:  req.Target,
			Status:  "received",
		})
	case envelope.GetRoutingStats:
		return s.send(conn, envelope.RoutingStats, clientID, s.dir.Stats())
	default:
		ancli.Warnf("unknown message type: '%v'", env.Type())
		return s.send(conn, envelope.Error, clientID, envelope.Notice{
			Message: fmt.Sprintf("unknown message type: %v", env.Type()),
		})
	}
}

func (s *Service) send(conn wsconn.Conn, t envelope.Type, clientID string, payload any) error {
	b, err := envelope.Encode(t, clientID, payload)
	if err != nil {
		return err
	}
	return conn.WriteFrame(wsconn.Text(b))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ancli.Warnf("failed to encode response: %v", err)
	}
}

func (s *Service) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (s *Service) peersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, envelope.PeersPayload{
			Peers: s.dir.Lookup(r.URL.Query().Get("target_id"), MaxPeersPerLookup),
		})
	}
}

func (s *Service) statsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.dir.Stats())
	}
}

func (s *Service) commandHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
		var req envelope.SendCommandPayload
		if err := dec.Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
			return
		}
		if req.Command == "" {
			http.Error(w, "empty command", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, envelope.CommandResultPayload{
			Command: req.Command,
			Target:  req.Target,
			Status:  "received",
		})
	}
}
