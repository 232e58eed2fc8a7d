package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"statusfeed-server/domain"
	"statusfeed-server/events"
	"statusfeed-server/hub"
	ws "statusfeed-server/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Authentication and origin policy are enforced upstream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Publisher hands an event to an external bus instead of emitting it
// locally.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

type Server struct {
	hub       *hub.Hub
	handler   domain.MessageHandler
	emitter   *events.Emitter
	publisher Publisher
	wsPath    string
}

func New(h *hub.Hub, handler domain.MessageHandler, emitter *events.Emitter, wsPath string) *Server {
	if wsPath == "" {
		wsPath = "/ws"
	}
	return &Server{hub: h, handler: handler, emitter: emitter, wsPath: wsPath}
}

// WithPublisher routes POST /events through p.
func (s *Server) WithPublisher(p Publisher) *Server {
	s.publisher = p
	return s
}

func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/connections", s.handleConnections)
	r.Get(s.wsPath, s.handleWS)
	r.Post("/events", s.handleEvents)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Stats())
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Connections())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade error", "error", err)
		return
	}

	if _, err := ws.NewConn(conn).Serve(s.hub, s.handler, r.RemoteAddr); err != nil {
		slog.Warn("connection refused", "remoteAddr", r.RemoteAddr, "error", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var ev events.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.Event == "" {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if err := s.emitter.Validate(ev.Event, ev.ProjectID); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, events.ErrUnknownEvent) {
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, err.Error(), status)
		return
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(r.Context(), ev); err != nil {
			slog.Error("publish error", "event", ev.Event, "error", err)
			http.Error(w, "publish error", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "published": true})
		return
	}

	delivered, err := s.emitter.Dispatch(ev.Event, ev.ProjectID, ev.Data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "delivered": delivered})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}
