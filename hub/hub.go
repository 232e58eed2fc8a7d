package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"statusfeed-server/domain"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHistorySize       = 100
	DefaultMaxClients        = 1000
)

var (
	ErrAtCapacity   = errors.New("server at capacity")
	ErrShuttingDown = errors.New("server shutting down")
)

// Options configures a Hub. Zero values fall back to the defaults above.
type Options struct {
	HeartbeatInterval time.Duration
	HistorySize       int
	MaxClients        int
	// HistoryRetention drops the history of a room that has no members and
	// no appends for this long. Zero keeps history until overwritten.
	HistoryRetention time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type client struct {
	id          string
	transport   domain.Transport
	rooms       map[string]struct{}
	liveness    liveness
	lastSeen    time.Time
	connectedAt time.Time
	remoteAddr  string
}

// Hub owns the connection registry, the room index and the per-room
// history. All three are guarded by mu.
type Hub struct {
	opts Options
	now  func() time.Time

	mu       sync.Mutex
	clients  map[string]*client
	rooms    map[string]map[string]struct{}
	history  map[string]*ring
	closing  bool
	stopBeat chan struct{}
	once     sync.Once

	stats Stats
}

func New(opts Options) *Hub {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.MaxClients <= 0 {
		opts.MaxClients = DefaultMaxClients
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Hub{
		opts:     opts,
		now:      now,
		clients:  make(map[string]*client),
		rooms:    make(map[string]map[string]struct{}),
		history:  make(map[string]*ring),
		stopBeat: make(chan struct{}),
	}
}

// Accept registers a transport and returns its new connection id. When
// the hub is full or shutting down the transport is closed and no record
// is created.
func (h *Hub) Accept(t domain.Transport, remoteAddr string) (string, error) {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		t.Close(domain.CloseGoingAway, "Server shutting down")
		return "", ErrShuttingDown
	}
	if len(h.clients) >= h.opts.MaxClients {
		h.mu.Unlock()
		t.Close(domain.CloseTryAgainLater, "Server at capacity")
		slog.Warn("connection rejected", "remoteAddr", remoteAddr, "reason", "capacity", "maxClients", h.opts.MaxClients)
		return "", ErrAtCapacity
	}

	now := h.now()
	c := &client{
		id:          uuid.New().String(),
		transport:   t,
		rooms:       make(map[string]struct{}),
		liveness:    liveness{state: stateAlive, since: now},
		lastSeen:    now,
		connectedAt: now,
		remoteAddr:  remoteAddr,
	}
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()

	h.stats.connections.Add(1)
	slog.Info("client connected", "clientId", c.id, "remoteAddr", remoteAddr, "clients", count)

	h.SendTo(c.id, domain.Message{
		"type":     domain.TypeConnected,
		"clientId": c.id,
	})
	return c.id, nil
}

// Remove drops a connection from the registry and every room it joined,
// then releases its transport. Unknown ids are ignored.
func (h *Hub) Remove(id string, code int, reason string) {
	h.mu.Lock()
	c, ok := h.detach(id)
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.stats.disconnections.Add(1)
	c.transport.Close(code, reason)
	slog.Info("client disconnected", "clientId", id, "code", code, "reason", reason, "clients", count)
}

// detach must be called with mu held.
func (h *Hub) detach(id string) (*client, bool) {
	c, ok := h.clients[id]
	if !ok {
		return nil, false
	}
	for room := range c.rooms {
		h.leave(c, room)
	}
	delete(h.clients, id)
	return c, true
}

// Touch marks the connection as seen now and alive.
func (h *Hub) Touch(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[id]; ok {
		now := h.now()
		c.lastSeen = now
		c.liveness.pong(now)
	}
}

// Received records an inbound frame from id.
func (h *Hub) Received(id string) {
	h.stats.messagesIn.Add(1)
	h.Touch(id)
}

// RecordError counts an error observed outside the broadcast path.
func (h *Hub) RecordError() {
	h.stats.errors.Add(1)
}

// Shutdown stops the heartbeat loop, refuses further accepts and closes
// every live connection. Safe to call more than once.
func (h *Hub) Shutdown() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closing = true
		close(h.stopBeat)
		clients := make([]*client, 0, len(h.clients))
		for id := range h.clients {
			c, _ := h.detach(id)
			clients = append(clients, c)
		}
		h.mu.Unlock()

		bye, _ := json.Marshal(domain.Message{
			"type":      domain.TypeDisconnected,
			"reason":    "Server shutting down",
			"timestamp": h.timestamp(),
		})
		for _, c := range clients {
			h.sendRaw(c, bye)
			h.stats.disconnections.Add(1)
			c.transport.Close(domain.CloseGoingAway, "Server shutting down")
		}
		slog.Info("hub shut down", "closed", len(clients))
	})
}

func (h *Hub) timestamp() string {
	return h.now().UTC().Format(time.RFC3339Nano)
}
