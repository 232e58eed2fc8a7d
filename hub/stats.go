package hub

import (
	"sort"
	"sync/atomic"
	"time"
)

// Stats holds process-wide counters. They only ever increase.
type Stats struct {
	connections    atomic.Int64
	disconnections atomic.Int64
	messagesIn     atomic.Int64
	messagesOut    atomic.Int64
	errors         atomic.Int64
}

type RoomDetail struct {
	Name        string `json:"name"`
	ClientCount int    `json:"clientCount"`
}

type Snapshot struct {
	Connections    int64        `json:"connections"`
	Disconnections int64        `json:"disconnections"`
	MessagesIn     int64        `json:"messagesIn"`
	MessagesOut    int64        `json:"messagesOut"`
	Errors         int64        `json:"errors"`
	ActiveClients  int          `json:"activeClients"`
	ActiveRooms    int          `json:"activeRooms"`
	RoomDetails    []RoomDetail `json:"roomDetails"`
}

type ConnectionInfo struct {
	ID          string    `json:"id"`
	Rooms       []string  `json:"rooms"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeen    time.Time `json:"lastSeen"`
	RemoteAddr  string    `json:"remoteAddr"`
	State       string    `json:"state"`
}

func (h *Hub) Stats() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	details := make([]RoomDetail, 0, len(h.rooms))
	for name, members := range h.rooms {
		details = append(details, RoomDetail{Name: name, ClientCount: len(members)})
	}
	sort.Slice(details, func(i, j int) bool { return details[i].Name < details[j].Name })

	return Snapshot{
		Connections:    h.stats.connections.Load(),
		Disconnections: h.stats.disconnections.Load(),
		MessagesIn:     h.stats.messagesIn.Load(),
		MessagesOut:    h.stats.messagesOut.Load(),
		Errors:         h.stats.errors.Load(),
		ActiveClients:  len(h.clients),
		ActiveRooms:    len(h.rooms),
		RoomDetails:    details,
	}
}

// Connections lists live connections ordered by connect time.
func (h *Hub) Connections() []ConnectionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ConnectionInfo, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, ConnectionInfo{
			ID:          c.id,
			Rooms:       sortedKeys(c.rooms),
			ConnectedAt: c.connectedAt,
			LastSeen:    c.lastSeen,
			RemoteAddr:  c.remoteAddr,
			State:       c.liveness.state.String(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}
