package hub

import (
	"encoding/json"
	"errors"
	"log/slog"

	"statusfeed-server/domain"
)

var ErrTransportClosed = errors.New("transport closed")

// SendTo delivers msg to a single connection. It reports false when the
// connection is unknown, closed, or the send fails.
func (h *Hub) SendTo(id string, msg domain.Message) bool {
	data, err := h.encode(msg)
	if err != nil {
		return false
	}

	h.mu.Lock()
	c, ok := h.clients[id]
	h.mu.Unlock()
	if !ok {
		return false
	}
	return h.sendRaw(c, data)
}

// BroadcastAll delivers msg to every connection not in exclude and returns
// the number of successful sends.
func (h *Hub) BroadcastAll(msg domain.Message, exclude ...string) int {
	data, err := h.encode(msg)
	if err != nil {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	skip := toSet(exclude)
	sent := 0
	for id, c := range h.clients {
		if _, ok := skip[id]; ok {
			continue
		}
		if h.sendRaw(c, data) {
			sent++
		}
	}
	return sent
}

// BroadcastRoom tags msg with the room, records it in the room's history
// and delivers it to every member not in exclude. It returns the number of
// successful sends.
func (h *Hub) BroadcastRoom(room string, msg domain.Message, exclude ...string) int {
	msg = msg.Clone()
	msg["room"] = room
	if _, ok := msg["timestamp"]; !ok {
		msg["timestamp"] = h.timestamp()
	}
	data, err := h.encode(msg)
	if err != nil {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.appendHistory(room, domain.HistoryEntry{
		Room:      room,
		Payload:   data,
		Timestamp: stampOf(msg),
	})

	skip := toSet(exclude)
	sent := 0
	for id := range h.rooms[room] {
		if _, ok := skip[id]; ok {
			continue
		}
		c, ok := h.clients[id]
		if !ok {
			continue
		}
		if h.sendRaw(c, data) {
			sent++
		}
	}
	return sent
}

// sendRaw pushes an encoded frame to c, counting the outcome.
func (h *Hub) sendRaw(c *client, data []byte) bool {
	if !c.transport.IsOpen() {
		h.stats.errors.Add(1)
		slog.Warn("send skipped", "clientId", c.id, "error", ErrTransportClosed)
		return false
	}
	if err := c.transport.Send(data); err != nil {
		h.stats.errors.Add(1)
		slog.Warn("send failed", "clientId", c.id, "error", err)
		return false
	}
	h.stats.messagesOut.Add(1)
	return true
}

func (h *Hub) encode(msg domain.Message) ([]byte, error) {
	if _, ok := msg["timestamp"]; !ok {
		msg = msg.Clone()
		msg["timestamp"] = h.timestamp()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.stats.errors.Add(1)
		slog.Error("encode message", "type", msg.Type(), "error", err)
		return nil, err
	}
	return data, nil
}

func stampOf(msg domain.Message) string {
	switch ts := msg["timestamp"].(type) {
	case string:
		return ts
	default:
		data, _ := json.Marshal(ts)
		return string(data)
	}
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
