package hub

import (
	"log/slog"
	"sort"

	"statusfeed-server/domain"
)

// Subscribe adds id to each room, creating rooms on first use, and acks
// with a subscribed envelope. It returns the rooms joined.
func (h *Hub) Subscribe(id string, rooms ...string) []string {
	h.mu.Lock()
	c, ok := h.clients[id]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	joined := make([]string, 0, len(rooms))
	for _, room := range rooms {
		if room == "" {
			continue
		}
		members, exists := h.rooms[room]
		if !exists {
			members = make(map[string]struct{})
			h.rooms[room] = members
			slog.Debug("room created", "room", room)
		}
		members[id] = struct{}{}
		c.rooms[room] = struct{}{}
		joined = append(joined, room)
	}
	h.mu.Unlock()

	slog.Debug("client subscribed", "clientId", id, "rooms", joined)
	h.SendTo(id, domain.Message{"type": domain.TypeSubscribed, "rooms": joined})
	return joined
}

// Unsubscribe removes id from each room and acks with an unsubscribed
// envelope. Rooms left empty are deleted.
func (h *Hub) Unsubscribe(id string, rooms ...string) []string {
	h.mu.Lock()
	c, ok := h.clients[id]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	left := make([]string, 0, len(rooms))
	for _, room := range rooms {
		if room == "" {
			continue
		}
		h.leave(c, room)
		left = append(left, room)
	}
	h.mu.Unlock()

	slog.Debug("client unsubscribed", "clientId", id, "rooms", left)
	h.SendTo(id, domain.Message{"type": domain.TypeUnsubscribed, "rooms": left})
	return left
}

// leave must be called with mu held.
func (h *Hub) leave(c *client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c.id)
	if len(members) == 0 {
		delete(h.rooms, room)
		if r, ok := h.history[room]; ok {
			r.emptiedAt = h.now()
		}
		slog.Debug("room removed", "room", room)
	}
}

// MembersOf returns the ids subscribed to room, sorted. Empty when the
// room does not exist.
func (h *Hub) MembersOf(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return sortedKeys(h.rooms[room])
}

// Known reports whether room has members or recorded history.
func (h *Hub) Known(room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[room]; ok {
		return true
	}
	_, ok := h.history[room]
	return ok
}

// RoomsOf returns the rooms id belongs to, sorted.
func (h *Hub) RoomsOf(id string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[id]
	if !ok {
		return nil
	}
	return sortedKeys(c.rooms)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
