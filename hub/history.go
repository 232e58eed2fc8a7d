package hub

import (
	"time"

	"statusfeed-server/domain"
)

// ring is a bounded FIFO of one room's broadcasts.
type ring struct {
	entries   []domain.HistoryEntry
	size      int
	lastWrite time.Time
	emptiedAt time.Time
}

func newRing(size int) *ring {
	return &ring{entries: make([]domain.HistoryEntry, 0, size), size: size}
}

func (r *ring) append(e domain.HistoryEntry, now time.Time) {
	r.entries = append(r.entries, e)
	if over := len(r.entries) - r.size; over > 0 {
		// Copy down instead of reslicing so the backing array never grows.
		n := copy(r.entries, r.entries[over:])
		r.entries = r.entries[:n]
	}
	r.lastWrite = now
}

func (r *ring) recent(count int) []domain.HistoryEntry {
	if count > len(r.entries) {
		count = len(r.entries)
	}
	out := make([]domain.HistoryEntry, count)
	copy(out, r.entries[len(r.entries)-count:])
	return out
}

// appendHistory must be called with mu held.
func (h *Hub) appendHistory(room string, e domain.HistoryEntry) {
	r, ok := h.history[room]
	if !ok {
		r = newRing(h.opts.HistorySize)
		h.history[room] = r
	}
	r.append(e, h.now())
}

// Recent returns up to count of the newest entries recorded for room, in
// the order they were broadcast.
func (h *Hub) Recent(room string, count int) []domain.HistoryEntry {
	if count <= 0 {
		return []domain.HistoryEntry{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.history[room]
	if !ok {
		return []domain.HistoryEntry{}
	}
	return r.recent(count)
}

// pruneHistory must be called with mu held. It drops the history of rooms
// that have had no members and no writes for the retention window.
func (h *Hub) pruneHistory(now time.Time) int {
	if h.opts.HistoryRetention <= 0 {
		return 0
	}
	pruned := 0
	for room, r := range h.history {
		if _, live := h.rooms[room]; live {
			continue
		}
		idle := r.lastWrite
		if r.emptiedAt.After(idle) {
			idle = r.emptiedAt
		}
		if now.Sub(idle) > h.opts.HistoryRetention {
			delete(h.history, room)
			pruned++
		}
	}
	return pruned
}
