package hub

import (
	"context"
	"log/slog"
	"time"

	"statusfeed-server/domain"
)

type livenessState int

const (
	stateAlive livenessState = iota
	stateAwaitingPong
)

func (s livenessState) String() string {
	if s == stateAwaitingPong {
		return "awaiting_pong"
	}
	return "alive"
}

// liveness is the per-connection heartbeat state machine. Transitions
// happen only under the hub lock.
type liveness struct {
	state livenessState
	since time.Time
}

func (l *liveness) pinged(now time.Time) {
	l.state = stateAwaitingPong
	l.since = now
}

func (l *liveness) pong(now time.Time) {
	if l.state == stateAlive {
		return
	}
	l.state = stateAlive
	l.since = now
}

// RunHeartbeat sweeps the registry every heartbeat interval until ctx is
// done or the hub shuts down.
func (h *Hub) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopBeat:
			return
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Sweep runs one heartbeat tick. Connections that did not answer the
// previous ping, or have been silent for more than two intervals, are
// terminated; the rest are pinged. It returns the ids terminated.
func (h *Hub) Sweep() []string {
	now := h.now()
	deadline := 2 * h.opts.HeartbeatInterval

	var dead []*client
	var live []*client

	h.mu.Lock()
	for id, c := range h.clients {
		if c.liveness.state == stateAwaitingPong || now.Sub(c.lastSeen) > deadline {
			h.detach(id)
			dead = append(dead, c)
			continue
		}
		c.liveness.pinged(now)
		live = append(live, c)
	}
	pruned := h.pruneHistory(now)
	h.mu.Unlock()

	ids := make([]string, 0, len(dead))
	for _, c := range dead {
		h.stats.disconnections.Add(1)
		c.transport.Close(domain.CloseAbnormal, "Heartbeat timeout")
		slog.Info("client disconnected", "clientId", c.id, "code", domain.CloseAbnormal, "reason", "Heartbeat timeout")
		ids = append(ids, c.id)
	}
	for _, c := range live {
		if err := c.transport.Ping(); err != nil {
			h.stats.errors.Add(1)
			slog.Warn("ping failed", "clientId", c.id, "error", err)
		}
	}
	if pruned > 0 {
		slog.Debug("history pruned", "rooms", pruned)
	}
	return ids
}
