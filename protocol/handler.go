package protocol

import (
	"encoding/json"
	"log/slog"

	"statusfeed-server/domain"
)

// DefaultHistoryCount is the number of entries replayed when a history
// request omits count.
const DefaultHistoryCount = 50

type Handler struct {
	broadcaster domain.Broadcaster
}

func NewHandler(b domain.Broadcaster) *Handler {
	return &Handler{broadcaster: b}
}

// Handle dispatches one inbound frame from connection id.
func (h *Handler) Handle(id string, data []byte) {
	h.broadcaster.Received(id)

	in, err := decode(data)
	if err != nil {
		slog.Warn("invalid message", "clientId", id, "error", err)
		h.broadcaster.RecordError()
		h.broadcaster.SendTo(id, domain.Message{
			"type":    domain.TypeError,
			"message": "Invalid message format",
		})
		return
	}

	switch in.Type {
	case "subscribe":
		h.broadcaster.Subscribe(id, in.RoomNames()...)
	case "unsubscribe":
		h.broadcaster.Unsubscribe(id, in.RoomNames()...)
	case "ping":
		h.broadcaster.SendTo(id, domain.Message{"type": domain.TypePong})
	case "history":
		h.history(id, in)
	default:
		h.forward(id, in)
	}
}

func (h *Handler) history(id string, in domain.Inbound) {
	count := DefaultHistoryCount
	if in.Count != nil {
		count = *in.Count
	}
	entries := h.broadcaster.Recent(in.Room, count)

	messages := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, e.Payload)
	}
	h.broadcaster.SendTo(id, domain.Message{
		"type":     domain.TypeHistoryResponse,
		"room":     in.Room,
		"count":    len(messages),
		"messages": messages,
	})
}

// forward relays an application frame to targetRoom. Frames without a
// target, from a connection outside every room, or to a room with neither
// members nor history are dropped, so clients cannot mint new histories.
func (h *Handler) forward(id string, in domain.Inbound) {
	if in.TargetRoom == "" || len(h.broadcaster.RoomsOf(id)) == 0 || !h.broadcaster.Known(in.TargetRoom) {
		slog.Debug("message ignored", "clientId", id, "type", in.Type)
		return
	}

	msg := in.Payload.Clone()
	msg["senderId"] = id
	h.broadcaster.BroadcastRoom(in.TargetRoom, msg, id)
}

func decode(data []byte) (domain.Inbound, error) {
	var in domain.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return in, err
	}
	if err := json.Unmarshal(data, &in.Payload); err != nil {
		return in, err
	}
	return in, nil
}
