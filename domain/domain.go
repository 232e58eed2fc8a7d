package domain

import "encoding/json"

// Outbound event types.
const (
	TypeConnected       = "connected"
	TypeDisconnected    = "disconnected"
	TypeError           = "error"
	TypeSubscribed      = "subscribed"
	TypeUnsubscribed    = "unsubscribed"
	TypeAgentReady      = "agent_ready"
	TypeAgentHeartbeat  = "agent_heartbeat"
	TypeAgentProgress   = "agent_progress"
	TypeAgentComplete   = "agent_complete"
	TypeAgentError      = "agent_error"
	TypeAgentStuck      = "agent_stuck"
	TypeGateEntered     = "gate_entered"
	TypeGateComplete    = "gate_complete"
	TypeGateRejected    = "gate_rejected"
	TypeStoryStarted    = "story_started"
	TypeStoryUpdated    = "story_updated"
	TypeStoryCompleted  = "story_completed"
	TypeWaveStarted     = "wave_started"
	TypeWaveCompleted   = "wave_completed"
	TypeKillSwitch      = "kill_switch"
	TypeBudgetWarning   = "budget_warning"
	TypeBudgetExceeded  = "budget_exceeded"
	TypeHistoryResponse = "history_response"
	TypePong            = "pong"
)

// Close codes used on the wire.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseAbnormal      = 1006
	CloseTryAgainLater = 1013
)

// Message is an outbound envelope. Every message carries "type" and
// "timestamp"; room-scoped messages also carry "room".
type Message map[string]any

// Type returns the envelope type or "" when unset.
func (m Message) Type() string {
	t, _ := m["type"].(string)
	return t
}

// Clone returns a shallow copy so callers' maps are never mutated.
func (m Message) Clone() Message {
	out := make(Message, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Inbound is one client frame. Fields beyond the known ones are kept in
// Payload so they can be forwarded untouched.
type Inbound struct {
	Type       string   `json:"type"`
	Room       string   `json:"room,omitempty"`
	Rooms      []string `json:"rooms,omitempty"`
	TargetRoom string   `json:"targetRoom,omitempty"`
	Count      *int     `json:"count,omitempty"`

	Payload Message `json:"-"`
}

// RoomNames returns Rooms, or Room as a single-element list.
func (in Inbound) RoomNames() []string {
	if len(in.Rooms) > 0 {
		return in.Rooms
	}
	if in.Room != "" {
		return []string{in.Room}
	}
	return nil
}

// HistoryEntry is an immutable record of one room broadcast.
type HistoryEntry struct {
	Room      string          `json:"room"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// Transport is the socket side of a connection. The hub owns it after a
// successful Accept and closes it exactly once.
type Transport interface {
	Send(data []byte) error
	Ping() error
	Close(code int, reason string) error
	IsOpen() bool
}

// Broadcaster is the engine surface used by the protocol handler and
// the event emitters.
type Broadcaster interface {
	Received(id string)
	RecordError()
	Subscribe(id string, rooms ...string) []string
	Unsubscribe(id string, rooms ...string) []string
	RoomsOf(id string) []string
	Known(room string) bool
	Recent(room string, count int) []HistoryEntry
	SendTo(id string, msg Message) bool
	BroadcastAll(msg Message, exclude ...string) int
	BroadcastRoom(room string, msg Message, exclude ...string) int
}

// MessageHandler consumes raw frames read from a connection.
type MessageHandler interface {
	Handle(id string, data []byte)
}

// ProjectRoom returns the conventional room name for a project.
func ProjectRoom(projectID string) string {
	return "project:" + projectID
}
