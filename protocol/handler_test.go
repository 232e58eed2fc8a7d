package protocol

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusfeed-server/domain"
	"statusfeed-server/hub"
)

type sentMessage struct {
	to  string
	msg domain.Message
}

type roomBroadcast struct {
	room    string
	msg     domain.Message
	exclude []string
}

type mockBroadcaster struct {
	mu           sync.Mutex
	received     int
	errors       int
	rooms        map[string][]string
	subscribed   [][]string
	unsubscribed [][]string
	sent         []sentMessage
	broadcasts   []roomBroadcast
	historyCalls []int
	history      []domain.HistoryEntry
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{rooms: make(map[string][]string)}
}

func (m *mockBroadcaster) Received(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received++
}

func (m *mockBroadcaster) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

func (m *mockBroadcaster) Subscribe(id string, rooms ...string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, rooms)
	m.rooms[id] = append(m.rooms[id], rooms...)
	return rooms
}

func (m *mockBroadcaster) Unsubscribe(id string, rooms ...string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, rooms)
	return rooms
}

func (m *mockBroadcaster) RoomsOf(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[id]
}

func (m *mockBroadcaster) Known(room string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rooms := range m.rooms {
		for _, r := range rooms {
			if r == room {
				return true
			}
		}
	}
	return len(m.history) > 0
}

func (m *mockBroadcaster) Recent(room string, count int) []domain.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyCalls = append(m.historyCalls, count)
	return m.history
}

func (m *mockBroadcaster) SendTo(id string, msg domain.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{to: id, msg: msg})
	return true
}

func (m *mockBroadcaster) BroadcastAll(msg domain.Message, exclude ...string) int { return 0 }

func (m *mockBroadcaster) BroadcastRoom(room string, msg domain.Message, exclude ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts = append(m.broadcasts, roomBroadcast{room: room, msg: msg, exclude: exclude})
	return 1
}

func TestHandler_PingPong(t *testing.T) {
	broadcaster := newMockBroadcaster()
	handler := NewHandler(broadcaster)

	handler.Handle("client1", []byte(`{"type":"ping"}`))

	require.Len(t, broadcaster.sent, 1)
	assert.Equal(t, "client1", broadcaster.sent[0].to)
	assert.Equal(t, domain.TypePong, broadcaster.sent[0].msg.Type())
	assert.Equal(t, 1, broadcaster.received)
	assert.Empty(t, broadcaster.broadcasts)
}

func TestHandler_Subscribe(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  []string
	}{
		{name: "single room", frame: `{"type":"subscribe","room":"project:1"}`, want: []string{"project:1"}},
		{name: "room list", frame: `{"type":"subscribe","rooms":["project:1","project:2"]}`, want: []string{"project:1", "project:2"}},
		{name: "list wins over single", frame: `{"type":"subscribe","room":"x","rooms":["project:3"]}`, want: []string{"project:3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broadcaster := newMockBroadcaster()
			handler := NewHandler(broadcaster)

			handler.Handle("client1", []byte(tt.frame))

			require.Len(t, broadcaster.subscribed, 1)
			assert.Equal(t, tt.want, broadcaster.subscribed[0])
		})
	}
}

func TestHandler_Unsubscribe(t *testing.T) {
	broadcaster := newMockBroadcaster()
	handler := NewHandler(broadcaster)

	handler.Handle("client1", []byte(`{"type":"unsubscribe","rooms":["project:1"]}`))

	require.Len(t, broadcaster.unsubscribed, 1)
	assert.Equal(t, []string{"project:1"}, broadcaster.unsubscribed[0])
}

func TestHandler_History(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		wantCount int
	}{
		{name: "default count", frame: `{"type":"history","room":"project:1"}`, wantCount: DefaultHistoryCount},
		{name: "explicit count", frame: `{"type":"history","room":"project:1","count":5}`, wantCount: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broadcaster := newMockBroadcaster()
			broadcaster.history = []domain.HistoryEntry{
				{Room: "project:1", Payload: json.RawMessage(`{"type":"gate_entered"}`)},
			}
			handler := NewHandler(broadcaster)

			handler.Handle("client1", []byte(tt.frame))

			assert.Equal(t, []int{tt.wantCount}, broadcaster.historyCalls)
			require.Len(t, broadcaster.sent, 1)
			resp := broadcaster.sent[0].msg
			assert.Equal(t, domain.TypeHistoryResponse, resp.Type())
			assert.Equal(t, "project:1", resp["room"])
			assert.Equal(t, 1, resp["count"])
		})
	}
}

func TestHandler_Forward(t *testing.T) {
	broadcaster := newMockBroadcaster()
	broadcaster.rooms["client1"] = []string{"project:1"}
	handler := NewHandler(broadcaster)

	handler.Handle("client1", []byte(`{"type":"note","targetRoom":"project:1","text":"hi"}`))

	require.Len(t, broadcaster.broadcasts, 1)
	call := broadcaster.broadcasts[0]
	assert.Equal(t, "project:1", call.room)
	assert.Equal(t, []string{"client1"}, call.exclude)
	assert.Equal(t, "note", call.msg.Type())
	assert.Equal(t, "hi", call.msg["text"])
	assert.Equal(t, "client1", call.msg["senderId"])
}

func TestHandler_ForwardIgnored(t *testing.T) {
	tests := []struct {
		name  string
		rooms []string
		frame string
	}{
		{name: "no target room", rooms: []string{"project:1"}, frame: `{"type":"note","text":"hi"}`},
		{name: "sender in no room", frame: `{"type":"note","targetRoom":"project:1"}`},
		{name: "unknown target room", rooms: []string{"project:1"}, frame: `{"type":"note","targetRoom":"made-up"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broadcaster := newMockBroadcaster()
			if tt.rooms != nil {
				broadcaster.rooms["client1"] = tt.rooms
			}
			handler := NewHandler(broadcaster)

			handler.Handle("client1", []byte(tt.frame))

			assert.Empty(t, broadcaster.broadcasts)
			assert.Empty(t, broadcaster.sent)
		})
	}
}

func TestHandler_InvalidJSON(t *testing.T) {
	broadcaster := newMockBroadcaster()
	handler := NewHandler(broadcaster)

	handler.Handle("client1", []byte("not json"))

	require.Len(t, broadcaster.sent, 1)
	assert.Equal(t, domain.TypeError, broadcaster.sent[0].msg.Type())
	assert.Equal(t, "Invalid message format", broadcaster.sent[0].msg["message"])
	assert.Equal(t, 1, broadcaster.errors)
	assert.Empty(t, broadcaster.broadcasts)
}

type recordingTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (r *recordingTransport) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, data)
	return nil
}

func (r *recordingTransport) Ping() error             { return nil }
func (r *recordingTransport) Close(int, string) error { return nil }
func (r *recordingTransport) IsOpen() bool            { return true }

func (r *recordingTransport) last(t *testing.T) domain.Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.sent)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(r.sent[len(r.sent)-1], &msg))
	return msg
}

func TestHandler_HistoryAfterLiveBroadcast(t *testing.T) {
	h := hub.New(hub.Options{})
	handler := NewHandler(h)

	publisher := &recordingTransport{}
	pubID, err := h.Accept(publisher, "peer-a")
	require.NoError(t, err)
	watcher := &recordingTransport{}
	watchID, err := h.Accept(watcher, "peer-b")
	require.NoError(t, err)

	handler.Handle(pubID, []byte(`{"type":"subscribe","room":"project:42"}`))
	handler.Handle(watchID, []byte(`{"type":"subscribe","room":"project:42"}`))
	handler.Handle(pubID, []byte(`{"type":"note","targetRoom":"project:42","text":"hi"}`))

	live := watcher.last(t)
	assert.Equal(t, "note", live.Type())
	assert.Equal(t, pubID, live["senderId"])

	handler.Handle(watchID, []byte(`{"type":"history","room":"project:42"}`))

	resp := watcher.last(t)
	assert.Equal(t, domain.TypeHistoryResponse, resp.Type())
	messages, ok := resp["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	replayed := messages[0].(map[string]any)
	assert.Equal(t, live["timestamp"], replayed["timestamp"])
	assert.Equal(t, "hi", replayed["text"])

	stats := h.Stats()
	assert.Equal(t, int64(4), stats.MessagesIn)
}

func TestHandler_ForwardToUnknownRoomRecordsNothing(t *testing.T) {
	h := hub.New(hub.Options{})
	handler := NewHandler(h)

	sender := &recordingTransport{}
	id, err := h.Accept(sender, "peer-a")
	require.NoError(t, err)
	handler.Handle(id, []byte(`{"type":"subscribe","room":"project:1"}`))

	for i := 0; i < 10; i++ {
		handler.Handle(id, []byte(fmt.Sprintf(`{"type":"note","targetRoom":"junk:%d"}`, i)))
	}

	for i := 0; i < 10; i++ {
		assert.False(t, h.Known(fmt.Sprintf("junk:%d", i)))
	}
	assert.Empty(t, h.Recent("junk:0", 10))
}
