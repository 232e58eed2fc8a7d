// Package events maps application events (agents, gates, budgets, stories,
// waves, kill switch) onto hub broadcasts with the canonical envelope types.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"statusfeed-server/domain"
)

var ErrUnknownEvent = errors.New("unknown event")

// Sink is the part of the hub the emitter needs.
type Sink interface {
	BroadcastAll(msg domain.Message, exclude ...string) int
	BroadcastRoom(room string, msg domain.Message, exclude ...string) int
}

type Emitter struct {
	sink Sink
}

func NewEmitter(s Sink) *Emitter {
	return &Emitter{sink: s}
}

func (e *Emitter) toProject(projectID, eventType string, data domain.Message) int {
	msg := data.Clone()
	msg["type"] = eventType
	return e.sink.BroadcastRoom(domain.ProjectRoom(projectID), msg)
}

func (e *Emitter) AgentReady(projectID string, data domain.Message) int {
	return e.toProject(projectID, domain.TypeAgentReady, data)
}

func (e *Emitter) AgentHeartbeat(projectID string, data domain.Message) int {
	return e.toProject(projectID, domain.TypeAgentHeartbeat, data)
}

func (e *Emitter) AgentProgress(projectID string, data domain.Message) int {
	return e.toProject(projectID, domain.TypeAgentProgress, data)
}

func (e *Emitter) AgentComplete(projectID string, data domain.Message) int {
	return e.toProject(projectID, domain.TypeAgentComplete, data)
}

func (e *Emitter) AgentStuck(projectID string, data domain.Message) int {
	return e.toProject(projectID, domain.TypeAgentStuck, data)
}

// AgentError carries a severity, "error" unless data sets one.
func (e *Emitter) AgentError(projectID string, data domain.Message) int {
	msg := data.Clone()
	if s, ok := msg["severity"].(string); !ok || s == "" {
		msg["severity"] = "error"
	}
	return e.toProject(projectID, domain.TypeAgentError, msg)
}

// GateTransition picks the event type from data["status"].
func (e *Emitter) GateTransition(projectID string, data domain.Message) int {
	status, _ := data["status"].(string)
	eventType := domain.TypeGateEntered
	switch status {
	case "complete":
		eventType = domain.TypeGateComplete
	case "rejected":
		eventType = domain.TypeGateRejected
	}
	return e.toProject(projectID, eventType, data)
}

// BudgetUpdate reports budget_exceeded once data["percentage"] reaches 100.
func (e *Emitter) BudgetUpdate(projectID string, data domain.Message) int {
	eventType := domain.TypeBudgetWarning
	if pct, ok := number(data["percentage"]); ok && pct >= 100 {
		eventType = domain.TypeBudgetExceeded
	}
	return e.toProject(projectID, eventType, data)
}

func (e *Emitter) StoryStarted(projectID string, data domain.Message) int {
	return e.toProject(projectID, domain.TypeStoryStarted, data)
}

func (e *Emitter) StoryUpdated(projectID string, data domain.Message) int {
	return e.toProject(projectID, domain.TypeStoryUpdated, data)
}

func (e *Emitter) StoryCompleted(projectID string, data domain.Message) int {
	return e.toProject(projectID, domain.TypeStoryCompleted, data)
}

func (e *Emitter) WaveStarted(projectID string, data domain.Message) int {
	return e.toProject(projectID, domain.TypeWaveStarted, data)
}

func (e *Emitter) WaveCompleted(projectID string, data domain.Message) int {
	return e.toProject(projectID, domain.TypeWaveCompleted, data)
}

// KillSwitch goes to every connection regardless of room.
func (e *Emitter) KillSwitch(data domain.Message) int {
	msg := data.Clone()
	msg["type"] = domain.TypeKillSwitch
	msg["severity"] = "critical"
	return e.sink.BroadcastAll(msg)
}

// Event is a named application event as carried on the bus or posted to
// the HTTP ingress. Event names are the canonical envelope types, except
// "gate" and "budget": those two pick gate_entered/gate_complete/
// gate_rejected and budget_warning/budget_exceeded from Data.
type Event struct {
	Event     string         `json:"event"`
	ProjectID string         `json:"projectId,omitempty"`
	Data      domain.Message `json:"data,omitempty"`
}

const (
	EventGate   = "gate"
	EventBudget = "budget"
)

// Validate reports whether Dispatch would accept the event. Unknown names
// wrap ErrUnknownEvent.
func (e *Emitter) Validate(event, projectID string) error {
	if event == domain.TypeKillSwitch {
		return nil
	}
	if _, ok := e.byName(event); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	if projectID == "" {
		return fmt.Errorf("event %q: missing project id", event)
	}
	return nil
}

// Dispatch routes a named event, as received from the bus or the HTTP
// ingress, to its emitter. It returns the number of recipients.
func (e *Emitter) Dispatch(event, projectID string, data domain.Message) (int, error) {
	if err := e.Validate(event, projectID); err != nil {
		return 0, err
	}
	if event == domain.TypeKillSwitch {
		return e.KillSwitch(data), nil
	}
	emit, _ := e.byName(event)
	return emit(projectID, data), nil
}

func (e *Emitter) byName(event string) (func(string, domain.Message) int, bool) {
	switch event {
	case domain.TypeAgentReady:
		return e.AgentReady, true
	case domain.TypeAgentHeartbeat:
		return e.AgentHeartbeat, true
	case domain.TypeAgentProgress:
		return e.AgentProgress, true
	case domain.TypeAgentComplete:
		return e.AgentComplete, true
	case domain.TypeAgentError:
		return e.AgentError, true
	case domain.TypeAgentStuck:
		return e.AgentStuck, true
	case EventGate:
		return e.GateTransition, true
	case EventBudget:
		return e.BudgetUpdate, true
	case domain.TypeStoryStarted:
		return e.StoryStarted, true
	case domain.TypeStoryUpdated:
		return e.StoryUpdated, true
	case domain.TypeStoryCompleted:
		return e.StoryCompleted, true
	case domain.TypeWaveStarted:
		return e.WaveStarted, true
	case domain.TypeWaveCompleted:
		return e.WaveCompleted, true
	}
	return nil, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
