package domain

import "time"

// EventType identifies what changed
type EventType string

const (
	EventTypeExecutionState    EventType = "execution.state"
	EventTypeNodeResult        EventType = "node.result"
	EventTypeExecutionVariable EventType = "execution.variable"
	EventTypeExecutionLog      EventType = "execution.log"
	EventTypeConnectionStatus  EventType = "connection.status"
)

// Topics used on the event bus
const (
	TopicExecutionEvents  = "execution.events"
	TopicConnectionEvents = "connection.events"
)

// Event is a change notification published on the event bus
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"execution_id,omitempty"`
	NodeID      string         `json:"node_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}
