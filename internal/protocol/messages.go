package protocol

import (
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// MessageType is the discriminator carried in every message
type MessageType string

const (
	// Outbound
	TypeHandshake MessageType = "handshake"
	TypePing      MessageType = "ping"
	TypeStart     MessageType = "start"
	TypePause     MessageType = "pause"
	TypeResume    MessageType = "resume"
	TypeStop      MessageType = "stop"
	TypeStep      MessageType = "step"

	// Inbound
	TypePong            MessageType = "pong"
	TypeNodeStatus      MessageType = "node_status"
	TypeExecutionStatus MessageType = "execution_status"
	TypeError           MessageType = "error"
	TypeCommandResult   MessageType = "command_result"
	TypeVariable        MessageType = "variable"
)

// ErrUnknownType is returned by Decode for an unrecognised discriminator.
var ErrUnknownType = errors.New("unknown message type")

// IsCommand reports whether t is a run-control command.
func (t MessageType) IsCommand() bool {
	switch t {
	case TypeStart, TypePause, TypeResume, TypeStop, TypeStep:
		return true
	}
	return false
}

// Envelope is used to peek at the discriminator
type Envelope struct {
	Type MessageType `json:"type"`
}

// Handshake identifies the client right after the channel opens
type Handshake struct {
	Type         MessageType `json:"type"`
	ClientType   string      `json:"clientType"`
	ClientID     string      `json:"clientId"`
	Capabilities []string    `json:"capabilities"`
}

// NewHandshake builds a handshake message.
func NewHandshake(clientType, clientID string, capabilities []string) *Handshake {
	return &Handshake{
		Type:         TypeHandshake,
		ClientType:   clientType,
		ClientID:     clientID,
		Capabilities: capabilities,
	}
}

// Ping is the heartbeat probe; Pong echoes it back
type Ping struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

// NewPing builds a ping stamped with t in unix milliseconds.
func NewPing(t time.Time) *Ping {
	return &Ping{Type: TypePing, Timestamp: t.UnixMilli()}
}

// Pong answers a ping
type Pong struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

// PlanHints carries the planner's ordering to the backend
type PlanHints struct {
	ExecutionOrder []string   `json:"execution_order"`
	ParallelGroups [][]string `json:"parallel_groups"`
}

// Command is a run-control command: start, pause, resume, stop or step
type Command struct {
	Type        MessageType `json:"type"`
	ExecutionID string      `json:"execution_id"`
	RequestID   string      `json:"request_id,omitempty"`

	// Set on start only.
	WorkflowID    string     `json:"workflow_id,omitempty"`
	Workflow      any        `json:"workflow,omitempty"`
	Plan          *PlanHints `json:"plan,omitempty"`
	DebugMode     bool       `json:"debug_mode,omitempty"`
	StepByStep    bool       `json:"step_by_step,omitempty"`
	Breakpoints   []string   `json:"breakpoints,omitempty"`
	ErrorHandling string     `json:"error_handling,omitempty"`
}

// NewCommand builds a bare command for an execution.
func NewCommand(t MessageType, executionID, requestID string) *Command {
	return &Command{Type: t, ExecutionID: executionID, RequestID: requestID}
}

// NodeResult is the payload of a node status push
type NodeResult struct {
	Status    string     `json:"status"`
	Output    any        `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	Logs      []string   `json:"logs,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// NodeStatus reports progress of one node
type NodeStatus struct {
	Type        MessageType `json:"type"`
	ExecutionID string      `json:"execution_id,omitempty"`
	NodeID      string      `json:"node_id"`
	Result      NodeResult  `json:"result"`
}

// ExecutionInfo accompanies an execution status push
type ExecutionInfo struct {
	ID            string `json:"id,omitempty"`
	CurrentNodeID string `json:"current_node_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ExecutionStatus reports the backend's view of the run
type ExecutionStatus struct {
	Type      MessageType    `json:"type"`
	Status    string         `json:"status"`
	Execution *ExecutionInfo `json:"execution,omitempty"`
}

// Error is a backend-reported error not tied to a node
type Error struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// CommandResult acknowledges a command carrying a request id
type CommandResult struct {
	Type        MessageType `json:"type"`
	RequestID   string      `json:"request_id"`
	Command     MessageType `json:"command,omitempty"`
	ExecutionID string      `json:"execution_id,omitempty"`
	Success     bool        `json:"success"`
	Error       string      `json:"error,omitempty"`
}

// Variable publishes a named value produced during the run
type Variable struct {
	Type        MessageType `json:"type"`
	ExecutionID string      `json:"execution_id,omitempty"`
	NodeID      string      `json:"node_id,omitempty"`
	Name        string      `json:"name"`
	Value       any         `json:"value"`
	DataType    string      `json:"data_type,omitempty"`
}

// Encode serialises a message.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Decode parses raw bytes into the typed message named by its discriminator.
// The returned value is a pointer to one of the message structs.
func Decode(data []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	var msg any
	switch env.Type {
	case TypePong:
		msg = &Pong{}
	case TypePing:
		msg = &Ping{}
	case TypeHandshake:
		msg = &Handshake{}
	case TypeNodeStatus:
		msg = &NodeStatus{}
	case TypeExecutionStatus:
		msg = &ExecutionStatus{}
	case TypeError:
		msg = &Error{}
	case TypeCommandResult:
		msg = &CommandResult{}
	case TypeVariable:
		msg = &Variable{}
	case TypeStart, TypePause, TypeResume, TypeStop, TypeStep:
		msg = &Command{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to decode %s message: %w", env.Type, err)
	}
	return msg, nil
}

// TypeOf returns the discriminator of a decoded message.
func TypeOf(msg any) MessageType {
	switch m := msg.(type) {
	case *Handshake:
		return m.Type
	case *Ping:
		return m.Type
	case *Pong:
		return m.Type
	case *Command:
		return m.Type
	case *NodeStatus:
		return m.Type
	case *ExecutionStatus:
		return m.Type
	case *Error:
		return m.Type
	case *CommandResult:
		return m.Type
	case *Variable:
		return m.Type
	}
	return ""
}
