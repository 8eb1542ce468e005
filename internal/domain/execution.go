package domain

import (
	"fmt"
	"time"
)

// ExecutionStatus represents the lifecycle status of a run
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the run is over.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// ExecutionPlan is the verified, leveled run order of a graph
type ExecutionPlan struct {
	ExecutionOrder      []string            `json:"executionOrder"`
	ParallelGroups      [][]string          `json:"parallelGroups"`
	Dependencies        map[string][]string `json:"dependencies"`
	EstimatedDurationMs int64               `json:"estimatedDurationMs"`
}

// Contains reports whether the plan schedules the node.
func (p *ExecutionPlan) Contains(nodeID string) bool {
	if p == nil {
		return false
	}
	_, ok := p.Dependencies[nodeID]
	return ok
}

// Progress counts plan nodes by outcome
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// ExecutionState is the aggregated state of one run
type ExecutionState struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflowId"`
	Status        ExecutionStatus `json:"status"`
	StartTime     *time.Time      `json:"startTime,omitempty"`
	EndTime       *time.Time      `json:"endTime,omitempty"`
	CurrentNodeID string          `json:"currentNodeId,omitempty"`
	Progress      Progress        `json:"progress"`
	DebugMode     bool            `json:"debugMode"`
	StepByStep    bool            `json:"stepByStep"`
}

// NodeExecutionResult is the latest reported outcome of one node
type NodeExecutionResult struct {
	NodeID     string     `json:"nodeId"`
	Status     NodeStatus `json:"status"`
	StartTime  *time.Time `json:"startTime,omitempty"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	OutputData any        `json:"outputData,omitempty"`
	Error      string     `json:"error,omitempty"`
	Logs       []string   `json:"logs,omitempty"`
}

// ExecutionVariable is a named value produced during a run
type ExecutionVariable struct {
	Name   string `json:"name"`
	Value  any    `json:"value"`
	Type   string `json:"type"`
	NodeID string `json:"nodeId,omitempty"`
}

// LogLevel of an execution log entry
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogEntry is one line of the execution log shown to the user
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	NodeID    string    `json:"nodeId,omitempty"`
}

// String renders the entry as a human-readable timestamped line.
func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s", e.Timestamp.Format("15:04:05.000"), e.Message)
}

// ExecutionSnapshot is a point-in-time copy of everything a session owns,
// used for persistence and for API responses.
type ExecutionSnapshot struct {
	State       ExecutionState                 `json:"state"`
	Plan        *ExecutionPlan                 `json:"plan,omitempty"`
	Results     map[string]NodeExecutionResult `json:"results"`
	Variables   map[string]ExecutionVariable   `json:"variables"`
	Log         []LogEntry                     `json:"log"`
	Breakpoints []string                       `json:"breakpoints"`
	SavedAt     time.Time                      `json:"savedAt"`
}
