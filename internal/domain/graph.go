package domain

import (
	"fmt"
	"time"
)

// NodeStatus is the display status of a node in the graph.
type NodeStatus string

const (
	NodeStatusIdle      NodeStatus = "idle"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// IsTerminal reports whether a node in this status will not change again
// unless the backend restarts it.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed || s == NodeStatusSkipped
}

// NodeCategory groups node types.
type NodeCategory string

const (
	CategoryTrigger NodeCategory = "trigger"
	CategoryAction  NodeCategory = "action"
	CategoryLogic   NodeCategory = "logic"
	CategoryData    NodeCategory = "data"
)

// DataType is the declared type of a node port.
type DataType string

const (
	DataTypeAny     DataType = "any"
	DataTypeFlow    DataType = "flow"
	DataTypeString  DataType = "string"
	DataTypeNumber  DataType = "number"
	DataTypeBoolean DataType = "boolean"
	DataTypeObject  DataType = "object"
	DataTypeArray   DataType = "array"
	DataTypeImage   DataType = "image"
	DataTypePoint   DataType = "point"
)

// Compatible reports whether a value of type d may flow into a port of type
// other. The wildcard "any" matches everything.
func (d DataType) Compatible(other DataType) bool {
	return d == other || d == DataTypeAny || other == DataTypeAny
}

// ErrorHandling selects what happens to a run when a node fails.
type ErrorHandling string

const (
	ErrorHandlingStop     ErrorHandling = "stop"
	ErrorHandlingContinue ErrorHandling = "continue"
)

// Position is a node's location on the canvas. The core never interprets it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a single step of the automation graph.
type Node struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Category NodeCategory   `json:"category"`
	Label    string         `json:"label,omitempty"`
	Position Position       `json:"position"`
	Config   map[string]any `json:"config,omitempty"`
	Status   NodeStatus     `json:"status"`
}

// Edge is a directed, typed link between an output port and an input port.
type Edge struct {
	ID           string   `json:"id"`
	SourceNodeID string   `json:"sourceNodeId"`
	SourcePort   string   `json:"sourcePort,omitempty"`
	TargetNodeID string   `json:"targetNodeId"`
	TargetPort   string   `json:"targetPort,omitempty"`
	DataType     DataType `json:"dataType,omitempty"`

	// Presentation fields carried through import/export untouched.
	Type     string         `json:"type,omitempty"`
	Animated bool           `json:"animated,omitempty"`
	Style    map[string]any `json:"style,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Metadata describes a workflow.
type Metadata struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Author      string    `json:"author"`
	Tags        []string  `json:"tags"`
	Category    string    `json:"category"`
}

// Settings are per-workflow execution settings.
type Settings struct {
	AutoSave          bool          `json:"auto_save"`
	ExecutionTimeout  int           `json:"execution_timeout"`
	RetryCount        int           `json:"retry_count"`
	ParallelExecution bool          `json:"parallel_execution"`
	ErrorHandling     ErrorHandling `json:"error_handling"`
}

// DefaultSettings returns the settings applied to new workflows.
func DefaultSettings() Settings {
	return Settings{
		AutoSave:          true,
		ExecutionTimeout:  300,
		RetryCount:        0,
		ParallelExecution: false,
		ErrorHandling:     ErrorHandlingStop,
	}
}

// Viewport is the canvas viewport saved with a workflow.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Graph is a workflow: ordered nodes, edges and metadata.
type Graph struct {
	Metadata  Metadata       `json:"metadata"`
	Nodes     []Node         `json:"nodes"`
	Edges     []Edge         `json:"edges"`
	Variables map[string]any `json:"variables,omitempty"`
	Settings  Settings       `json:"settings"`
	Viewport  Viewport       `json:"viewport"`
}

// NewGraph returns an empty graph with default settings.
func NewGraph(id, name string) *Graph {
	now := time.Now().UTC()
	return &Graph{
		Metadata: Metadata{
			ID:        id,
			Name:      name,
			Version:   "1.0.0",
			CreatedAt: now,
			UpdatedAt: now,
			Tags:      []string{},
		},
		Nodes:     []Node{},
		Edges:     []Edge{},
		Variables: map[string]any{},
		Settings:  DefaultSettings(),
		Viewport:  Viewport{Zoom: 1},
	}
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// NodeIndex maps node ids to their insertion position. When ids repeat the
// first occurrence wins.
func (g *Graph) NodeIndex() map[string]int {
	idx := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		if _, dup := idx[n.ID]; !dup {
			idx[n.ID] = i
		}
	}
	return idx
}

// AddNode appends a node. Node ids must be unique.
func (g *Graph) AddNode(n Node) error {
	if n.ID == "" {
		return fmt.Errorf("node ID is required")
	}
	if _, exists := g.Node(n.ID); exists {
		return fmt.Errorf("duplicate node ID: %s", n.ID)
	}
	if n.Status == "" {
		n.Status = NodeStatusIdle
	}
	g.Nodes = append(g.Nodes, n)
	return nil
}

// RemoveNode deletes a node and every edge touching it.
func (g *Graph) RemoveNode(id string) bool {
	pos := -1
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false
	}
	g.Nodes = append(g.Nodes[:pos], g.Nodes[pos+1:]...)

	kept := g.Edges[:0]
	for _, e := range g.Edges {
		if e.SourceNodeID != id && e.TargetNodeID != id {
			kept = append(kept, e)
		}
	}
	g.Edges = kept
	return true
}

// AddEdge appends an edge whose endpoints must already exist.
func (g *Graph) AddEdge(e Edge) error {
	if e.SourceNodeID == e.TargetNodeID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", e.SourceNodeID, e.TargetNodeID)
	}
	if _, ok := g.Node(e.SourceNodeID); !ok {
		return fmt.Errorf("source node not found: %s", e.SourceNodeID)
	}
	if _, ok := g.Node(e.TargetNodeID); !ok {
		return fmt.Errorf("target node not found: %s", e.TargetNodeID)
	}
	if e.ID == "" {
		e.ID = fmt.Sprintf("e-%s-%s", e.SourceNodeID, e.TargetNodeID)
	}
	for _, existing := range g.Edges {
		if existing.ID == e.ID {
			return fmt.Errorf("duplicate edge ID: %s", e.ID)
		}
	}
	g.Edges = append(g.Edges, e)
	return nil
}

// Clone returns a copy that shares no slices or top-level maps with g.
// Values nested inside node config are shared.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	out := *g
	out.Metadata.Tags = append([]string(nil), g.Metadata.Tags...)
	out.Nodes = make([]Node, len(g.Nodes))
	for i, n := range g.Nodes {
		n.Config = cloneMap(n.Config)
		out.Nodes[i] = n
	}
	out.Edges = make([]Edge, len(g.Edges))
	for i, e := range g.Edges {
		e.Style = cloneMap(e.Style)
		e.Data = cloneMap(e.Data)
		out.Edges[i] = e
	}
	out.Variables = cloneMap(g.Variables)
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
