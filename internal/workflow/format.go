package workflow

import (
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"

	"github.com/aescanero/dago-studio/internal/application/templates"
	"github.com/aescanero/dago-studio/internal/domain"
)

// Document is the on-disk workflow representation
type Document struct {
	Metadata  domain.Metadata `json:"metadata"`
	Nodes     []Node          `json:"nodes"`
	Edges     []Edge          `json:"edges"`
	Variables map[string]any  `json:"variables"`
	Settings  domain.Settings `json:"settings"`
	Viewport  domain.Viewport `json:"viewport"`
}

// Node is a node as stored in a workflow file
type Node struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Label    string          `json:"label"`
	Position domain.Position `json:"position"`
	Data     map[string]any  `json:"data"`
}

// Edge is an edge as stored in a workflow file
type Edge struct {
	ID           string         `json:"id"`
	Source       string         `json:"source"`
	Target       string         `json:"target"`
	SourceHandle string         `json:"sourceHandle"`
	TargetHandle string         `json:"targetHandle"`
	DataType     string         `json:"dataType,omitempty"`
	Type         string         `json:"type,omitempty"`
	Animated     bool           `json:"animated,omitempty"`
	Style        map[string]any `json:"style,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// Export converts a graph into its file representation.
func Export(g *domain.Graph) *Document {
	doc := &Document{
		Metadata:  g.Metadata,
		Nodes:     make([]Node, 0, len(g.Nodes)),
		Edges:     make([]Edge, 0, len(g.Edges)),
		Variables: copyMap(g.Variables),
		Settings:  g.Settings,
		Viewport:  g.Viewport,
	}
	if doc.Variables == nil {
		doc.Variables = map[string]any{}
	}
	if doc.Metadata.Tags == nil {
		doc.Metadata.Tags = []string{}
	}

	for _, n := range g.Nodes {
		data := copyMap(n.Config)
		if data == nil {
			data = map[string]any{}
		}
		doc.Nodes = append(doc.Nodes, Node{
			ID:       n.ID,
			Type:     n.Type,
			Label:    n.Label,
			Position: n.Position,
			Data:     data,
		})
	}

	for _, e := range g.Edges {
		doc.Edges = append(doc.Edges, Edge{
			ID:           e.ID,
			Source:       e.SourceNodeID,
			Target:       e.TargetNodeID,
			SourceHandle: e.SourcePort,
			TargetHandle: e.TargetPort,
			DataType:     string(e.DataType),
			Type:         e.Type,
			Animated:     e.Animated,
			Style:        copyMap(e.Style),
			Data:         copyMap(e.Data),
		})
	}

	return doc
}

// Import converts a file representation into a graph. When reg is non-nil
// node categories are filled in and configs are resolved against the
// template defaults; nodes of unknown type are kept as-is so the validator
// can report them.
func Import(doc *Document, reg *templates.Registry) (*domain.Graph, error) {
	if doc == nil {
		return nil, fmt.Errorf("workflow document is nil")
	}

	g := &domain.Graph{
		Metadata:  doc.Metadata,
		Nodes:     make([]domain.Node, 0, len(doc.Nodes)),
		Edges:     make([]domain.Edge, 0, len(doc.Edges)),
		Variables: copyMap(doc.Variables),
		Settings:  doc.Settings,
		Viewport:  doc.Viewport,
	}
	if g.Settings.ErrorHandling == "" {
		g.Settings.ErrorHandling = domain.ErrorHandlingStop
	}

	for i, fn := range doc.Nodes {
		if fn.ID == "" {
			return nil, fmt.Errorf("node at index %d has empty ID", i)
		}
		n := domain.Node{
			ID:       fn.ID,
			Type:     fn.Type,
			Label:    fn.Label,
			Position: fn.Position,
			Config:   copyMap(fn.Data),
			Status:   domain.NodeStatusIdle,
		}
		if n.Config == nil {
			n.Config = map[string]any{}
		}
		if reg != nil {
			if t, ok := reg.Lookup(fn.Type); ok {
				n.Category = t.Category
				resolved, err := reg.ResolveConfig(fn.Type, n.Config)
				if err != nil {
					return nil, fmt.Errorf("node %s: %w", fn.ID, err)
				}
				n.Config = resolved
			}
		}
		g.Nodes = append(g.Nodes, n)
	}

	for i, fe := range doc.Edges {
		if fe.ID == "" {
			return nil, fmt.Errorf("edge at index %d has empty ID", i)
		}
		e := domain.Edge{
			ID:           fe.ID,
			SourceNodeID: fe.Source,
			SourcePort:   fe.SourceHandle,
			TargetNodeID: fe.Target,
			TargetPort:   fe.TargetHandle,
			DataType:     domain.DataType(fe.DataType),
			Type:         fe.Type,
			Animated:     fe.Animated,
			Style:        copyMap(fe.Style),
			Data:         copyMap(fe.Data),
		}
		g.Edges = append(g.Edges, e)
	}

	return g, nil
}

// Marshal serialises a graph in the workflow file format. Missing creation
// and update timestamps are filled in.
func Marshal(g *domain.Graph) ([]byte, error) {
	doc := Export(g)
	now := time.Now().UTC()
	if doc.Metadata.CreatedAt.IsZero() {
		doc.Metadata.CreatedAt = now
	}
	if doc.Metadata.UpdatedAt.IsZero() {
		doc.Metadata.UpdatedAt = now
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow: %w", err)
	}
	return data, nil
}

// Unmarshal parses a workflow file.
func Unmarshal(data []byte, reg *templates.Registry) (*domain.Graph, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return Import(&doc, reg)
}

// ReadFile loads a workflow file from disk.
func ReadFile(path string, reg *templates.Registry) (*domain.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return Unmarshal(data, reg)
}

// WriteFile stores a workflow file on disk.
func WriteFile(path string, g *domain.Graph) error {
	data, err := Marshal(g)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write workflow file: %w", err)
	}
	return nil
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
