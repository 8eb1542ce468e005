package templates

import (
	"fmt"
	"sort"
	"sync"

	"dario.cat/mergo"
	json "github.com/goccy/go-json"

	"github.com/aescanero/dago-studio/internal/domain"
)

// Port is a named, typed connection point of a node
type Port struct {
	Name     string          `json:"name"`
	DataType domain.DataType `json:"dataType"`
}

// Template describes a node type
type Template struct {
	Type        string              `json:"type"`
	Category    domain.NodeCategory `json:"category"`
	Label       string              `json:"label"`
	Description string              `json:"description,omitempty"`
	Inputs      []Port              `json:"inputs"`
	Outputs     []Port              `json:"outputs"`
	Defaults    map[string]any      `json:"defaults"`
}

// Input returns the named input port. An empty name selects the first one.
func (t *Template) Input(name string) (Port, bool) {
	return findPort(t.Inputs, name)
}

// Output returns the named output port. An empty name selects the first one.
func (t *Template) Output(name string) (Port, bool) {
	return findPort(t.Outputs, name)
}

func findPort(ports []Port, name string) (Port, bool) {
	if name == "" {
		if len(ports) == 0 {
			return Port{}, false
		}
		return ports[0], true
	}
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// Registry holds node templates by type
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		templates: make(map[string]*Template),
	}
}

// NewBuiltinRegistry creates a registry preloaded with the built-in catalogue
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, t := range builtinTemplates() {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a template. Types must be unique.
func (r *Registry) Register(t Template) error {
	if t.Type == "" {
		return fmt.Errorf("template type is required")
	}
	if t.Category == "" {
		return fmt.Errorf("template %s has no category", t.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.templates[t.Type]; exists {
		return fmt.Errorf("duplicate template type: %s", t.Type)
	}
	if t.Defaults == nil {
		t.Defaults = map[string]any{}
	}
	r.templates[t.Type] = &t
	return nil
}

// Lookup returns the template for a node type
func (r *Registry) Lookup(nodeType string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.templates[nodeType]
	return t, ok
}

// List returns all templates sorted by category then type
func (r *Registry) List() []Template {
	r.mu.RLock()
	out := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, *t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// ResolveConfig merges user config over the defaults of nodeType. The
// template defaults are never modified. The result holds JSON values only
// (float64 numbers, []any, map[string]any) so it compares equal to a config
// read back from a workflow file.
func (r *Registry) ResolveConfig(nodeType string, user map[string]any) (map[string]any, error) {
	t, ok := r.Lookup(nodeType)
	if !ok {
		return nil, fmt.Errorf("unknown node type: %s", nodeType)
	}

	resolved := copyValue(t.Defaults).(map[string]any)
	if len(user) > 0 {
		if err := mergo.Merge(&resolved, copyValue(user).(map[string]any), mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config for %s: %w", nodeType, err)
		}
	}
	return normalizeConfig(nodeType, resolved)
}

func normalizeConfig(nodeType string, cfg map[string]any) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config for %s is not JSON encodable: %w", nodeType, err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode config for %s: %w", nodeType, err)
	}
	return out, nil
}

// NewNode creates an idle node of nodeType with its config resolved
func (r *Registry) NewNode(id, nodeType string, pos domain.Position, config map[string]any) (domain.Node, error) {
	t, ok := r.Lookup(nodeType)
	if !ok {
		return domain.Node{}, fmt.Errorf("unknown node type: %s", nodeType)
	}

	resolved, err := r.ResolveConfig(nodeType, config)
	if err != nil {
		return domain.Node{}, err
	}

	return domain.Node{
		ID:       id,
		Type:     nodeType,
		Category: t.Category,
		Label:    t.Label,
		Position: pos,
		Config:   resolved,
		Status:   domain.NodeStatusIdle,
	}, nil
}

// Connect adds an edge between two ports of g, typing it after the source
// port. Empty port names select the default (first) port.
func (r *Registry) Connect(g *domain.Graph, sourceID, sourcePort, targetID, targetPort string) (domain.Edge, error) {
	src, ok := g.Node(sourceID)
	if !ok {
		return domain.Edge{}, fmt.Errorf("source node not found: %s", sourceID)
	}
	tgt, ok := g.Node(targetID)
	if !ok {
		return domain.Edge{}, fmt.Errorf("target node not found: %s", targetID)
	}

	srcTemplate, ok := r.Lookup(src.Type)
	if !ok {
		return domain.Edge{}, fmt.Errorf("unknown node type: %s", src.Type)
	}
	tgtTemplate, ok := r.Lookup(tgt.Type)
	if !ok {
		return domain.Edge{}, fmt.Errorf("unknown node type: %s", tgt.Type)
	}

	out, ok := srcTemplate.Output(sourcePort)
	if !ok {
		return domain.Edge{}, fmt.Errorf("node %s has no output port %q", sourceID, sourcePort)
	}
	in, ok := tgtTemplate.Input(targetPort)
	if !ok {
		return domain.Edge{}, fmt.Errorf("node %s has no input port %q", targetID, targetPort)
	}

	e := domain.Edge{
		ID:           fmt.Sprintf("e-%s-%s-%s-%s", sourceID, out.Name, targetID, in.Name),
		SourceNodeID: sourceID,
		SourcePort:   out.Name,
		TargetNodeID: targetID,
		TargetPort:   in.Name,
		DataType:     out.DataType,
	}
	if err := g.AddEdge(e); err != nil {
		return domain.Edge{}, err
	}
	return e, nil
}

// copyValue deep-copies maps and slices decoded from JSON.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
