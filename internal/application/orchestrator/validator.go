package orchestrator

import (
	"fmt"
	"strings"

	"github.com/aescanero/dago-studio/internal/application/templates"
	"github.com/aescanero/dago-studio/internal/domain"
)

// Scale thresholds above which the validator suggests splitting a workflow.
const (
	MaxRecommendedNodes = 50
	MaxRecommendedEdges = 100
)

// IssueKind classifies a validation finding
type IssueKind string

const (
	// IssueStructural covers cycles, unknown node types and bad edge endpoints.
	IssueStructural IssueKind = "structural"
	// IssueTypeMismatch covers incompatible port data types.
	IssueTypeMismatch IssueKind = "type_mismatch"
	// IssueAdvisory is non-fatal.
	IssueAdvisory IssueKind = "advisory"
	// IssueSuggestion is a non-blocking hint.
	IssueSuggestion IssueKind = "suggestion"
)

// Issue is one validation finding with the nodes it concerns
type Issue struct {
	Kind    IssueKind `json:"kind"`
	Message string    `json:"message"`
	NodeIDs []string  `json:"nodeIds,omitempty"`
}

// ValidationResult collects every finding of one validation pass
type ValidationResult struct {
	Valid       bool     `json:"valid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
	Issues      []Issue  `json:"issues"`
}

func newValidationResult() *ValidationResult {
	return &ValidationResult{
		Valid:       true,
		Errors:      []string{},
		Warnings:    []string{},
		Suggestions: []string{},
		Issues:      []Issue{},
	}
}

func (r *ValidationResult) addError(kind IssueKind, msg string, nodeIDs ...string) {
	r.Valid = false
	r.Errors = append(r.Errors, msg)
	r.Issues = append(r.Issues, Issue{Kind: kind, Message: msg, NodeIDs: nodeIDs})
}

func (r *ValidationResult) addWarning(msg string, nodeIDs ...string) {
	r.Warnings = append(r.Warnings, msg)
	r.Issues = append(r.Issues, Issue{Kind: IssueAdvisory, Message: msg, NodeIDs: nodeIDs})
}

func (r *ValidationResult) addSuggestion(msg string) {
	r.Suggestions = append(r.Suggestions, msg)
	r.Issues = append(r.Issues, Issue{Kind: IssueSuggestion, Message: msg})
}

// TemplateLookup resolves node types to their templates
type TemplateLookup interface {
	Lookup(nodeType string) (*templates.Template, bool)
}

// ValidateOptions tunes a validation pass
type ValidateOptions struct {
	// RequireTrigger turns a missing trigger node into an error. The session
	// controller's pre-flight gate sets it.
	RequireTrigger bool
}

// Validator validates graph structures
type Validator struct {
	templates TemplateLookup
}

// NewValidator creates a new graph validator
func NewValidator(t TemplateLookup) *Validator {
	return &Validator{templates: t}
}

// Validate runs every check against g and reports all findings at once.
// It never modifies g.
func (v *Validator) Validate(g *domain.Graph, opts ValidateOptions) *ValidationResult {
	result := newValidationResult()
	if g == nil {
		result.addError(IssueStructural, "workflow is nil")
		return result
	}

	index := g.NodeIndex()

	v.checkNotEmpty(g, result)
	v.checkIdentity(g, index, result)
	v.checkNodeTypes(g, result)
	v.checkPortTypes(g, index, result)
	v.checkCycles(g, index, result)
	v.checkIsolated(g, index, result)
	v.checkTrigger(g, opts, result)
	v.checkTerminal(g, index, result)
	v.checkScale(g, result)

	return result
}

func (v *Validator) checkNotEmpty(g *domain.Graph, result *ValidationResult) {
	if len(g.Nodes) == 0 {
		result.addError(IssueStructural, "workflow has no nodes")
	}
}

// checkIdentity reports duplicate node ids and edges whose endpoints do not
// exist.
func (v *Validator) checkIdentity(g *domain.Graph, index map[string]int, result *ValidationResult) {
	seen := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			result.addError(IssueStructural, "node with empty ID")
			continue
		}
		if seen[n.ID] {
			result.addError(IssueStructural, fmt.Sprintf("duplicate node ID: %s", n.ID), n.ID)
		}
		seen[n.ID] = true
	}

	for _, e := range g.Edges {
		if _, ok := index[e.SourceNodeID]; !ok {
			result.addError(IssueStructural,
				fmt.Sprintf("edge %s references non-existent source node: %s", e.ID, e.SourceNodeID))
		}
		if _, ok := index[e.TargetNodeID]; !ok {
			result.addError(IssueStructural,
				fmt.Sprintf("edge %s references non-existent target node: %s", e.ID, e.TargetNodeID))
		}
	}
}

func (v *Validator) checkNodeTypes(g *domain.Graph, result *ValidationResult) {
	for _, n := range g.Nodes {
		if _, ok := v.lookup(n.Type); !ok {
			result.addError(IssueStructural,
				fmt.Sprintf("node %s has unknown type %q", n.ID, n.Type), n.ID)
		}
	}
}

// checkPortTypes compares the declared output type of each edge's source port
// with the declared input type of its target port.
func (v *Validator) checkPortTypes(g *domain.Graph, index map[string]int, result *ValidationResult) {
	for _, e := range g.Edges {
		si, sok := index[e.SourceNodeID]
		ti, tok := index[e.TargetNodeID]
		if !sok || !tok {
			continue
		}
		src, dst := g.Nodes[si], g.Nodes[ti]

		srcTmpl, ok1 := v.lookup(src.Type)
		dstTmpl, ok2 := v.lookup(dst.Type)
		if !ok1 || !ok2 {
			continue
		}

		out, ok := srcTmpl.Output(e.SourcePort)
		if !ok {
			result.addError(IssueStructural,
				fmt.Sprintf("edge %s: node %s (%s) has no output port %q", e.ID, src.ID, src.Type, e.SourcePort),
				src.ID)
			continue
		}
		in, ok := dstTmpl.Input(e.TargetPort)
		if !ok {
			result.addError(IssueStructural,
				fmt.Sprintf("edge %s: node %s (%s) has no input port %q", e.ID, dst.ID, dst.Type, e.TargetPort),
				dst.ID)
			continue
		}

		if !out.DataType.Compatible(in.DataType) {
			result.addError(IssueTypeMismatch,
				fmt.Sprintf("edge %s: type mismatch between %s.%s (%s) and %s.%s (%s)",
					e.ID, src.ID, out.Name, out.DataType, dst.ID, in.Name, in.DataType),
				src.ID, dst.ID)
		}
	}
}

// checkCycles walks the graph depth first with white/gray/black colouring.
// Every back edge found yields one error listing the cycle in traversal order.
func (v *Validator) checkCycles(g *domain.Graph, index map[string]int, result *ValidationResult) {
	adj := adjacency(g, index)

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(index))
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)

		for _, next := range adj[id] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				start := len(stack) - 1
				for stack[start] != next {
					start--
				}
				members := append([]string(nil), stack[start:]...)
				path := append(append([]string(nil), members...), next)
				result.addError(IssueStructural,
					fmt.Sprintf("cycle detected: %s", strings.Join(path, " -> ")),
					members...)
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, n := range g.Nodes {
		if color[n.ID] == white {
			visit(n.ID)
		}
	}
}

// checkIsolated warns about nodes with no incident edges. A single-node
// workflow is not considered disconnected.
func (v *Validator) checkIsolated(g *domain.Graph, index map[string]int, result *ValidationResult) {
	if len(g.Nodes) < 2 {
		return
	}
	connected := make(map[string]bool, len(g.Nodes))
	for _, e := range g.Edges {
		_, sok := index[e.SourceNodeID]
		_, tok := index[e.TargetNodeID]
		if sok && tok {
			connected[e.SourceNodeID] = true
			connected[e.TargetNodeID] = true
		}
	}
	for _, n := range g.Nodes {
		if !connected[n.ID] {
			result.addWarning(fmt.Sprintf("node %s is not connected to any other node", n.ID), n.ID)
		}
	}
}

func (v *Validator) checkTrigger(g *domain.Graph, opts ValidateOptions, result *ValidationResult) {
	for _, n := range g.Nodes {
		if v.category(n) == domain.CategoryTrigger {
			return
		}
	}
	const msg = "workflow has no trigger node"
	if opts.RequireTrigger {
		result.addError(IssueStructural, msg)
		return
	}
	result.addWarning(msg)
}

func (v *Validator) checkTerminal(g *domain.Graph, index map[string]int, result *ValidationResult) {
	if len(g.Nodes) < 2 {
		return
	}
	hasOutgoing := make(map[string]bool, len(g.Nodes))
	for _, e := range g.Edges {
		if _, ok := index[e.TargetNodeID]; ok {
			hasOutgoing[e.SourceNodeID] = true
		}
	}
	for _, n := range g.Nodes {
		if !hasOutgoing[n.ID] {
			return
		}
	}
	result.addWarning("workflow has no terminal node; execution may not terminate observably")
}

func (v *Validator) checkScale(g *domain.Graph, result *ValidationResult) {
	if len(g.Nodes) > MaxRecommendedNodes {
		result.addSuggestion(fmt.Sprintf(
			"workflow has %d nodes (more than %d); consider splitting it into smaller workflows",
			len(g.Nodes), MaxRecommendedNodes))
	}
	if len(g.Edges) > MaxRecommendedEdges {
		result.addSuggestion(fmt.Sprintf(
			"workflow has %d edges (more than %d); consider grouping related steps",
			len(g.Edges), MaxRecommendedEdges))
	}
}

func (v *Validator) lookup(nodeType string) (*templates.Template, bool) {
	if v.templates == nil {
		return nil, false
	}
	return v.templates.Lookup(nodeType)
}

// category prefers the template's category over the one stored on the node.
func (v *Validator) category(n domain.Node) domain.NodeCategory {
	if t, ok := v.lookup(n.Type); ok {
		return t.Category
	}
	return n.Category
}

// adjacency lists successors per node in edge order, skipping edges with a
// missing endpoint.
func adjacency(g *domain.Graph, index map[string]int) map[string][]string {
	adj := make(map[string][]string, len(index))
	for _, e := range g.Edges {
		_, sok := index[e.SourceNodeID]
		_, tok := index[e.TargetNodeID]
		if sok && tok {
			adj[e.SourceNodeID] = append(adj[e.SourceNodeID], e.TargetNodeID)
		}
	}
	return adj
}
