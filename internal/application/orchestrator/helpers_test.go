package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aescanero/dago-studio/internal/application/templates"
	"github.com/aescanero/dago-studio/internal/domain"
)

type testNode struct {
	id       string
	nodeType string
}

// buildGraph creates a graph from (id, type) pairs and connects the default
// ports of each (source, target) pair.
func buildGraph(t *testing.T, nodes []testNode, edges [][2]string) *domain.Graph {
	t.Helper()
	reg := templates.NewBuiltinRegistry()
	g := domain.NewGraph("wf-test", "test workflow")

	for _, tn := range nodes {
		n, err := reg.NewNode(tn.id, tn.nodeType, domain.Position{}, nil)
		require.NoError(t, err)
		require.NoError(t, g.AddNode(n))
	}
	for _, e := range edges {
		_, err := reg.Connect(g, e[0], "", e[1], "")
		require.NoError(t, err)
	}
	return g
}

func newTestValidator() *Validator {
	return NewValidator(templates.NewBuiltinRegistry())
}
