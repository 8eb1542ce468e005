package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/dago-studio/internal/domain"
	"github.com/aescanero/dago-studio/internal/ports"
)

func TestStore_Workflows(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	g := domain.NewGraph("wf-b", "second")
	require.NoError(t, g.AddNode(domain.Node{ID: "n1", Type: "trigger"}))
	require.NoError(t, s.SaveWorkflow(ctx, g))
	require.NoError(t, s.SaveWorkflow(ctx, domain.NewGraph("wf-a", "first")))

	// stored copies are isolated from the caller
	g.Nodes[0].Label = "changed"
	got, err := s.GetWorkflow(ctx, "wf-b")
	require.NoError(t, err)
	assert.Empty(t, got.Nodes[0].Label)

	list, err := s.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "wf-a", list[0].ID)
	assert.Equal(t, "second", list[1].Name)

	require.NoError(t, s.DeleteWorkflow(ctx, "wf-a"))
	_, err = s.GetWorkflow(ctx, "wf-a")
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.ErrorIs(t, s.DeleteWorkflow(ctx, "wf-a"), ports.ErrNotFound)

	assert.Error(t, s.SaveWorkflow(ctx, domain.NewGraph("", "no id")))
}

func TestStore_Executions(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now()

	older := &domain.ExecutionSnapshot{
		State:   domain.ExecutionState{ID: "run-1", Status: domain.ExecutionStatusCompleted},
		SavedAt: now.Add(-time.Minute),
	}
	newer := &domain.ExecutionSnapshot{
		State:   domain.ExecutionState{ID: "run-2", Status: domain.ExecutionStatusRunning},
		SavedAt: now,
	}
	require.NoError(t, s.SaveExecution(ctx, older))
	require.NoError(t, s.SaveExecution(ctx, newer))

	ids, err := s.ListExecutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-2", "run-1"}, ids)

	newer.State.Status = domain.ExecutionStatusFailed
	require.NoError(t, s.SaveExecution(ctx, newer))
	got, err := s.GetExecution(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusFailed, got.State.Status)

	_, err = s.GetExecution(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.Error(t, s.SaveExecution(ctx, &domain.ExecutionSnapshot{}))
}
