package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/dago-studio/internal/domain"
	"github.com/aescanero/dago-studio/internal/ports"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, ttl, zap.NewNop()), mr
}

func TestStore_Workflows(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, time.Hour)

	g := domain.NewGraph("wf-1", "login flow")
	require.NoError(t, g.AddNode(domain.Node{
		ID:     "click",
		Type:   "click",
		Config: map[string]any{"button": "left"},
	}))
	require.NoError(t, s.SaveWorkflow(ctx, g))
	require.NoError(t, s.SaveWorkflow(ctx, domain.NewGraph("wf-0", "other")))

	assert.True(t, mr.Exists("dago-studio:workflow:wf-1"))
	assert.Zero(t, mr.TTL("dago-studio:workflow:wf-1"))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "login flow", got.Metadata.Name)
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, "left", got.Nodes[0].Config["button"])

	list, err := s.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "wf-0", list[0].ID)
	assert.Equal(t, "wf-1", list[1].ID)

	require.NoError(t, s.DeleteWorkflow(ctx, "wf-1"))
	_, err = s.GetWorkflow(ctx, "wf-1")
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.ErrorIs(t, s.DeleteWorkflow(ctx, "wf-1"), ports.ErrNotFound)
}

func TestStore_Executions(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, time.Hour)

	snap := &domain.ExecutionSnapshot{
		State: domain.ExecutionState{
			ID:         "run-1",
			WorkflowID: "wf-1",
			Status:     domain.ExecutionStatusRunning,
			Progress:   domain.Progress{Total: 2, Completed: 1},
		},
		Results: map[string]domain.NodeExecutionResult{
			"a": {NodeID: "a", Status: domain.NodeStatusCompleted},
		},
		Breakpoints: []string{"b"},
		SavedAt:     time.Now().UTC(),
	}
	require.NoError(t, s.SaveExecution(ctx, snap))
	require.NoError(t, s.SaveExecution(ctx, &domain.ExecutionSnapshot{
		State: domain.ExecutionState{ID: "run-0"},
	}))

	assert.Equal(t, time.Hour, mr.TTL("dago-studio:execution:run-1"))

	got, err := s.GetExecution(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusRunning, got.State.Status)
	assert.Equal(t, 1, got.State.Progress.Completed)
	assert.Equal(t, domain.NodeStatusCompleted, got.Results["a"].Status)
	assert.Equal(t, []string{"b"}, got.Breakpoints)

	ids, err := s.ListExecutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-0", "run-1"}, ids)

	mr.FastForward(2 * time.Hour)
	_, err = s.GetExecution(ctx, "run-1")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestStore_RedisUnavailable(t *testing.T) {
	s, mr := newTestStore(t, 0)
	mr.Close()

	_, err := s.GetWorkflow(context.Background(), "wf-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ports.ErrNotFound)
}
