package orchestrator

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/dago-studio/internal/domain"
)

func TestPlan_Linear(t *testing.T) {
	g := buildGraph(t,
		[]testNode{{"trigger", "trigger"}, {"click", "click"}, {"ocr", "ocr"}},
		[][2]string{{"trigger", "click"}, {"click", "ocr"}})

	plan, err := NewPlanner(0).Plan(g)
	require.NoError(t, err)

	assert.Equal(t, []string{"trigger", "click", "ocr"}, plan.ExecutionOrder)
	assert.Equal(t, [][]string{{"trigger"}, {"click"}, {"ocr"}}, plan.ParallelGroups)
	assert.Equal(t, map[string][]string{
		"trigger": {},
		"click":   {"trigger"},
		"ocr":     {"click"},
	}, plan.Dependencies)
	assert.Equal(t, int64(3000), plan.EstimatedDurationMs)
}

func TestPlan_ParallelGroupsFollowInsertionOrder(t *testing.T) {
	g := buildGraph(t,
		[]testNode{{"t", "trigger"}, {"b", "wait"}, {"a", "wait"}, {"c", "log"}},
		[][2]string{{"t", "a"}, {"t", "b"}, {"a", "c"}, {"b", "c"}})

	plan, err := NewPlanner(250 * time.Millisecond).Plan(g)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"t"}, {"b", "a"}, {"c"}}, plan.ParallelGroups)
	assert.Equal(t, []string{"t", "b", "a", "c"}, plan.ExecutionOrder)
	assert.Equal(t, []string{"a", "b"}, plan.Dependencies["c"])
	assert.Equal(t, int64(1000), plan.EstimatedDurationMs)
}

func TestPlan_LevelIsLongestPath(t *testing.T) {
	// t -> a -> b -> d and t -> d: d waits for the longer branch
	g := buildGraph(t,
		[]testNode{{"t", "trigger"}, {"a", "wait"}, {"b", "wait"}, {"d", "log"}},
		[][2]string{{"t", "a"}, {"a", "b"}, {"b", "d"}, {"t", "d"}})

	plan, err := NewPlanner(0).Plan(g)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"t"}, {"a"}, {"b"}, {"d"}}, plan.ParallelGroups)
}

func TestPlan_Deterministic(t *testing.T) {
	g := buildGraph(t,
		[]testNode{{"t", "trigger"}, {"x", "click"}, {"y", "click"}, {"z", "ocr"}, {"w", "log"}},
		[][2]string{{"t", "y"}, {"t", "x"}, {"x", "z"}, {"y", "z"}, {"t", "w"}})
	p := NewPlanner(0)

	first, err := p.Plan(g)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := p.Plan(g)
		require.NoError(t, err)
		assert.Equal(t, first.ExecutionOrder, again.ExecutionOrder)
		assert.Equal(t, first.ParallelGroups, again.ParallelGroups)
	}
}

func TestPlan_TopologicalOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 25; round++ {
		t.Run(fmt.Sprintf("round %d", round), func(t *testing.T) {
			size := 2 + rng.Intn(20)
			g := domain.NewGraph("wf", "random")

			// edges only go from lower to higher rank, insertion order is shuffled
			perm := rng.Perm(size)
			for _, rank := range perm {
				require.NoError(t, g.AddNode(domain.Node{ID: fmt.Sprintf("n%d", rank), Type: "wait"}))
			}
			for i := 0; i < size; i++ {
				for j := i + 1; j < size; j++ {
					if rng.Intn(3) == 0 {
						require.NoError(t, g.AddEdge(domain.Edge{
							SourceNodeID: fmt.Sprintf("n%d", i),
							TargetNodeID: fmt.Sprintf("n%d", j),
						}))
					}
				}
			}

			plan, err := NewPlanner(0).Plan(g)
			require.NoError(t, err)
			require.Len(t, plan.ExecutionOrder, size)

			pos := make(map[string]int, size)
			for i, id := range plan.ExecutionOrder {
				pos[id] = i
			}
			for _, e := range g.Edges {
				assert.Less(t, pos[e.SourceNodeID], pos[e.TargetNodeID], "edge %s", e.ID)
			}

			flattened := []string{}
			for _, group := range plan.ParallelGroups {
				flattened = append(flattened, group...)
			}
			assert.Equal(t, plan.ExecutionOrder, flattened)
		})
	}
}

func TestPlan_CycleIsInvariantViolation(t *testing.T) {
	g := buildGraph(t,
		[]testNode{{"t", "trigger"}, {"a", "click"}, {"b", "click"}},
		[][2]string{{"t", "a"}, {"a", "b"}, {"b", "a"}})

	plan, err := NewPlanner(0).Plan(g)
	assert.Nil(t, plan)
	assert.True(t, errors.Is(err, ErrCyclicGraph))
}

func TestPlan_Empty(t *testing.T) {
	plan, err := NewPlanner(0).Plan(domain.NewGraph("wf", "empty"))
	require.NoError(t, err)
	assert.Empty(t, plan.ExecutionOrder)
	assert.Empty(t, plan.ParallelGroups)
	assert.Zero(t, plan.EstimatedDurationMs)

	_, err = NewPlanner(0).Plan(nil)
	assert.Error(t, err)
}
