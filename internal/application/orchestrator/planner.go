package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aescanero/dago-studio/internal/domain"
)

// DefaultNodeCost is the per-node duration used for plan estimates.
const DefaultNodeCost = time.Second

// ErrCyclicGraph means the planner was handed a graph the validator should
// have rejected.
var ErrCyclicGraph = errors.New("graph contains a cycle")

// Planner turns a validated graph into a leveled execution plan
type Planner struct {
	nodeCost time.Duration
}

// NewPlanner creates a planner estimating nodeCost per node. A non-positive
// cost falls back to DefaultNodeCost.
func NewPlanner(nodeCost time.Duration) *Planner {
	if nodeCost <= 0 {
		nodeCost = DefaultNodeCost
	}
	return &Planner{nodeCost: nodeCost}
}

// Plan computes the execution order of g with Kahn's algorithm, draining one
// parallel group per level. Members of a group are ordered by node insertion
// order so identical graphs always produce identical plans.
func (p *Planner) Plan(g *domain.Graph) (*domain.ExecutionPlan, error) {
	if g == nil {
		return nil, fmt.Errorf("graph is nil")
	}

	index := g.NodeIndex()
	ids := make([]string, 0, len(index))
	for i, n := range g.Nodes {
		if index[n.ID] == i {
			ids = append(ids, n.ID)
		}
	}

	inDegree := make(map[string]int, len(ids))
	successors := make(map[string][]string, len(ids))
	dependencies := make(map[string][]string, len(ids))
	for _, id := range ids {
		inDegree[id] = 0
		dependencies[id] = []string{}
	}

	for _, e := range g.Edges {
		_, sok := index[e.SourceNodeID]
		_, tok := index[e.TargetNodeID]
		if !sok || !tok {
			continue
		}
		inDegree[e.TargetNodeID]++
		successors[e.SourceNodeID] = append(successors[e.SourceNodeID], e.TargetNodeID)
		if !containsString(dependencies[e.TargetNodeID], e.SourceNodeID) {
			dependencies[e.TargetNodeID] = append(dependencies[e.TargetNodeID], e.SourceNodeID)
		}
	}

	current := make([]string, 0)
	for _, id := range ids {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	order := make([]string, 0, len(ids))
	groups := make([][]string, 0)
	for len(current) > 0 {
		groups = append(groups, current)
		order = append(order, current...)

		next := make([]string, 0)
		for _, id := range current {
			for _, succ := range successors[id] {
				inDegree[succ]--
				if inDegree[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		sort.SliceStable(next, func(i, j int) bool {
			return index[next[i]] < index[next[j]]
		})
		current = next
	}

	if len(order) != len(ids) {
		return nil, fmt.Errorf("%w: %d of %d nodes could not be scheduled",
			ErrCyclicGraph, len(ids)-len(order), len(ids))
	}

	return &domain.ExecutionPlan{
		ExecutionOrder:      order,
		ParallelGroups:      groups,
		Dependencies:        dependencies,
		EstimatedDurationMs: int64(len(order)) * p.nodeCost.Milliseconds(),
	}, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
