package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/dago-studio/internal/domain"
	"github.com/aescanero/dago-studio/internal/ports"
)

// Store implements WorkflowStore and ExecutionStore using in-memory maps
type Store struct {
	workflows  map[string]*domain.Graph
	executions map[string]*domain.ExecutionSnapshot
	mu         sync.RWMutex
}

// NewStore creates a new in-memory store
func NewStore() *Store {
	return &Store{
		workflows:  make(map[string]*domain.Graph),
		executions: make(map[string]*domain.ExecutionSnapshot),
	}
}

// SaveWorkflow stores a copy of graph under its metadata id
func (s *Store) SaveWorkflow(ctx context.Context, graph *domain.Graph) error {
	if graph == nil || graph.Metadata.ID == "" {
		return fmt.Errorf("workflow ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.workflows[graph.Metadata.ID] = graph.Clone()
	return nil
}

// GetWorkflow returns a copy of the stored workflow
func (s *Store) GetWorkflow(ctx context.Context, id string) (*domain.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ports.ErrNotFound)
	}
	return g.Clone(), nil
}

// ListWorkflows returns the metadata of every stored workflow, ordered by id
func (s *Store) ListWorkflows(ctx context.Context) ([]domain.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Metadata, 0, len(s.workflows))
	for _, g := range s.workflows {
		out = append(out, g.Metadata)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteWorkflow removes a workflow
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[id]; !ok {
		return fmt.Errorf("workflow %s: %w", id, ports.ErrNotFound)
	}
	delete(s.workflows, id)
	return nil
}

// SaveExecution stores a snapshot, replacing any earlier one of the same run
func (s *Store) SaveExecution(ctx context.Context, snapshot *domain.ExecutionSnapshot) error {
	if snapshot == nil || snapshot.State.ID == "" {
		return fmt.Errorf("execution ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapCopy := *snapshot
	s.executions[snapshot.State.ID] = &snapCopy
	return nil
}

// GetExecution returns the latest snapshot of a run
func (s *Store) GetExecution(ctx context.Context, executionID string) (*domain.ExecutionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.executions[executionID]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", executionID, ports.ErrNotFound)
	}
	snapCopy := *snap
	return &snapCopy, nil
}

// ListExecutions returns stored execution ids, most recently saved first
func (s *Store) ListExecutions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := make([]*domain.ExecutionSnapshot, 0, len(s.executions))
	for _, snap := range s.executions {
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].SavedAt.Equal(snaps[j].SavedAt) {
			return snaps[i].State.ID < snaps[j].State.ID
		}
		return snaps[i].SavedAt.After(snaps[j].SavedAt)
	})

	ids := make([]string, len(snaps))
	for i, snap := range snaps {
		ids[i] = snap.State.ID
	}
	return ids, nil
}
