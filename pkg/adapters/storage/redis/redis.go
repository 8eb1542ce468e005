package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/dago-studio/internal/domain"
	"github.com/aescanero/dago-studio/internal/ports"
)

const (
	workflowPrefix  = "dago-studio:workflow:"
	executionPrefix = "dago-studio:execution:"
)

// Store implements WorkflowStore and ExecutionStore using Redis
type Store struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewStore creates a new Redis store. Execution snapshots expire after ttl;
// workflows never expire. A zero ttl keeps snapshots forever.
func NewStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveWorkflow persists a workflow under its metadata id
func (s *Store) SaveWorkflow(ctx context.Context, graph *domain.Graph) error {
	if graph == nil || graph.Metadata.ID == "" {
		return fmt.Errorf("workflow ID is required")
	}

	data, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	if err := s.client.Set(ctx, workflowPrefix+graph.Metadata.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	s.logger.Debug("workflow saved",
		zap.String("workflow_id", graph.Metadata.ID),
		zap.Int("nodes", len(graph.Nodes)))

	return nil
}

// GetWorkflow loads a workflow
func (s *Store) GetWorkflow(ctx context.Context, id string) (*domain.Graph, error) {
	data, err := s.client.Get(ctx, workflowPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("workflow %s: %w", id, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	var g domain.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return &g, nil
}

// ListWorkflows returns the metadata of every stored workflow, ordered by id
func (s *Store) ListWorkflows(ctx context.Context) ([]domain.Metadata, error) {
	keys, err := s.scan(ctx, workflowPrefix+"*")
	if err != nil {
		return nil, err
	}

	out := make([]domain.Metadata, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}

		var g domain.Graph
		if err := json.Unmarshal(data, &g); err != nil {
			s.logger.Warn("skipping unreadable workflow", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, g.Metadata)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteWorkflow removes a workflow
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, workflowPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("workflow %s: %w", id, ports.ErrNotFound)
	}

	s.logger.Debug("workflow deleted", zap.String("workflow_id", id))
	return nil
}

// SaveExecution persists the latest snapshot of a run with the store's TTL
func (s *Store) SaveExecution(ctx context.Context, snapshot *domain.ExecutionSnapshot) error {
	if snapshot == nil || snapshot.State.ID == "" {
		return fmt.Errorf("execution ID is required")
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	if err := s.client.Set(ctx, executionPrefix+snapshot.State.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	s.logger.Debug("execution saved",
		zap.String("execution_id", snapshot.State.ID),
		zap.String("status", string(snapshot.State.Status)))

	return nil
}

// GetExecution loads the latest snapshot of a run
func (s *Store) GetExecution(ctx context.Context, executionID string) (*domain.ExecutionSnapshot, error) {
	data, err := s.client.Get(ctx, executionPrefix+executionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("execution %s: %w", executionID, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	var snap domain.ExecutionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &snap, nil
}

// ListExecutions returns the ids of stored snapshots, ordered by id
func (s *Store) ListExecutions(ctx context.Context) ([]string, error) {
	keys, err := s.scan(ctx, executionPrefix+"*")
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, executionPrefix))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) scan(ctx context.Context, pattern string) ([]string, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
