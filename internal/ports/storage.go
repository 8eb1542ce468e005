package ports

import (
	"context"
	"errors"

	"github.com/aescanero/dago-studio/internal/domain"
)

// ErrNotFound is returned by stores when a key does not exist.
var ErrNotFound = errors.New("not found")

// WorkflowStore persists workflow graphs
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, graph *domain.Graph) error
	GetWorkflow(ctx context.Context, id string) (*domain.Graph, error)
	ListWorkflows(ctx context.Context) ([]domain.Metadata, error)
	DeleteWorkflow(ctx context.Context, id string) error
}

// ExecutionStore persists execution snapshots
type ExecutionStore interface {
	SaveExecution(ctx context.Context, snapshot *domain.ExecutionSnapshot) error
	GetExecution(ctx context.Context, executionID string) (*domain.ExecutionSnapshot, error)
	ListExecutions(ctx context.Context) ([]string, error)
}
