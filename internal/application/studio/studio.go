package studio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/dago-studio/internal/application/channel"
	"github.com/aescanero/dago-studio/internal/application/orchestrator"
	"github.com/aescanero/dago-studio/internal/application/templates"
	"github.com/aescanero/dago-studio/internal/application/workers"
	"github.com/aescanero/dago-studio/internal/domain"
	"github.com/aescanero/dago-studio/internal/ports"
	"github.com/aescanero/dago-studio/internal/workflow"
)

// Deps are the collaborators a Studio is assembled from. Registry and
// Dialer are required; nil stores, bus and metrics disable those concerns.
type Deps struct {
	Registry   *templates.Registry
	Dialer     channel.Dialer
	Channel    channel.Config
	Session    orchestrator.SessionConfig
	NodeCost   time.Duration
	Workflows  ports.WorkflowStore
	Executions ports.ExecutionStore
	Events     ports.EventBus
	Metrics    ports.MetricsCollector
	Pool       workers.PoolConfig
	Logger     *zap.Logger
}

// Studio is the application context
type Studio struct {
	registry   *templates.Registry
	validator  *orchestrator.Validator
	planner    *orchestrator.Planner
	channel    *channel.Manager
	session    *orchestrator.Session
	pool       *workers.Pool
	workflows  ports.WorkflowStore
	executions ports.ExecutionStore
	metrics    ports.MetricsCollector
	logger     *zap.Logger

	mu    sync.RWMutex
	graph *domain.Graph

	unsubscribe []func()
	closeOnce   sync.Once
}

// New assembles a studio with an empty workflow
func New(d Deps) (*Studio, error) {
	if d.Registry == nil {
		return nil, fmt.Errorf("template registry is required")
	}
	if d.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if d.Metrics == nil {
		d.Metrics = ports.NopMetrics{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	validator := orchestrator.NewValidator(d.Registry)
	planner := orchestrator.NewPlanner(d.NodeCost)
	manager := channel.NewManager(d.Dialer, d.Channel, d.Metrics, d.Logger.Named("channel"))
	session := orchestrator.NewSession(validator, planner, manager, d.Metrics, d.Logger.Named("session"), d.Session)

	s := &Studio{
		registry:   d.Registry,
		validator:  validator,
		planner:    planner,
		channel:    manager,
		session:    session,
		workflows:  d.Workflows,
		executions: d.Executions,
		metrics:    d.Metrics,
		logger:     d.Logger,
		graph:      domain.NewGraph(uuid.New().String(), "Untitled workflow"),
	}
	s.pool = workers.NewPool(d.Events, d.Executions, s.snapshot, d.Pool, d.Logger.Named("workers"))
	s.bridge()

	return s, nil
}

// bridge wires inbound messages into the session and every change
// notification out to the event bus and the execution store.
func (s *Studio) bridge() {
	s.unsubscribe = append(s.unsubscribe,
		s.channel.OnMessage(s.session.HandleMessage),

		s.channel.OnStatusChange(func(rec domain.ConnectionRecord) {
			s.pool.Publish(domain.TopicConnectionEvents, newEvent(domain.EventTypeConnectionStatus, "", "", map[string]any{
				"status":           string(rec.Status),
				"reconnectAttempt": rec.ReconnectAttempt,
				"lastError":        rec.LastError,
				"missedPongs":      rec.MissedPongs,
				"nextRetryDelayMs": rec.NextRetryDelay.Milliseconds(),
			}))
		}),

		s.session.OnStateChange(func(st domain.ExecutionState) {
			s.pool.Publish(domain.TopicExecutionEvents, newEvent(domain.EventTypeExecutionState, st.ID, st.CurrentNodeID, map[string]any{
				"state": st,
			}))
			s.pool.RequestSnapshot()
		}),

		s.session.OnNodeResult(func(r domain.NodeExecutionResult) {
			s.setNodeStatus(r.NodeID, r.Status)
			s.pool.Publish(domain.TopicExecutionEvents, newEvent(domain.EventTypeNodeResult, s.session.State().ID, r.NodeID, map[string]any{
				"result": r,
			}))
			s.pool.RequestSnapshot()
		}),

		s.session.OnVariablesChange(func(vars map[string]domain.ExecutionVariable) {
			s.pool.Publish(domain.TopicExecutionEvents, newEvent(domain.EventTypeExecutionVariable, s.session.State().ID, "", map[string]any{
				"variables": vars,
			}))
			s.pool.RequestSnapshot()
		}),

		s.session.OnLog(func(e domain.LogEntry) {
			s.pool.Publish(domain.TopicExecutionEvents, newEvent(domain.EventTypeExecutionLog, s.session.State().ID, e.NodeID, map[string]any{
				"entry": e,
				"line":  e.String(),
			}))
		}),
	)
}

// Start starts the background workers and, when connect is set, opens the
// channel. A failed first dial is not an error: the channel keeps retrying.
func (s *Studio) Start(ctx context.Context, connect bool) error {
	if err := s.pool.Start(); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	if connect {
		if err := s.channel.Connect(ctx); err != nil {
			s.logger.Warn("execution backend not reachable yet", zap.Error(err))
		}
	}
	return nil
}

// Shutdown disconnects from the backend and flushes pending events and
// snapshots.
func (s *Studio) Shutdown(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.channel.Disconnect()
		s.session.Close()
		err = s.pool.Shutdown(ctx)
		for _, unsub := range s.unsubscribe {
			unsub()
		}
	})
	return err
}

// Registry returns the node template registry.
func (s *Studio) Registry() *templates.Registry { return s.registry }

// Channel returns the channel manager.
func (s *Studio) Channel() *channel.Manager { return s.channel }

// Session returns the session controller.
func (s *Studio) Session() *orchestrator.Session { return s.session }

// Pool returns the background worker pool.
func (s *Studio) Pool() *workers.Pool { return s.pool }

// Workflows returns the workflow store, which may be nil.
func (s *Studio) Workflows() ports.WorkflowStore { return s.workflows }

// Executions returns the execution store, which may be nil.
func (s *Studio) Executions() ports.ExecutionStore { return s.executions }

// Graph returns a copy of the workflow being edited.
func (s *Studio) Graph() *domain.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Clone()
}

// SetGraph replaces the workflow being edited.
func (s *Studio) SetGraph(g *domain.Graph) error {
	if g == nil {
		return fmt.Errorf("graph is nil")
	}
	s.mu.Lock()
	s.graph = g.Clone()
	s.mu.Unlock()
	return nil
}

// NewWorkflow starts a fresh, empty workflow and returns its id.
func (s *Studio) NewWorkflow(name string) string {
	g := domain.NewGraph(uuid.New().String(), name)
	s.mu.Lock()
	s.graph = g
	s.mu.Unlock()
	return g.Metadata.ID
}

// AddNode adds a node of nodeType with its config resolved against the
// template defaults. An empty id is generated from the type.
func (s *Studio) AddNode(id, nodeType string, pos domain.Position, config map[string]any) (domain.Node, error) {
	if id == "" {
		id = fmt.Sprintf("%s-%s", nodeType, uuid.New().String()[:8])
	}
	node, err := s.registry.NewNode(id, nodeType, pos, config)
	if err != nil {
		return domain.Node{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.graph.AddNode(node); err != nil {
		return domain.Node{}, err
	}
	s.touchLocked()
	return node, nil
}

// RemoveNode deletes a node and its edges.
func (s *Studio) RemoveNode(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.graph.RemoveNode(id) {
		return false
	}
	s.touchLocked()
	return true
}

// Connect links two node ports. Empty port names select the default ports.
func (s *Studio) Connect(sourceID, sourcePort, targetID, targetPort string) (domain.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.registry.Connect(s.graph, sourceID, sourcePort, targetID, targetPort)
	if err != nil {
		return domain.Edge{}, err
	}
	s.touchLocked()
	return e, nil
}

// Validate checks g, or the workflow being edited when g is nil. A missing
// trigger is only a warning here; Run applies the strict check.
func (s *Studio) Validate(g *domain.Graph) *orchestrator.ValidationResult {
	if g == nil {
		g = s.Graph()
	}
	result := s.validator.Validate(g, orchestrator.ValidateOptions{})
	s.metrics.RecordValidation(result.Valid)
	return result
}

// Plan computes the execution plan of g, or of the workflow being edited
// when g is nil. The graph must be acyclic.
func (s *Studio) Plan(g *domain.Graph) (*domain.ExecutionPlan, error) {
	if g == nil {
		g = s.Graph()
	}
	return s.planner.Plan(g)
}

// Run starts the workflow being edited on the backend. Node statuses on the
// edited workflow are reset unless a run is still active.
func (s *Studio) Run(opts orchestrator.StartOptions) (*orchestrator.ValidationResult, error) {
	s.mu.Lock()
	switch s.session.State().Status {
	case domain.ExecutionStatusRunning, domain.ExecutionStatusPaused:
	default:
		for i := range s.graph.Nodes {
			s.graph.Nodes[i].Status = domain.NodeStatusIdle
		}
	}
	g := s.graph.Clone()
	s.mu.Unlock()

	return s.session.Start(g, opts)
}

// SaveWorkflow persists the workflow being edited.
func (s *Studio) SaveWorkflow(ctx context.Context) error {
	if s.workflows == nil {
		return fmt.Errorf("no workflow store configured")
	}
	s.mu.Lock()
	s.touchLocked()
	g := s.graph.Clone()
	s.mu.Unlock()

	if err := s.workflows.SaveWorkflow(ctx, g); err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	s.logger.Info("workflow saved",
		zap.String("workflow_id", g.Metadata.ID),
		zap.Int("nodes", len(g.Nodes)))
	return nil
}

// LoadWorkflow makes a stored workflow the one being edited.
func (s *Studio) LoadWorkflow(ctx context.Context, id string) (*domain.Graph, error) {
	if s.workflows == nil {
		return nil, fmt.Errorf("no workflow store configured")
	}
	g, err := s.workflows.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.SetGraph(g); err != nil {
		return nil, err
	}
	return g, nil
}

// ExportWorkflow renders the workflow being edited in the file format.
func (s *Studio) ExportWorkflow() ([]byte, error) {
	return workflow.Marshal(s.Graph())
}

// ImportWorkflow replaces the workflow being edited with a document in the
// file format.
func (s *Studio) ImportWorkflow(data []byte) (*domain.Graph, error) {
	g, err := workflow.Unmarshal(data, s.registry)
	if err != nil {
		return nil, err
	}
	if err := s.SetGraph(g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Studio) touchLocked() {
	s.graph.Metadata.UpdatedAt = time.Now().UTC()
}

// setNodeStatus mirrors a node result onto the edited workflow so the canvas
// can colour nodes.
func (s *Studio) setNodeStatus(nodeID string, status domain.NodeStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.graph.Node(nodeID); ok {
		n.Status = status
	}
}

func (s *Studio) snapshot() (domain.ExecutionSnapshot, bool) {
	snap := s.session.Snapshot()
	return snap, snap.State.ID != ""
}

func newEvent(t domain.EventType, executionID, nodeID string, data map[string]any) domain.Event {
	return domain.Event{
		ID:          uuid.New().String(),
		Type:        t,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Timestamp:   time.Now().UTC(),
		Data:        data,
	}
}
