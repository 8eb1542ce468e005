package studio

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/dago-studio/internal/application/channel"
	"github.com/aescanero/dago-studio/internal/application/orchestrator"
	"github.com/aescanero/dago-studio/internal/application/templates"
	"github.com/aescanero/dago-studio/internal/application/workers"
	"github.com/aescanero/dago-studio/internal/domain"
	"github.com/aescanero/dago-studio/internal/protocol"
	eventsmemory "github.com/aescanero/dago-studio/pkg/adapters/events/memory"
	storagememory "github.com/aescanero/dago-studio/pkg/adapters/storage/memory"
)

// pipeConn plays the backend side of the channel inside the test
type pipeConn struct {
	inbound  chan []byte
	outbound chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		inbound:  make(chan []byte, 64),
		outbound: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *pipeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	case c.outbound <- data:
		return nil
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) push(t *testing.T, msg any) {
	t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	c.inbound <- data
}

// expectCommand reads outbound messages until a command of type ct arrives.
func (c *pipeConn) expectCommand(t *testing.T, ct protocol.MessageType) *protocol.Command {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-c.outbound:
			msg, err := protocol.Decode(data)
			require.NoError(t, err)
			if cmd, ok := msg.(*protocol.Command); ok && cmd.Type == ct {
				return cmd
			}
		case <-deadline:
			t.Fatalf("no %s command sent", ct)
			return nil
		}
	}
}

type eventLog struct {
	mu    sync.Mutex
	types []domain.EventType
}

func (l *eventLog) handle(_ context.Context, e domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.types = append(l.types, e.Type)
	return nil
}

func (l *eventLog) has(t domain.EventType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.types {
		if got == t {
			return true
		}
	}
	return false
}

type fixture struct {
	studio *Studio
	conn   *pipeConn
	store  *storagememory.Store
	bus    *eventsmemory.InMemoryEventBus
}

func newFixture(t *testing.T, dialErr error) *fixture {
	t.Helper()
	conn := newPipeConn()
	dialer := channel.DialerFunc(func(ctx context.Context) (channel.Conn, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return conn, nil
	})

	chCfg := channel.DefaultConfig()
	chCfg.ClientID = "studio-test"
	chCfg.PingInterval = 0
	chCfg.MaxReconnectAttempts = 0

	poolCfg := workers.DefaultPoolConfig()
	poolCfg.HealthCheckInterval = 0

	store := storagememory.NewStore()
	bus := eventsmemory.NewInMemoryEventBus(nil)

	s, err := New(Deps{
		Registry:   templates.NewBuiltinRegistry(),
		Dialer:     dialer,
		Channel:    chCfg,
		Workflows:  store,
		Executions: store,
		Events:     bus,
		Pool:       poolCfg,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		_ = bus.Close()
	})

	return &fixture{studio: s, conn: conn, store: store, bus: bus}
}

func buildDemo(t *testing.T, s *Studio) {
	t.Helper()
	s.NewWorkflow("demo")
	_, err := s.AddNode("start", "trigger", domain.Position{}, nil)
	require.NoError(t, err)
	_, err = s.AddNode("click", "click", domain.Position{X: 200}, map[string]any{"button": "right"})
	require.NoError(t, err)
	_, err = s.Connect("start", "", "click", "")
	require.NoError(t, err)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	_, err = New(Deps{Registry: templates.NewBuiltinRegistry()})
	assert.Error(t, err)
}

func TestStudio_Editing(t *testing.T) {
	f := newFixture(t, nil)
	s := f.studio

	buildDemo(t, s)
	g := s.Graph()
	require.Len(t, g.Nodes, 2)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "right", g.Nodes[1].Config["button"])
	assert.Equal(t, domain.CategoryTrigger, g.Nodes[0].Category)

	result := s.Validate(nil)
	assert.True(t, result.Valid, result.Errors)

	plan, err := s.Plan(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "click"}, plan.ExecutionOrder)

	generated, err := s.AddNode("", "wait", domain.Position{}, nil)
	require.NoError(t, err)
	assert.Contains(t, generated.ID, "wait-")

	_, err = s.AddNode("bad", "does_not_exist", domain.Position{}, nil)
	assert.Error(t, err)

	assert.True(t, s.RemoveNode("click"))
	assert.False(t, s.RemoveNode("click"))
	assert.Empty(t, s.Graph().Edges)

	// edits to the returned copy do not leak back
	g = s.Graph()
	g.Nodes[0].Label = "changed"
	assert.NotEqual(t, "changed", s.Graph().Nodes[0].Label)
}

func TestStudio_RunToCompletion(t *testing.T) {
	f := newFixture(t, nil)
	s := f.studio
	buildDemo(t, s)

	events := &eventLog{}
	require.NoError(t, f.bus.Subscribe(context.Background(), domain.TopicExecutionEvents, events.handle))
	connEvents := &eventLog{}
	require.NoError(t, f.bus.Subscribe(context.Background(), domain.TopicConnectionEvents, connEvents.handle))

	require.NoError(t, s.Start(context.Background(), true))
	assert.Equal(t, domain.ConnectionStatusConnected, s.Channel().Status().Status)

	result, err := s.Run(orchestrator.StartOptions{})
	require.NoError(t, err)
	assert.True(t, result.Valid)

	cmd := f.conn.expectCommand(t, protocol.TypeStart)
	execID := s.Session().State().ID
	assert.Equal(t, execID, cmd.ExecutionID)
	require.NotNil(t, cmd.Plan)
	assert.Equal(t, []string{"start", "click"}, cmd.Plan.ExecutionOrder)

	for _, id := range []string{"start", "click"} {
		f.conn.push(t, &protocol.NodeStatus{
			Type:        protocol.TypeNodeStatus,
			ExecutionID: execID,
			NodeID:      id,
			Result:      protocol.NodeResult{Status: "completed"},
		})
	}

	require.Eventually(t, func() bool {
		return s.Session().State().Status == domain.ExecutionStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		n, ok := s.Graph().Node("click")
		return ok && n.Status == domain.NodeStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		snap, err := f.store.GetExecution(context.Background(), execID)
		return err == nil && snap.State.Status == domain.ExecutionStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return events.has(domain.EventTypeNodeResult) &&
			events.has(domain.EventTypeExecutionState) &&
			events.has(domain.EventTypeExecutionLog)
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, connEvents.has(domain.EventTypeConnectionStatus))
}

func TestStudio_RunWhileDisconnectedFails(t *testing.T) {
	f := newFixture(t, errors.New("connection refused"))
	s := f.studio
	buildDemo(t, s)

	require.NoError(t, s.Start(context.Background(), true))
	assert.Equal(t, domain.ConnectionStatusError, s.Channel().Status().Status)

	_, err := s.Run(orchestrator.StartOptions{})
	require.NoError(t, err)

	st := s.Session().State()
	assert.Equal(t, domain.ExecutionStatusFailed, st.Status)
	assert.NotNil(t, st.EndTime)
}

func TestStudio_RunRejectsInvalidWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	s := f.studio
	s.NewWorkflow("no trigger")
	_, err := s.AddNode("click", "click", domain.Position{}, nil)
	require.NoError(t, err)

	result, err := s.Run(orchestrator.StartOptions{})
	assert.ErrorIs(t, err, orchestrator.ErrValidationFailed)
	require.NotNil(t, result)
	assert.Contains(t, result.Errors, "workflow has no trigger node")

	// the lenient check only warns
	assert.True(t, s.Validate(nil).Valid)
}

func TestStudio_SaveLoadExportImport(t *testing.T) {
	f := newFixture(t, nil)
	s := f.studio
	buildDemo(t, s)
	id := s.Graph().Metadata.ID

	require.NoError(t, s.SaveWorkflow(context.Background()))
	data, err := s.ExportWorkflow()
	require.NoError(t, err)

	s.NewWorkflow("other")
	assert.NotEqual(t, id, s.Graph().Metadata.ID)

	loaded, err := s.LoadWorkflow(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "demo", loaded.Metadata.Name)
	assert.Equal(t, id, s.Graph().Metadata.ID)

	s.NewWorkflow("other")
	imported, err := s.ImportWorkflow(data)
	require.NoError(t, err)
	assert.Equal(t, id, imported.Metadata.ID)
	assert.Len(t, s.Graph().Edges, 1)

	_, err = s.ImportWorkflow([]byte("{"))
	assert.Error(t, err)
}
