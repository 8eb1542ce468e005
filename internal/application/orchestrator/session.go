package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/dago-studio/internal/domain"
	"github.com/aescanero/dago-studio/internal/ports"
	"github.com/aescanero/dago-studio/internal/protocol"
	"github.com/aescanero/dago-studio/internal/pubsub"
	"github.com/aescanero/dago-studio/internal/workflow"
)

var (
	// ErrValidationFailed is returned by Start when the workflow does not pass
	// the pre-flight validation.
	ErrValidationFailed = errors.New("workflow validation failed")

	// ErrRunActive is returned by Start while a run is running or paused.
	ErrRunActive = errors.New("an execution is already active")
)

// CommandSender delivers run-control commands to the execution backend.
// Send reports whether the message was handed to the transport.
type CommandSender interface {
	Send(msg any) bool
}

// StartOptions selects the debug behaviour of a run
type StartOptions struct {
	DebugMode  bool
	StepByStep bool
}

// SessionConfig holds session tuning
type SessionConfig struct {
	// CommandTimeout is how long to wait for a command_result before the run
	// is marked failed. Zero disables acknowledgement tracking.
	CommandTimeout time.Duration
}

// validTransitions lists the allowed run status changes
var validTransitions = map[domain.ExecutionStatus][]domain.ExecutionStatus{
	domain.ExecutionStatusPending:   {domain.ExecutionStatusRunning},
	domain.ExecutionStatusRunning:   {domain.ExecutionStatusPaused, domain.ExecutionStatusCompleted, domain.ExecutionStatusFailed, domain.ExecutionStatusCancelled},
	domain.ExecutionStatusPaused:    {domain.ExecutionStatusRunning, domain.ExecutionStatusCompleted, domain.ExecutionStatusFailed, domain.ExecutionStatusCancelled},
	domain.ExecutionStatusCompleted: {domain.ExecutionStatusRunning},
	domain.ExecutionStatusFailed:    {domain.ExecutionStatusRunning},
	domain.ExecutionStatusCancelled: {domain.ExecutionStatusRunning},
}

func canTransition(from, to domain.ExecutionStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// outbound is a command queued while the session lock was held
type outbound struct {
	executionID string
	cmd         *protocol.Command
}

// notification collects what changed during one locked section so that
// listeners run after the lock is released
type notification struct {
	state     *domain.ExecutionState
	results   map[string]domain.NodeExecutionResult
	variables map[string]domain.ExecutionVariable
	nodes     []domain.NodeExecutionResult
	logs      []domain.LogEntry
	commands  []outbound
}

// Session drives one remote run at a time through its lifecycle and
// aggregates the status the backend pushes back
type Session struct {
	validator *Validator
	planner   *Planner
	sender    CommandSender
	metrics   ports.MetricsCollector
	logger    *zap.Logger
	config    SessionConfig
	now       func() time.Time

	mu            sync.Mutex
	state         domain.ExecutionState
	graph         *domain.Graph
	plan          *domain.ExecutionPlan
	successors    map[string][]string
	errorHandling domain.ErrorHandling
	results       map[string]domain.NodeExecutionResult
	variables     map[string]domain.ExecutionVariable
	log           []domain.LogEntry
	breakpoints   map[string]bool
	pausedAt      map[string]bool
	stepOnce      bool
	pending       map[string]*time.Timer

	stateListeners    pubsub.Listeners[domain.ExecutionState]
	resultsListeners  pubsub.Listeners[map[string]domain.NodeExecutionResult]
	nodeListeners     pubsub.Listeners[domain.NodeExecutionResult]
	variableListeners pubsub.Listeners[map[string]domain.ExecutionVariable]
	logListeners      pubsub.Listeners[domain.LogEntry]
}

// NewSession creates a session controller in the pending state
func NewSession(
	validator *Validator,
	planner *Planner,
	sender CommandSender,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	config SessionConfig,
) *Session {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		validator:   validator,
		planner:     planner,
		sender:      sender,
		metrics:     metrics,
		logger:      logger,
		config:      config,
		now:         time.Now,
		state:       domain.ExecutionState{Status: domain.ExecutionStatusPending},
		results:     make(map[string]domain.NodeExecutionResult),
		variables:   make(map[string]domain.ExecutionVariable),
		breakpoints: make(map[string]bool),
		pausedAt:    make(map[string]bool),
		pending:     make(map[string]*time.Timer),
	}
}

// OnStateChange registers fn for execution state changes.
func (s *Session) OnStateChange(fn func(domain.ExecutionState)) func() {
	return s.stateListeners.Add(fn)
}

// OnResultsChange registers fn for changes of the node result map.
func (s *Session) OnResultsChange(fn func(map[string]domain.NodeExecutionResult)) func() {
	return s.resultsListeners.Add(fn)
}

// OnNodeResult registers fn for every individual node result update.
func (s *Session) OnNodeResult(fn func(domain.NodeExecutionResult)) func() {
	return s.nodeListeners.Add(fn)
}

// OnVariablesChange registers fn for changes of the variable map.
func (s *Session) OnVariablesChange(fn func(map[string]domain.ExecutionVariable)) func() {
	return s.variableListeners.Add(fn)
}

// OnLog registers fn for every execution log line.
func (s *Session) OnLog(fn func(domain.LogEntry)) func() {
	return s.logListeners.Add(fn)
}

// Start validates g, plans it and asks the backend to run it. When
// validation fails every error is logged, the result is returned together
// with ErrValidationFailed and no run is created.
func (s *Session) Start(g *domain.Graph, opts StartOptions) (*ValidationResult, error) {
	var n notification

	s.mu.Lock()
	if s.state.Status == domain.ExecutionStatusRunning || s.state.Status == domain.ExecutionStatusPaused {
		s.warnLocked(&n, "", "cannot start: execution %s is %s", s.state.ID, s.state.Status)
		s.mu.Unlock()
		s.dispatch(&n)
		return nil, ErrRunActive
	}

	result := s.validator.Validate(g, ValidateOptions{RequireTrigger: true})
	s.metrics.RecordValidation(result.Valid)
	if !result.Valid {
		for _, msg := range result.Errors {
			s.logLocked(&n, domain.LogLevelError, "", "validation error: %s", msg)
		}
		s.mu.Unlock()
		s.dispatch(&n)
		return result, ErrValidationFailed
	}

	plan, err := s.planner.Plan(g)
	if err != nil {
		s.logLocked(&n, domain.LogLevelError, "", "planning failed: %v", err)
		s.mu.Unlock()
		s.dispatch(&n)
		return result, fmt.Errorf("failed to plan workflow: %w", err)
	}

	s.stopPendingLocked()
	s.graph = g.Clone()
	s.plan = plan
	s.successors = adjacency(s.graph, s.graph.NodeIndex())
	s.errorHandling = g.Settings.ErrorHandling
	if s.errorHandling == "" {
		s.errorHandling = domain.ErrorHandlingStop
	}
	s.results = make(map[string]domain.NodeExecutionResult)
	s.variables = make(map[string]domain.ExecutionVariable)
	s.pausedAt = make(map[string]bool)
	s.stepOnce = false
	s.log = nil

	now := s.now()
	s.state = domain.ExecutionState{
		ID:         uuid.New().String(),
		WorkflowID: g.Metadata.ID,
		Status:     domain.ExecutionStatusRunning,
		StartTime:  &now,
		Progress:   domain.Progress{Total: len(plan.ExecutionOrder)},
		DebugMode:  opts.DebugMode,
		StepByStep: opts.StepByStep,
	}
	s.metrics.RecordRunStarted()

	s.logLocked(&n, domain.LogLevelInfo, "", "execution %s started (%d nodes, %d parallel groups)",
		s.state.ID, len(plan.ExecutionOrder), len(plan.ParallelGroups))
	for _, w := range result.Warnings {
		s.logLocked(&n, domain.LogLevelWarn, "", "validation warning: %s", w)
	}

	cmd := s.commandLocked(protocol.TypeStart)
	cmd.WorkflowID = g.Metadata.ID
	cmd.Workflow = workflow.Export(s.graph)
	cmd.Plan = &protocol.PlanHints{
		ExecutionOrder: plan.ExecutionOrder,
		ParallelGroups: plan.ParallelGroups,
	}
	cmd.DebugMode = opts.DebugMode
	cmd.StepByStep = opts.StepByStep
	cmd.Breakpoints = s.breakpointListLocked()
	cmd.ErrorHandling = string(s.errorHandling)
	n.commands = append(n.commands, outbound{executionID: s.state.ID, cmd: cmd})

	if entry := s.entryBreakpointLocked(); entry != "" {
		s.autoPauseLocked(&n, entry)
	}

	s.snapshotLocked(&n, true, true, true)
	s.mu.Unlock()

	s.dispatch(&n)
	return result, nil
}

// Pause asks the backend to pause the run. Valid from running only.
func (s *Session) Pause() bool {
	return s.control(protocol.TypePause, domain.ExecutionStatusPaused, "execution paused",
		domain.ExecutionStatusRunning)
}

// Resume continues a paused run.
func (s *Session) Resume() bool {
	return s.control(protocol.TypeResume, domain.ExecutionStatusRunning, "execution resumed",
		domain.ExecutionStatusPaused)
}

// Step runs the next node of a paused run and pauses again once it
// finishes.
func (s *Session) Step() bool {
	return s.control(protocol.TypeStep, domain.ExecutionStatusRunning, "stepping to next node",
		domain.ExecutionStatusPaused)
}

// Stop cancels the run. The cancelled status is final: later pushes for the
// run update node results but never the run status.
func (s *Session) Stop() bool {
	return s.control(protocol.TypeStop, domain.ExecutionStatusCancelled, "execution stopped",
		domain.ExecutionStatusRunning, domain.ExecutionStatusPaused)
}

func (s *Session) control(cmdType protocol.MessageType, target domain.ExecutionStatus, msg string, from ...domain.ExecutionStatus) bool {
	var n notification

	s.mu.Lock()
	allowed := false
	for _, st := range from {
		if s.state.Status == st {
			allowed = true
			break
		}
	}
	if !allowed || !canTransition(s.state.Status, target) {
		s.warnLocked(&n, "", "cannot %s: execution is %s", cmdType, s.state.Status)
		s.mu.Unlock()
		s.dispatch(&n)
		return false
	}

	cmd := s.commandLocked(cmdType)
	n.commands = append(n.commands, outbound{executionID: s.state.ID, cmd: cmd})

	s.stepOnce = cmdType == protocol.TypeStep
	if target.IsTerminal() {
		s.finishLocked(&n, target, msg)
	} else {
		s.state.Status = target
		s.logLocked(&n, domain.LogLevelInfo, "", "%s", msg)
	}

	s.snapshotLocked(&n, true, false, false)
	s.mu.Unlock()

	s.dispatch(&n)
	return true
}

// ToggleBreakpoint adds or removes a breakpoint and reports whether the node
// now has one. Breakpoints only take effect in debug step-by-step runs.
func (s *Session) ToggleBreakpoint(nodeID string) bool {
	var n notification

	s.mu.Lock()
	set := !s.breakpoints[nodeID]
	if set {
		s.breakpoints[nodeID] = true
		s.logLocked(&n, domain.LogLevelInfo, nodeID, "breakpoint set on node %s", nodeID)
	} else {
		delete(s.breakpoints, nodeID)
		s.logLocked(&n, domain.LogLevelInfo, nodeID, "breakpoint removed from node %s", nodeID)
	}
	s.mu.Unlock()

	s.dispatch(&n)
	return set
}

// HandleMessage applies one inbound channel message. Messages must be
// handed over in arrival order.
func (s *Session) HandleMessage(msg any) {
	switch m := msg.(type) {
	case *protocol.NodeStatus:
		s.handleNodeStatus(m)
	case *protocol.ExecutionStatus:
		s.handleExecutionStatus(m)
	case *protocol.CommandResult:
		s.handleCommandResult(m)
	case *protocol.Variable:
		s.handleVariable(m)
	case *protocol.Error:
		var n notification
		s.mu.Lock()
		s.logLocked(&n, domain.LogLevelError, "", "backend error: %s", m.Message)
		s.mu.Unlock()
		s.dispatch(&n)
	}
}

func (s *Session) handleNodeStatus(m *protocol.NodeStatus) {
	var n notification

	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.dispatch(&n)
	}()

	if !s.acceptsLocked(m.ExecutionID) {
		s.logger.Debug("ignoring node status for another execution",
			zap.String("execution_id", m.ExecutionID),
			zap.String("node_id", m.NodeID))
		return
	}

	status := domain.NodeStatus(m.Result.Status)
	switch status {
	case domain.NodeStatusIdle, domain.NodeStatusRunning, domain.NodeStatusCompleted,
		domain.NodeStatusFailed, domain.NodeStatusSkipped:
	default:
		s.warnLocked(&n, m.NodeID, "ignoring unknown status %q for node %s", m.Result.Status, m.NodeID)
		return
	}

	now := s.now()
	result := domain.NodeExecutionResult{
		NodeID:     m.NodeID,
		Status:     status,
		StartTime:  m.Result.StartedAt,
		EndTime:    m.Result.EndedAt,
		OutputData: m.Result.Output,
		Error:      m.Result.Error,
		Logs:       m.Result.Logs,
	}
	if result.StartTime == nil && status == domain.NodeStatusRunning {
		result.StartTime = &now
	}
	if result.EndTime == nil && status.IsTerminal() {
		result.EndTime = &now
	}
	if prev, ok := s.results[m.NodeID]; ok && result.StartTime == nil && status != domain.NodeStatusIdle {
		result.StartTime = prev.StartTime
	}
	s.setResultLocked(&n, result)
	s.metrics.RecordNodeResult(s.nodeTypeLocked(m.NodeID), string(status))

	switch status {
	case domain.NodeStatusRunning:
		s.logLocked(&n, domain.LogLevelInfo, m.NodeID, "node %s started", m.NodeID)
	case domain.NodeStatusCompleted:
		s.logLocked(&n, domain.LogLevelInfo, m.NodeID, "node %s completed", m.NodeID)
	case domain.NodeStatusFailed:
		s.logLocked(&n, domain.LogLevelError, m.NodeID, "node %s failed: %s", m.NodeID, m.Result.Error)
	case domain.NodeStatusSkipped:
		s.logLocked(&n, domain.LogLevelInfo, m.NodeID, "node %s skipped", m.NodeID)
	}

	s.captureOutputVariablesLocked(&n, m.NodeID, m.Result.Output)

	if s.state.Status.IsTerminal() {
		return
	}

	if status == domain.NodeStatusRunning {
		s.state.CurrentNodeID = m.NodeID
	}
	if status == domain.NodeStatusFailed && s.errorHandling == domain.ErrorHandlingContinue {
		s.skipDownstreamLocked(&n, m.NodeID)
	}
	s.recomputeProgressLocked()

	if s.detectTerminalLocked(&n) {
		s.snapshotLocked(&n, true, true, false)
		return
	}

	if s.state.Status == domain.ExecutionStatusRunning {
		switch {
		case status == domain.NodeStatusRunning && s.breakpointHitLocked(m.NodeID):
			s.autoPauseLocked(&n, m.NodeID)
		case status == domain.NodeStatusCompleted:
			if next := s.nextBreakpointLocked(m.NodeID); next != "" {
				s.autoPauseLocked(&n, next)
			} else if s.stepOnce {
				s.stepOnce = false
				s.state.Status = domain.ExecutionStatusPaused
				s.logLocked(&n, domain.LogLevelInfo, m.NodeID, "step finished at node %s", m.NodeID)
			}
		case status.IsTerminal() && s.stepOnce:
			s.stepOnce = false
			s.state.Status = domain.ExecutionStatusPaused
			s.logLocked(&n, domain.LogLevelInfo, m.NodeID, "step finished at node %s", m.NodeID)
		}
	}

	s.snapshotLocked(&n, true, true, false)
}

func (s *Session) handleExecutionStatus(m *protocol.ExecutionStatus) {
	var n notification

	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.dispatch(&n)
	}()

	execID := ""
	if m.Execution != nil {
		execID = m.Execution.ID
	}
	if !s.acceptsLocked(execID) || s.state.Status.IsTerminal() {
		return
	}

	changed := false
	if m.Execution != nil && m.Execution.CurrentNodeID != "" && m.Execution.CurrentNodeID != s.state.CurrentNodeID {
		s.state.CurrentNodeID = m.Execution.CurrentNodeID
		changed = true
	}

	remote := domain.ExecutionStatus(m.Status)
	switch remote {
	case domain.ExecutionStatusRunning, domain.ExecutionStatusPaused:
		if remote != s.state.Status {
			s.state.Status = remote
			s.stepOnce = false
			s.logLocked(&n, domain.LogLevelInfo, "", "backend reports execution %s", remote)
			changed = true
		}
	case domain.ExecutionStatusCompleted:
		if !s.detectTerminalLocked(&n) {
			s.warnLocked(&n, "", "backend reports completion but %d of %d nodes have not finished",
				s.state.Progress.Total-s.terminalCountLocked(), s.state.Progress.Total)
		}
		changed = true
	case domain.ExecutionStatusFailed, domain.ExecutionStatusCancelled, "error":
		reason := "backend reports execution " + m.Status
		if m.Execution != nil && m.Execution.Error != "" {
			reason += ": " + m.Execution.Error
		}
		s.finishLocked(&n, domain.ExecutionStatusFailed, reason)
		changed = true
	default:
		s.logger.Debug("ignoring execution status", zap.String("status", m.Status))
	}

	if changed {
		s.snapshotLocked(&n, true, false, false)
	}
}

func (s *Session) handleCommandResult(m *protocol.CommandResult) {
	var n notification

	s.mu.Lock()
	if t, ok := s.pending[m.RequestID]; ok {
		t.Stop()
		delete(s.pending, m.RequestID)
	}
	if m.Success {
		s.logger.Debug("command acknowledged",
			zap.String("request_id", m.RequestID),
			zap.String("command", string(m.Command)))
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	execID := m.ExecutionID
	if execID == "" {
		execID = s.State().ID
	}
	reason := fmt.Sprintf("command %s rejected by backend", m.Command)
	if m.Error != "" {
		reason += ": " + m.Error
	}
	s.commandFailed(execID, m.Command, reason, &n)
}

func (s *Session) handleVariable(m *protocol.Variable) {
	var n notification

	s.mu.Lock()
	if !s.acceptsLocked(m.ExecutionID) || m.Name == "" {
		s.mu.Unlock()
		return
	}
	typ := m.DataType
	if typ == "" {
		typ = inferType(m.Value)
	}
	s.variables[m.Name] = domain.ExecutionVariable{Name: m.Name, Value: m.Value, Type: typ, NodeID: m.NodeID}
	s.snapshotLocked(&n, false, false, true)
	s.mu.Unlock()

	s.dispatch(&n)
}

// commandFailed marks the run failed unless it already ended.
func (s *Session) commandFailed(executionID string, cmd protocol.MessageType, reason string, n *notification) {
	s.mu.Lock()
	if s.state.ID != executionID || s.state.Status.IsTerminal() {
		s.logger.Warn("command failed after execution ended",
			zap.String("execution_id", executionID),
			zap.String("command", string(cmd)),
			zap.String("reason", reason))
		s.mu.Unlock()
		return
	}
	s.finishLocked(n, domain.ExecutionStatusFailed, reason)
	s.snapshotLocked(n, true, false, false)
	s.mu.Unlock()

	s.dispatch(n)
}

func (s *Session) commandTimedOut(executionID, requestID string, cmd protocol.MessageType) {
	s.mu.Lock()
	if _, ok := s.pending[requestID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, requestID)
	s.mu.Unlock()

	var n notification
	s.commandFailed(executionID, cmd,
		fmt.Sprintf("command %s timed out after %s", cmd, s.config.CommandTimeout), &n)
}

// State returns a copy of the current execution state.
func (s *Session) State() domain.ExecutionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyState(s.state)
}

// Plan returns the plan of the current run, if any.
func (s *Session) Plan() *domain.ExecutionPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// Results returns a copy of the node result map.
func (s *Session) Results() map[string]domain.NodeExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyResults(s.results)
}

// Variables returns a copy of the variable map.
func (s *Session) Variables() map[string]domain.ExecutionVariable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyVariables(s.variables)
}

// Log returns a copy of the execution log.
func (s *Session) Log() []domain.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.LogEntry(nil), s.log...)
}

// Breakpoints returns the breakpoint node ids in sorted order.
func (s *Session) Breakpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.breakpointListLocked()
}

// Snapshot returns a consistent copy of everything the session owns.
func (s *Session) Snapshot() domain.ExecutionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.ExecutionSnapshot{
		State:       copyState(s.state),
		Plan:        s.plan,
		Results:     copyResults(s.results),
		Variables:   copyVariables(s.variables),
		Log:         append([]domain.LogEntry{}, s.log...),
		Breakpoints: s.breakpointListLocked(),
		SavedAt:     s.now(),
	}
}

// Close stops outstanding command timers.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopPendingLocked()
	s.logger.Info("session controller shut down")
}

// dispatch notifies listeners and then sends queued commands. It must be
// called without holding the lock.
func (s *Session) dispatch(n *notification) {
	for _, e := range n.logs {
		s.logListeners.Notify(e)
	}
	for _, r := range n.nodes {
		s.nodeListeners.Notify(r)
	}
	if n.results != nil {
		s.resultsListeners.Notify(n.results)
	}
	if n.variables != nil {
		s.variableListeners.Notify(n.variables)
	}
	if n.state != nil {
		s.stateListeners.Notify(*n.state)
	}

	for _, out := range n.commands {
		ok := s.sender != nil && s.sender.Send(out.cmd)
		s.metrics.RecordCommand(string(out.cmd.Type), ok)
		if ok {
			continue
		}
		s.mu.Lock()
		if t, found := s.pending[out.cmd.RequestID]; found {
			t.Stop()
			delete(s.pending, out.cmd.RequestID)
		}
		s.mu.Unlock()

		var failed notification
		s.commandFailed(out.executionID, out.cmd.Type,
			fmt.Sprintf("failed to send %s command: channel not connected", out.cmd.Type), &failed)
	}
}

// commandLocked builds a command for the current run and, when
// acknowledgements are enabled, arms its timeout.
func (s *Session) commandLocked(t protocol.MessageType) *protocol.Command {
	cmd := protocol.NewCommand(t, s.state.ID, uuid.New().String())
	if s.config.CommandTimeout > 0 {
		execID, reqID := s.state.ID, cmd.RequestID
		s.pending[reqID] = time.AfterFunc(s.config.CommandTimeout, func() {
			s.commandTimedOut(execID, reqID, t)
		})
	}
	return cmd
}

func (s *Session) stopPendingLocked() {
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
}

// acceptsLocked reports whether a push tagged with executionID belongs to
// the current run. Untagged pushes are attributed to the current run.
func (s *Session) acceptsLocked(executionID string) bool {
	if s.state.ID == "" {
		return false
	}
	return executionID == "" || executionID == s.state.ID
}

func (s *Session) setResultLocked(n *notification, r domain.NodeExecutionResult) {
	s.results[r.NodeID] = r
	n.nodes = append(n.nodes, r)
	s.snapshotLocked(n, false, true, false)
}

// finishLocked moves the run into a terminal status.
func (s *Session) finishLocked(n *notification, status domain.ExecutionStatus, reason string) {
	now := s.now()
	s.state.Status = status
	s.state.EndTime = &now
	s.stepOnce = false
	s.stopPendingLocked()

	level := domain.LogLevelInfo
	if status == domain.ExecutionStatusFailed {
		level = domain.LogLevelError
	}
	s.logLocked(n, level, "", "%s", reason)

	var dur time.Duration
	if s.state.StartTime != nil {
		dur = now.Sub(*s.state.StartTime)
	}
	s.metrics.RecordRunFinished(string(status), dur)
}

func (s *Session) recomputeProgressLocked() {
	p := domain.Progress{}
	if s.plan != nil {
		p.Total = len(s.plan.ExecutionOrder)
		for _, id := range s.plan.ExecutionOrder {
			switch s.results[id].Status {
			case domain.NodeStatusCompleted:
				p.Completed++
			case domain.NodeStatusFailed:
				p.Failed++
			}
		}
	}
	s.state.Progress = p
}

func (s *Session) terminalCountLocked() int {
	count := 0
	if s.plan == nil {
		return 0
	}
	for _, id := range s.plan.ExecutionOrder {
		if r, ok := s.results[id]; ok && r.Status.IsTerminal() {
			count++
		}
	}
	return count
}

// detectTerminalLocked ends the run when a failure stops it or every plan
// node has finished. It reports whether the run ended.
func (s *Session) detectTerminalLocked(n *notification) bool {
	if s.state.Status.IsTerminal() || s.plan == nil {
		return s.state.Status.IsTerminal()
	}

	if s.state.Progress.Failed > 0 && s.errorHandling != domain.ErrorHandlingContinue {
		s.finishLocked(n, domain.ExecutionStatusFailed,
			fmt.Sprintf("execution failed: %d node(s) failed", s.state.Progress.Failed))
		return true
	}

	if s.terminalCountLocked() < len(s.plan.ExecutionOrder) {
		return false
	}

	if s.state.Progress.Failed > 0 {
		s.finishLocked(n, domain.ExecutionStatusFailed,
			fmt.Sprintf("execution finished with %d failed node(s)", s.state.Progress.Failed))
	} else {
		s.finishLocked(n, domain.ExecutionStatusCompleted,
			fmt.Sprintf("execution completed (%d nodes)", s.state.Progress.Completed))
	}
	return true
}

// skipDownstreamLocked marks every not yet finished descendant of a failed
// node as skipped. Independent branches keep running.
func (s *Session) skipDownstreamLocked(n *notification, failedID string) {
	queue := append([]string(nil), s.successors[failedID]...)
	seen := make(map[string]bool)
	now := s.now()
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		if r, ok := s.results[id]; ok && r.Status != domain.NodeStatusIdle {
			continue
		}
		s.setResultLocked(n, domain.NodeExecutionResult{
			NodeID:  id,
			Status:  domain.NodeStatusSkipped,
			EndTime: &now,
			Error:   fmt.Sprintf("upstream node %s failed", failedID),
		})
		s.logLocked(n, domain.LogLevelWarn, id, "node %s skipped: upstream node %s failed", id, failedID)
		queue = append(queue, s.successors[id]...)
	}
}

func (s *Session) breakpointsActiveLocked() bool {
	return s.state.DebugMode && s.state.StepByStep
}

func (s *Session) breakpointHitLocked(nodeID string) bool {
	return s.breakpointsActiveLocked() && s.breakpoints[nodeID] && !s.pausedAt[nodeID]
}

// nextBreakpointLocked returns a breakpointed successor of nodeID whose
// dependencies have all completed and that has not started yet.
func (s *Session) nextBreakpointLocked(nodeID string) string {
	if !s.breakpointsActiveLocked() {
		return ""
	}
	for _, succ := range s.successors[nodeID] {
		if !s.breakpointHitLocked(succ) {
			continue
		}
		if r, ok := s.results[succ]; ok && r.Status != domain.NodeStatusIdle {
			continue
		}
		ready := true
		for _, dep := range s.plan.Dependencies[succ] {
			if s.results[dep].Status != domain.NodeStatusCompleted {
				ready = false
				break
			}
		}
		if ready {
			return succ
		}
	}
	return ""
}

// entryBreakpointLocked returns the first breakpointed node of the first
// parallel group. Nothing reports these nodes as ready, so the run is paused
// right behind the start command instead.
func (s *Session) entryBreakpointLocked() string {
	if !s.breakpointsActiveLocked() || len(s.plan.ParallelGroups) == 0 {
		return ""
	}
	for _, id := range s.plan.ParallelGroups[0] {
		if s.breakpointHitLocked(id) {
			return id
		}
	}
	return ""
}

func (s *Session) autoPauseLocked(n *notification, nodeID string) {
	s.pausedAt[nodeID] = true
	s.stepOnce = false
	s.state.Status = domain.ExecutionStatusPaused
	s.state.CurrentNodeID = nodeID
	s.logLocked(n, domain.LogLevelInfo, nodeID, "breakpoint hit at node %s, execution paused", nodeID)
	n.commands = append(n.commands, outbound{
		executionID: s.state.ID,
		cmd:         s.commandLocked(protocol.TypePause),
	})
}

// captureOutputVariablesLocked picks up a "variables" object from a node's
// output.
func (s *Session) captureOutputVariablesLocked(n *notification, nodeID string, output any) {
	out, ok := output.(map[string]any)
	if !ok {
		return
	}
	vars, ok := out["variables"].(map[string]any)
	if !ok || len(vars) == 0 {
		return
	}
	for name, value := range vars {
		s.variables[name] = domain.ExecutionVariable{Name: name, Value: value, Type: inferType(value), NodeID: nodeID}
	}
	s.snapshotLocked(n, false, false, true)
}

func (s *Session) nodeTypeLocked(nodeID string) string {
	if s.graph != nil {
		if node, ok := s.graph.Node(nodeID); ok {
			return node.Type
		}
	}
	return "unknown"
}

func (s *Session) breakpointListLocked() []string {
	list := make([]string, 0, len(s.breakpoints))
	for id := range s.breakpoints {
		list = append(list, id)
	}
	sort.Strings(list)
	return list
}

func (s *Session) logLocked(n *notification, level domain.LogLevel, nodeID, format string, args ...any) {
	entry := domain.LogEntry{
		Timestamp: s.now(),
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
		NodeID:    nodeID,
	}
	s.log = append(s.log, entry)
	n.logs = append(n.logs, entry)

	fields := []zap.Field{zap.String("execution_id", s.state.ID)}
	if nodeID != "" {
		fields = append(fields, zap.String("node_id", nodeID))
	}
	switch level {
	case domain.LogLevelError:
		s.logger.Error(entry.Message, fields...)
	case domain.LogLevelWarn:
		s.logger.Warn(entry.Message, fields...)
	default:
		s.logger.Info(entry.Message, fields...)
	}
}

func (s *Session) warnLocked(n *notification, nodeID, format string, args ...any) {
	s.logLocked(n, domain.LogLevelWarn, nodeID, format, args...)
}

// snapshotLocked captures copies of the parts that changed.
func (s *Session) snapshotLocked(n *notification, state, results, variables bool) {
	if state {
		st := copyState(s.state)
		n.state = &st
	}
	if results {
		n.results = copyResults(s.results)
	}
	if variables {
		n.variables = copyVariables(s.variables)
	}
}

func copyState(st domain.ExecutionState) domain.ExecutionState {
	if st.StartTime != nil {
		t := *st.StartTime
		st.StartTime = &t
	}
	if st.EndTime != nil {
		t := *st.EndTime
		st.EndTime = &t
	}
	return st
}

func copyResults(m map[string]domain.NodeExecutionResult) map[string]domain.NodeExecutionResult {
	out := make(map[string]domain.NodeExecutionResult, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyVariables(m map[string]domain.ExecutionVariable) map[string]domain.ExecutionVariable {
	out := make(map[string]domain.ExecutionVariable, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func inferType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return "any"
	}
}
