package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/dago-studio/internal/application/orchestrator"
	"github.com/aescanero/dago-studio/internal/domain"
	"github.com/aescanero/dago-studio/internal/ports"
	"github.com/aescanero/dago-studio/internal/workflow"
)

// StartExecutionRequest represents a run request
type StartExecutionRequest struct {
	DebugMode  bool `json:"debugMode"`
	StepByStep bool `json:"stepByStep"`
}

// StartExecutionResponse represents a started run
type StartExecutionResponse struct {
	Execution  domain.ExecutionState          `json:"execution"`
	Validation *orchestrator.ValidationResult `json:"validation"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func abortWithError(c *gin.Context, status int, code, message string, details interface{}) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// handleHealth reports the backend connection and the worker pool. The
// studio is usable while disconnected, so only the pool decides the status.
func (s *Server) handleHealth(c *gin.Context) {
	pool := s.studio.Pool().Health().GetStatus()
	conn := s.studio.Channel().Status()

	status := "healthy"
	code := http.StatusOK
	if !pool.Healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks": gin.H{
			"backend": conn.Status,
			"workers": pool,
		},
	})
}

func (s *Server) handleListTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": s.studio.Registry().List()})
}

// bindWorkflow reads an optional workflow document from the request body.
// An empty body yields nil, which selects the workflow being edited.
func (s *Server) bindWorkflow(c *gin.Context) (*domain.Graph, bool) {
	data, err := c.GetRawData()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return nil, false
	}
	if len(data) == 0 {
		return nil, true
	}
	g, err := workflow.Unmarshal(data, s.studio.Registry())
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_WORKFLOW", err.Error(), nil)
		return nil, false
	}
	return g, true
}

func (s *Server) handleValidate(c *gin.Context) {
	g, ok := s.bindWorkflow(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.studio.Validate(g))
}

// handlePlan refuses to plan invalid workflows so the response never
// describes a graph the backend would reject.
func (s *Server) handlePlan(c *gin.Context) {
	g, ok := s.bindWorkflow(c)
	if !ok {
		return
	}
	if g == nil {
		g = s.studio.Graph()
	}

	result := s.studio.Validate(g)
	if !result.Valid {
		abortWithError(c, http.StatusUnprocessableEntity, "VALIDATION_FAILED",
			"workflow is not valid", result)
		return
	}

	plan, err := s.studio.Plan(g)
	if err != nil {
		abortWithError(c, http.StatusUnprocessableEntity, "PLANNING_FAILED", err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) handleGetCurrentWorkflow(c *gin.Context) {
	c.JSON(http.StatusOK, workflow.Export(s.studio.Graph()))
}

func (s *Server) handleReplaceWorkflow(c *gin.Context) {
	g, ok := s.bindWorkflow(c)
	if !ok {
		return
	}
	if g == nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "workflow document is required", nil)
		return
	}
	if err := s.studio.SetGraph(g); err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_WORKFLOW", err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, workflow.Export(s.studio.Graph()))
}

// handleSaveWorkflow saves the workflow being edited, after replacing it
// with the request body when one is sent.
func (s *Server) handleSaveWorkflow(c *gin.Context) {
	if s.studio.Workflows() == nil {
		abortWithError(c, http.StatusServiceUnavailable, "STORAGE_NOT_AVAILABLE",
			"Workflow storage is not configured", nil)
		return
	}

	g, ok := s.bindWorkflow(c)
	if !ok {
		return
	}
	if g != nil {
		if err := s.studio.SetGraph(g); err != nil {
			abortWithError(c, http.StatusBadRequest, "INVALID_WORKFLOW", err.Error(), nil)
			return
		}
	}

	if err := s.studio.SaveWorkflow(c.Request.Context()); err != nil {
		s.logger.Error("failed to save workflow", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to save workflow", err.Error())
		return
	}

	c.JSON(http.StatusCreated, s.studio.Graph().Metadata)
}

func (s *Server) handleListWorkflows(c *gin.Context) {
	store := s.studio.Workflows()
	if store == nil {
		abortWithError(c, http.StatusServiceUnavailable, "STORAGE_NOT_AVAILABLE",
			"Workflow storage is not configured", nil)
		return
	}

	list, err := store.ListWorkflows(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list workflows", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to list workflows", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workflows": list,
		"total":     len(list),
	})
}

func (s *Server) handleGetWorkflow(c *gin.Context) {
	store := s.studio.Workflows()
	if store == nil {
		abortWithError(c, http.StatusServiceUnavailable, "STORAGE_NOT_AVAILABLE",
			"Workflow storage is not configured", nil)
		return
	}

	g, err := store.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.storageError(c, "workflow", err)
		return
	}
	c.JSON(http.StatusOK, workflow.Export(g))
}

// handleLoadWorkflow makes a stored workflow the one being edited.
func (s *Server) handleLoadWorkflow(c *gin.Context) {
	if s.studio.Workflows() == nil {
		abortWithError(c, http.StatusServiceUnavailable, "STORAGE_NOT_AVAILABLE",
			"Workflow storage is not configured", nil)
		return
	}

	g, err := s.studio.LoadWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.storageError(c, "workflow", err)
		return
	}
	c.JSON(http.StatusOK, workflow.Export(g))
}

func (s *Server) handleDeleteWorkflow(c *gin.Context) {
	store := s.studio.Workflows()
	if store == nil {
		abortWithError(c, http.StatusServiceUnavailable, "STORAGE_NOT_AVAILABLE",
			"Workflow storage is not configured", nil)
		return
	}

	if err := store.DeleteWorkflow(c.Request.Context(), c.Param("id")); err != nil {
		s.storageError(c, "workflow", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleStartExecution runs the workflow being edited. The backend reports
// progress asynchronously; the response carries the state right after the
// start command was sent.
func (s *Server) handleStartExecution(c *gin.Context) {
	var req StartExecutionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
	}

	result, err := s.studio.Run(orchestrator.StartOptions{
		DebugMode:  req.DebugMode,
		StepByStep: req.StepByStep,
	})
	switch {
	case errors.Is(err, orchestrator.ErrRunActive):
		abortWithError(c, http.StatusConflict, "EXECUTION_ACTIVE", err.Error(), s.studio.Session().State())
		return
	case errors.Is(err, orchestrator.ErrValidationFailed):
		abortWithError(c, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error(), result)
		return
	case err != nil:
		s.logger.Error("failed to start execution", zap.Error(err))
		abortWithError(c, http.StatusUnprocessableEntity, "START_FAILED", err.Error(), nil)
		return
	}

	c.JSON(http.StatusAccepted, StartExecutionResponse{
		Execution:  s.studio.Session().State(),
		Validation: result,
	})
}

func (s *Server) handleGetCurrentExecution(c *gin.Context) {
	c.JSON(http.StatusOK, s.studio.Session().Snapshot())
}

func (s *Server) handleListExecutions(c *gin.Context) {
	store := s.studio.Executions()
	if store == nil {
		abortWithError(c, http.StatusServiceUnavailable, "STORAGE_NOT_AVAILABLE",
			"Execution storage is not configured", nil)
		return
	}

	ids, err := store.ListExecutions(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list executions", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to list executions", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"executions": ids,
		"total":      len(ids),
	})
}

// handleGetExecution serves a stored snapshot, falling back to the live
// session for the current run.
func (s *Server) handleGetExecution(c *gin.Context) {
	id := c.Param("id")
	if snap := s.studio.Session().Snapshot(); snap.State.ID == id {
		c.JSON(http.StatusOK, snap)
		return
	}

	store := s.studio.Executions()
	if store == nil {
		abortWithError(c, http.StatusNotFound, "NOT_FOUND", "Execution not found", nil)
		return
	}
	snap, err := store.GetExecution(c.Request.Context(), id)
	if err != nil {
		s.storageError(c, "execution", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// control wraps a session command. Commands that are not valid in the
// current state answer 409 with the state attached.
func (s *Server) control(name string, fn func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !fn() {
			abortWithError(c, http.StatusConflict, "INVALID_STATE",
				"cannot "+name+" the current execution", s.studio.Session().State())
			return
		}
		c.JSON(http.StatusOK, s.studio.Session().State())
	}
}

func (s *Server) handleToggleBreakpoint(c *gin.Context) {
	nodeID := c.Param("nodeId")
	set := s.studio.Session().ToggleBreakpoint(nodeID)
	c.JSON(http.StatusOK, gin.H{
		"nodeId":      nodeID,
		"breakpoint":  set,
		"breakpoints": s.studio.Session().Breakpoints(),
	})
}

func (s *Server) handleGetConnection(c *gin.Context) {
	c.JSON(http.StatusOK, s.studio.Channel().Status())
}

// handleReconnect resets the retry budget and dials immediately. A failed
// dial still answers 200 because the channel keeps retrying on its own.
func (s *Server) handleReconnect(c *gin.Context) {
	if err := s.studio.Channel().Reconnect(c.Request.Context()); err != nil {
		s.logger.Warn("manual reconnect failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, s.studio.Channel().Status())
}

func (s *Server) handleDisconnect(c *gin.Context) {
	s.studio.Channel().Disconnect()
	c.JSON(http.StatusOK, s.studio.Channel().Status())
}

func (s *Server) storageError(c *gin.Context, what string, err error) {
	if errors.Is(err, ports.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
		return
	}
	s.logger.Error("storage request failed", zap.String("kind", what), zap.Error(err))
	abortWithError(c, http.StatusInternalServerError, "STORAGE_ERROR", err.Error(), nil)
}
