package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentsvc/agentsvcd/internal/taskstore"
)

// handleCreateTask is POST /api/tasks/async: always enqueues, never
// executes inline (spec §6: "returns full task record").
func (s *Server) handleCreateTask(c *gin.Context) {
	var req claudeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if req.ProjectPath == "" {
		req.ProjectPath = s.cfg().DefaultProjectPath
	}
	if req.Model == "" {
		req.Model = s.cfg().DefaultModel
	}

	sessionID, err := s.ensureSession(c.Request.Context(), req.SessionID, req.ProjectPath, req.Model)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	task, err := s.queue.AddTask(taskstore.Task{
		Prompt:      req.Prompt,
		ProjectPath: req.ProjectPath,
		Model:       req.Model,
		Priority:    req.Priority,
		Metadata:    toTaskMetadata(req, sessionID),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "task": task})
}

// handleListTasks is GET /api/tasks.
func (s *Server) handleListTasks(c *gin.Context) {
	filter := taskstore.ListFilter{
		Status: taskstore.Status(c.Query("status")),
		Limit:  parseIntOrZero(c.Query("limit")),
	}
	list, err := s.tasks.List(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tasks": list})
}

// handleGetTask is GET /api/tasks/:id.
func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.tasks.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task": task})
}

type updateTaskPriorityRequest struct {
	Priority int `json:"priority" binding:"required"`
}

// handleUpdateTaskPriority is PATCH /api/tasks/:id/priority: allowed
// only while pending|processing (spec §6), enforced by the Task
// Store's transition guard.
func (s *Server) handleUpdateTaskPriority(c *gin.Context) {
	var req updateTaskPriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if req.Priority < 1 || req.Priority > 10 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "priority must be in [1,10]"})
		return
	}

	updated, err := s.tasks.SetPriority(c.Param("id"), req.Priority)
	if err != nil {
		switch {
		case errors.Is(err, taskstore.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "task not found"})
		case errors.Is(err, taskstore.ErrInvalidTransition):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "task is no longer pending or processing"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task": updated})
}

// handleCancelTask is DELETE /api/tasks/:id.
func (s *Server) handleCancelTask(c *gin.Context) {
	task, err := s.queue.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, taskstore.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "task not found"})
		case errors.Is(err, taskstore.ErrInvalidTransition):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "task is already in a terminal state"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task": task})
}

// handleQueueStatus is GET /api/tasks/queue/status.
func (s *Server) handleQueueStatus(c *gin.Context) {
	status, err := s.queue.GetStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": status})
}
