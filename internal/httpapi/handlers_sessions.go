package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agentsvc/agentsvcd/internal/session"
)

type createSessionRequest struct {
	ProjectPath string         `json:"project_path"`
	Model       string         `json:"model"`
	Metadata    map[string]any `json:"metadata"`
}

// handleCreateSession is POST /api/sessions.
func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	created, err := s.sessions.Create(session.Session{
		ProjectPath: req.ProjectPath,
		Model:       req.Model,
		Metadata:    req.Metadata,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if s.notifier != nil {
		s.notifier.SessionCreated(c.Request.Context(), created.ID)
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "session": created})
}

// handleListSessions is GET /api/sessions.
func (s *Server) handleListSessions(c *gin.Context) {
	filter := session.ListFilter{
		Status:      session.Status(c.Query("status")),
		ProjectPath: c.Query("project_path"),
		Limit:       parseIntOrZero(c.Query("limit")),
	}
	list, err := s.sessions.List(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": list})
}

// handleSearchSessions is GET /api/sessions/search?q=&limit=.
func (s *Server) handleSearchSessions(c *gin.Context) {
	q := c.Query("q")
	limit := parseIntOrZero(c.Query("limit"))
	list, err := s.sessions.Search(q, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": list})
}

// handleGetSession is GET /api/sessions/:id.
func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": sess})
}

// handleContinueSession is POST /api/sessions/:id/continue: executes one
// more turn against an existing, active session (spec §6: 404 if
// unknown, 500 if not active).
func (s *Server) handleContinueSession(c *gin.Context) {
	id := c.Param("id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if sess.Status != session.StatusActive {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "session is not active"})
		return
	}

	var req claudeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if req.ProjectPath == "" {
		req.ProjectPath = sess.ProjectPath
	}
	if req.Model == "" {
		req.Model = sess.Model
	}

	result := s.executor.Execute(c.Request.Context(), toExecutorOptions(req, id))
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, executorResultResponse(result))
}

type updateSessionStatusRequest struct {
	Status session.Status `json:"status" binding:"required"`
}

// handleUpdateSessionStatus is PATCH /api/sessions/:id/status.
func (s *Server) handleUpdateSessionStatus(c *gin.Context) {
	var req updateSessionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if req.Status != session.StatusActive && req.Status != session.StatusArchived && req.Status != session.StatusClosed {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "status must be one of active, archived, closed"})
		return
	}

	updated, err := s.sessions.Update(c.Param("id"), session.Patch{Status: &req.Status})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": updated})
}

// handleDeleteSession is DELETE /api/sessions/:id.
func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.sessions.Delete(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if s.notifier != nil {
		s.notifier.SessionDeleted(c.Request.Context(), id)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func parseIntOrZero(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
