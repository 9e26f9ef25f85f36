package httpapi

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/agentsvc/agentsvcd/internal/async"
	"github.com/agentsvc/agentsvcd/internal/taskstore"
)

// handleClaude is POST /api/claude: sync or async execution depending
// on the async body field (spec §6).
func (s *Server) handleClaude(c *gin.Context) {
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

	if req.Async {
		s.submitTask(c, req, sessionID)
		return
	}

	result := s.executor.Execute(c.Request.Context(), toExecutorOptions(req, sessionID))
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, executorResultResponse(result))
}

func (s *Server) submitTask(c *gin.Context, req claudeRequest, sessionID string) {
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
	c.JSON(http.StatusAccepted, gin.H{"success": true, "task_id": task.ID, "status": task.Status})
}

// handleClaudeBatch is POST /api/claude/batch: up to 10 prompts
// executed concurrently, each synchronously against the executor
// (spec §6).
func (s *Server) handleClaudeBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if len(req.Requests) == 0 || len(req.Requests) > maxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "requests must contain between 1 and 10 entries"})
		return
	}

	results := make([]map[string]any, len(req.Requests))
	var wg sync.WaitGroup
	for i := range req.Requests {
		item := req.Requests[i]
		if item.ProjectPath == "" {
			item.ProjectPath = s.cfg().DefaultProjectPath
		}
		if item.Model == "" {
			item.Model = s.cfg().DefaultModel
		}
		idx := i
		wg.Add(1)
		async.Go(s.logger, "httpapi.batch", func() {
			defer wg.Done()
			sessionID, err := s.ensureSession(c.Request.Context(), item.SessionID, item.ProjectPath, item.Model)
			if err != nil {
				results[idx] = map[string]any{"success": false, "error": err.Error()}
				return
			}
			result := s.executor.Execute(c.Request.Context(), toExecutorOptions(item, sessionID))
			results[idx] = executorResultResponse(result)
		})
	}
	wg.Wait()

	c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
}
