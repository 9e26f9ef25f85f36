package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleStatsSummary is GET /api/statistics/summary.
func (s *Server) handleStatsSummary(c *gin.Context) {
	summary, err := s.collector.GetSummary()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "summary": summary})
}

// handleStatsDaily is GET /api/statistics/daily?limit=.
func (s *Server) handleStatsDaily(c *gin.Context) {
	daily, err := s.collector.GetDaily(parseIntOrZero(c.Query("limit")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "daily": daily})
}

// handleStatsRange is GET /api/statistics/range?start=&end=.
func (s *Server) handleStatsRange(c *gin.Context) {
	start, end := c.Query("start"), c.Query("end")
	if start == "" || end == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "start and end query parameters are required"})
		return
	}
	daily, err := s.collector.GetByDateRange(start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "daily": daily})
}

// handleStatsModels is GET /api/statistics/models?limit=.
func (s *Server) handleStatsModels(c *gin.Context) {
	models, err := s.collector.GetTopModels(parseIntOrZero(c.Query("limit")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "models": models})
}

// handleStatsOverview is GET /api/statistics/: the full aggregate view
// (summary, the most recent week, and the top models) in one call.
func (s *Server) handleStatsOverview(c *gin.Context) {
	summary, err := s.collector.GetSummary()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	daily, err := s.collector.GetDaily(7)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	models, err := s.collector.GetTopModels(5)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"summary": summary,
		"daily":   daily,
		"models":  models,
	})
}
