package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleHealth reports liveness plus a process sample (spec §6:
// "{status:"ok", uptime, timestamp, memory}").
func (s *Server) handleHealth(c *gin.Context) {
	sample := s.collector.Sample()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    time.Since(s.startedAt).Seconds(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"memory": gin.H{
			"alloc_bytes": sample.AllocBytes,
			"sys_bytes":   sample.SysBytes,
			"num_gc":      sample.NumGC,
			"goroutines":  sample.Goroutines,
		},
	})
}

// publicConfig is the subset of the configuration exposed via
// GET /api/config (spec §6): nothing that reveals filesystem layout or
// secrets, only operational knobs a client may want to see.
type publicConfig struct {
	DefaultModel         string `json:"defaultModel"`
	MaxBudgetUSD         float64 `json:"maxBudgetUsd"`
	SessionRetentionDays int    `json:"sessionRetentionDays"`
	TaskQueueConcurrency int    `json:"taskQueueConcurrency"`
	TaskQueueTimeoutMs   int    `json:"taskQueueDefaultTimeoutMs"`
	RateLimitEnabled     bool   `json:"rateLimitEnabled"`
	RateLimitMaxRequests int    `json:"rateLimitMaxRequests"`
	WebhookEnabled       bool   `json:"webhookEnabled"`
	StatisticsEnabled    bool   `json:"statisticsEnabled"`
}

func (s *Server) handleGetConfig(c *gin.Context) {
	cfg := s.cfg()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"config": publicConfig{
			DefaultModel:         cfg.DefaultModel,
			MaxBudgetUSD:         cfg.MaxBudgetUSD,
			SessionRetentionDays: cfg.SessionRetentionDays,
			TaskQueueConcurrency: cfg.TaskQueue.Concurrency,
			TaskQueueTimeoutMs:   cfg.TaskQueue.DefaultTimeout,
			RateLimitEnabled:     cfg.RateLimit.Enabled,
			RateLimitMaxRequests: cfg.RateLimit.MaxRequests,
			WebhookEnabled:       cfg.Webhook.Enabled,
			StatisticsEnabled:    cfg.Statistics.Enabled,
		},
	})
}
