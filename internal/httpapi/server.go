// Package httpapi implements the HTTP surface (spec §6): the REST
// router, request validation, and glue between the executor, session,
// task, and statistics components. It is explicitly named as an
// "external collaborator" interface in spec §1, but is carried here so
// the service is runnable end to end.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/agentsvc/agentsvcd/internal/config"
	"github.com/agentsvc/agentsvcd/internal/executor"
	"github.com/agentsvc/agentsvcd/internal/logging"
	"github.com/agentsvc/agentsvcd/internal/metrics"
	"github.com/agentsvc/agentsvcd/internal/ratelimit"
	"github.com/agentsvc/agentsvcd/internal/session"
	"github.com/agentsvc/agentsvcd/internal/statscollector"
	"github.com/agentsvc/agentsvcd/internal/taskqueue"
	"github.com/agentsvc/agentsvcd/internal/taskstore"
	"github.com/agentsvc/agentsvcd/internal/webhook"
)

// Server bundles the components the HTTP layer fronts. It holds no
// state of its own beyond wiring: every mutation goes through one of
// the injected stores/components.
type Server struct {
	cfg       func() config.Config
	sessions  *session.Store
	tasks     *taskstore.Store
	queue     *taskqueue.Queue
	executor  *executor.Executor
	collector *statscollector.Collector
	notifier  *webhook.Notifier
	metrics   *metrics.Metrics
	limiter   *ratelimit.Limiter
	logger    logging.Logger
	startedAt time.Time
}

// Config bundles Server construction parameters.
type Config struct {
	ConfigSource func() config.Config
	Sessions     *session.Store
	Tasks        *taskstore.Store
	Queue        *taskqueue.Queue
	Executor     *executor.Executor
	Collector    *statscollector.Collector
	Notifier     *webhook.Notifier
	Metrics      *metrics.Metrics
	Logger       logging.Logger
}

// New constructs a Server. A dedicated rate limiter is built from
// cfg.ConfigSource so limiter.Allow always sees the live configuration
// (spec §5: live components re-read configuration on each operation).
func New(cfg Config) *Server {
	return &Server{
		cfg:       cfg.ConfigSource,
		sessions:  cfg.Sessions,
		tasks:     cfg.Tasks,
		queue:     cfg.Queue,
		executor:  cfg.Executor,
		collector: cfg.Collector,
		notifier:  cfg.Notifier,
		metrics:   cfg.Metrics,
		limiter:   ratelimit.New(func() config.RateLimitConfig { return cfg.ConfigSource().RateLimit }),
		logger:    logging.OrNop(cfg.Logger),
		startedAt: time.Now().UTC(),
	}
}

// Router builds the gin.Engine with every route from spec §6 mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
	}))

	r.GET("/health", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/api")
	api.Use(s.rateLimit())
	{
		api.GET("/config", s.handleGetConfig)

		api.POST("/claude", s.handleClaude)
		api.POST("/claude/batch", s.handleClaudeBatch)

		api.POST("/sessions", s.handleCreateSession)
		api.GET("/sessions", s.handleListSessions)
		api.GET("/sessions/search", s.handleSearchSessions)
		api.GET("/sessions/:id", s.handleGetSession)
		api.POST("/sessions/:id/continue", s.handleContinueSession)
		api.PATCH("/sessions/:id/status", s.handleUpdateSessionStatus)
		api.DELETE("/sessions/:id", s.handleDeleteSession)

		api.POST("/tasks/async", s.handleCreateTask)
		api.GET("/tasks/queue/status", s.handleQueueStatus)
		api.GET("/tasks", s.handleListTasks)
		api.GET("/tasks/:id", s.handleGetTask)
		api.PATCH("/tasks/:id/priority", s.handleUpdateTaskPriority)
		api.DELETE("/tasks/:id", s.handleCancelTask)

		api.GET("/statistics/summary", s.handleStatsSummary)
		api.GET("/statistics/daily", s.handleStatsDaily)
		api.GET("/statistics/range", s.handleStatsRange)
		api.GET("/statistics/models", s.handleStatsModels)
		api.GET("/statistics", s.handleStatsOverview)
		api.GET("/statistics/", s.handleStatsOverview)
	}

	return r
}
