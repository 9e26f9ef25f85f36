// Package retention implements the session/task retention sweep implied
// by spec §3's lifecycle clauses ("removed by ... retention sweep
// (updated_at older than retention days)" for sessions, "terminal
// records retained until retention sweep removes those whose
// completed_at is older than retention days" for tasks): a periodic
// ticker that calls each store's own Cleanup.
package retention

import (
	"sync"
	"time"

	"github.com/agentsvc/agentsvcd/internal/async"
	"github.com/agentsvc/agentsvcd/internal/logging"
)

const defaultInterval = 1 * time.Hour

// SessionStore is the subset of *session.Store the sweeper needs.
type SessionStore interface {
	Cleanup(retentionDays int) (int, error)
}

// TaskStore is the subset of *taskstore.Store the sweeper needs.
type TaskStore interface {
	Cleanup(retentionDays int) (int, error)
}

// Sweeper periodically removes sessions and terminal tasks older than
// the configured retention window.
type Sweeper struct {
	sessions      SessionStore
	tasks         TaskStore
	logger        logging.Logger
	interval      time.Duration
	retentionDays func() int

	mu      sync.Mutex
	running bool
	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Config bundles Sweeper construction parameters. RetentionDays is a
// func rather than a plain int so the sweeper observes config hot
// reloads of sessionRetentionDays without needing its own update path.
type Config struct {
	Sessions      SessionStore
	Tasks         TaskStore
	Logger        logging.Logger
	Interval      time.Duration
	RetentionDays func() int
}

// New constructs a Sweeper in the stopped state.
func New(cfg Config) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sweeper{
		sessions:      cfg.Sessions,
		tasks:         cfg.Tasks,
		logger:        logging.OrNop(cfg.Logger),
		interval:      interval,
		retentionDays: cfg.RetentionDays,
	}
}

// Start begins the periodic sweep, running one pass immediately so a
// long-lived process does not wait a full interval after a restart
// before honoring retention.
func (s *Sweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ticker = time.NewTicker(s.interval)
	s.stopCh = make(chan struct{})
	ticker := s.ticker
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	async.Go(s.logger, "retention.loop", func() {
		defer s.wg.Done()
		s.sweep()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	})
}

// Stop halts the sweep loop. Safe to call on an already-stopped Sweeper.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.ticker.Stop()
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Sweeper) sweep() {
	days := s.retentionDays()
	if days <= 0 {
		return
	}
	if removed, err := s.sessions.Cleanup(days); err != nil {
		s.logger.Warn("retention: session cleanup failed: %v", err)
	} else if removed > 0 {
		s.logger.Info("retention: removed %d session(s) older than %d day(s)", removed, days)
	}
	if removed, err := s.tasks.Cleanup(days); err != nil {
		s.logger.Warn("retention: task cleanup failed: %v", err)
	} else if removed > 0 {
		s.logger.Info("retention: removed %d terminal task(s) older than %d day(s)", removed, days)
	}
}
