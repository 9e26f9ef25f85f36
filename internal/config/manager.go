package config

import (
	"context"
	"fmt"
	"time"

	"github.com/agentsvc/agentsvcd/internal/logging"
)

// TaskQueueUpdater receives live updates to reloadable queue knobs.
type TaskQueueUpdater interface {
	SetConcurrency(n int)
	SetDefaultTimeoutMs(ms int)
}

// WebhookUpdater receives a replacement for the Webhook Notifier's
// cached configuration.
type WebhookUpdater interface {
	SetConfig(cfg WebhookConfig)
}

// Manager owns the live configuration object: it loads and persists it
// at startup, watches it for changes, and applies diffs selectively to
// the components named in spec §4.9 (port/host/agentPath/data
// directories are never live-changeable).
type Manager struct {
	path    string
	logger  logging.Logger
	cache   *RuntimeConfigCache
	watcher *RuntimeConfigWatcher

	taskQueue TaskQueueUpdater
	webhook   WebhookUpdater
	rootLog   logging.Logger
	debounce  time.Duration
}

// ManagerOption configures optional live-update targets.
type ManagerOption func(*Manager)

// WithTaskQueueUpdater registers the Task Queue instance that should
// receive concurrency/timeout updates on reload.
func WithTaskQueueUpdater(u TaskQueueUpdater) ManagerOption {
	return func(m *Manager) { m.taskQueue = u }
}

// WithWebhookUpdater registers the Webhook Notifier instance that
// should receive a replacement configuration on reload.
func WithWebhookUpdater(u WebhookUpdater) ManagerOption {
	return func(m *Manager) { m.webhook = u }
}

// WithRootLogger registers the root logger whose level is adjusted
// in place when logLevel changes on reload.
func WithRootLogger(logger logging.Logger) ManagerOption {
	return func(m *Manager) { m.rootLog = logger }
}

// WithDebounce overrides the reload debounce window. Production code
// should leave this unset, which defaults to the spec-mandated 500ms;
// tests use it to avoid sleeping through the full window.
func WithDebounce(d time.Duration) ManagerOption {
	return func(m *Manager) { m.debounce = d }
}

// NewManager runs the startup sequence (spec §4.9 steps 1-4) and
// returns a Manager ready to Start watching for reloads.
func NewManager(path string, logger logging.Logger, opts ...ManagerOption) (*Manager, error) {
	logger = logging.OrNop(logger)

	bootstrap, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: startup load: %w", err)
	}
	if err := EnsureStartable(bootstrap); err != nil {
		return nil, err
	}
	if err := EnsureDirs(bootstrap); err != nil {
		return nil, err
	}
	RunPathDetector(&bootstrap)
	if err := Save(path, bootstrap); err != nil {
		return nil, fmt.Errorf("config: startup save: %w", err)
	}

	cache, err := NewRuntimeConfigCache(path, logger)
	if err != nil {
		return nil, err
	}

	m := &Manager{path: path, logger: logger, cache: cache}
	for _, opt := range opts {
		opt(m)
	}

	watcherOpts := []RuntimeConfigWatcherOption{
		WithConfigWatchLogger(logger),
		WithConfigWatchOnReload(m.applyDiff),
	}
	if m.debounce > 0 {
		watcherOpts = append(watcherOpts, WithConfigWatchDebounce(m.debounce))
	}
	watcher, err := NewRuntimeConfigWatcher(path, cache, watcherOpts...)
	if err != nil {
		return nil, err
	}
	m.watcher = watcher
	return m, nil
}

// Start begins watching the configuration file for reloads.
func (m *Manager) Start(ctx context.Context) error {
	return m.watcher.Start(ctx)
}

// Stop terminates the watcher.
func (m *Manager) Stop() {
	if m.watcher != nil {
		m.watcher.Stop()
	}
}

// Current returns the live configuration.
func (m *Manager) Current() Config {
	cfg, _ := m.cache.Resolve(context.Background())
	return cfg
}

// applyDiff pushes a reload's changes into the live components per
// spec §4.9: taskQueue knobs into the Task Queue, the webhook section
// into the Webhook Notifier, log level into the root logger. Every
// other field is already visible to new readers through Current().
func (m *Manager) applyDiff(diff Diff) {
	if diff.TaskQueueChanged && m.taskQueue != nil {
		m.taskQueue.SetConcurrency(diff.After.TaskQueue.Concurrency)
		m.taskQueue.SetDefaultTimeoutMs(diff.After.TaskQueue.DefaultTimeout)
	}
	if diff.WebhookChanged && m.webhook != nil {
		m.webhook.SetConfig(diff.After.Webhook)
	}
	if diff.LogLevelChanged && m.rootLog != nil {
		logging.SetLevel(m.rootLog, diff.After.Level())
	}
	m.logger.Info("config reloaded")
}
