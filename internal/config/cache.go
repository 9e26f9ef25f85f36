package config

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/agentsvc/agentsvcd/internal/logging"
)

// RuntimeConfigCache holds the current live configuration and notifies
// subscribers when a reload replaces it.
type RuntimeConfigCache struct {
	path   string
	logger logging.Logger

	current atomic.Pointer[Config]

	mu          sync.Mutex
	subscribers []chan struct{}
}

// NewRuntimeConfigCache loads path and wraps the result in a cache.
func NewRuntimeConfigCache(path string, logger logging.Logger) (*RuntimeConfigCache, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	RunPathDetector(&cfg)

	cache := &RuntimeConfigCache{path: path, logger: logging.OrNop(logger)}
	cache.current.Store(&cfg)
	return cache, nil
}

// Resolve returns the currently cached configuration.
func (c *RuntimeConfigCache) Resolve(_ context.Context) (Config, error) {
	return *c.current.Load(), nil
}

// Reload re-runs the load-and-detect sequence (spec §4.9 steps 2-4),
// swaps the cached configuration, signals subscribers, and returns the
// diff so the caller can apply live updates.
func (c *RuntimeConfigCache) Reload(_ context.Context) (Diff, error) {
	before := *c.current.Load()

	after, err := Load(c.path)
	if err != nil {
		return Diff{}, err
	}
	if changed := RunPathDetector(&after); changed {
		if err := Save(c.path, after); err != nil {
			c.logger.Warn("config: failed to persist path-detector update: %v", err)
		}
	}

	c.current.Store(&after)
	c.notify()
	return ComputeDiff(before, after), nil
}

// Updates returns a channel that receives a signal after every reload.
// Each call returns a fresh channel; the cache fans the same event out
// to every subscriber.
func (c *RuntimeConfigCache) Updates() <-chan struct{} {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.mu.Unlock()
	return ch
}

func (c *RuntimeConfigCache) notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
