// Package statscollector implements the Statistics Collector (spec
// §4.8): a periodic in-process sampler of memory and uptime, and
// read-through accessors onto the Statistics Store.
package statscollector

import (
	"runtime"
	"sync"
	"time"

	"github.com/agentsvc/agentsvcd/internal/async"
	"github.com/agentsvc/agentsvcd/internal/logging"
	"github.com/agentsvc/agentsvcd/internal/stats"
)

const defaultInterval = 60 * time.Second

// Sample is one in-process resource reading.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	UptimeSec  float64   `json:"uptime_seconds"`
	AllocBytes uint64    `json:"alloc_bytes"`
	SysBytes   uint64    `json:"sys_bytes"`
	NumGC      uint32    `json:"num_gc"`
	Goroutines int       `json:"goroutines"`
}

// Collector periodically samples process resources and logs them at
// debug level, and exposes the Statistics Store's read operations so
// callers never need to hold a separate reference to it.
type Collector struct {
	store    *stats.Store
	logger   logging.Logger
	interval time.Duration
	startAt  time.Time
	now      func() time.Time

	mu      sync.Mutex
	enabled bool
	running bool
	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Config bundles Collector construction parameters.
type Config struct {
	Store    *stats.Store
	Logger   logging.Logger
	Interval time.Duration
	Enabled  bool
}

// New constructs a Collector in the stopped state.
func New(cfg Config) *Collector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Collector{
		store:    cfg.Store,
		logger:   logging.OrNop(cfg.Logger),
		interval: interval,
		now:      time.Now,
		enabled:  cfg.Enabled,
	}
}

// Start begins the periodic sampler. A disabled collector is a no-op,
// per spec §4.8: "Disabled when statistics.enabled=false".
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled || c.running {
		return
	}
	c.running = true
	c.startAt = c.now()
	c.ticker = time.NewTicker(c.interval)
	c.stopCh = make(chan struct{})

	ticker := c.ticker
	stopCh := c.stopCh
	c.wg.Add(1)
	async.Go(c.logger, "statscollector.loop", func() {
		defer c.wg.Done()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				c.sample()
			}
		}
	})
}

// Stop halts the sampler. Safe to call on an already-stopped or
// disabled Collector.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.ticker.Stop()
	close(c.stopCh)
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Collector) sample() Sample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s := Sample{
		Timestamp:  c.now().UTC(),
		UptimeSec:  c.now().Sub(c.startAt).Seconds(),
		AllocBytes: ms.Alloc,
		SysBytes:   ms.Sys,
		NumGC:      ms.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
	c.logger.Debug("statscollector: uptime=%.1fs alloc=%d sys=%d gc=%d goroutines=%d",
		s.UptimeSec, s.AllocBytes, s.SysBytes, s.NumGC, s.Goroutines)
	return s
}

// Sample exposes one immediate reading without waiting for the ticker,
// used by the health endpoint.
func (c *Collector) Sample() Sample {
	return c.sample()
}

// GetSummary is a read-through to the Statistics Store.
func (c *Collector) GetSummary() (stats.Document, error) {
	return c.store.GetSummary()
}

// GetDaily is a read-through to the Statistics Store.
func (c *Collector) GetDaily(limit int) ([]*stats.DayRecord, error) {
	return c.store.GetDaily(limit)
}

// GetByDateRange is a read-through to the Statistics Store.
func (c *Collector) GetByDateRange(start, end string) ([]*stats.DayRecord, error) {
	return c.store.GetByDateRange(start, end)
}

// GetTopModels is a read-through to the Statistics Store.
func (c *Collector) GetTopModels(limit int) ([]stats.TopModel, error) {
	return c.store.GetTopModels(limit)
}
