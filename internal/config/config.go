// Package config implements the Config & Reload component (spec §3, §4.9):
// the process-wide, hot-reloadable configuration object, its on-disk
// persistence, and the live-diff application to running components.
package config

import (
	"time"

	"github.com/agentsvc/agentsvcd/internal/logging"
)

// TaskQueueConfig is the reloadable subset of the queue's knobs.
type TaskQueueConfig struct {
	Concurrency    int `mapstructure:"concurrency" json:"concurrency"`
	DefaultTimeout int `mapstructure:"defaultTimeout" json:"defaultTimeout"` // milliseconds
}

// RateLimitConfig controls the fixed-window limiter.
type RateLimitConfig struct {
	Enabled     bool `mapstructure:"enabled" json:"enabled"`
	WindowMs    int  `mapstructure:"windowMs" json:"windowMs"`
	MaxRequests int  `mapstructure:"maxRequests" json:"maxRequests"`
}

// WebhookConfig controls default delivery behavior.
type WebhookConfig struct {
	Enabled    bool   `mapstructure:"enabled" json:"enabled"`
	DefaultURL string `mapstructure:"defaultUrl" json:"defaultUrl"`
	Timeout    int    `mapstructure:"timeout" json:"timeout"` // milliseconds
	Retries    int    `mapstructure:"retries" json:"retries"`
}

// StatisticsConfig controls the periodic sampler.
type StatisticsConfig struct {
	Enabled            bool `mapstructure:"enabled" json:"enabled"`
	CollectionInterval int  `mapstructure:"collectionInterval" json:"collectionInterval"` // seconds
}

// TracingConfig controls the OpenTelemetry TracerProvider. Like port,
// host, and the data directories, it is resolved once at startup and is
// not part of the live-reload diff: swapping exporters under a running
// process would mean tearing down in-flight spans mid-export.
type TracingConfig struct {
	Enabled       bool    `mapstructure:"enabled" json:"enabled"`
	OTLPEndpoint  string  `mapstructure:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRatio float64 `mapstructure:"samplingRatio" json:"samplingRatio"`
}

// Config is the full process-wide configuration document, per spec §3.
type Config struct {
	Port int    `mapstructure:"port" json:"port"`
	Host string `mapstructure:"host" json:"host"`

	AgentPath    string `mapstructure:"agentPath" json:"agentPath"`
	ToolchainBin string `mapstructure:"toolchainBin" json:"toolchainBin"`

	DefaultProjectPath string `mapstructure:"defaultProjectPath" json:"defaultProjectPath"`
	DataDir            string `mapstructure:"dataDir" json:"dataDir"`
	LogFile            string `mapstructure:"logFile" json:"logFile"`
	PidFile            string `mapstructure:"pidFile" json:"pidFile"`

	SessionRetentionDays int `mapstructure:"sessionRetentionDays" json:"sessionRetentionDays"`

	TaskQueue  TaskQueueConfig  `mapstructure:"taskQueue" json:"taskQueue"`
	RateLimit  RateLimitConfig  `mapstructure:"rateLimit" json:"rateLimit"`
	Webhook    WebhookConfig    `mapstructure:"webhook" json:"webhook"`
	Statistics StatisticsConfig `mapstructure:"statistics" json:"statistics"`
	Tracing    TracingConfig    `mapstructure:"tracing" json:"tracing"`

	DefaultModel string  `mapstructure:"defaultModel" json:"defaultModel"`
	MaxBudgetUSD float64 `mapstructure:"maxBudgetUsd" json:"maxBudgetUsd"`
	LogLevel     string  `mapstructure:"logLevel" json:"logLevel"`

	EnableRootCompatibility bool `mapstructure:"enableRootCompatibility" json:"enableRootCompatibility"`
}

// Defaults returns the configuration used when no config.json exists yet.
func Defaults() Config {
	home := homeDir()
	return Config{
		Port:                 8787,
		Host:                 "0.0.0.0",
		AgentPath:            "claude",
		ToolchainBin:         "",
		DefaultProjectPath:   home,
		DataDir:              joinHome(home, ".agentsvcd", "data"),
		LogFile:              joinHome(home, ".agentsvcd", "logs", "agentsvcd.log"),
		PidFile:              joinHome(home, ".agentsvcd", "run", "server.pid"),
		SessionRetentionDays: 30,
		TaskQueue: TaskQueueConfig{
			Concurrency:    3,
			DefaultTimeout: 300000,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			WindowMs:    60000,
			MaxRequests: 120,
		},
		Webhook: WebhookConfig{
			Enabled:    false,
			DefaultURL: "",
			Timeout:    10000,
			Retries:    3,
		},
		Statistics: StatisticsConfig{
			Enabled:            true,
			CollectionInterval: 60,
		},
		Tracing: TracingConfig{
			Enabled:       false,
			OTLPEndpoint:  "localhost:4318",
			SamplingRatio: 1.0,
		},
		DefaultModel:            "claude-sonnet-4-5",
		MaxBudgetUSD:            0,
		LogLevel:                "info",
		EnableRootCompatibility: false,
	}
}

// Diff enumerates which reloadable sections changed between two
// configurations. Non-live fields (port, host, agentPath, data
// directories) are intentionally excluded: spec §4.9 states they
// require a restart.
type Diff struct {
	TaskQueueChanged  bool
	WebhookChanged    bool
	LogLevelChanged   bool
	Before, After     Config
}

// ComputeDiff compares before and after, reporting which live-reloadable
// sections changed.
func ComputeDiff(before, after Config) Diff {
	return Diff{
		TaskQueueChanged: before.TaskQueue != after.TaskQueue,
		WebhookChanged:   before.Webhook != after.Webhook,
		LogLevelChanged:  before.LogLevel != after.LogLevel,
		Before:           before,
		After:            after,
	}
}

// Level maps the configured LogLevel string onto a logging.Level,
// defaulting to info for anything unrecognized.
func (c Config) Level() logging.Level {
	switch c.LogLevel {
	case string(logging.LevelDebug):
		return logging.LevelDebug
	case string(logging.LevelWarn):
		return logging.LevelWarn
	case string(logging.LevelError):
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// DefaultTimeout returns taskQueue.defaultTimeout as a time.Duration.
func (c Config) DefaultTimeout() time.Duration {
	return time.Duration(c.TaskQueue.DefaultTimeout) * time.Millisecond
}

// WebhookTimeout returns webhook.timeout as a time.Duration.
func (c Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Webhook.Timeout) * time.Millisecond
}

// CollectionInterval returns statistics.collectionInterval as a time.Duration.
func (c Config) CollectionInterval() time.Duration {
	return time.Duration(c.Statistics.CollectionInterval) * time.Second
}

// RateLimitWindow returns rateLimit.windowMs as a time.Duration.
func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowMs) * time.Millisecond
}
