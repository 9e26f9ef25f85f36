package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentsvc/agentsvcd/internal/config"
	"github.com/agentsvc/agentsvcd/internal/executor"
	"github.com/agentsvc/agentsvcd/internal/httpapi"
	"github.com/agentsvc/agentsvcd/internal/logging"
	"github.com/agentsvc/agentsvcd/internal/metrics"
	"github.com/agentsvc/agentsvcd/internal/retention"
	"github.com/agentsvc/agentsvcd/internal/session"
	"github.com/agentsvc/agentsvcd/internal/stats"
	"github.com/agentsvc/agentsvcd/internal/statscollector"
	"github.com/agentsvc/agentsvcd/internal/taskqueue"
	"github.com/agentsvc/agentsvcd/internal/taskstore"
	"github.com/agentsvc/agentsvcd/internal/tracing"
	"github.com/agentsvc/agentsvcd/internal/webhook"
)

// shutdownWatchdog bounds the entire shutdown sequence (spec §4.9
// Shutdown: "A 10-second overall watchdog forces exit if any step hangs").
const shutdownWatchdog = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		path = filepath.Join(home, ".agentsvcd", "config", "config.json")
	}

	bootLogger := logging.New(logging.Config{Level: logging.LevelInfo})

	// A first load resolves the initial configuration so the live
	// components below (Task Queue, Webhook Notifier) can be
	// constructed before the Manager is built; the Manager re-runs the
	// full startup sequence (load, superuser check, ensure dirs, path
	// detection, save) immediately afterward, per spec §4.9 steps 1-4.
	bootstrap, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("serve: loading config: %w", err)
	}
	if err := config.EnsureStartable(bootstrap); err != nil {
		if errors.Is(err, config.ErrSuperuserRefused) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return err
	}

	rootLogger := logging.New(logging.Config{Level: bootstrap.Level()})

	if err := writePidFile(bootstrap.PidFile); err != nil {
		return fmt.Errorf("serve: writing pid file: %w", err)
	}
	defer os.Remove(bootstrap.PidFile)

	sessions, err := session.New(filepath.Join(bootstrap.DataDir, "sessions", "sessions.json"), logging.WithComponent(rootLogger, "session"))
	if err != nil {
		return err
	}
	taskStore, err := taskstore.New(filepath.Join(bootstrap.DataDir, "tasks", "tasks.json"), logging.WithComponent(rootLogger, "taskstore"))
	if err != nil {
		return err
	}
	statsStore, err := stats.New(filepath.Join(bootstrap.DataDir, "statistics", "statistics.json"), logging.WithComponent(rootLogger, "stats"))
	if err != nil {
		return err
	}

	tracer, err := tracing.New(context.Background(), tracing.Config{
		ServiceName:   "agentsvcd",
		Version:       Version,
		Enabled:       bootstrap.Tracing.Enabled,
		OTLPEndpoint:  bootstrap.Tracing.OTLPEndpoint,
		SamplingRatio: bootstrap.Tracing.SamplingRatio,
	})
	if err != nil {
		rootLogger.Warn("serve: tracing disabled: %v", err)
	}

	exec := executor.New(executor.Config{
		AgentPath:               bootstrap.AgentPath,
		ToolchainBin:            bootstrap.ToolchainBin,
		EnableRootCompatibility: bootstrap.EnableRootCompatibility,
		Sessions:                sessions,
		Stats:                   statsStore,
		Logger:                  logging.WithComponent(rootLogger, "executor"),
		Tracer:                  tracer,
	})

	notifier := webhook.New(bootstrap.Webhook, logging.WithComponent(rootLogger, "webhook"))

	queue := taskqueue.New(taskqueue.Config{
		Store:          taskStore,
		Executor:       exec,
		Notifier:       notifier,
		Logger:         logging.WithComponent(rootLogger, "taskqueue"),
		Concurrency:    bootstrap.TaskQueue.Concurrency,
		DefaultTimeout: bootstrap.DefaultTimeout(),
		Tracer:         tracer,
	})

	// The Manager is built last, once the Task Queue and Webhook
	// Notifier it will push live updates into already exist (spec
	// §4.9 reload: taskQueue.* into the Task Queue, the webhook
	// section into the Notifier, log level into the root logger).
	mgr, err := config.NewManager(path, logging.WithComponent(rootLogger, "config"),
		config.WithTaskQueueUpdater(queue),
		config.WithWebhookUpdater(notifier),
		config.WithRootLogger(rootLogger),
	)
	if err != nil {
		if errors.Is(err, config.ErrSuperuserRefused) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return err
	}
	cfg := mgr.Current()

	collector := statscollector.New(statscollector.Config{
		Store:    statsStore,
		Logger:   logging.WithComponent(rootLogger, "statscollector"),
		Interval: cfg.CollectionInterval(),
		Enabled:  cfg.Statistics.Enabled,
	})

	sweeper := retention.New(retention.Config{
		Sessions:      sessions,
		Tasks:         taskStore,
		Logger:        logging.WithComponent(rootLogger, "retention"),
		RetentionDays: func() int { return mgr.Current().SessionRetentionDays },
	})

	met := metrics.New()

	server := httpapi.New(httpapi.Config{
		ConfigSource: mgr.Current,
		Sessions:     sessions,
		Tasks:        taskStore,
		Queue:        queue,
		Executor:     exec,
		Collector:    collector,
		Notifier:     notifier,
		Metrics:      met,
		Logger:       logging.WithComponent(rootLogger, "httpapi"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("serve: starting task queue: %w", err)
	}
	collector.Start()
	sweeper.Start()
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("serve: starting config watcher: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: server.Router()}

	serveErrCh := make(chan error, 1)
	go func() {
		rootLogger.Info("agentsvcd listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("serve: listen: %w", err)
		}
	case <-sigCh:
		rootLogger.Info("serve: shutdown signal received")
	}

	done := make(chan struct{})
	go func() {
		mgr.Stop()
		collector.Stop()
		sweeper.Stop()
		queue.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownWatchdog)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = tracer.Shutdown(shutdownCtx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownWatchdog):
		rootLogger.Warn("serve: shutdown watchdog elapsed, forcing exit")
		os.Exit(1)
	}

	return nil
}

func writePidFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}
