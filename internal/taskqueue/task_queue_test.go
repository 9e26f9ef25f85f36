package taskqueue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentsvc/agentsvcd/internal/config"
	"github.com/agentsvc/agentsvcd/internal/executor"
	"github.com/agentsvc/agentsvcd/internal/session"
	"github.com/agentsvc/agentsvcd/internal/stats"
	"github.com/agentsvc/agentsvcd/internal/taskstore"
	"github.com/agentsvc/agentsvcd/internal/webhook"
)

func scriptedCommand(shellSnippet string) executor.CommandFunc {
	return func(ctx context.Context, argv []string, dir string, env []string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", shellSnippet)
		cmd.Dir = dir
		cmd.Env = env
		return cmd
	}
}

type fixture struct {
	queue *Queue
	store *taskstore.Store
	exec  *executor.Executor
}

func newFixtureWithCommand(t *testing.T, concurrency int, defaultTimeout time.Duration, command executor.CommandFunc, notifier *webhook.Notifier) *fixture {
	t.Helper()
	dir := t.TempDir()

	taskStore, err := taskstore.New(filepath.Join(dir, "tasks.json"), nil)
	require.NoError(t, err)
	sessions, err := session.New(filepath.Join(dir, "sessions.json"), nil)
	require.NoError(t, err)
	statsStore, err := stats.New(filepath.Join(dir, "statistics.json"), nil)
	require.NoError(t, err)

	ex := executor.New(executor.Config{
		AgentPath: "claude",
		Sessions:  sessions,
		Stats:     statsStore,
		Command:   command,
	})

	q := New(Config{
		Store:          taskStore,
		Executor:       ex,
		Notifier:       notifier,
		Concurrency:    concurrency,
		DefaultTimeout: defaultTimeout,
	})
	return &fixture{queue: q, store: taskStore, exec: ex}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestAddTaskDispatchesAndMarksCompleted(t *testing.T) {
	fx := newFixtureWithCommand(t, 2, 5*time.Second, scriptedCommand(`echo '{"result":"ok","total_cost_usd":0.01}'`), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.queue.Start(ctx))
	defer fx.queue.Stop()

	created, err := fx.queue.AddTask(taskstore.Task{Prompt: "hi", ProjectPath: t.TempDir()})
	require.NoError(t, err)

	waitUntil(t, 2*time.Second, func() bool {
		got, err := fx.store.Get(created.ID)
		return err == nil && got.Status == taskstore.StatusCompleted
	})

	got, err := fx.store.Get(created.ID)
	require.NoError(t, err)
	require.Equal(t, "ok", got.Result)
}

func TestConcurrencyCapIsRespected(t *testing.T) {
	const sleepDuration = 200 * time.Millisecond
	var inFlight, maxSeen int32
	command := func(ctx context.Context, argv []string, dir string, env []string) *exec.Cmd {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		go func() {
			time.Sleep(sleepDuration + 100*time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
		return scriptedCommand(`sleep 0.2; echo '{"result":"ok","total_cost_usd":0}'`)(ctx, argv, dir, env)
	}

	fx := newFixtureWithCommand(t, 2, 5*time.Second, command, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.queue.Start(ctx))
	defer fx.queue.Stop()

	for i := 0; i < 6; i++ {
		_, err := fx.queue.AddTask(taskstore.Task{Prompt: "hi", ProjectPath: t.TempDir()})
		require.NoError(t, err)
	}

	waitUntil(t, 5*time.Second, func() bool {
		stats, err := fx.store.GetStats()
		return err == nil && stats.Completed == 6
	})

	require.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
}

func TestPriorityOrderingIsHonoredAtDispatchTime(t *testing.T) {
	command := func(ctx context.Context, argv []string, dir string, env []string) *exec.Cmd {
		return scriptedCommand(`echo '{"result":"ok","total_cost_usd":0}'`)(ctx, argv, dir, env)
	}
	fx := newFixtureWithCommand(t, 1, 5*time.Second, command, nil)

	low, err := fx.store.Create(taskstore.Task{Prompt: "low", ProjectPath: t.TempDir(), Priority: 1})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	high, err := fx.store.Create(taskstore.Task{Prompt: "high", ProjectPath: t.TempDir(), Priority: 9})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.queue.Start(ctx))
	defer fx.queue.Stop()

	waitUntil(t, 3*time.Second, func() bool {
		stats, err := fx.store.GetStats()
		return err == nil && stats.Completed == 2
	})

	highTask, err := fx.store.Get(high.ID)
	require.NoError(t, err)
	lowTask, err := fx.store.Get(low.ID)
	require.NoError(t, err)
	require.True(t, highTask.StartedAt.Before(*lowTask.StartedAt) || highTask.StartedAt.Equal(*lowTask.StartedAt))
}

func TestStartRecoversProcessingTasksToPending(t *testing.T) {
	fx := newFixtureWithCommand(t, 2, 5*time.Second, scriptedCommand(`echo '{"result":"ok","total_cost_usd":0}'`), nil)

	created, err := fx.store.Create(taskstore.Task{Prompt: "hi", ProjectPath: t.TempDir()})
	require.NoError(t, err)
	_, err = fx.store.MarkProcessing(created.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.queue.Start(ctx))
	defer fx.queue.Stop()

	waitUntil(t, 2*time.Second, func() bool {
		got, err := fx.store.Get(created.ID)
		return err == nil && got.Status == taskstore.StatusCompleted
	})
}

func TestCancelEvictsAndMarksCancelledWithoutKillingExecutor(t *testing.T) {
	fx := newFixtureWithCommand(t, 1, 5*time.Second, scriptedCommand(`sleep 2; echo '{"result":"late","total_cost_usd":0}'`), nil)

	created, err := fx.queue.AddTask(taskstore.Task{Prompt: "hi", ProjectPath: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.queue.Start(ctx))
	defer fx.queue.Stop()

	waitUntil(t, 2*time.Second, func() bool {
		got, err := fx.store.Get(created.ID)
		return err == nil && got.Status == taskstore.StatusProcessing
	})

	cancelled, err := fx.queue.Cancel(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, taskstore.StatusCancelled, cancelled.Status)

	status, err := fx.queue.GetStatus()
	require.NoError(t, err)
	require.Equal(t, 0, status.ActiveTasks)
}

func TestDispatchMarksFailedOnTimeoutAndDropsLateResult(t *testing.T) {
	fx := newFixtureWithCommand(t, 1, 100*time.Millisecond, scriptedCommand(`sleep 1; echo '{"result":"too late","total_cost_usd":0}'`), nil)

	created, err := fx.queue.AddTask(taskstore.Task{Prompt: "hi", ProjectPath: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.queue.Start(ctx))
	defer fx.queue.Stop()

	waitUntil(t, 2*time.Second, func() bool {
		got, err := fx.store.Get(created.ID)
		return err == nil && got.Status == taskstore.StatusFailed
	})

	got, err := fx.store.Get(created.ID)
	require.NoError(t, err)
	require.Equal(t, "Task execution timeout", got.Error)
	require.NotEqual(t, "too late", got.Result)
}

func TestGetStatusReportsConcurrencyAndStoreStats(t *testing.T) {
	fx := newFixtureWithCommand(t, 4, 5*time.Second, scriptedCommand(`echo '{"result":"ok","total_cost_usd":0}'`), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.queue.Start(ctx))
	defer fx.queue.Stop()

	status, err := fx.queue.GetStatus()
	require.NoError(t, err)
	require.True(t, status.Running)
	require.Equal(t, 4, status.Concurrency)
}

func TestSetConcurrencyAppliesToFutureReservations(t *testing.T) {
	fx := newFixtureWithCommand(t, 1, 5*time.Second, scriptedCommand(`echo '{"result":"ok","total_cost_usd":0}'`), nil)
	fx.queue.SetConcurrency(5)

	status, err := fx.queue.GetStatus()
	require.NoError(t, err)
	require.Equal(t, 5, status.Concurrency)
}

func TestSetDefaultTimeoutMsUpdatesFutureDispatches(t *testing.T) {
	fx := newFixtureWithCommand(t, 1, 5*time.Second, scriptedCommand(`echo '{"result":"ok","total_cost_usd":0}'`), nil)
	fx.queue.SetDefaultTimeoutMs(42)
	require.Equal(t, 42*time.Millisecond, fx.queue.defaultTimeout)
}

func TestNotifierReceivesTaskCompletedWebhook(t *testing.T) {
	received := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- "hit"
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := webhook.New(config.WebhookConfig{Enabled: true, DefaultURL: server.URL, Timeout: 1000, Retries: 1}, nil)
	fx := newFixtureWithCommand(t, 1, 5*time.Second, scriptedCommand(`echo '{"result":"ok","total_cost_usd":0}'`), notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.queue.Start(ctx))
	defer fx.queue.Stop()

	_, err := fx.queue.AddTask(taskstore.Task{Prompt: "hi", ProjectPath: t.TempDir()})
	require.NoError(t, err)

	select {
	case <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("webhook was never called")
	}
}

func TestStopDrainsBeforeReturning(t *testing.T) {
	fx := newFixtureWithCommand(t, 1, 5*time.Second, scriptedCommand(`sleep 0.3; echo '{"result":"ok","total_cost_usd":0}'`), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.queue.Start(ctx))

	_, err := fx.queue.AddTask(taskstore.Task{Prompt: "hi", ProjectPath: t.TempDir()})
	require.NoError(t, err)

	waitUntil(t, 2*time.Second, func() bool {
		return fx.queue.activeCount() > 0
	})

	fx.queue.Stop()
	require.Equal(t, 0, fx.queue.activeCount())
}
