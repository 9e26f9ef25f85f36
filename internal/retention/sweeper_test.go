package retention

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentsvc/agentsvcd/internal/session"
	"github.com/agentsvc/agentsvcd/internal/taskstore"
)

func newSessionStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.New(filepath.Join(t.TempDir(), "sessions.json"), nil)
	require.NoError(t, err)
	return store
}

func newTaskStore(t *testing.T) *taskstore.Store {
	t.Helper()
	store, err := taskstore.New(filepath.Join(t.TempDir(), "tasks.json"), nil)
	require.NoError(t, err)
	return store
}

func TestSweepRemovesSessionsAndTerminalTasksPastRetention(t *testing.T) {
	sessions := newSessionStore(t)
	tasks := newTaskStore(t)

	sess, err := sessions.Create(session.Session{})
	require.NoError(t, err)
	task, err := tasks.Create(taskstore.Task{Prompt: "done"})
	require.NoError(t, err)
	_, err = tasks.MarkProcessing(task.ID)
	require.NoError(t, err)
	_, err = tasks.MarkCompleted(task.ID, "ok", 0, 1)
	require.NoError(t, err)

	s := New(Config{
		Sessions:      sessions,
		Tasks:         tasks,
		Interval:      10 * time.Millisecond,
		RetentionDays: func() int { return 0 },
	})
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		_, sErr := sessions.Get(sess.ID)
		_, tErr := tasks.Get(task.ID)
		return sErr == session.ErrNotFound && tErr == taskstore.ErrNotFound
	}, time.Second, 5*time.Millisecond)
}

func TestSweepSkipsWhenRetentionDaysNonPositive(t *testing.T) {
	sessions := newSessionStore(t)
	tasks := newTaskStore(t)

	sess, err := sessions.Create(session.Session{})
	require.NoError(t, err)

	s := New(Config{
		Sessions:      sessions,
		Tasks:         tasks,
		Interval:      10 * time.Millisecond,
		RetentionDays: func() int { return -1 },
	})
	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	got, err := sessions.Get(sess.ID)
	require.NoError(t, err)
	require.Equal(t, sess.ID, got.ID)
}

func TestStartAndStopIsIdempotent(t *testing.T) {
	s := New(Config{
		Sessions:      newSessionStore(t),
		Tasks:         newTaskStore(t),
		Interval:      10 * time.Millisecond,
		RetentionDays: func() int { return 30 },
	})
	s.Start()
	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	s.Stop()
}
