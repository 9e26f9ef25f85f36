package taskstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "tasks.json"), nil)
	require.NoError(t, err)
	return store
}

func TestCreateDefaultsPriorityAndStatus(t *testing.T) {
	store := newStore(t)
	task, err := store.Create(Task{Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, 5, task.Priority)
	require.Equal(t, StatusPending, task.Status)
}

func TestPriorityFIFOOrdering(t *testing.T) {
	store := newStore(t)
	t1, err := store.Create(Task{Prompt: "t1", Priority: 5})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	t2, err := store.Create(Task{Prompt: "t2", Priority: 9})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	t3, err := store.Create(Task{Prompt: "t3", Priority: 5})
	require.NoError(t, err)

	list, err := store.List(ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, t2.ID, list[0].ID)
	require.Equal(t, t1.ID, list[1].ID)
	require.Equal(t, t3.ID, list[2].ID)
}

func TestLegalTransitions(t *testing.T) {
	store := newStore(t)
	task, err := store.Create(Task{Prompt: "hi"})
	require.NoError(t, err)

	_, err = store.MarkProcessing(task.ID)
	require.NoError(t, err)

	completed, err := store.MarkCompleted(task.ID, "done", 0.01, 100)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
}

func TestIllegalTransitionRejected(t *testing.T) {
	store := newStore(t)
	task, err := store.Create(Task{Prompt: "hi"})
	require.NoError(t, err)

	_, err = store.MarkCompleted(task.ID, "done", 0, 0)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelFromPendingNeverProcesses(t *testing.T) {
	store := newStore(t)
	task, err := store.Create(Task{Prompt: "hi"})
	require.NoError(t, err)

	cancelled, err := store.Cancel(task.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = store.MarkProcessing(task.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelOnTerminalFails(t *testing.T) {
	store := newStore(t)
	task, err := store.Create(Task{Prompt: "hi"})
	require.NoError(t, err)
	_, err = store.Cancel(task.ID)
	require.NoError(t, err)

	_, err = store.Cancel(task.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestResetProcessingToPending(t *testing.T) {
	store := newStore(t)
	task, err := store.Create(Task{Prompt: "hi"})
	require.NoError(t, err)
	_, err = store.MarkProcessing(task.ID)
	require.NoError(t, err)

	recovered, err := store.ResetProcessingToPending()
	require.NoError(t, err)
	require.Equal(t, []string{task.ID}, recovered)

	got, err := store.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestCleanupOnlyRemovesTerminal(t *testing.T) {
	store := newStore(t)
	pending, err := store.Create(Task{Prompt: "keep"})
	require.NoError(t, err)
	done, err := store.Create(Task{Prompt: "done"})
	require.NoError(t, err)
	_, err = store.MarkProcessing(done.ID)
	require.NoError(t, err)
	_, err = store.MarkCompleted(done.ID, "ok", 0, 1)
	require.NoError(t, err)

	removed, err := store.Cleanup(0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = store.Get(pending.ID)
	require.NoError(t, err)
	_, err = store.Get(done.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
