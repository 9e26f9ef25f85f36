package jsonstore

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type doc struct {
	Counter int      `json:"counter"`
	Items   []string `json:"items"`
}

func TestWithLockPersistsMutation(t *testing.T) {
	dir := t.TempDir()
	store, err := New(filepath.Join(dir, "doc.json"), nil)
	require.NoError(t, err)

	var d doc
	err = WithLock(store, &d, func(d *doc) error {
		d.Counter++
		d.Items = append(d.Items, "a")
		return nil
	})
	require.NoError(t, err)

	var reread doc
	require.NoError(t, store.Read(&reread))
	require.Equal(t, 1, reread.Counter)
	require.Equal(t, []string{"a"}, reread.Items)
}

func TestWithLockDiscardsOnOpError(t *testing.T) {
	dir := t.TempDir()
	store, err := New(filepath.Join(dir, "doc.json"), nil)
	require.NoError(t, err)

	var d doc
	err = WithLock(store, &d, func(d *doc) error {
		d.Counter = 5
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	var reread doc
	require.NoError(t, store.Read(&reread))
	require.Equal(t, 0, reread.Counter, "nothing should have been persisted")
}

func TestConcurrentWithLockSerializes(t *testing.T) {
	dir := t.TempDir()
	store, err := New(filepath.Join(dir, "doc.json"), nil)
	require.NoError(t, err)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var d doc
			_ = WithLock(store, &d, func(d *doc) error {
				d.Counter++
				return nil
			})
		}()
	}
	wg.Wait()

	var final doc
	require.NoError(t, store.Read(&final))
	require.Equal(t, n, final.Counter)
}
