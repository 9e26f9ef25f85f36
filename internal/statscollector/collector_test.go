package statscollector

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentsvc/agentsvcd/internal/stats"
)

func newStore(t *testing.T) *stats.Store {
	t.Helper()
	store, err := stats.New(filepath.Join(t.TempDir(), "statistics.json"), nil)
	require.NoError(t, err)
	return store
}

func TestDisabledCollectorNeverSamples(t *testing.T) {
	c := New(Config{Store: newStore(t), Interval: 10 * time.Millisecond, Enabled: false})
	c.Start()
	defer c.Stop()
	time.Sleep(50 * time.Millisecond)
	// Nothing to assert on ticks directly; Start must simply be a no-op
	// and Stop must not panic on an already-stopped collector.
}

func TestStartAndStopIsIdempotent(t *testing.T) {
	c := New(Config{Store: newStore(t), Interval: 10 * time.Millisecond, Enabled: true})
	c.Start()
	c.Start()
	time.Sleep(30 * time.Millisecond)
	c.Stop()
	c.Stop()
}

func TestSampleReturnsNonZeroReadings(t *testing.T) {
	c := New(Config{Store: newStore(t), Enabled: true})
	c.startAt = time.Now().Add(-1 * time.Second)
	s := c.Sample()
	require.GreaterOrEqual(t, s.UptimeSec, 0.9)
	require.Greater(t, s.SysBytes, uint64(0))
}

func TestReadThroughDelegatesToStatisticsStore(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.RecordRequest(stats.RequestInput{Success: true, Model: "claude-sonnet-4-5", CostUSD: 0.05}))

	c := New(Config{Store: store, Enabled: true})
	summary, err := c.GetSummary()
	require.NoError(t, err)
	require.Equal(t, 1, summary.Requests.Total)

	top, err := c.GetTopModels(5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	require.Equal(t, "claude-sonnet-4-5", top[0].Model)
}
