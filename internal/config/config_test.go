package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultsWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Defaults().Port, cfg.Port)
	require.FileExists(t, path)
}

func TestLoadReadsExistingOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Defaults()
	cfg.Port = 9999
	cfg.TaskQueue.Concurrency = 7
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9999, loaded.Port)
	require.Equal(t, 7, loaded.TaskQueue.Concurrency)
}

func TestSaveRoundTripsAllSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Defaults()
	cfg.Webhook.Enabled = true
	cfg.Webhook.Retries = 5
	cfg.RateLimit.MaxRequests = 42
	require.NoError(t, Save(path, cfg))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded Config
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.True(t, decoded.Webhook.Enabled)
	require.Equal(t, 5, decoded.Webhook.Retries)
	require.Equal(t, 42, decoded.RateLimit.MaxRequests)
}

func TestEnsureDirsCreatesAllPaths(t *testing.T) {
	root := t.TempDir()
	cfg := Defaults()
	cfg.DataDir = filepath.Join(root, "data")
	cfg.LogFile = filepath.Join(root, "logs", "out.log")
	cfg.PidFile = filepath.Join(root, "run", "server.pid")

	require.NoError(t, EnsureDirs(cfg))
	require.DirExists(t, cfg.DataDir)
	require.DirExists(t, filepath.Dir(cfg.LogFile))
	require.DirExists(t, filepath.Dir(cfg.PidFile))
}

func TestComputeDiffDetectsTaskQueueChange(t *testing.T) {
	before := Defaults()
	after := before
	after.TaskQueue.Concurrency = 10

	diff := ComputeDiff(before, after)
	require.True(t, diff.TaskQueueChanged)
	require.False(t, diff.WebhookChanged)
	require.False(t, diff.LogLevelChanged)
}

func TestComputeDiffIgnoresNonLiveFields(t *testing.T) {
	before := Defaults()
	after := before
	after.Port = 1
	after.Host = "example.com"
	after.AgentPath = "/somewhere/else"

	diff := ComputeDiff(before, after)
	require.False(t, diff.TaskQueueChanged)
	require.False(t, diff.WebhookChanged)
	require.False(t, diff.LogLevelChanged)
}
