package executor

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentsvc/agentsvcd/internal/session"
	"github.com/agentsvc/agentsvcd/internal/stats"
)

func newFixture(t *testing.T) (*Executor, *session.Store, *stats.Store) {
	t.Helper()
	dir := t.TempDir()
	sessions, err := session.New(filepath.Join(dir, "sessions.json"), nil)
	require.NoError(t, err)
	statsStore, err := stats.New(filepath.Join(dir, "statistics.json"), nil)
	require.NoError(t, err)

	ex := New(Config{
		AgentPath: "claude",
		Sessions:  sessions,
		Stats:     statsStore,
	})
	return ex, sessions, statsStore
}

// scriptedCommand returns a CommandFunc that runs a short shell snippet
// instead of spawning the real agent CLI, so Execute's orchestration
// can be exercised without the external binary.
func scriptedCommand(shellSnippet string) CommandFunc {
	return func(ctx context.Context, argv []string, dir string, env []string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", shellSnippet)
		cmd.Dir = dir
		cmd.Env = env
		return cmd
	}
}

func TestExecuteReturnsSuccessOnValidJSON(t *testing.T) {
	ex, _, statsStore := newFixture(t)
	ex.command = scriptedCommand(`echo '{"result":"done","total_cost_usd":0.02,"usage":{"input_tokens":10,"output_tokens":20}}'`)

	result := ex.Execute(context.Background(), Options{Prompt: "hi", ProjectPath: t.TempDir(), Model: "sonnet"})
	require.True(t, result.Success)
	require.Equal(t, "done", result.Result)
	require.InDelta(t, 0.02, result.CostUSD, 1e-9)

	summary, err := statsStore.GetSummary()
	require.NoError(t, err)
	require.Equal(t, 1, summary.Requests.Successful)
}

func TestExecuteRepairsNearMissJSON(t *testing.T) {
	ex, _, _ := newFixture(t)
	// trailing comma is not valid JSON but is repairable.
	ex.command = scriptedCommand(`echo '{"result":"done","total_cost_usd":0.01,}'`)

	result := ex.Execute(context.Background(), Options{Prompt: "hi", ProjectPath: t.TempDir()})
	require.True(t, result.Success)
	require.Equal(t, "done", result.Result)
}

func TestExecuteFailsOnEmptyOutput(t *testing.T) {
	ex, _, statsStore := newFixture(t)
	ex.command = scriptedCommand(`true`)

	result := ex.Execute(context.Background(), Options{Prompt: "hi", ProjectPath: t.TempDir()})
	require.False(t, result.Success)
	require.Contains(t, result.Error, "empty output")

	summary, err := statsStore.GetSummary()
	require.NoError(t, err)
	require.Equal(t, 1, summary.Requests.Failed)
}

func TestExecuteFailsOnNonZeroExit(t *testing.T) {
	ex, _, _ := newFixture(t)
	ex.command = scriptedCommand(`echo "boom" 1>&2; exit 1`)

	result := ex.Execute(context.Background(), Options{Prompt: "hi", ProjectPath: t.TempDir()})
	require.False(t, result.Success)
	require.Contains(t, result.Error, "boom")
}

func TestExecuteFailsOnUnparsableOutput(t *testing.T) {
	ex, _, _ := newFixture(t)
	ex.command = scriptedCommand(`echo 'not json at all { { {'`)

	result := ex.Execute(context.Background(), Options{Prompt: "hi", ProjectPath: t.TempDir()})
	require.False(t, result.Success)
	require.Contains(t, result.Error, "parse")
}

func TestExecutePreBudgetCheckSkipsSpawn(t *testing.T) {
	ex, sessions, statsStore := newFixture(t)
	spawned := false
	ex.command = func(ctx context.Context, argv []string, dir string, env []string) *exec.Cmd {
		spawned = true
		return scriptedCommand(`echo '{"result":"x","total_cost_usd":0}'`)(ctx, argv, dir, env)
	}

	sess, err := sessions.Create(session.Session{})
	require.NoError(t, err)
	require.NoError(t, sessions.AddCost(sess.ID, 1.05))

	budget := 1.00
	result := ex.Execute(context.Background(), Options{
		Prompt: "hi", ProjectPath: t.TempDir(), SessionID: sess.ID, MaxBudgetUSD: &budget,
	})

	require.False(t, result.Success)
	require.True(t, result.BudgetExceeded)
	require.False(t, spawned, "executor must not spawn a child when already over budget")

	summary, err := statsStore.GetSummary()
	require.NoError(t, err)
	require.Equal(t, 0, summary.Requests.Total)
}

func TestExecutePostBudgetCheckBurnsCostWithoutAttribution(t *testing.T) {
	ex, sessions, statsStore := newFixture(t)
	ex.command = scriptedCommand(`echo '{"result":"x","total_cost_usd":0.20,"usage":{"input_tokens":5,"output_tokens":5}}'`)

	sess, err := sessions.Create(session.Session{})
	require.NoError(t, err)
	require.NoError(t, sessions.AddCost(sess.ID, 0.90))

	budget := 1.00
	result := ex.Execute(context.Background(), Options{
		Prompt: "hi", ProjectPath: t.TempDir(), SessionID: sess.ID, MaxBudgetUSD: &budget,
	})

	require.False(t, result.Success)
	require.True(t, result.BudgetExceeded)

	got, err := sessions.Get(sess.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.90, got.TotalCostUSD, 1e-9)

	summary, err := statsStore.GetSummary()
	require.NoError(t, err)
	require.Equal(t, 1, summary.Requests.Successful) // the attempt ran and is recorded as successful
}

func TestExecuteHonorsHardTimeout(t *testing.T) {
	ex, _, _ := newFixture(t)
	ex.command = scriptedCommand(`sleep 60`)

	// The test substitutes a short deadline via the context so it does not
	// actually wait the full 5-minute hard timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := ex.Execute(ctx, Options{Prompt: "hi", ProjectPath: t.TempDir()})
	require.False(t, result.Success)
	require.Contains(t, result.Error, "Timeout")
}

func TestBuildArgsIncludesFixedTailAndOptionalFlags(t *testing.T) {
	ex, _, _ := newFixture(t)
	ex.agentPath = "claude"
	budget := 2.5
	argv := ex.buildArgs(Options{
		Prompt:          "write code",
		Model:           "sonnet",
		SessionID:       "s1",
		MaxBudgetUSD:    &budget,
		AllowedTools:    []string{"bash", "edit"},
		DisallowedTools: []string{"web"},
	})

	joined := fmt.Sprintf("%v", argv)
	require.Contains(t, joined, "-p")
	require.Contains(t, joined, "write code")
	require.Contains(t, joined, "--output-format")
	require.Contains(t, joined, "--allow-dangerously-skip-permissions")
	require.Equal(t, argv[len(argv)-1], "--allow-dangerously-skip-permissions")
}

func TestBuildEnvPrependsToolchainBinAndSandboxFlag(t *testing.T) {
	ex, _, _ := newFixture(t)
	ex.toolchainBin = "/opt/tools/bin"
	ex.rootCompat = true

	env := ex.buildEnv()
	var sawSandbox, sawPath bool
	for _, kv := range env {
		if kv == "IS_SANDBOX=1" {
			sawSandbox = true
		}
		if len(kv) > 5 && kv[:5] == "PATH=" {
			sawPath = true
			require.Contains(t, kv, "/opt/tools/bin")
		}
	}
	require.True(t, sawSandbox)
	require.True(t, sawPath)
}
