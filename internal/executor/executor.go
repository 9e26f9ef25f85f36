// Package executor implements the Agent Executor (spec §4.5): spawns
// and supervises the agent CLI child process, enforces budget before
// and after the run, parses its JSON result, and attributes cost and
// token usage to sessions and statistics.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/pkoukk/tiktoken-go"

	"github.com/agentsvc/agentsvcd/internal/logging"
	"github.com/agentsvc/agentsvcd/internal/session"
	"github.com/agentsvc/agentsvcd/internal/stats"
	"github.com/agentsvc/agentsvcd/internal/tracing"
)

// hardTimeout is the outer bound on any single execution, independent
// of the task queue's own configurable defaultTimeout: the agent CLI
// is never allowed to run forever even when invoked outside the queue.
const hardTimeout = 5 * time.Minute

// Options describes a single execution request (spec §4.5 opts).
type Options struct {
	Prompt          string
	ProjectPath     string
	Model           string
	SessionID       string
	SystemPrompt    string
	MaxBudgetUSD    *float64
	AllowedTools    []string
	DisallowedTools []string
	Agent           string
	MCPConfig       string
}

// Usage mirrors the agent CLI's usage block.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// cliResult is the JSON document the agent CLI is expected to emit on stdout.
type cliResult struct {
	Result      string  `json:"result"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Usage       Usage   `json:"usage"`
}

// Result is what Execute returns to its caller.
type Result struct {
	Success        bool   `json:"success"`
	Result         string `json:"result,omitempty"`
	Error          string `json:"error,omitempty"`
	BudgetExceeded bool   `json:"budget_exceeded,omitempty"`
	DurationMs     int64  `json:"duration_ms"`
	CostUSD        float64 `json:"cost_usd,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	Usage          *Usage `json:"usage,omitempty"`
}

// CommandFunc builds the *exec.Cmd to run for a given argv and working
// directory, so tests can substitute a stub process without touching
// the real agent CLI binary.
type CommandFunc func(ctx context.Context, argv []string, dir string, env []string) *exec.Cmd

func defaultCommand(ctx context.Context, argv []string, dir string, env []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	return cmd
}

// Executor spawns the agent CLI and records the outcome.
type Executor struct {
	agentPath    string
	toolchainBin string
	rootCompat   bool

	sessions *session.Store
	stats    *stats.Store
	logger   logging.Logger
	command  CommandFunc
	now      func() time.Time
	tracer   *tracing.Provider

	encoder *tiktoken.Tiktoken
}

// Config bundles executor construction parameters.
type Config struct {
	AgentPath               string
	ToolchainBin            string
	EnableRootCompatibility bool
	Sessions                *session.Store
	Stats                   *stats.Store
	Logger                  logging.Logger
	Command                 CommandFunc
	// Tracer is optional; a nil Provider disables span creation.
	Tracer *tracing.Provider
}

// New constructs an Executor. The tiktoken encoder is best-effort: if it
// fails to load (e.g. offline), prompt-token estimation is simply
// skipped since it is diagnostic-only, never budget-authoritative.
func New(cfg Config) *Executor {
	command := cfg.Command
	if command == nil {
		command = defaultCommand
	}
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	return &Executor{
		agentPath:    cfg.AgentPath,
		toolchainBin: cfg.ToolchainBin,
		rootCompat:   cfg.EnableRootCompatibility,
		sessions:     cfg.Sessions,
		stats:        cfg.Stats,
		logger:       logging.OrNop(cfg.Logger),
		command:      command,
		now:          time.Now,
		tracer:       cfg.Tracer,
		encoder:      enc,
	}
}

// Execute runs the agent CLI per spec §4.5's eight-step algorithm.
func (e *Executor) Execute(ctx context.Context, opts Options) Result {
	ctx, span := e.tracer.StartExecutorSpan(ctx, opts.Model)
	defer span.End()

	start := e.now()

	if opts.SessionID != "" && opts.MaxBudgetUSD != nil {
		sess, err := e.sessions.Get(opts.SessionID)
		if err == nil && sess.TotalCostUSD >= *opts.MaxBudgetUSD {
			return Result{
				Success:        false,
				BudgetExceeded: true,
				Error:          fmt.Sprintf("session %s already at or over budget (%.4f >= %.4f)", opts.SessionID, sess.TotalCostUSD, *opts.MaxBudgetUSD),
				DurationMs:     durationMs(start, e.now()),
				SessionID:      opts.SessionID,
			}
		}
	}

	if e.encoder != nil {
		tokens := e.encoder.Encode(opts.Prompt, nil, nil)
		e.logger.Debug("executor: estimated prompt tokens=%d model=%s", len(tokens), opts.Model)
	}

	env := e.buildEnv()
	argv := e.buildArgs(opts)

	runCtx, cancel := context.WithTimeout(ctx, hardTimeout)
	defer cancel()

	cmd := e.command(runCtx, argv, opts.ProjectPath, env)
	cmd.Stdin = nil

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := durationMs(start, e.now())

	if runCtx.Err() == context.DeadlineExceeded {
		e.recordFailure(opts, "timeout: agent CLI exceeded 5 minute hard limit")
		return Result{Success: false, Error: "Timeout: agent CLI did not complete in time", DurationMs: duration}
	}
	if runErr != nil {
		diag := fmt.Sprintf("agent CLI exited with error: %v; stderr=%s", runErr, strings.TrimSpace(stderr.String()))
		e.recordFailure(opts, diag)
		return Result{Success: false, Error: diag, DurationMs: duration}
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		diag := fmt.Sprintf("agent CLI produced empty output; stderr=%s", strings.TrimSpace(stderr.String()))
		e.recordFailure(opts, diag)
		return Result{Success: false, Error: diag, DurationMs: duration}
	}

	parsed, err := parseResult(out)
	if err != nil {
		diag := fmt.Sprintf("failed to parse agent CLI output: %v", err)
		e.recordFailure(opts, diag)
		return Result{Success: false, Error: diag, DurationMs: duration}
	}

	if opts.SessionID != "" && opts.MaxBudgetUSD != nil {
		sess, err := e.sessions.Get(opts.SessionID)
		if err == nil && sess.TotalCostUSD+parsed.TotalCostUSD > *opts.MaxBudgetUSD {
			_ = e.stats.RecordRequest(stats.RequestInput{
				Success:      true,
				Model:        opts.Model,
				CostUSD:      0,
				InputTokens:  parsed.Usage.InputTokens,
				OutputTokens: parsed.Usage.OutputTokens,
			})
			return Result{
				Success:        false,
				BudgetExceeded: true,
				Error:          fmt.Sprintf("completing this request would exceed session budget (%.4f + %.4f > %.4f)", sess.TotalCostUSD, parsed.TotalCostUSD, *opts.MaxBudgetUSD),
				DurationMs:     duration,
				SessionID:      opts.SessionID,
			}
		}
	}

	_ = e.stats.RecordRequest(stats.RequestInput{
		Success:      true,
		Model:        opts.Model,
		CostUSD:      parsed.TotalCostUSD,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	})
	if opts.SessionID != "" {
		if err := e.sessions.AddCost(opts.SessionID, parsed.TotalCostUSD); err != nil {
			e.logger.Warn("executor: failed to attribute cost to session %s: %v", opts.SessionID, err)
		}
		if err := e.sessions.IncrementMessages(opts.SessionID); err != nil {
			e.logger.Warn("executor: failed to increment message count for session %s: %v", opts.SessionID, err)
		}
	}

	return Result{
		Success:    true,
		Result:     parsed.Result,
		DurationMs: duration,
		CostUSD:    parsed.TotalCostUSD,
		SessionID:  opts.SessionID,
		Usage:      &parsed.Usage,
	}
}

func (e *Executor) recordFailure(opts Options, diag string) {
	e.logger.Error("executor: %s", diag)
	if err := e.stats.RecordRequest(stats.RequestInput{Success: false, Model: opts.Model}); err != nil {
		e.logger.Warn("executor: failed to record failed request: %v", err)
	}
}

// buildEnv constructs the child environment (spec §4.5 step 2): current
// process environment with toolchainBin prepended to PATH, and
// IS_SANDBOX=1 when root-compatibility mode is enabled.
func (e *Executor) buildEnv() []string {
	base := os.Environ()
	env := make([]string, 0, len(base)+2)
	for _, kv := range base {
		if strings.HasPrefix(kv, "PATH=") && e.toolchainBin != "" {
			env = append(env, fmt.Sprintf("PATH=%s%c%s", e.toolchainBin, os.PathListSeparator, strings.TrimPrefix(kv, "PATH=")))
			continue
		}
		env = append(env, kv)
	}
	if e.rootCompat {
		env = append(env, "IS_SANDBOX=1")
	}
	return env
}

// buildArgs constructs argv (spec §4.5 step 3). The agent binary path
// and prompt are always separate argv slots, never shell-interpolated.
func (e *Executor) buildArgs(opts Options) []string {
	argv := []string{e.agentPath, "-p", opts.Prompt, "--output-format", "json"}
	if opts.Model != "" {
		argv = append(argv, "--model", opts.Model)
	}
	if opts.SessionID != "" {
		argv = append(argv, "--session-id", opts.SessionID)
	}
	if opts.SystemPrompt != "" {
		argv = append(argv, "--system-prompt", opts.SystemPrompt)
	}
	if opts.MaxBudgetUSD != nil {
		argv = append(argv, "--max-budget-usd", strconv.FormatFloat(*opts.MaxBudgetUSD, 'f', -1, 64))
	}
	if len(opts.AllowedTools) > 0 {
		argv = append(argv, "--allowed-tools", strings.Join(opts.AllowedTools, ","))
	}
	if len(opts.DisallowedTools) > 0 {
		argv = append(argv, "--disallowed-tools", strings.Join(opts.DisallowedTools, ","))
	}
	if opts.Agent != "" {
		argv = append(argv, "--agent", opts.Agent)
	}
	if opts.MCPConfig != "" {
		argv = append(argv, "--mcp-config", opts.MCPConfig)
	}
	argv = append(argv, "--allow-dangerously-skip-permissions")
	return argv
}

// parseResult decodes the agent CLI's stdout as a single JSON object,
// falling back to jsonrepair for tolerant recovery of near-miss output
// (trailing commas, unescaped control characters) before giving up.
func parseResult(raw string) (cliResult, error) {
	var parsed cliResult
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return parsed, nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return cliResult{}, fmt.Errorf("not valid JSON and could not be repaired: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
		return cliResult{}, fmt.Errorf("repaired JSON still invalid: %w", err)
	}
	return parsed, nil
}

func durationMs(start, end time.Time) int64 {
	return end.Sub(start).Milliseconds()
}
