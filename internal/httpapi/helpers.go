package httpapi

import (
	"context"

	"github.com/agentsvc/agentsvcd/internal/executor"
	"github.com/agentsvc/agentsvcd/internal/session"
	"github.com/agentsvc/agentsvcd/internal/taskstore"
)

// ensureSession implements the auto-session-creation design note
// (spec §9): when a request omits session_id, the HTTP layer creates
// one first so the Agent Executor's invariant ("if sessionId is set,
// the session exists") always holds.
func (s *Server) ensureSession(ctx context.Context, sessionID, projectPath, model string) (string, error) {
	if sessionID != "" {
		return sessionID, nil
	}
	created, err := s.sessions.Create(session.Session{ProjectPath: projectPath, Model: model})
	if err != nil {
		return "", err
	}
	if s.notifier != nil {
		s.notifier.SessionCreated(ctx, created.ID)
	}
	return created.ID, nil
}

func toExecutorOptions(req claudeRequest, sessionID string) executor.Options {
	return executor.Options{
		Prompt:          req.Prompt,
		ProjectPath:     req.ProjectPath,
		Model:           req.Model,
		SessionID:       sessionID,
		SystemPrompt:    req.SystemPrompt,
		MaxBudgetUSD:    req.MaxBudgetUSD,
		AllowedTools:    req.AllowedTools,
		DisallowedTools: req.DisallowedTools,
		Agent:           req.Agent,
		MCPConfig:       req.MCPConfig,
	}
}

func toTaskMetadata(req claudeRequest, sessionID string) taskstore.Metadata {
	return taskstore.Metadata{
		WebhookURL:      req.WebhookURL,
		SessionID:       sessionID,
		SystemPrompt:    req.SystemPrompt,
		MaxBudgetUSD:    req.MaxBudgetUSD,
		AllowedTools:    req.AllowedTools,
		DisallowedTools: req.DisallowedTools,
		Agent:           req.Agent,
		MCPConfig:       req.MCPConfig,
	}
}

func executorResultResponse(result executor.Result) map[string]any {
	body := map[string]any{
		"success":     result.Success,
		"duration_ms": result.DurationMs,
	}
	if result.Success {
		body["result"] = result.Result
		body["cost_usd"] = result.CostUSD
		body["session_id"] = result.SessionID
		if result.Usage != nil {
			body["usage"] = result.Usage
		}
		return body
	}
	body["error"] = result.Error
	if result.BudgetExceeded {
		body["budget_exceeded"] = true
	}
	if result.SessionID != "" {
		body["session_id"] = result.SessionID
	}
	return body
}
