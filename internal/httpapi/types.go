package httpapi

// claudeRequest is the shared request body for /api/claude,
// /api/claude/batch entries, /api/tasks/async, and
// /api/sessions/:id/continue (spec §6).
type claudeRequest struct {
	Prompt          string   `json:"prompt" binding:"required"`
	Async           bool     `json:"async"`
	ProjectPath     string   `json:"project_path"`
	Model           string   `json:"model"`
	SessionID       string   `json:"session_id"`
	SystemPrompt    string   `json:"system_prompt"`
	MaxBudgetUSD    *float64 `json:"max_budget_usd"`
	AllowedTools    []string `json:"allowed_tools"`
	DisallowedTools []string `json:"disallowed_tools"`
	Agent           string   `json:"agent"`
	MCPConfig       string   `json:"mcp_config"`
	WebhookURL      string   `json:"webhook_url"`
	Priority        int      `json:"priority"`
}

// batchRequest wraps up to 10 concurrent prompts (spec §6
// "POST /api/claude/batch: Up to 10 concurrent prompts").
type batchRequest struct {
	Requests []claudeRequest `json:"requests" binding:"required"`
}

const maxBatchSize = 10
