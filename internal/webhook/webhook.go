// Package webhook implements the Webhook Notifier (spec §4.7):
// at-most-N-retries HTTP delivery of task and session lifecycle events
// with fixed exponential backoff.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agentsvc/agentsvcd/internal/config"
	agenterrors "github.com/agentsvc/agentsvcd/internal/errors"
	"github.com/agentsvc/agentsvcd/internal/httpclient"
	"github.com/agentsvc/agentsvcd/internal/logging"
)

const userAgent = "Claude-API-Server/1.0"

// maxResponseBodyBytes bounds how much of a webhook receiver's response
// body is read for diagnostics; receivers are untrusted external
// endpoints and owe us nothing past a status code.
const maxResponseBodyBytes = 64 * 1024

// Result is the outcome of a notify call.
type Result struct {
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Notifier delivers webhook events. It is safe for concurrent use; its
// configuration can be swapped live via SetConfig.
type Notifier struct {
	logger logging.Logger

	mu     sync.Mutex
	cfg    config.WebhookConfig
	client *http.Client

	now func() time.Time
}

// New constructs a Notifier from the initial webhook configuration. Its
// HTTP client is guarded by a single circuit breaker shared by every
// destination URL, so a receiver that is consistently down stops being
// hammered across Notify calls instead of only within a single call's
// retry loop.
func New(cfg config.WebhookConfig, logger logging.Logger) *Notifier {
	logger = logging.OrNop(logger)
	return &Notifier{
		logger: logger,
		cfg:    cfg,
		client: httpclient.NewWithCircuitBreaker(timeoutOrDefault(cfg), logger, "webhook"),
		now:    time.Now,
	}
}

func timeoutOrDefault(cfg config.WebhookConfig) time.Duration {
	if cfg.Timeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(cfg.Timeout) * time.Millisecond
}

// SetConfig replaces the notifier's cached configuration, per spec
// §4.9's reload rule that the Webhook Notifier's cached configuration
// is replaced wholesale (not diffed field-by-field).
func (n *Notifier) SetConfig(cfg config.WebhookConfig) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cfg = cfg
	n.client = httpclient.NewWithCircuitBreaker(timeoutOrDefault(cfg), n.logger, "webhook")
}

func (n *Notifier) snapshot() config.WebhookConfig {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg
}

type envelope struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// Notify delivers event with data to urlOverride if non-empty,
// otherwise the configured default URL. It short-circuits when webhooks
// are disabled or no URL is available, and otherwise retries with fixed
// exponential backoff: min(1000*2^(n-1), 10000) ms between attempts.
func (n *Notifier) Notify(ctx context.Context, event string, data any, urlOverride string) Result {
	cfg := n.snapshot()
	if !cfg.Enabled {
		return Result{Success: false, Reason: "disabled"}
	}
	url := urlOverride
	if url == "" {
		url = cfg.DefaultURL
	}
	if url == "" {
		return Result{Success: false, Reason: "no_url"}
	}

	body, err := json.Marshal(envelope{Event: event, Timestamp: n.now().UTC().Format(time.RFC3339), Data: data})
	if err != nil {
		return Result{Success: false, Reason: "encode_failed", LastError: err.Error()}
	}

	retries := cfg.Retries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if attempt > 1 {
			wait := backoff(attempt - 1)
			select {
			case <-ctx.Done():
				return Result{Success: false, Reason: "max_retries_exceeded", Attempts: attempt - 1, LastError: ctx.Err().Error()}
			case <-time.After(wait):
			}
		}

		err := n.deliver(ctx, url, body)
		if err == nil {
			return Result{Success: true, Attempt: attempt}
		}
		lastErr = err
		n.logger.Warn("webhook delivery attempt %d/%d for %s failed: %v", attempt, retries, event, err)

		// A permanent error (4xx, or the circuit breaker itself open)
		// will not be fixed by waiting and trying again with the same
		// URL, so stop burning the remaining attempts and backoff time.
		switch agenterrors.GetErrorType(err) {
		case agenterrors.ErrorTypePermanent, agenterrors.ErrorTypeDegraded:
			return Result{Success: false, Reason: "permanent_error", Attempts: attempt, LastError: err.Error()}
		}
	}

	reason := "max_retries_exceeded"
	last := ""
	if lastErr != nil {
		last = lastErr.Error()
	}
	return Result{Success: false, Reason: reason, Attempts: retries, LastError: last}
}

// backoff returns the wait duration before attempt n+1, per spec §4.7:
// min(1000*2^(n-1), 10000) ms, no jitter.
func backoff(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	ms := 1000 << (n - 1)
	if ms > 10000 {
		ms = 10000
	}
	return time.Duration(ms) * time.Millisecond
}

func (n *Notifier) deliver(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Bounded for logging only: a receiver's response body is
		// untrusted and must never feed the status-code classification
		// below with attacker-controlled digits.
		if respBody, readErr := httpclient.ReadAllWithLimit(resp.Body, maxResponseBodyBytes); readErr == nil {
			if trimmed := strings.TrimSpace(string(respBody)); trimmed != "" {
				n.logger.Debug("webhook: %s responded %d: %s", url, resp.StatusCode, trimmed)
			}
		} else if httpclient.IsResponseTooLarge(readErr) {
			n.logger.Debug("webhook: %s responded %d with a response body over %d bytes", url, resp.StatusCode, maxResponseBodyBytes)
		}
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// TaskCompleted notifies task.completed.
func (n *Notifier) TaskCompleted(ctx context.Context, taskID, result, urlOverride string) Result {
	return n.Notify(ctx, "task.completed", map[string]any{"task_id": taskID, "result": result}, urlOverride)
}

// TaskFailed notifies task.failed.
func (n *Notifier) TaskFailed(ctx context.Context, taskID, errMsg, urlOverride string) Result {
	return n.Notify(ctx, "task.failed", map[string]any{"task_id": taskID, "error": errMsg}, urlOverride)
}

// TaskCancelled notifies task.cancelled.
func (n *Notifier) TaskCancelled(ctx context.Context, taskID, urlOverride string) Result {
	return n.Notify(ctx, "task.cancelled", map[string]any{"task_id": taskID}, urlOverride)
}

// TaskTimeout notifies task.timeout.
func (n *Notifier) TaskTimeout(ctx context.Context, taskID, urlOverride string) Result {
	return n.Notify(ctx, "task.timeout", map[string]any{"task_id": taskID}, urlOverride)
}

// SessionCreated notifies session.created.
func (n *Notifier) SessionCreated(ctx context.Context, sessionID string) Result {
	return n.Notify(ctx, "session.created", map[string]any{"session_id": sessionID}, "")
}

// SessionDeleted notifies session.deleted.
func (n *Notifier) SessionDeleted(ctx context.Context, sessionID string) Result {
	return n.Notify(ctx, "session.deleted", map[string]any{"session_id": sessionID}, "")
}
