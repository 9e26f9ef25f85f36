package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentsvc/agentsvcd/internal/config"
)

func TestNotifyReturnsDisabledWhenConfigDisabled(t *testing.T) {
	n := New(config.WebhookConfig{Enabled: false}, nil)
	result := n.Notify(context.Background(), "task.completed", nil, "")
	require.False(t, result.Success)
	require.Equal(t, "disabled", result.Reason)
}

func TestNotifyReturnsNoURLWhenNeitherOverrideNorDefault(t *testing.T) {
	n := New(config.WebhookConfig{Enabled: true}, nil)
	result := n.Notify(context.Background(), "task.completed", nil, "")
	require.False(t, result.Success)
	require.Equal(t, "no_url", result.Reason)
}

func TestNotifySucceedsOnThirdAttempt(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "Claude-API-Server/1.0", r.Header.Get("User-Agent"))
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(config.WebhookConfig{Enabled: true, DefaultURL: server.URL, Timeout: 1000, Retries: 3}, nil)

	result := n.Notify(context.Background(), "task.completed", map[string]string{"task_id": "t1"}, "")
	require.True(t, result.Success)
	require.Equal(t, 3, result.Attempt)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestNotifyExhaustsRetriesWithExponentialBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := New(config.WebhookConfig{Enabled: true, DefaultURL: server.URL, Timeout: 1000, Retries: 3}, nil)

	result := n.Notify(context.Background(), "task.failed", nil, "")
	require.False(t, result.Success)
	require.Equal(t, "max_retries_exceeded", result.Reason)
	require.Equal(t, 3, result.Attempts)
}

func TestBackoffMatchesFixedExponentialFormula(t *testing.T) {
	require.Equal(t, time.Duration(0), backoff(0))
	require.Equal(t, 1*time.Second, backoff(1))
	require.Equal(t, 2*time.Second, backoff(2))
	require.Equal(t, 4*time.Second, backoff(3))
	require.Equal(t, 8*time.Second, backoff(4))
	require.Equal(t, 10*time.Second, backoff(5)) // 16s would exceed the cap

}

func TestUrlOverrideTakesPrecedenceOverDefault(t *testing.T) {
	var hitOverride bool
	override := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitOverride = true
		w.WriteHeader(http.StatusOK)
	}))
	defer override.Close()

	n := New(config.WebhookConfig{Enabled: true, DefaultURL: "http://127.0.0.1:0/unused", Timeout: 1000, Retries: 1}, nil)
	result := n.Notify(context.Background(), "task.completed", nil, override.URL)
	require.True(t, result.Success)
	require.True(t, hitOverride)
}

func TestSetConfigReplacesCachedConfiguration(t *testing.T) {
	n := New(config.WebhookConfig{Enabled: false}, nil)
	n.SetConfig(config.WebhookConfig{Enabled: true, DefaultURL: "http://example.invalid", Retries: 1, Timeout: 1000})

	cfg := n.snapshot()
	require.True(t, cfg.Enabled)
	require.Equal(t, "http://example.invalid", cfg.DefaultURL)
}

func TestNotifyStopsEarlyOnPermanentStatus(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	n := New(config.WebhookConfig{Enabled: true, DefaultURL: server.URL, Timeout: 1000, Retries: 5}, nil)

	result := n.Notify(context.Background(), "task.completed", nil, "")
	require.False(t, result.Success)
	require.Equal(t, "permanent_error", result.Reason)
	require.Equal(t, 1, result.Attempts)
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestNotifyTripsCircuitBreakerAcrossCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := New(config.WebhookConfig{Enabled: true, DefaultURL: server.URL, Timeout: 1000, Retries: 1}, nil)

	// Default breaker threshold is 5 consecutive failures; drive it past
	// that across several independent Notify calls (one attempt each).
	for i := 0; i < 5; i++ {
		result := n.Notify(context.Background(), "task.failed", nil, "")
		require.False(t, result.Success)
	}

	result := n.Notify(context.Background(), "task.failed", nil, "")
	require.False(t, result.Success)
	require.Equal(t, "permanent_error", result.Reason)
}
