package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentsvc/agentsvcd/internal/config"
)

func fixedConfig(enabled bool, windowMs, max int) ConfigSource {
	return func() config.RateLimitConfig {
		return config.RateLimitConfig{Enabled: enabled, WindowMs: windowMs, MaxRequests: max}
	}
}

func TestAllowWithinWindow(t *testing.T) {
	l := New(fixedConfig(true, 60000, 2))
	require.True(t, l.Allow("client-a").Allowed)
	require.True(t, l.Allow("client-a").Allowed)
	d := l.Allow("client-a")
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestAllowPerClientIsolated(t *testing.T) {
	l := New(fixedConfig(true, 60000, 1))
	require.True(t, l.Allow("client-a").Allowed)
	require.True(t, l.Allow("client-b").Allowed)
	require.False(t, l.Allow("client-a").Allowed)
}

func TestAllowDisabled(t *testing.T) {
	l := New(fixedConfig(false, 1000, 1))
	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("client-a").Allowed)
	}
}

func TestAllowWindowResets(t *testing.T) {
	clock := time.Now()
	l := New(fixedConfig(true, 10, 1))
	l.now = func() time.Time { return clock }

	require.True(t, l.Allow("client-a").Allowed)
	require.False(t, l.Allow("client-a").Allowed)

	clock = clock.Add(20 * time.Millisecond)
	require.True(t, l.Allow("client-a").Allowed)
}
