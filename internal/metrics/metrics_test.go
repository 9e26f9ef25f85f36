package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordExecutionUpdatesCountersAndHistogram(t *testing.T) {
	m := New()
	m.RecordExecution("claude-sonnet-4-5", true, 10, 20, 0.05, 1.5)
	m.RecordExecution("claude-sonnet-4-5", false, 5, 0, 0, 0.2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	require.Contains(t, body, `agentsvcd_requests_total{model="claude-sonnet-4-5",outcome="success"} 1`)
	require.Contains(t, body, `agentsvcd_requests_total{model="claude-sonnet-4-5",outcome="failure"} 1`)
	require.Contains(t, body, "agentsvcd_cost_usd_total 0.05")
	require.True(t, strings.Contains(body, "agentsvcd_executor_duration_seconds_bucket"))
}

func TestSetActiveTasksAndQueueDepth(t *testing.T) {
	m := New()
	m.SetActiveTasks(3)
	m.SetQueueDepth(7)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	require.Contains(t, body, "agentsvcd_active_tasks 3")
	require.Contains(t, body, "agentsvcd_task_queue_depth 7")
}
