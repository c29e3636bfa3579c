package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/takeoff/internal/config"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		LookbackWindowHours:   24,
		MinRuns:               5,
		FailureRateThreshold:  0.10,
		BlockedRateThreshold:  0.25,
		PendingShareThreshold: 0.5,
	}
}

func TestEvaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&MetricsSnapshot{
		RunsComplete: 10,
		RowsTotal:    20,
		RowsPending:  2,
		PendingShare: 0.1,
	})
	assert.Empty(t, alerts)
}

func TestEvaluate_FailureRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&MetricsSnapshot{
		RunsComplete:  8,
		RunsFailed:    2,
		FailRate:      0.2,
		LookbackHours: 24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "20.0%")
	assert.Equal(t, 10, alerts[0].Details["finished"])
}

func TestEvaluate_MinRunsGate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&MetricsSnapshot{
		RunsComplete: 1,
		RunsFailed:   1,
		RunsBlocked:  1,
		FailRate:     1.0 / 3,
		BlockedRate:  1.0 / 3,
	})
	assert.Empty(t, alerts)
}

func TestEvaluate_BlockedAndBacklog(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&MetricsSnapshot{
		RunsComplete: 3,
		RunsBlocked:  3,
		BlockedRate:  0.5,
		RowsTotal:    10,
		RowsPending:  8,
		PendingShare: 0.8,
	})
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertBlockedRate, alerts[0].Type)
	assert.Equal(t, AlertReviewBacklog, alerts[1].Type)
	assert.Contains(t, alerts[1].Message, "8 of 10 rows")
}

func TestEvaluate_ZeroThresholdDisables(t *testing.T) {
	cfg := testMonitoringConfig()
	cfg.FailureRateThreshold = 0
	a := NewAlerter(cfg)
	alerts := a.Evaluate(&MetricsSnapshot{RunsComplete: 5, RunsFailed: 5, FailRate: 0.5})
	assert.Empty(t, alerts)
}

func TestNotify_Webhook(t *testing.T) {
	var received atomic.Int32
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		received.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	err := a.Notify(context.Background(), &MetricsSnapshot{RunsTotal: 7}, []Alert{
		{Type: AlertRunFailureRate, Severity: "high", Message: "a"},
		{Type: AlertReviewBacklog, Severity: "low", Message: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), received.Load())
	require.Len(t, got.Alerts, 2)
	assert.Equal(t, AlertReviewBacklog, got.Alerts[1].Type)
	require.NotNil(t, got.Snapshot)
	assert.Equal(t, 7, got.Snapshot.RunsTotal)
}

func TestNotify_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	err := NewAlerter(cfg).Notify(context.Background(), nil, []Alert{{Type: AlertBlockedRate}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestNotify_NoWebhook(t *testing.T) {
	err := NewAlerter(testMonitoringConfig()).Notify(context.Background(), nil, []Alert{{Type: AlertBlockedRate}})
	assert.NoError(t, err)
}
