package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertBlockedRate    AlertType = "blocked_dataset_rate"
	AlertReviewBacklog  AlertType = "review_backlog"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// Rate alerts need at least MinRuns finished runs (default 5); a zero
// threshold disables its alert.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	minRuns := a.cfg.MinRuns
	if minRuns <= 0 {
		minRuns = 5
	}
	finished := snap.finished()

	if finished >= minRuns && a.cfg.FailureRateThreshold > 0 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	// Frequent blocked datasets usually mean drawings arrive in an
	// unexpected unit.
	if finished >= minRuns && a.cfg.BlockedRateThreshold > 0 && snap.BlockedRate > a.cfg.BlockedRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertBlockedRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%.1f%% of runs blocked by dataset health in last %dh (%d of %d)",
				snap.BlockedRate*100, snap.LookbackHours, snap.RunsBlocked, finished,
			),
			Details: map[string]any{
				"blocked_rate": snap.BlockedRate,
				"threshold":    a.cfg.BlockedRateThreshold,
				"blocked":      snap.RunsBlocked,
			},
			Timestamp: now,
		})
	}

	if snap.RowsTotal > 0 && a.cfg.PendingShareThreshold > 0 && snap.PendingShare > a.cfg.PendingShareThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertReviewBacklog,
			Severity: "low",
			Message: fmt.Sprintf(
				"%d of %d rows (%.1f%%) await review in last %dh",
				snap.RowsPending, snap.RowsTotal, snap.PendingShare*100, snap.LookbackHours,
			),
			Details: map[string]any{
				"pending":   snap.RowsPending,
				"rows":      snap.RowsTotal,
				"threshold": a.cfg.PendingShareThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// Notification is the webhook body: the alerts raised by one check and the
// snapshot they were evaluated against.
type Notification struct {
	Alerts   []Alert          `json:"alerts"`
	Snapshot *MetricsSnapshot `json:"snapshot,omitempty"`
}

// Notify posts all alerts of one check to the webhook as a single
// Notification. It is a no-op without a webhook URL or alerts.
func (a *Alerter) Notify(ctx context.Context, snap *MetricsSnapshot, alerts []Alert) error {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return nil
	}

	body, err := json.Marshal(Notification{Alerts: alerts, Snapshot: snap})
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal notification")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode/100 != 2 {
		return eris.Errorf("monitoring: webhook status %d", resp.StatusCode)
	}
	for _, alert := range alerts {
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
	}
	return nil
}
