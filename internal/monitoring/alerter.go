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

	"github.com/sells-group/b2b-sync/internal/config"
	"github.com/sells-group/b2b-sync/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertRowFailureRate AlertType = "row_failure_rate"
	AlertRunAborted     AlertType = "run_aborted"
	AlertRunFailed      AlertType = "run_failed"
)

// minRunsForRate is the number of finished runs needed before the window
// failure rate is meaningful.
const minRunsForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	RunID     string         `json:"run_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates run metrics against configured thresholds and sends
// alerts via webhook when thresholds are breached.
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

// Enabled reports whether alerts have somewhere to go.
func (a *Alerter) Enabled() bool {
	return a.cfg.WebhookURL != ""
}

// Evaluate checks a window snapshot against thresholds.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RunsTotal - snap.RunsRunning
	if finished >= minRunsForRate && a.cfg.FailureRateThreshold > 0 && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Sync run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.RowFailureThreshold > 0 && snap.RowsTotal > 0 && snap.RowFailRate > a.cfg.RowFailureThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRowFailureRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Row failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d rows in last %dh)",
				snap.RowFailRate*100, a.cfg.RowFailureThreshold*100,
				snap.RowsFailed, snap.RowsTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RowFailRate,
				"threshold":    a.cfg.RowFailureThreshold,
				"failed":       snap.RowsFailed,
				"rows":         snap.RowsTotal,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// EvaluateRun checks a single finished run.
func (a *Alerter) EvaluateRun(run *model.Run) []Alert {
	now := time.Now().UTC()

	switch {
	case run.Status == model.RunStatusFailed:
		return []Alert{{
			Type:      AlertRunAborted,
			Severity:  "high",
			Message:   fmt.Sprintf("Sync run %s from %s aborted: %s", run.ID, run.Source, run.Error),
			RunID:     run.ID,
			Timestamp: now,
		}}
	case run.BatchStatus == model.BatchFailed:
		return []Alert{{
			Type:     AlertRunFailed,
			Severity: "high",
			Message:  fmt.Sprintf("Sync run %s from %s failed every row (%d rows)", run.ID, run.Source, run.TotalRows),
			RunID:    run.ID,
			Details: map[string]any{
				"rows_failed": run.Stats.RowsFailed,
			},
			Timestamp: now,
		}}
	}

	if run.TotalRows == 0 || a.cfg.RowFailureThreshold <= 0 {
		return nil
	}
	rate := float64(run.Stats.RowsFailed) / float64(run.TotalRows)
	if rate <= a.cfg.RowFailureThreshold {
		return nil
	}
	return []Alert{{
		Type:     AlertRowFailureRate,
		Severity: "medium",
		Message: fmt.Sprintf(
			"Sync run %s failed %d of %d rows (%.1f%%, threshold %.1f%%)",
			run.ID, run.Stats.RowsFailed, run.TotalRows, rate*100, a.cfg.RowFailureThreshold*100,
		),
		RunID: run.ID,
		Details: map[string]any{
			"failure_rate": rate,
			"threshold":    a.cfg.RowFailureThreshold,
		},
		Timestamp: now,
	}}
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if !a.Enabled() || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
