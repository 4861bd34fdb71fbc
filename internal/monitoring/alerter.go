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

	"github.com/sells-group/drawsync/internal/config"
	"github.com/sells-group/drawsync/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertNoUsableSources   AlertType = "no_usable_sources"
	AlertScrapeFailureRate AlertType = "scrape_failure_rate"
	AlertSourceCritical    AlertType = "source_critical"
)

// defaultMinRuns is the fewest finished runs a failure rate is judged on.
const defaultMinRuns = 5

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
	if cfg.MinRunsForAlert <= 0 {
		cfg.MinRunsForAlert = defaultMinRuns
	}
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt

	if snap.SourcesTotal > 0 && snap.SourcesUsable == 0 {
		alerts = append(alerts, Alert{
			Type:     AlertNoUsableSources,
			Severity: "critical",
			Message:  fmt.Sprintf("No usable sources (%d configured); new draws cannot be scraped", snap.SourcesTotal),
			Details: map[string]any{
				"sources_total": snap.SourcesTotal,
			},
			Timestamp: now,
		})
	}

	finished := snap.RunsComplete + snap.RunsFailed
	if finished >= a.cfg.MinRunsForAlert && snap.RunsFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertScrapeFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Scrape failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunsFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunsFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	for _, s := range snap.Sources {
		if s.Status != model.HealthCritical || !s.Source.IsActive {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertSourceCritical,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Source %s availability %.2f (%d/%d ok): %s",
				s.Source.ID, s.Metrics.AvailabilityScore,
				s.Metrics.SuccessCount, s.Metrics.TotalRequests, s.Metrics.LastErrorMessage,
			),
			Details: map[string]any{
				"source_id":    s.Source.ID,
				"availability": s.Metrics.AvailabilityScore,
				"last_error":   s.Metrics.LastErrorMessage,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
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
