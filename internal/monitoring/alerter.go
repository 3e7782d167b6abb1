// Package monitoring watches the external fleet schema for drift and delivers
// operator alerts over a webhook.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fleet-feedback/internal/config"
	"github.com/sells-group/fleet-feedback/internal/fleet"
)

const defaultCooldown = 15 * time.Minute

// AlertType identifies the kind of alert.
type AlertType string

const (
	// AlertSchemaDrift: discovery would now adopt a different column.
	AlertSchemaDrift AlertType = "schema_drift"
	// AlertResolutionFailure: no column passes probing.
	AlertResolutionFailure AlertType = "resolution_failure"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// DriftAlert builds the alert for a column that would change on restart.
func DriftAlert(table, adopted, discovered string) Alert {
	return Alert{
		Type:     AlertSchemaDrift,
		Severity: "warning",
		Message: fmt.Sprintf("Identifier column of %s drifted: serving %q, discovery now selects %q",
			table, adopted, discovered),
		Details: map[string]any{
			"table":      table,
			"adopted":    adopted,
			"discovered": discovered,
		},
		Timestamp: time.Now().UTC(),
	}
}

// ResolutionFailureAlert builds the alert for a failed column discovery.
func ResolutionFailureAlert(err *fleet.ResolutionError) Alert {
	return Alert{
		Type:     AlertResolutionFailure,
		Severity: "high",
		Message:  err.Error(),
		Details: map[string]any{
			"table":      err.Table,
			"candidates": err.Candidates,
			"probed":     err.Probed,
		},
		Timestamp: time.Now().UTC(),
	}
}

// Alerter posts alerts to a webhook. Repeats of the same alert type inside the
// cooldown are dropped so a failing request path cannot flood the channel.
type Alerter struct {
	webhookURL string
	client     *http.Client
	cooldown   time.Duration

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
	nowFunc  func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		webhookURL: cfg.WebhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		cooldown:   defaultCooldown,
		lastSent:   make(map[AlertType]time.Time),
		nowFunc:    time.Now,
	}
}

// Notify sends one alert unless webhooks are disabled or the type is cooling
// down. It reports whether the alert was delivered.
func (a *Alerter) Notify(ctx context.Context, alert Alert) bool {
	if a == nil || a.webhookURL == "" {
		return false
	}
	if !a.claim(alert.Type) {
		zap.L().Debug("monitoring: alert suppressed by cooldown",
			zap.String("type", string(alert.Type)),
		)
		return false
	}

	if err := a.sendWebhook(ctx, alert); err != nil {
		a.release(alert.Type)
		zap.L().Error("monitoring: failed to send alert",
			zap.String("type", string(alert.Type)),
			zap.Error(err),
		)
		return false
	}
	zap.L().Info("monitoring: alert sent",
		zap.String("type", string(alert.Type)),
		zap.String("severity", alert.Severity),
	)
	return true
}

// NotifyResolutionFailure is Notify for a ResolutionError.
func (a *Alerter) NotifyResolutionFailure(ctx context.Context, err *fleet.ResolutionError) bool {
	return a.Notify(ctx, ResolutionFailureAlert(err))
}

func (a *Alerter) claim(t AlertType) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.nowFunc()
	if last, ok := a.lastSent[t]; ok && now.Sub(last) < a.cooldown {
		return false
	}
	a.lastSent[t] = now
	return true
}

func (a *Alerter) release(t AlertType) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.lastSent, t)
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
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
