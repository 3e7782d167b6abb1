package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fleet-feedback/internal/config"
	"github.com/sells-group/fleet-feedback/internal/fleet"
)

func newWebhook(t *testing.T, status int) (*httptest.Server, *atomic.Int32, chan Alert) {
	t.Helper()
	var hits atomic.Int32
	received := make(chan Alert, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var a Alert
		if err := json.NewDecoder(r.Body).Decode(&a); err == nil {
			received <- a
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits, received
}

func TestAlerter_NotifyDelivers(t *testing.T) {
	srv, hits, received := newWebhook(t, http.StatusOK)
	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})

	ok := a.Notify(context.Background(), DriftAlert("frota.vinculos_motorista", "placa", "placa_carreta"))
	require.True(t, ok)
	assert.Equal(t, int32(1), hits.Load())

	got := <-received
	assert.Equal(t, AlertSchemaDrift, got.Type)
	assert.Equal(t, "warning", got.Severity)
	assert.Contains(t, got.Message, `serving "placa"`)
	assert.Equal(t, "placa_carreta", got.Details["discovered"])
}

func TestAlerter_NoWebhookConfigured(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.False(t, a.Notify(context.Background(), DriftAlert("t", "a", "b")))

	var nilAlerter *Alerter
	assert.False(t, nilAlerter.NotifyResolutionFailure(context.Background(), &fleet.ResolutionError{Table: "t"}))
}

func TestAlerter_CooldownPerType(t *testing.T) {
	srv, hits, _ := newWebhook(t, http.StatusOK)
	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	a.nowFunc = func() time.Time { return now }

	resErr := &fleet.ResolutionError{Table: "frota.vinculos_motorista", Candidates: []fleet.Candidate{{Name: "placa", Score: 30}}}
	assert.True(t, a.NotifyResolutionFailure(context.Background(), resErr))
	assert.False(t, a.NotifyResolutionFailure(context.Background(), resErr))

	// A different type is not held back.
	assert.True(t, a.Notify(context.Background(), DriftAlert("t", "a", "b")))

	now = now.Add(16 * time.Minute)
	assert.True(t, a.NotifyResolutionFailure(context.Background(), resErr))
	assert.Equal(t, int32(3), hits.Load())
}

func TestAlerter_FailedDeliveryDoesNotStartCooldown(t *testing.T) {
	srv, hits, _ := newWebhook(t, http.StatusBadGateway)
	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})

	assert.False(t, a.Notify(context.Background(), DriftAlert("t", "a", "b")))
	assert.False(t, a.Notify(context.Background(), DriftAlert("t", "a", "b")))
	assert.Equal(t, int32(2), hits.Load())
}

func TestResolutionFailureAlert(t *testing.T) {
	resErr := &fleet.ResolutionError{
		Table:      "frota.vinculos_motorista",
		Candidates: []fleet.Candidate{{Name: "placa_carreta", Score: 80}},
		Probed:     []string{"placa_carreta"},
	}
	alert := ResolutionFailureAlert(resErr)
	assert.Equal(t, AlertResolutionFailure, alert.Type)
	assert.Equal(t, "high", alert.Severity)
	assert.Contains(t, alert.Message, "placa_carreta=80")
	assert.Equal(t, []string{"placa_carreta"}, alert.Details["probed"])
}
