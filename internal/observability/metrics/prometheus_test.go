package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/carebridge/pkg/circuitbreaker"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObservers(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveMutation("add_entry", "ok", 5*time.Millisecond)
	m.ObserveMutation("add_entry", "unauthorized", time.Millisecond)
	m.ObserveAI("explain", true)
	m.ObserveNotification("AppointmentBooked", "sent")
	m.BreakerStateChanged("gemini", circuitbreaker.StateClosed, circuitbreaker.StateOpen)

	body := scrape(t, m)
	assert.Contains(t, body, `appointment_operations_total{op="add_entry",outcome="ok"} 1`)
	assert.Contains(t, body, `appointment_operations_total{op="add_entry",outcome="unauthorized"} 1`)
	assert.Contains(t, body, `ai_requests_total{endpoint="explain",outcome="fallback"} 1`)
	assert.Contains(t, body, `notifications_total{event_type="AppointmentBooked",outcome="sent"} 1`)
	assert.Contains(t, body, `circuit_breaker_state{name="gemini"} 1`)
}

func TestHandlerServesOwnRegistry(t *testing.T) {
	m := New(nil)
	m.ObserveHTTP("GET", "/api/doctor/appointments", 200, time.Millisecond)

	assert.Contains(t, scrape(t, m), `http_requests_total{method="GET",route="/api/doctor/appointments",status="200"} 1`)
}
