package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// value reads the current value of a single counter or gauge.
func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if c := out.GetCounter(); c != nil {
		return c.GetValue()
	}
	return out.GetGauge().GetValue()
}

func TestNew_Singleton(t *testing.T) {
	if New() != New() {
		t.Error("New() should return the same collector")
	}
}

func TestRecordBackendCall(t *testing.T) {
	m := New()
	before := value(t, m.backendRequests.WithLabelValues("/api/stats", "200"))
	m.RecordBackendCall("/api/stats", 200, 20*time.Millisecond)
	m.RecordBackendCall("", 0, time.Second)
	after := value(t, m.backendRequests.WithLabelValues("/api/stats", "200"))
	if after-before != 1 {
		t.Errorf("requests delta = %v, want 1", after-before)
	}
	if got := value(t, m.backendRequests.WithLabelValues("unknown", "error")); got < 1 {
		t.Errorf("unknown/error count = %v, want >= 1", got)
	}
}

func TestSetSessionState(t *testing.T) {
	m := New()
	m.SetSessionState("authenticated")
	if got := value(t, m.sessionState.WithLabelValues("authenticated")); got != 1 {
		t.Errorf("authenticated = %v, want 1", got)
	}
	if got := value(t, m.sessionState.WithLabelValues("anonymous")); got != 0 {
		t.Errorf("anonymous = %v, want 0", got)
	}
}

func TestUpdateBackendHealth(t *testing.T) {
	m := New()
	m.UpdateBackendHealth(true)
	if got := value(t, m.backendUp); got != 1 {
		t.Errorf("backend_up = %v, want 1", got)
	}
	m.UpdateBackendHealth(false)
	if got := value(t, m.backendUp); got != 0 {
		t.Errorf("backend_up = %v, want 0", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordBackendCall("x", 200, time.Millisecond)
	m.RecordStale("reports")
	m.RecordDebounced("reports")
	m.SetSessionState("anonymous")
	m.RecordSessionExpired()
	m.UpdateBackendHealth(true)
	m.RecordAction("flush", "ok")
}
