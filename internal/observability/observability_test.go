package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/lexiqai/voice-composer/internal/resilience"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatal(err)
	}
	if out.Gauge != nil {
		return out.GetGauge().GetValue()
	}
	return out.GetCounter().GetValue()
}

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Status != "healthy" || status.Service != serviceName {
		t.Errorf("Unexpected status %+v", status)
	}
}

func probe(deps map[string]DependencyStatus) ReadinessProbe {
	return func(context.Context) map[string]DependencyStatus { return deps }
}

func TestReadinessHandler(t *testing.T) {
	healthy := DependencyStatus{Status: "healthy"}
	unhealthy := DependencyStatus{Status: "unhealthy", Message: "refused"}

	tests := []struct {
		name       string
		deps       map[string]DependencyStatus
		wantCode   int
		wantStatus string
	}{
		{"all healthy", map[string]DependencyStatus{"a": healthy, "b": healthy}, http.StatusOK, "ready"},
		{"some unhealthy", map[string]DependencyStatus{"a": healthy, "b": unhealthy}, http.StatusOK, "degraded"},
		{"none healthy", map[string]DependencyStatus{"a": unhealthy}, http.StatusServiceUnavailable, "not_ready"},
		{"no dependencies", nil, http.StatusOK, "ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadinessHandler(time.Second, probe(tt.deps))(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			var status HealthStatus
			json.NewDecoder(rec.Body).Decode(&status)
			if rec.Code != tt.wantCode || status.Status != tt.wantStatus {
				t.Errorf("Expected %d %s, got %d %s", tt.wantCode, tt.wantStatus, rec.Code, status.Status)
			}
		})
	}
}

func TestReadinessHandler_MergesProbes(t *testing.T) {
	rec := httptest.NewRecorder()
	ReadinessHandler(time.Second,
		probe(map[string]DependencyStatus{"backend:a": {Status: "healthy"}}),
		probe(map[string]DependencyStatus{"nats": {Status: "healthy"}}),
	)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var status HealthStatus
	json.NewDecoder(rec.Body).Decode(&status)
	if len(status.Dependencies) != 2 {
		t.Errorf("Expected both probes reported, got %+v", status.Dependencies)
	}
}

func TestBreakerStateHook(t *testing.T) {
	hook := BreakerStateHook()

	hook("hook-test", resilience.StateClosed, resilience.StateOpen)
	if got := value(t, circuitBreakerState.WithLabelValues("hook-test")); got != float64(resilience.StateOpen) {
		t.Errorf("Expected gauge %d, got %v", resilience.StateOpen, got)
	}

	hook("hook-test", resilience.StateOpen, resilience.StateHalfOpen)
	if got := value(t, circuitBreakerState.WithLabelValues("hook-test")); got != float64(resilience.StateHalfOpen) {
		t.Errorf("Expected gauge %d, got %v", resilience.StateHalfOpen, got)
	}
}

func TestRequestMetrics_EndOnce(t *testing.T) {
	before := value(t, composeRequests.WithLabelValues("end-once"))

	m := NewRequestMetrics("req-1")
	m.RecordStart()
	m.RecordEnd("end-once")
	m.RecordEnd("end-once")

	if got := value(t, composeRequests.WithLabelValues("end-once")); got != before+1 {
		t.Errorf("Expected one recorded request, got %v", got-before)
	}
}

func TestRecordCacheLookup(t *testing.T) {
	hits := value(t, cacheLookups.WithLabelValues("hit"))
	misses := value(t, cacheLookups.WithLabelValues("miss"))

	RecordCacheLookup(true)
	RecordCacheLookup(false)
	RecordCacheLookup(false)

	if got := value(t, cacheLookups.WithLabelValues("hit")) - hits; got != 1 {
		t.Errorf("Expected 1 hit, got %v", got)
	}
	if got := value(t, cacheLookups.WithLabelValues("miss")) - misses; got != 2 {
		t.Errorf("Expected 2 misses, got %v", got)
	}
}

func TestRequestContext(t *testing.T) {
	if NewCorrelationID() == NewCorrelationID() {
		t.Error("Expected unique correlation ids")
	}

	if l := FromContext(context.Background()); l == nil {
		t.Fatal("Expected the global logger without a request logger")
	}

	ctx, logger := RequestContext(context.Background(), "req-42")
	if got := FromContext(ctx); got.GetLevel() != logger.GetLevel() {
		t.Errorf("Expected the request logger back from the context")
	}
	logger.Debug().Msg("request context test")
}
