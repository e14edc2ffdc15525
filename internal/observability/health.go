package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const (
	serviceName    = "voice-composer"
	serviceVersion = "1.0.0"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Timestamp    string                      `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	State     string `json:"state,omitempty"` // circuit breaker state for backends
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// Healthy reports whether the dependency answered its probe
func (d DependencyStatus) Healthy() bool {
	return d.Status == "healthy"
}

// HealthCheckHandler handles liveness requests
func HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:    "healthy",
			Service:   serviceName,
			Version:   serviceVersion,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(status)
	}
}

// ReadinessProbe reports the status of a group of dependencies by name.
// Probes are passed in by the caller to avoid import cycles.
type ReadinessProbe func(ctx context.Context) map[string]DependencyStatus

// ReadinessHandler runs every probe. The service is ready when all
// dependencies are healthy, degraded while at least one is, and not ready
// otherwise.
func ReadinessHandler(timeout time.Duration, probes ...ReadinessProbe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		dependencies := make(map[string]DependencyStatus)
		for _, probe := range probes {
			for name, dep := range probe(ctx) {
				dependencies[name] = dep
			}
		}

		healthy := 0
		for _, dep := range dependencies {
			if dep.Healthy() {
				healthy++
			}
		}

		status := HealthStatus{
			Status:       "ready",
			Service:      serviceName,
			Version:      serviceVersion,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Dependencies: dependencies,
		}

		code := http.StatusOK
		switch {
		case len(dependencies) > 0 && healthy == 0:
			status.Status = "not_ready"
			code = http.StatusServiceUnavailable
		case healthy < len(dependencies):
			status.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	}
}
