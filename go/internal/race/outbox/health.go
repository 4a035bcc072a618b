package outbox

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// pendingThreshold is the queue depth reported as a warning.
const pendingThreshold = 1000

type HealthStatus struct {
	Healthy            bool     `json:"healthy"`
	WorkerRunning      bool     `json:"worker_running"`
	PublisherConnected bool     `json:"publisher_connected"`
	Stats              Stats    `json:"stats"`
	Errors             []string `json:"errors"`
}

// ConnectionChecker is implemented by publishers backed by a network connection.
type ConnectionChecker interface {
	IsConnected() bool
}

// HealthChecker reports on a worker and its publisher.
type HealthChecker struct {
	worker *Worker
}

func NewHealthChecker(worker *Worker) *HealthChecker {
	return &HealthChecker{worker: worker}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:            true,
		PublisherConnected: true,
		Stats:              h.worker.Stats(),
		Errors:             []string{},
	}

	h.worker.mu.RLock()
	status.WorkerRunning = h.worker.running
	h.worker.mu.RUnlock()
	if !status.WorkerRunning {
		status.Healthy = false
		status.Errors = append(status.Errors, "worker not running")
	}

	if cc, ok := h.worker.publisher.(ConnectionChecker); ok && !cc.IsConnected() {
		status.PublisherConnected = false
		status.Healthy = false
		status.Errors = append(status.Errors, "publisher disconnected")
	}

	if status.Stats.Pending > pendingThreshold {
		status.Errors = append(status.Errors, "high pending event count")
	}
	return status
}

// ServeHTTP writes the status as JSON, with 503 when unhealthy
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to encode outbox health")
	}
}
