package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/cassiomorais/chainpay/internal/worker"
	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WorkerHealth is satisfied by *worker.RefundWorker.
type WorkerHealth interface {
	Health() worker.Health
}

type HealthController struct {
	db     Pinger
	redis  redis.UniversalClient
	worker WorkerHealth
}

// NewHealthController creates a HealthController. redis and worker may be
// nil when the process runs without them.
func NewHealthController(db Pinger, redis redis.UniversalClient, worker WorkerHealth) *HealthController {
	return &HealthController{db: db, redis: redis, worker: worker}
}

func (h *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthController) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *HealthController) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database unavailable",
		})
		return
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "redis unavailable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Worker reports the refund worker heartbeat; 503 when stale or stopped.
func (h *HealthController) Worker(w http.ResponseWriter, r *http.Request) {
	if h.worker == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "refund worker not running in this process", Code: "not_found"})
		return
	}
	health := h.worker.Health()
	status := http.StatusOK
	if health.IsStale {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
