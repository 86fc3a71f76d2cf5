package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"webhook-delivery/internal/circuitbreaker"
	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/common/logging"
	"webhook-delivery/internal/health"
	"webhook-delivery/internal/storage"
	"webhook-delivery/internal/worker"
)

// QueueDepth reports backlog sizes for queue backends that can count them.
type QueueDepth interface {
	Depth(ctx context.Context) (scheduled, processing int64, err error)
}

// Handlers exposes the operational surface: liveness, runtime stats, and
// manual subscription enable/disable. Subscription and authentication
// config management stays at the store level.
type Handlers struct {
	store    storage.Store
	pool     *worker.Pool
	tracker  *health.Tracker
	breakers *circuitbreaker.Manager
	queue    QueueDepth
	logger   logging.Logger
}

func NewHandlers(store storage.Store, pool *worker.Pool, tracker *health.Tracker, breakers *circuitbreaker.Manager, queue QueueDepth, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		store:    store,
		pool:     pool,
		tracker:  tracker,
		breakers: breakers,
		queue:    queue,
		logger:   logger,
	}
}

// Routes builds the operational router.
func (h *Handlers) Routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", h.GetStats).Methods("GET")
	api.HandleFunc("/subscriptions/{id}/health", h.GetSubscriptionHealth).Methods("GET")
	api.HandleFunc("/subscriptions/{id}/enable", h.EnableSubscription).Methods("POST")
	api.HandleFunc("/subscriptions/{id}/disable", h.DisableSubscription).Methods("POST")
	return router
}

// HealthCheck reports store and queue reachability.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if err := h.store.Health(); err != nil {
		checks["store"] = err.Error()
		healthy = false
	} else {
		checks["store"] = "ok"
	}

	if h.queue != nil {
		if _, _, err := h.queue.Depth(r.Context()); err != nil {
			checks["queue"] = err.Error()
			healthy = false
		} else {
			checks["queue"] = "ok"
		}
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	h.respondJSON(w, status, map[string]interface{}{
		"status": overall,
		"checks": checks,
	})
}

// GetStats returns worker, breaker, endpoint health, and queue statistics.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"workers":   h.pool.Stats(),
		"endpoints": h.tracker.Snapshot(),
	}
	if h.breakers != nil {
		stats["circuit_breakers"] = h.breakers.Stats()
	}
	if h.queue != nil {
		scheduled, processing, err := h.queue.Depth(r.Context())
		if err != nil {
			h.logger.Warn("failed to read queue depth", logging.Err(err))
		} else {
			stats["queue"] = map[string]int64{
				"scheduled":  scheduled,
				"processing": processing,
			}
		}
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// GetSubscriptionHealth returns the tracked delivery health for one endpoint.
func (h *Handlers) GetSubscriptionHealth(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.store.GetSubscription(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, h.tracker.Status(id))
}

// EnableSubscription re-enables a subscription and resets its health
// tracking so old failures do not immediately disable it again.
func (h *Handlers) EnableSubscription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.EnableSubscription(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	h.tracker.Reset(id)
	h.logger.Info("subscription enabled", logging.String("subscription_id", id))
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

// DisableSubscription disables a subscription and fails its waiting
// retries. In-flight attempts finish on their own.
func (h *Handlers) DisableSubscription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.store.GetSubscription(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.store.DisableSubscription(r.Context(), id, time.Now().UTC()); err != nil {
		h.respondError(w, err)
		return
	}
	drained, err := h.store.FailWaitingAttempts(r.Context(), id, "subscription disabled")
	if err != nil {
		h.logger.Warn("failed to drain waiting attempts",
			logging.String("subscription_id", id), logging.Err(err))
	}
	h.logger.Info("subscription disabled",
		logging.String("subscription_id", id), logging.Int("drained", drained))
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "disabled",
		"drained": drained,
	})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("failed to write response", logging.Err(err))
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsType(err, errors.ErrTypeNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.IsType(err, errors.ErrTypeValidation), errors.IsType(err, errors.ErrTypeConfig):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("request failed", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
