package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/forgehook/forgehook/internal/repository"
)

// HealthzHandler handles health check endpoints.
type HealthzHandler struct {
	repo           repository.Repository
	productionMode bool
}

// NewHealthzHandler creates a new healthz handler.
func NewHealthzHandler(repo repository.Repository, productionMode bool) *HealthzHandler {
	return &HealthzHandler{repo: repo, productionMode: productionMode}
}

// Live handles GET /health - liveness probe (process is alive).
func (h *HealthzHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Ready handles GET /ready - readiness probe (dependencies are healthy).
func (h *HealthzHandler) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "unhealthy",
				"reason": "database_unavailable",
				"error":  err.Error(),
			})
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Status handles GET /status - a richer operational snapshot. Disabled in
// production mode: it then answers 403 FORBIDDEN and reveals nothing.
func (h *HealthzHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.productionMode {
		WriteErrorAuto(w, ErrForbidden, "/status is disabled in production mode", nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	plugins, err := h.repo.ListPlugins(ctx)
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "unhealthy", "error": err.Error()})
		return
	}

	byStatus := make(map[string]int)
	for _, p := range plugins {
		byStatus[string(p.Status)]++
	}

	ids := make([]string, 0, len(plugins))
	for _, p := range plugins {
		ids = append(ids, p.ID)
	}
	resp := map[string]interface{}{
		"status":        "ok",
		"pluginCount":   len(plugins),
		"pluginsByStatus": byStatus,
		"pluginIds":     ids,
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
