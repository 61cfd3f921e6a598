package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/forgehook/forgehook/internal/lifecycle"
	"github.com/forgehook/forgehook/internal/models"
	"github.com/forgehook/forgehook/internal/pkg/logger"
	"github.com/forgehook/forgehook/internal/repository"
)

// LogSource streams tail log output for a container-runtime instance.
type LogSource interface {
	Logs(ctx context.Context, inst *models.PluginInstance, tailLines int) (io.ReadCloser, error)
}

// PluginsHandler serves the /plugins lifecycle endpoints.
type PluginsHandler struct {
	manager    *lifecycle.Manager
	repo       repository.Repository
	containers LogSource
}

// NewPluginsHandler wires the plugins handler to the Lifecycle Manager
// and the Container Supervisor (the only runtime.Driver that supports
// Logs).
func NewPluginsHandler(manager *lifecycle.Manager, repo repository.Repository, containers LogSource) *PluginsHandler {
	return &PluginsHandler{manager: manager, repo: repo, containers: containers}
}

// List handles GET /plugins.
func (h *PluginsHandler) List(w http.ResponseWriter, r *http.Request) {
	plugins, err := h.repo.ListPlugins(r.Context())
	if err != nil {
		WriteErrorAuto(w, ErrInternal, "failed listing plugins", nil)
		return
	}
	writeJSON(w, http.StatusOK, plugins)
}

// Get handles GET /plugins/{id}.
func (h *PluginsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, err := h.repo.GetPlugin(r.Context(), id)
	if err != nil {
		WriteErrorAuto(w, ErrInternal, "failed loading plugin", nil)
		return
	}
	if inst == nil {
		WriteErrorAuto(w, ErrPluginNotFound, "plugin not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// Install handles POST /plugins/install. Body is a ForgeHookManifest.
func (h *PluginsHandler) Install(w http.ResponseWriter, r *http.Request) {
	var manifest models.ForgeHookManifest
	if err := json.NewDecoder(r.Body).Decode(&manifest); err != nil {
		WriteErrorAuto(w, ErrValidation, "invalid request body: "+err.Error(), nil)
		return
	}

	inst, err := h.manager.Install(r.Context(), requestID(r), manifest)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

// Start handles POST /plugins/{id}/start.
func (h *PluginsHandler) Start(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, err := h.manager.Start(r.Context(), requestID(r), id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// Stop handles POST /plugins/{id}/stop.
func (h *PluginsHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, err := h.manager.Stop(r.Context(), requestID(r), id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// Restart handles POST /plugins/{id}/restart.
func (h *PluginsHandler) Restart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, err := h.manager.Restart(r.Context(), requestID(r), id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// Uninstall handles POST /plugins/{id}/uninstall.
func (h *PluginsHandler) Uninstall(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.manager.Uninstall(r.Context(), requestID(r), id); err != nil {
		writeLifecycleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// updateRequest is the body for POST /plugins/{id}/update.
type updateRequest struct {
	Manifest *models.ForgeHookManifest `json:"manifest,omitempty"`
}

// Update handles POST /plugins/{id}/update.
func (h *PluginsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorAuto(w, ErrValidation, "invalid request body: "+err.Error(), nil)
		return
	}
	if req.Manifest == nil {
		WriteErrorAuto(w, ErrValidation, "manifest is required for update", nil)
		return
	}

	inst, err := h.manager.Update(r.Context(), requestID(r), id, *req.Manifest)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// Rollback handles POST /plugins/{id}/rollback. No request body: it
// restores the manifest snapshot captured before the plugin's last
// successful update. Responds NOTHING_TO_ROLLBACK if no snapshot exists.
func (h *PluginsHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, err := h.manager.Rollback(r.Context(), requestID(r), id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// updatesResponse is the GET /plugins/{id}/updates response shape.
type updatesResponse struct {
	CurrentVersion  string                       `json:"currentVersion"`
	PreviousVersion *string                      `json:"previousVersion"`
	CanRollback     bool                         `json:"canRollback"`
	History         []*models.UpdateHistoryEntry `json:"history"`
}

// Updates handles GET /plugins/{id}/updates. previousVersion == nil
// always implies canRollback == false, and vice versa.
func (h *PluginsHandler) Updates(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, err := h.repo.GetPlugin(r.Context(), id)
	if err != nil {
		WriteErrorAuto(w, ErrInternal, "failed loading plugin", nil)
		return
	}
	if inst == nil {
		WriteErrorAuto(w, ErrPluginNotFound, "plugin not found", nil)
		return
	}
	entries, err := h.repo.ListHistoryForPlugin(r.Context(), id, 100)
	if err != nil {
		WriteErrorAuto(w, ErrInternal, "failed loading update history", nil)
		return
	}
	writeJSON(w, http.StatusOK, updatesResponse{
		CurrentVersion:  inst.Manifest.Version,
		PreviousVersion: inst.PreviousVersion,
		CanRollback:     inst.PreviousVersion != nil,
		History:         entries,
	})
}

// Logs handles GET /plugins/{id}/logs (container runtime only).
func (h *PluginsHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, err := h.repo.GetPlugin(r.Context(), id)
	if err != nil {
		WriteErrorAuto(w, ErrInternal, "failed loading plugin", nil)
		return
	}
	if inst == nil {
		WriteErrorAuto(w, ErrPluginNotFound, "plugin not found", nil)
		return
	}
	if inst.Runtime != models.RuntimeContainer {
		WriteErrorAuto(w, ErrInvalidOperation, "logs are only available for container-runtime plugins", nil)
		return
	}

	tail := 200
	rc, err := h.containers.Logs(r.Context(), inst, tail)
	if err != nil {
		WriteErrorAuto(w, ErrContainerError, "failed streaming container logs: "+err.Error(), nil)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestID(r *http.Request) string {
	return logger.FromContext(r.Context())
}

// writeLifecycleError maps a lifecycle.Manager sentinel error to its
// documented HTTP error code.
func writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrValidation):
		WriteErrorAuto(w, ErrValidation, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrPluginExists):
		WriteErrorAuto(w, ErrPluginExists, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrPluginNotFound):
		WriteErrorAuto(w, ErrPluginNotFound, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrInvalidOperation):
		WriteErrorAuto(w, ErrInvalidOperation, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrStartFailed):
		WriteErrorAuto(w, ErrStartFailed, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrStopFailed):
		WriteErrorAuto(w, ErrStopFailed, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrUpdateFailed):
		WriteErrorAuto(w, ErrUpdateFailed, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrNothingToRollback):
		WriteErrorAuto(w, ErrNothingToRollback, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrRollbackFailed):
		WriteErrorAuto(w, ErrRollbackFailed, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrUninstallFailed):
		WriteErrorAuto(w, ErrUninstallFailed, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrCannotDeleteOfficial):
		WriteErrorAuto(w, ErrCannotDeleteOfficial, err.Error(), nil)
	default:
		WriteErrorAuto(w, ErrInternal, err.Error(), nil)
	}
}
