package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/forgehook/forgehook/internal/models"
	"github.com/forgehook/forgehook/internal/repository"
)

// IntegrationsHandler serves the /integrations endpoints. Builtin
// integrations (models.BuiltinIntegrationIDs) can be disabled but never
// deleted.
type IntegrationsHandler struct {
	repo repository.IntegrationRepository
}

// NewIntegrationsHandler wires the integrations handler.
func NewIntegrationsHandler(repo repository.IntegrationRepository) *IntegrationsHandler {
	return &IntegrationsHandler{repo: repo}
}

// List handles GET /integrations.
func (h *IntegrationsHandler) List(w http.ResponseWriter, r *http.Request) {
	integrations, err := h.repo.ListIntegrations(r.Context())
	if err != nil {
		WriteErrorAuto(w, ErrInternal, "failed listing integrations", nil)
		return
	}
	writeJSON(w, http.StatusOK, integrations)
}

type createIntegrationRequest struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Enabled bool              `json:"enabled"`
	Config  map[string]string `json:"config,omitempty"`
}

// Create handles POST /integrations.
func (h *IntegrationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createIntegrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorAuto(w, ErrValidation, "invalid request body: "+err.Error(), nil)
		return
	}
	if req.ID == "" || req.Name == "" {
		WriteErrorAuto(w, ErrValidation, "id and name are required", nil)
		return
	}

	integration := &models.Integration{
		ID:      models.NormalizeIntegrationID(req.ID),
		Name:    req.Name,
		Enabled: req.Enabled,
		Config:  req.Config,
		Builtin: false,
	}
	if err := h.repo.CreateIntegration(r.Context(), integration); err != nil {
		WriteErrorAuto(w, ErrInternal, "failed creating integration", nil)
		return
	}
	writeJSON(w, http.StatusCreated, integration)
}

type updateIntegrationRequest struct {
	Name    *string           `json:"name,omitempty"`
	Enabled *bool             `json:"enabled,omitempty"`
	Config  map[string]string `json:"config,omitempty"`
}

// Update handles PATCH /integrations/{id}.
func (h *IntegrationsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := models.NormalizeIntegrationID(mux.Vars(r)["id"])
	existing, err := h.repo.GetIntegration(r.Context(), id)
	if err != nil {
		WriteErrorAuto(w, ErrInternal, "failed loading integration", nil)
		return
	}
	if existing == nil {
		WriteErrorAuto(w, ErrPluginNotFound, "integration not found", nil)
		return
	}

	var req updateIntegrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorAuto(w, ErrValidation, "invalid request body: "+err.Error(), nil)
		return
	}
	if req.Name != nil {
		existing.Name = *req.Name
	}
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}
	if req.Config != nil {
		existing.Config = req.Config
	}

	if err := h.repo.UpdateIntegration(r.Context(), existing); err != nil {
		WriteErrorAuto(w, ErrInternal, "failed updating integration", nil)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

// Delete handles DELETE /integrations/{id}. Builtin integrations can
// never be deleted, even when disabled.
func (h *IntegrationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := models.NormalizeIntegrationID(mux.Vars(r)["id"])

	existing, err := h.repo.GetIntegration(r.Context(), id)
	if err != nil {
		WriteErrorAuto(w, ErrInternal, "failed loading integration", nil)
		return
	}
	if existing == nil {
		WriteErrorAuto(w, ErrPluginNotFound, "integration not found", nil)
		return
	}
	if existing.Builtin || models.IsBuiltinIntegration(id) {
		WriteErrorAuto(w, ErrCannotDeleteOfficial, "builtin integrations cannot be deleted", nil)
		return
	}

	if err := h.repo.DeleteIntegration(r.Context(), id); err != nil {
		WriteErrorAuto(w, ErrInternal, "failed deleting integration", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
