package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/forgehook/forgehook/internal/lifecycle"
	"github.com/forgehook/forgehook/internal/models"
	"github.com/forgehook/forgehook/internal/registry"
	"github.com/forgehook/forgehook/internal/repository"
)

// MarketplaceHandler serves the /marketplace registry endpoints.
type MarketplaceHandler struct {
	repo       repository.Repository
	aggregator *registry.Aggregator
	manager    *lifecycle.Manager
}

// NewMarketplaceHandler wires the marketplace handler.
func NewMarketplaceHandler(repo repository.Repository, aggregator *registry.Aggregator, manager *lifecycle.Manager) *MarketplaceHandler {
	return &MarketplaceHandler{repo: repo, aggregator: aggregator, manager: manager}
}

// ListSources handles GET /marketplace/sources.
func (h *MarketplaceHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.repo.ListSources(r.Context())
	if err != nil {
		WriteErrorAuto(w, ErrInternal, "failed listing sources", nil)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

// addSourceRequest is the body for POST /marketplace/sources.
type addSourceRequest struct {
	Name     string            `json:"name"`
	Kind     models.SourceKind `json:"kind"`
	Location string            `json:"location"`
	Priority int               `json:"priority"`
}

// AddSource handles POST /marketplace/sources.
func (h *MarketplaceHandler) AddSource(w http.ResponseWriter, r *http.Request) {
	var req addSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorAuto(w, ErrValidation, "invalid request body: "+err.Error(), nil)
		return
	}
	if req.Name == "" || req.Location == "" {
		WriteErrorAuto(w, ErrValidation, "name and location are required", nil)
		return
	}
	switch req.Kind {
	case models.SourceKindGitHub, models.SourceKindHTTP, models.SourceKindLocal:
	default:
		WriteErrorAuto(w, ErrValidation, "kind must be one of github, http, local", nil)
		return
	}

	source := &models.RegistrySource{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Kind:      req.Kind,
		Location:  req.Location,
		Priority:  req.Priority,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.CreateSource(r.Context(), source); err != nil {
		WriteErrorAuto(w, ErrInternal, "failed creating source", nil)
		return
	}
	writeJSON(w, http.StatusCreated, source)
}

// DeleteSource handles DELETE /marketplace/sources/{id}.
func (h *MarketplaceHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.repo.DeleteSource(r.Context(), id); err != nil {
		WriteErrorAuto(w, ErrInternal, "failed deleting source", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshSource handles POST /marketplace/sources/{id}/refresh.
func (h *MarketplaceHandler) RefreshSource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.aggregator.Refresh(r.Context(), id); err != nil {
		WriteErrorAuto(w, ErrSourceNotFound, err.Error(), nil)
		return
	}
	idx, _ := h.aggregator.Index(id)
	writeJSON(w, http.StatusOK, idx)
}

// Catalog handles GET /marketplace: the merged, priority-ordered,
// id-deduplicated view across every source's last successful refresh.
func (h *MarketplaceHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	sources, err := h.repo.ListSources(r.Context())
	if err != nil {
		WriteErrorAuto(w, ErrInternal, "failed listing sources", nil)
		return
	}
	priorities := make(map[string]int, len(sources))
	for _, s := range sources {
		priorities[s.ID] = s.Priority
	}
	writeJSON(w, http.StatusOK, h.aggregator.Catalog(priorities))
}

// Entry handles GET /marketplace/{sourceId}/{pluginId}.
func (h *MarketplaceHandler) Entry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	idx, ok := h.aggregator.Index(vars["sourceId"])
	if !ok {
		WriteErrorAuto(w, ErrSourceNotFound, "registry source not found or never refreshed", nil)
		return
	}
	for _, e := range idx.Entries {
		if e.PluginID == vars["pluginId"] {
			writeJSON(w, http.StatusOK, e)
			return
		}
	}
	WriteErrorAuto(w, ErrPluginNotFound, "plugin not found in source catalog", nil)
}

// InstallFromCatalog handles POST /marketplace/{sourceId}/{pluginId}/install.
func (h *MarketplaceHandler) InstallFromCatalog(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	idx, ok := h.aggregator.Index(vars["sourceId"])
	if !ok {
		WriteErrorAuto(w, ErrSourceNotFound, "registry source not found or never refreshed", nil)
		return
	}
	for _, e := range idx.Entries {
		if e.PluginID != vars["pluginId"] {
			continue
		}
		manifest := e.Manifest
		inst, err := h.manager.Install(r.Context(), requestID(r), manifest)
		if err != nil {
			writeLifecycleError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, inst)
		return
	}
	WriteErrorAuto(w, ErrPluginNotFound, "plugin not found in source catalog", nil)
}

// githubInstallRequest is the body for POST /marketplace/github-install.
type githubInstallRequest struct {
	Repo string `json:"repo"` // owner/repo, github.com URL, or raw URL
}

// GitHubInstall handles POST /marketplace/github-install: a convenience
// path that fetches a single manifest directly from GitHub without
// requiring the caller to first register a RegistrySource.
func (h *MarketplaceHandler) GitHubInstall(w http.ResponseWriter, r *http.Request) {
	var req githubInstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Repo == "" {
		WriteErrorAuto(w, ErrValidation, "repo is required", nil)
		return
	}

	adhoc := &models.RegistrySource{
		ID:       "adhoc-" + uuid.New().String(),
		Kind:     models.SourceKindGitHub,
		Location: req.Repo,
		Enabled:  true,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	entries, err := registry.FetchOnce(ctx, adhoc)
	if err != nil {
		WriteErrorAuto(w, ErrInstallFailed, "failed fetching manifest from github: "+err.Error(), nil)
		return
	}
	if len(entries) == 0 {
		WriteErrorAuto(w, ErrInstallFailed, "github source resolved to an empty catalog", nil)
		return
	}

	inst, err := h.manager.Install(r.Context(), requestID(r), entries[0].Manifest)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}
