package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/forgehook/forgehook/internal/auth"
	"github.com/forgehook/forgehook/internal/models"
	"github.com/forgehook/forgehook/internal/repository"
)

// ApiKeysHandler serves the /api-keys endpoints.
type ApiKeysHandler struct {
	repo repository.ApiKeyRepository
}

// NewApiKeysHandler wires the api-keys handler.
func NewApiKeysHandler(repo repository.ApiKeyRepository) *ApiKeysHandler {
	return &ApiKeysHandler{repo: repo}
}

// List handles GET /api-keys. KeyHash is never serialized (models.ApiKey
// tags it json:"-").
func (h *ApiKeysHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.repo.ListAPIKeys(r.Context())
	if err != nil {
		WriteErrorAuto(w, ErrInternal, "failed listing api keys", nil)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

type createAPIKeyRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type createAPIKeyResponse struct {
	*models.ApiKey
	Key string `json:"key"`
}

// Create handles POST /api-keys. The plaintext key is returned exactly
// once, here, and never again.
func (h *ApiKeysHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorAuto(w, ErrValidation, "invalid request body: "+err.Error(), nil)
		return
	}
	if req.Name == "" {
		WriteErrorAuto(w, ErrValidation, "name is required", nil)
		return
	}

	plaintext, hash, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		WriteErrorAuto(w, ErrInternal, "failed generating api key", nil)
		return
	}

	key := &models.ApiKey{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		KeyHash:     hash,
		Prefix:      prefix,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.repo.CreateAPIKey(r.Context(), key); err != nil {
		WriteErrorAuto(w, ErrInternal, "failed creating api key", nil)
		return
	}

	writeJSON(w, http.StatusCreated, createAPIKeyResponse{ApiKey: key, Key: plaintext})
}

// Delete handles DELETE /api-keys/{id}: revokes, does not hard-delete.
func (h *ApiKeysHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.repo.RevokeAPIKey(r.Context(), id); err != nil {
		WriteErrorAuto(w, ErrInternal, "failed revoking api key", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
