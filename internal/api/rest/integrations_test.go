package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

func TestIntegrationsHandler_Create_And_Update(t *testing.T) {
	repo := setupTestRepo(t)
	h := NewIntegrationsHandler(repo)

	createReq := httptest.NewRequest(http.MethodPost, "/integrations", strings.NewReader(`{"id":"custom-hook","name":"Custom Hook","enabled":true}`))
	createW := httptest.NewRecorder()
	h.Create(createW, createReq)
	if createW.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", createW.Code, createW.Body.String())
	}

	updateReq := httptest.NewRequest(http.MethodPatch, "/integrations/custom-hook", strings.NewReader(`{"enabled":false}`))
	updateReq = mux.SetURLVars(updateReq, map[string]string{"id": "custom-hook"})
	updateW := httptest.NewRecorder()
	h.Update(updateW, updateReq)
	if updateW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", updateW.Code, updateW.Body.String())
	}

	var updated struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(updateW.Body.Bytes(), &updated); err != nil {
		t.Fatalf("failed decoding update response: %v", err)
	}
	if updated.Enabled {
		t.Fatal("expected integration to be disabled after update")
	}
}

func TestIntegrationsHandler_Delete_RejectsBuiltin(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.SeedBuiltinIntegrations(context.Background()); err != nil {
		t.Fatalf("failed seeding builtin integrations: %v", err)
	}
	h := NewIntegrationsHandler(repo)

	req := httptest.NewRequest(http.MethodDelete, "/integrations/zapier", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "zapier"})
	w := httptest.NewRecorder()
	h.Delete(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 CANNOT_DELETE_OFFICIAL, got %d: %s", w.Code, w.Body.String())
	}
}

func TestIntegrationsHandler_Delete_AllowsCustom(t *testing.T) {
	repo := setupTestRepo(t)
	h := NewIntegrationsHandler(repo)

	createReq := httptest.NewRequest(http.MethodPost, "/integrations", strings.NewReader(`{"id":"custom-hook","name":"Custom Hook","enabled":true}`))
	h.Create(httptest.NewRecorder(), createReq)

	delReq := httptest.NewRequest(http.MethodDelete, "/integrations/custom-hook", nil)
	delReq = mux.SetURLVars(delReq, map[string]string{"id": "custom-hook"})
	delW := httptest.NewRecorder()
	h.Delete(delW, delReq)

	if delW.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", delW.Code, delW.Body.String())
	}
}
