package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

func TestApiKeysHandler_Create_ReturnsPlaintextOnce(t *testing.T) {
	repo := setupTestRepo(t)
	h := NewApiKeysHandler(repo)

	body := strings.NewReader(`{"name":"ci-runner"}`)
	req := httptest.NewRequest(http.MethodPost, "/api-keys", body)
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp createAPIKeyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed decoding response: %v", err)
	}
	if resp.Key == "" {
		t.Fatal("expected plaintext key in create response")
	}
	if !strings.Contains(w.Body.String(), `"prefix"`) {
		t.Fatal("expected prefix field in response")
	}
	if strings.Contains(w.Body.String(), "keyHash") || strings.Contains(w.Body.String(), "key_hash") {
		t.Fatal("key hash must never be serialized")
	}
}

func TestApiKeysHandler_List_NeverExposesHash(t *testing.T) {
	repo := setupTestRepo(t)
	h := NewApiKeysHandler(repo)

	createReq := httptest.NewRequest(http.MethodPost, "/api-keys", strings.NewReader(`{"name":"k1"}`))
	h.Create(httptest.NewRecorder(), createReq)

	listReq := httptest.NewRequest(http.MethodGet, "/api-keys", nil)
	w := httptest.NewRecorder()
	h.List(w, listReq)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "keyHash") {
		t.Fatal("list response must never include keyHash")
	}
}

func TestApiKeysHandler_Delete_Revokes(t *testing.T) {
	repo := setupTestRepo(t)
	h := NewApiKeysHandler(repo)

	createReq := httptest.NewRequest(http.MethodPost, "/api-keys", strings.NewReader(`{"name":"k1"}`))
	createW := httptest.NewRecorder()
	h.Create(createW, createReq)

	var created createAPIKeyResponse
	if err := json.Unmarshal(createW.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed decoding create response: %v", err)
	}

	delReq := httptest.NewRequest(http.MethodDelete, "/api-keys/"+created.ID, nil)
	delReq = mux.SetURLVars(delReq, map[string]string{"id": created.ID})
	delW := httptest.NewRecorder()
	h.Delete(delW, delReq)

	if delW.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", delW.Code)
	}
}
