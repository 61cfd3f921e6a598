package rest

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/forgehook/forgehook/internal/codec"
	"github.com/forgehook/forgehook/internal/models"
)

func testManifest() models.ForgeHookManifest {
	return models.ForgeHookManifest{
		ID:      "sample",
		Name:    "Sample Plugin",
		Version: "1.0.0",
		Runtime: models.RuntimeEmbedded,
		Entrypoint: models.Entrypoint{
			Symbol: "forgehook-builtins/ping",
		},
		Functions: []models.ManifestFunction{{Name: "ping"}},
	}
}

func buildTestPackage(t *testing.T) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := codec.Export(buf, &codec.Package{Manifest: testManifest()}, 1<<20); err != nil {
		t.Fatalf("failed building test package: %v", err)
	}
	return buf.Bytes()
}

func multipartUploadRequest(t *testing.T, path string, fileBytes []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "plugin.fhk")
	if err != nil {
		t.Fatalf("failed creating form file: %v", err)
	}
	if _, err := part.Write(fileBytes); err != nil {
		t.Fatalf("failed writing form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed closing multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestPackagesHandler_Inspect_ReturnsManifestOnly(t *testing.T) {
	h := NewPackagesHandler(nil, nil, nil, 1<<20)
	req := multipartUploadRequest(t, "/packages/inspect", buildTestPackage(t))
	w := httptest.NewRecorder()

	h.Inspect(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var manifest models.ForgeHookManifest
	if err := json.Unmarshal(w.Body.Bytes(), &manifest); err != nil {
		t.Fatalf("failed decoding manifest: %v", err)
	}
	if manifest.ID != "sample" {
		t.Errorf("got manifest id %q, want sample", manifest.ID)
	}
}

func TestPackagesHandler_Inspect_RejectsCorruptUpload(t *testing.T) {
	h := NewPackagesHandler(nil, nil, nil, 1<<20)
	req := multipartUploadRequest(t, "/packages/inspect", []byte("not a package"))
	w := httptest.NewRecorder()

	h.Inspect(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 INVALID_PACKAGE, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPackagesHandler_Inspect_RejectsMissingFile(t *testing.T) {
	h := NewPackagesHandler(nil, nil, nil, 1<<20)
	req := httptest.NewRequest(http.MethodPost, "/packages/inspect", bytes.NewReader(nil))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	w := httptest.NewRecorder()

	h.Inspect(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 NO_FILE, got %d: %s", w.Code, w.Body.String())
	}
}
