package invoke

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/forgehook/forgehook/internal/models"
	"github.com/forgehook/forgehook/internal/runtime"
)

type fakePluginRepo struct {
	plugins map[string]*models.PluginInstance
}

func (r *fakePluginRepo) CreatePlugin(ctx context.Context, p *models.PluginInstance) error { return nil }
func (r *fakePluginRepo) GetPlugin(ctx context.Context, id string) (*models.PluginInstance, error) {
	return r.plugins[id], nil
}
func (r *fakePluginRepo) ListPlugins(ctx context.Context) ([]*models.PluginInstance, error) {
	return nil, nil
}
func (r *fakePluginRepo) UpdatePlugin(ctx context.Context, p *models.PluginInstance) error { return nil }
func (r *fakePluginRepo) DeletePlugin(ctx context.Context, id string) error                { return nil }

type fakeDriver struct {
	rt     models.Runtime
	result *runtime.InvokeResult
	err    error
}

func (d *fakeDriver) Runtime() models.Runtime                                      { return d.rt }
func (d *fakeDriver) Start(ctx context.Context, inst *models.PluginInstance) error  { return nil }
func (d *fakeDriver) Stop(ctx context.Context, inst *models.PluginInstance) error   { return nil }
func (d *fakeDriver) Remove(ctx context.Context, inst *models.PluginInstance) error { return nil }
func (d *fakeDriver) HealthCheck(ctx context.Context, inst *models.PluginInstance) error {
	return nil
}
func (d *fakeDriver) Invoke(ctx context.Context, inst *models.PluginInstance, function string, payload []byte) (*runtime.InvokeResult, error) {
	return d.result, d.err
}
func (d *fakeDriver) Proxy(ctx context.Context, inst *models.PluginInstance, method, path string, header http.Header, body io.Reader) (*http.Response, error) {
	return nil, runtime.ErrNotSupported
}
func (d *fakeDriver) Logs(ctx context.Context, inst *models.PluginInstance, tailLines int) (io.ReadCloser, error) {
	return nil, runtime.ErrNotSupported
}

func runningInstance(id string) *models.PluginInstance {
	return &models.PluginInstance{
		ID:      id,
		Status:  models.StatusRunning,
		Runtime: models.RuntimeEmbedded,
		Manifest: models.ForgeHookManifest{
			ID:        id,
			Runtime:   models.RuntimeEmbedded,
			Functions: []models.ManifestFunction{{Name: "ping"}},
		},
	}
}

func TestInvoke_Success(t *testing.T) {
	repo := &fakePluginRepo{plugins: map[string]*models.PluginInstance{"p1": runningInstance("p1")}}
	driver := &fakeDriver{rt: models.RuntimeEmbedded, result: &runtime.InvokeResult{StatusCode: 200, Result: map[string]interface{}{"pong": true}}}
	rt := NewRouter(repo, map[models.Runtime]runtime.Driver{models.RuntimeEmbedded: driver})

	req := httptest.NewRequest(http.MethodPost, "/plugins/p1/invoke/ping", strings.NewReader(`{}`))
	req = mux.SetURLVars(req, map[string]string{"id": "p1", "function": "ping"})
	w := httptest.NewRecorder()

	rt.Invoke(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"success":true`) {
		t.Fatalf("expected success:true in body, got %s", w.Body.String())
	}
}

func TestInvoke_PluginNotFound(t *testing.T) {
	repo := &fakePluginRepo{plugins: map[string]*models.PluginInstance{}}
	rt := NewRouter(repo, map[models.Runtime]runtime.Driver{})

	req := httptest.NewRequest(http.MethodPost, "/plugins/missing/invoke/ping", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "missing", "function": "ping"})
	w := httptest.NewRecorder()

	rt.Invoke(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestInvoke_FunctionNotFound(t *testing.T) {
	repo := &fakePluginRepo{plugins: map[string]*models.PluginInstance{"p1": runningInstance("p1")}}
	driver := &fakeDriver{rt: models.RuntimeEmbedded}
	rt := NewRouter(repo, map[models.Runtime]runtime.Driver{models.RuntimeEmbedded: driver})

	req := httptest.NewRequest(http.MethodPost, "/plugins/p1/invoke/missing-fn", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "p1", "function": "missing-fn"})
	w := httptest.NewRecorder()

	rt.Invoke(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestInvoke_PluginNotRunning(t *testing.T) {
	inst := runningInstance("p1")
	inst.Status = models.StatusStopped
	repo := &fakePluginRepo{plugins: map[string]*models.PluginInstance{"p1": inst}}
	rt := NewRouter(repo, map[models.Runtime]runtime.Driver{})

	req := httptest.NewRequest(http.MethodPost, "/plugins/p1/invoke/ping", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "p1", "function": "ping"})
	w := httptest.NewRecorder()

	rt.Invoke(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestInvoke_DriverError(t *testing.T) {
	repo := &fakePluginRepo{plugins: map[string]*models.PluginInstance{"p1": runningInstance("p1")}}
	driver := &fakeDriver{rt: models.RuntimeEmbedded, err: errors.New("function panicked")}
	rt := NewRouter(repo, map[models.Runtime]runtime.Driver{models.RuntimeEmbedded: driver})

	req := httptest.NewRequest(http.MethodPost, "/plugins/p1/invoke/ping", strings.NewReader(`{}`))
	req = mux.SetURLVars(req, map[string]string{"id": "p1", "function": "ping"})
	w := httptest.NewRecorder()

	rt.Invoke(w, req)

	if !strings.Contains(w.Body.String(), `"success":false`) {
		t.Fatalf("expected success:false in body, got %s", w.Body.String())
	}
}

func TestProxy_NotSupportedForEmbedded(t *testing.T) {
	repo := &fakePluginRepo{plugins: map[string]*models.PluginInstance{"p1": runningInstance("p1")}}
	driver := &fakeDriver{rt: models.RuntimeEmbedded}
	rt := NewRouter(repo, map[models.Runtime]runtime.Driver{models.RuntimeEmbedded: driver})

	req := httptest.NewRequest(http.MethodGet, "/plugins/p1/proxy/status", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "p1", "rest": "status"})
	w := httptest.NewRecorder()

	rt.Proxy(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for INVALID_OPERATION, got %d: %s", w.Code, w.Body.String())
	}
}
