package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/forgehook/forgehook/internal/models"
	"github.com/forgehook/forgehook/internal/runtime"
)

// fakeRepo is a minimal in-memory repository.Repository sufficient for
// exercising the Manager without a database.
type fakeRepo struct {
	mu      sync.Mutex
	plugins map[string]*models.PluginInstance
	history []*models.UpdateHistoryEntry
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{plugins: make(map[string]*models.PluginInstance)}
}

func (r *fakeRepo) CreatePlugin(ctx context.Context, p *models.PluginInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.plugins[p.ID] = &cp
	return nil
}
func (r *fakeRepo) GetPlugin(ctx context.Context, id string) (*models.PluginInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plugins[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}
func (r *fakeRepo) ListPlugins(ctx context.Context) ([]*models.PluginInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.PluginInstance, 0, len(r.plugins))
	for _, p := range r.plugins {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}
func (r *fakeRepo) UpdatePlugin(ctx context.Context, p *models.PluginInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.plugins[p.ID] = &cp
	return nil
}
func (r *fakeRepo) DeletePlugin(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plugins, id)
	return nil
}

func (r *fakeRepo) CreateSource(ctx context.Context, s *models.RegistrySource) error { return nil }
func (r *fakeRepo) GetSource(ctx context.Context, id string) (*models.RegistrySource, error) {
	return nil, nil
}
func (r *fakeRepo) ListSources(ctx context.Context) ([]*models.RegistrySource, error) {
	return nil, nil
}
func (r *fakeRepo) DeleteSource(ctx context.Context, id string) error { return nil }

func (r *fakeRepo) CreateHistoryEntry(ctx context.Context, e *models.UpdateHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, e)
	return nil
}
func (r *fakeRepo) ListHistoryForPlugin(ctx context.Context, pluginID string, limit int) ([]*models.UpdateHistoryEntry, error) {
	return nil, nil
}

func (r *fakeRepo) SeedBuiltinIntegrations(ctx context.Context) error { return nil }
func (r *fakeRepo) CreateIntegration(ctx context.Context, i *models.Integration) error { return nil }
func (r *fakeRepo) GetIntegration(ctx context.Context, id string) (*models.Integration, error) {
	return nil, nil
}
func (r *fakeRepo) ListIntegrations(ctx context.Context) ([]*models.Integration, error) {
	return nil, nil
}
func (r *fakeRepo) UpdateIntegration(ctx context.Context, i *models.Integration) error { return nil }
func (r *fakeRepo) DeleteIntegration(ctx context.Context, id string) error             { return nil }

func (r *fakeRepo) CreateAPIKey(ctx context.Context, k *models.ApiKey) error { return nil }
func (r *fakeRepo) ListAPIKeys(ctx context.Context) ([]*models.ApiKey, error) {
	return nil, nil
}
func (r *fakeRepo) RevokeAPIKey(ctx context.Context, id string) error { return nil }
func (r *fakeRepo) FindAPIKeyByPlaintext(ctx context.Context, plaintext string) (*models.ApiKey, error) {
	return nil, nil
}
func (r *fakeRepo) TouchAPIKeyLastUsed(ctx context.Context, id string, t time.Time) error {
	return nil
}

func (r *fakeRepo) Ping(ctx context.Context) error { return nil }
func (r *fakeRepo) Close() error                   { return nil }

// fakeDriver is a scriptable runtime.Driver stand-in.
type fakeDriver struct {
	rt        models.Runtime
	startErr  error
	stopErr   error
	removeErr error
}

func (d *fakeDriver) Runtime() models.Runtime                                      { return d.rt }
func (d *fakeDriver) Start(ctx context.Context, inst *models.PluginInstance) error { return d.startErr }
func (d *fakeDriver) Stop(ctx context.Context, inst *models.PluginInstance) error  { return d.stopErr }
func (d *fakeDriver) Remove(ctx context.Context, inst *models.PluginInstance) error {
	return d.removeErr
}
func (d *fakeDriver) HealthCheck(ctx context.Context, inst *models.PluginInstance) error { return nil }
func (d *fakeDriver) Invoke(ctx context.Context, inst *models.PluginInstance, function string, payload []byte) (*runtime.InvokeResult, error) {
	return &runtime.InvokeResult{StatusCode: 200}, nil
}
func (d *fakeDriver) Proxy(ctx context.Context, inst *models.PluginInstance, method, path string, header http.Header, body io.Reader) (*http.Response, error) {
	return nil, runtime.ErrNotSupported
}
func (d *fakeDriver) Logs(ctx context.Context, inst *models.PluginInstance, tailLines int) (io.ReadCloser, error) {
	return nil, runtime.ErrNotSupported
}

type fakeEvents struct {
	mu     sync.Mutex
	events []models.EventKind
}

func (e *fakeEvents) BroadcastPluginEvent(kind models.EventKind, pluginID string, payload map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, kind)
	return nil
}

func testManifest(id string) models.ForgeHookManifest {
	return models.ForgeHookManifest{
		ID:      id,
		Name:    "Test Plugin",
		Version: "1.0.0",
		Runtime: models.RuntimeEmbedded,
		Entrypoint: models.Entrypoint{
			Symbol: "forgehook-builtins/ping",
		},
		Functions: []models.ManifestFunction{{Name: "ping"}},
	}
}

func TestManager_InstallAndStart(t *testing.T) {
	repo := newFakeRepo()
	driver := &fakeDriver{rt: models.RuntimeEmbedded}
	events := &fakeEvents{}
	mgr := NewManager(repo, map[models.Runtime]runtime.Driver{models.RuntimeEmbedded: driver}, events)

	ctx := context.Background()
	inst, err := mgr.Install(ctx, "req-1", testManifest("sample"))
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if inst.Status != models.StatusStopped {
		t.Fatalf("expected status stopped after install, got %s", inst.Status)
	}

	inst, err = mgr.Start(ctx, "req-1", "sample")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if inst.Status != models.StatusRunning {
		t.Fatalf("expected status running, got %s", inst.Status)
	}
}

func TestManager_InstallDuplicate(t *testing.T) {
	repo := newFakeRepo()
	driver := &fakeDriver{rt: models.RuntimeEmbedded}
	mgr := NewManager(repo, map[models.Runtime]runtime.Driver{models.RuntimeEmbedded: driver}, &fakeEvents{})

	ctx := context.Background()
	if _, err := mgr.Install(ctx, "req-1", testManifest("dup")); err != nil {
		t.Fatalf("first Install: %v", err)
	}
	if _, err := mgr.Install(ctx, "req-1", testManifest("dup")); !errors.Is(err, ErrPluginExists) {
		t.Fatalf("expected ErrPluginExists, got %v", err)
	}
}

func TestManager_StartFailure_MarksFailed(t *testing.T) {
	repo := newFakeRepo()
	driver := &fakeDriver{rt: models.RuntimeEmbedded, startErr: errors.New("boom")}
	mgr := NewManager(repo, map[models.Runtime]runtime.Driver{models.RuntimeEmbedded: driver}, &fakeEvents{})

	ctx := context.Background()
	if _, err := mgr.Install(ctx, "req-1", testManifest("broken")); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := mgr.Start(ctx, "req-1", "broken"); !errors.Is(err, ErrStartFailed) {
		t.Fatalf("expected ErrStartFailed, got %v", err)
	}

	inst, _ := repo.GetPlugin(ctx, "broken")
	if inst.Status != models.StatusFailed {
		t.Fatalf("expected status failed, got %s", inst.Status)
	}
}

func TestManager_StopWrongState(t *testing.T) {
	repo := newFakeRepo()
	driver := &fakeDriver{rt: models.RuntimeEmbedded}
	mgr := NewManager(repo, map[models.Runtime]runtime.Driver{models.RuntimeEmbedded: driver}, &fakeEvents{})

	ctx := context.Background()
	if _, err := mgr.Install(ctx, "req-1", testManifest("stopped-already")); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := mgr.Stop(ctx, "req-1", "stopped-already"); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestManager_Uninstall(t *testing.T) {
	repo := newFakeRepo()
	driver := &fakeDriver{rt: models.RuntimeEmbedded}
	mgr := NewManager(repo, map[models.Runtime]runtime.Driver{models.RuntimeEmbedded: driver}, &fakeEvents{})

	ctx := context.Background()
	if _, err := mgr.Install(ctx, "req-1", testManifest("gone")); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := mgr.Uninstall(ctx, "req-1", "gone"); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	inst, _ := repo.GetPlugin(ctx, "gone")
	if inst != nil {
		t.Fatalf("expected plugin record removed, got %+v", inst)
	}
}

func TestManager_Install_Autostart(t *testing.T) {
	repo := newFakeRepo()
	driver := &fakeDriver{rt: models.RuntimeEmbedded}
	mgr := NewManager(repo, map[models.Runtime]runtime.Driver{models.RuntimeEmbedded: driver}, &fakeEvents{})

	ctx := context.Background()
	manifest := testManifest("auto")
	manifest.Autostart = true

	inst, err := mgr.Install(ctx, "req-1", manifest)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if inst.Status != models.StatusRunning {
		t.Fatalf("expected status running after autostart install, got %s", inst.Status)
	}
}

func TestManager_Install_AutostartFailureStillInstalls(t *testing.T) {
	repo := newFakeRepo()
	driver := &fakeDriver{rt: models.RuntimeEmbedded, startErr: errors.New("boom")}
	mgr := NewManager(repo, map[models.Runtime]runtime.Driver{models.RuntimeEmbedded: driver}, &fakeEvents{})

	ctx := context.Background()
	manifest := testManifest("auto-broken")
	manifest.Autostart = true

	inst, err := mgr.Install(ctx, "req-1", manifest)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if inst.Status != models.StatusFailed {
		t.Fatalf("expected status failed after a failed autostart, got %s", inst.Status)
	}
}

func TestManager_Rollback(t *testing.T) {
	repo := newFakeRepo()
	driver := &fakeDriver{rt: models.RuntimeEmbedded}
	mgr := NewManager(repo, map[models.Runtime]runtime.Driver{models.RuntimeEmbedded: driver}, &fakeEvents{})

	ctx := context.Background()
	v1 := testManifest("versioned")
	if _, err := mgr.Install(ctx, "req-1", v1); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := mgr.Start(ctx, "req-1", "versioned"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	inst, _ := repo.GetPlugin(ctx, "versioned")
	if inst.PreviousVersion != nil {
		t.Fatalf("expected no previousVersion before any update, got %v", *inst.PreviousVersion)
	}
	if _, err := mgr.Rollback(ctx, "req-1", "versioned"); !errors.Is(err, ErrNothingToRollback) {
		t.Fatalf("expected ErrNothingToRollback before any update, got %v", err)
	}

	v2 := v1
	v2.Version = "2.0.0"
	updated, err := mgr.Update(ctx, "req-1", "versioned", v2)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.PreviousVersion == nil || *updated.PreviousVersion != "1.0.0" {
		t.Fatalf("expected previousVersion 1.0.0 after update, got %v", updated.PreviousVersion)
	}
	if updated.Manifest.Version != "2.0.0" {
		t.Fatalf("expected current version 2.0.0 after update, got %s", updated.Manifest.Version)
	}

	rolledBack, err := mgr.Rollback(ctx, "req-1", "versioned")
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if rolledBack.Manifest.Version != "1.0.0" {
		t.Fatalf("expected current version 1.0.0 after rollback, got %s", rolledBack.Manifest.Version)
	}
	if rolledBack.PreviousVersion != nil {
		t.Fatalf("expected previousVersion nil after rollback (canRollback=false), got %v", *rolledBack.PreviousVersion)
	}
	if rolledBack.Status != models.StatusRunning {
		t.Fatalf("expected status running after rollback of a running plugin, got %s", rolledBack.Status)
	}

	if _, err := mgr.Rollback(ctx, "req-1", "versioned"); !errors.Is(err, ErrNothingToRollback) {
		t.Fatalf("expected a second rollback without an intervening update to fail with ErrNothingToRollback, got %v", err)
	}

	entries := repo.history
	if len(entries) < 3 {
		t.Fatalf("expected install+update+rollback history entries, got %d", len(entries))
	}
}

func TestManager_MarkUnhealthy(t *testing.T) {
	repo := newFakeRepo()
	driver := &fakeDriver{rt: models.RuntimeEmbedded}
	mgr := NewManager(repo, map[models.Runtime]runtime.Driver{models.RuntimeEmbedded: driver}, &fakeEvents{})

	ctx := context.Background()
	mgr.Install(ctx, "req-1", testManifest("flaky"))
	mgr.Start(ctx, "req-1", "flaky")

	mgr.MarkUnhealthy(ctx, "flaky", errors.New("health probe failed"))

	inst, _ := repo.GetPlugin(ctx, "flaky")
	if inst.Status != models.StatusFailed {
		t.Fatalf("expected status failed after MarkUnhealthy, got %s", inst.Status)
	}
}
