package registry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/forgehook/forgehook/internal/models"
)

type fakeSourceLister struct {
	sources []*models.RegistrySource
}

func (f *fakeSourceLister) ListSources(ctx context.Context) ([]*models.RegistrySource, error) {
	return f.sources, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAggregator_RefreshAll_SingleManifestSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"echo","name":"Echo","version":"1.0.0","runtime":"embedded","entrypoint":{"symbol":"forgehook-builtins/echo"},"functions":[{"name":"echo"}]}`))
	}))
	defer srv.Close()

	lister := &fakeSourceLister{sources: []*models.RegistrySource{
		{ID: "src-1", Kind: models.SourceKindHTTP, Location: srv.URL, Enabled: true, Priority: 1},
	}}

	agg := NewAggregator(lister, time.Hour, testLogger())
	agg.RefreshAll(context.Background())

	idx, ok := agg.Index("src-1")
	if !ok {
		t.Fatal("expected an index for src-1")
	}
	if idx.Error != "" {
		t.Fatalf("unexpected refresh error: %s", idx.Error)
	}
	if len(idx.Entries) != 1 || idx.Entries[0].PluginID != "echo" {
		t.Fatalf("unexpected entries: %+v", idx.Entries)
	}
}

func TestAggregator_Catalog_PriorityDedup(t *testing.T) {
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"plugins":[{"pluginId":"dup","name":"A version","version":"1.0.0","runtime":"embedded"}]}`))
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"plugins":[{"pluginId":"dup","name":"B version","version":"2.0.0","runtime":"embedded"}]}`))
	}))
	defer srvB.Close()

	lister := &fakeSourceLister{sources: []*models.RegistrySource{
		{ID: "a", Kind: models.SourceKindHTTP, Location: srvA.URL, Enabled: true, Priority: 5},
		{ID: "b", Kind: models.SourceKindHTTP, Location: srvB.URL, Enabled: true, Priority: 1},
	}}

	agg := NewAggregator(lister, time.Hour, testLogger())
	agg.RefreshAll(context.Background())

	catalog := agg.Catalog(map[string]int{"a": 5, "b": 1})
	if len(catalog) != 1 {
		t.Fatalf("expected one deduped entry, got %d", len(catalog))
	}
	if catalog[0].Name != "B version" {
		t.Fatalf("expected lower-priority source (b) to win the tie, got %q", catalog[0].Name)
	}
}

func TestAggregator_RefreshOne_SourceNotFound(t *testing.T) {
	lister := &fakeSourceLister{}
	agg := NewAggregator(lister, time.Hour, testLogger())
	if err := agg.Refresh(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown source id")
	}
}

func TestAggregator_DisabledSourceSkipped(t *testing.T) {
	lister := &fakeSourceLister{sources: []*models.RegistrySource{
		{ID: "off", Kind: models.SourceKindHTTP, Location: "http://127.0.0.1:0", Enabled: false},
	}}
	agg := NewAggregator(lister, time.Hour, testLogger())
	agg.RefreshAll(context.Background())

	if _, ok := agg.Index("off"); ok {
		t.Fatal("disabled source should not be refreshed")
	}
}
