// Package registry fans out catalog refreshes across every enabled
// RegistrySource, merges their entries by priority, and serves the
// merged marketplace catalog to the REST layer.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"github.com/forgehook/forgehook/internal/models"
	"github.com/forgehook/forgehook/internal/pkg/metrics"
)

const (
	maxResponseBytes = 8 * 1024 * 1024
	fetchRetryMax    = 3
)

// SourceLister supplies the set of enabled sources to refresh.
type SourceLister interface {
	ListSources(ctx context.Context) ([]*models.RegistrySource, error)
}

// Aggregator runs the marketplace registry refresh loop and holds the
// last-known-good RegistryIndex per source.
type Aggregator struct {
	sources SourceLister
	client  *http.Client
	interval time.Duration
	log     *slog.Logger

	mu      sync.RWMutex
	indexes map[string]models.RegistryIndex

	tickNow chan struct{}
}

// NewAggregator builds an aggregator that refreshes every interval.
func NewAggregator(sources SourceLister, interval time.Duration, log *slog.Logger) *Aggregator {
	rc := retryablehttp.NewClient()
	rc.RetryMax = fetchRetryMax
	rc.Logger = nil

	return &Aggregator{
		sources:  sources,
		client:   rc.StandardClient(),
		interval: interval,
		log:      log,
		indexes:  make(map[string]models.RegistryIndex),
		tickNow:  make(chan struct{}),
	}
}

// Run loops until ctx is cancelled, refreshing all enabled sources on
// every tick.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.RefreshAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.RefreshAll(ctx)
		case <-a.tickNow:
			a.RefreshAll(ctx)
		}
	}
}

// TickNow forces an immediate refresh round; used only by tests.
func (a *Aggregator) TickNow() { a.tickNow <- struct{}{} }

// RefreshAll fetches every enabled source concurrently. One source's
// failure never blocks or cancels another's fetch — errgroup is used
// purely for fan-out/fan-in, with no shared-cancellation Group.
func (a *Aggregator) RefreshAll(ctx context.Context) {
	sources, err := a.sources.ListSources(ctx)
	if err != nil {
		a.log.Error("registry: listing sources failed", "error", err)
		return
	}

	var g errgroup.Group
	for _, s := range sources {
		if !s.Enabled {
			continue
		}
		s := s
		g.Go(func() error {
			a.refreshOne(ctx, s)
			return nil
		})
	}
	_ = g.Wait()
}

// Refresh bypasses the timer to refresh a single source on demand.
func (a *Aggregator) Refresh(ctx context.Context, sourceID string) error {
	sources, err := a.sources.ListSources(ctx)
	if err != nil {
		return err
	}
	for _, s := range sources {
		if s.ID == sourceID {
			a.refreshOne(ctx, s)
			return nil
		}
	}
	return fmt.Errorf("registry source %q not found", sourceID)
}

func (a *Aggregator) refreshOne(ctx context.Context, source *models.RegistrySource) {
	start := time.Now()
	entries, err := a.fetch(ctx, source)
	metrics.RegistryRefreshDurationSeconds.WithLabelValues(source.ID).Observe(time.Since(start).Seconds())

	idx := models.RegistryIndex{SourceID: source.ID, RefreshedAt: time.Now().UTC()}
	if err != nil {
		idx.Error = err.Error()
		metrics.RegistryRefreshTotal.WithLabelValues(source.ID, "failure").Inc()
		a.log.Warn("registry: source refresh failed", "sourceId", source.ID, "error", err)
	} else {
		idx.Entries = entries
		metrics.RegistryRefreshTotal.WithLabelValues(source.ID, "success").Inc()
	}

	a.mu.Lock()
	a.indexes[source.ID] = idx
	a.mu.Unlock()
}

func (a *Aggregator) fetch(ctx context.Context, source *models.RegistrySource) ([]models.RegistryPluginEntry, error) {
	return fetchWith(ctx, a.client, source)
}

// FetchOnce performs a single, uncached fetch of source using a
// default retrying client — used by the github-install convenience
// endpoint, which installs directly without first registering a
// RegistrySource. A github location resolves to the single-plugin
// default (forgehook.json) rather than registry.json.
func FetchOnce(ctx context.Context, source *models.RegistrySource) ([]models.RegistryPluginEntry, error) {
	if source.Kind == models.SourceKindGitHub {
		resolved, err := resolveGitHubURL(source.Location, false)
		if err != nil {
			return nil, err
		}
		single := *source
		single.Kind = models.SourceKindHTTP
		single.Location = resolved
		source = &single
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = fetchRetryMax
	rc.Logger = nil
	return fetchWith(ctx, rc.StandardClient(), source)
}

func fetchWith(ctx context.Context, client *http.Client, source *models.RegistrySource) ([]models.RegistryPluginEntry, error) {
	url := source.Location
	multiPlugin := true

	if source.Kind == models.SourceKindGitHub {
		resolved, err := resolveGitHubURL(source.Location, multiPlugin)
		if err != nil {
			return nil, err
		}
		url = resolved
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}
	if int64(len(body)) > maxResponseBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte cap", url, maxResponseBytes)
	}

	return parseCatalog(source.ID, body)
}

// parseCatalog accepts either a single manifest document (a single-plugin
// source) or a {"plugins": [...]} multi-plugin registry document.
func parseCatalog(sourceID string, body []byte) ([]models.RegistryPluginEntry, error) {
	var multi struct {
		Plugins []models.RegistryPluginEntry `json:"plugins"`
	}
	if err := json.Unmarshal(body, &multi); err == nil && len(multi.Plugins) > 0 {
		for i := range multi.Plugins {
			multi.Plugins[i].SourceID = sourceID
		}
		return multi.Plugins, nil
	}

	var manifest models.ForgeHookManifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("decoding catalog body: %w", err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest in catalog: %w", err)
	}
	return []models.RegistryPluginEntry{{
		SourceID:    sourceID,
		PluginID:    manifest.ID,
		Name:        manifest.Name,
		Version:     manifest.Version,
		Description: manifest.Description,
		Runtime:     manifest.Runtime,
		Manifest:    manifest,
	}}, nil
}

// Catalog returns the merged, priority-ordered, id-deduplicated view
// across every source's last successful refresh. When several sources list
// the same plugin id, the entry from the source with the lowest
// RegistrySource.priority value (passed via priorities) wins; between
// sources of equal priority the winner is not defined.
func (a *Aggregator) Catalog(priorities map[string]int) []models.RegistryPluginEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	type ranked struct {
		entry    models.RegistryPluginEntry
		priority int
	}
	best := make(map[string]ranked)

	for sourceID, idx := range a.indexes {
		prio, ok := priorities[sourceID]
		if !ok {
			prio = int(^uint(0) >> 1) // unknown sources sort last
		}
		for _, e := range idx.Entries {
			existing, seen := best[e.PluginID]
			if !seen || prio < existing.priority {
				best[e.PluginID] = ranked{entry: e, priority: prio}
			}
		}
	}

	out := make([]models.RegistryPluginEntry, 0, len(best))
	for _, r := range best {
		out = append(out, r.entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PluginID < out[j].PluginID })
	return out
}

// Index returns the last refresh result for one source, if any.
func (a *Aggregator) Index(sourceID string) (models.RegistryIndex, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	idx, ok := a.indexes[sourceID]
	return idx, ok
}
