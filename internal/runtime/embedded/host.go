// Package embedded executes plugins implemented as in-process Go
// functions bound at build time, keyed by their manifest symbol.
package embedded

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/forgehook/forgehook/internal/models"
	"github.com/forgehook/forgehook/internal/runtime"
)

// Host implements runtime.Driver for models.RuntimeEmbedded.
type Host struct{}

// NewHost creates an embedded-runtime driver.
func NewHost() *Host { return &Host{} }

func (h *Host) Runtime() models.Runtime { return models.RuntimeEmbedded }

// Start validates that the manifest's symbol resolves to a registered
// function; embedded plugins have no process to bring up.
func (h *Host) Start(ctx context.Context, inst *models.PluginInstance) error {
	if _, ok := Lookup(inst.Manifest.Entrypoint.Symbol); !ok {
		return fmt.Errorf("no embedded function registered for symbol %q", inst.Manifest.Entrypoint.Symbol)
	}
	return nil
}

func (h *Host) Stop(ctx context.Context, inst *models.PluginInstance) error { return nil }

func (h *Host) Remove(ctx context.Context, inst *models.PluginInstance) error { return nil }

func (h *Host) HealthCheck(ctx context.Context, inst *models.PluginInstance) error {
	if _, ok := Lookup(inst.Manifest.Entrypoint.Symbol); !ok {
		return fmt.Errorf("embedded symbol %q no longer registered", inst.Manifest.Entrypoint.Symbol)
	}
	return nil
}

// Invoke looks up the registered function for the instance's symbol and
// calls it directly, in-process.
func (h *Host) Invoke(ctx context.Context, inst *models.PluginInstance, function string, payload []byte) (*runtime.InvokeResult, error) {
	fn, ok := Lookup(inst.Manifest.Entrypoint.Symbol)
	if !ok {
		return nil, fmt.Errorf("no embedded function registered for symbol %q", inst.Manifest.Entrypoint.Symbol)
	}

	start := time.Now()
	result, err := fn(ctx, json.RawMessage(payload))
	latency := time.Since(start).Seconds()
	if err != nil {
		return nil, err
	}

	return &runtime.InvokeResult{
		StatusCode: http.StatusOK,
		Result:     result,
		Latency:    latency,
	}, nil
}

// Proxy is never supported for embedded-runtime plugins: they have no
// HTTP surface of their own.
func (h *Host) Proxy(ctx context.Context, inst *models.PluginInstance, method, path string, header http.Header, body io.Reader) (*http.Response, error) {
	return nil, runtime.ErrNotSupported
}

// Logs is never supported for embedded-runtime plugins.
func (h *Host) Logs(ctx context.Context, inst *models.PluginInstance, tailLines int) (io.ReadCloser, error) {
	return nil, runtime.ErrNotSupported
}
