// Package runtime defines the common interface every plugin execution
// driver (container, embedded, gateway) implements, so the Lifecycle
// Manager and Invocation Router can dispatch without knowing which
// concrete runtime backs a given instance.
package runtime

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/forgehook/forgehook/internal/models"
)

// ErrNotSupported is returned by a driver method a given runtime has no
// concept of (e.g. Logs on an embedded-runtime instance).
var ErrNotSupported = errors.New("operation not supported by this runtime")

// ErrTimeout is returned (or wrapped) by a driver when an outbound call
// exceeded its bounded context deadline.
var ErrTimeout = errors.New("driver call timed out")

// InvokeResult is a driver's normalized response to one /invoke call,
// before the Invocation Router wraps it in the public envelope.
type InvokeResult struct {
	StatusCode int
	Result     interface{} // set when the upstream body decoded as JSON
	Text       string      // set when the upstream body was text/*
	RawBase64  string      // set when the upstream body was anything else
	Latency    float64     // seconds
}

// Driver executes plugin instances of one Runtime kind.
type Driver interface {
	Runtime() models.Runtime

	// Start brings inst up: for container it creates+starts a container
	// and allocates a port; for gateway it resolves baseUrl templates (health
	// probing runs in a separate loop); for embedded it is a no-op beyond
	// validating the registry binding exists. Mutates inst's
	// runtime-specific fields.
	Start(ctx context.Context, inst *models.PluginInstance) error

	// Stop brings inst down. The container driver keeps the container and
	// its host port until Remove.
	Stop(ctx context.Context, inst *models.PluginInstance) error

	// Remove performs final teardown on uninstall (e.g. container removal,
	// port release). Called after Stop.
	Remove(ctx context.Context, inst *models.PluginInstance) error

	// HealthCheck probes inst and returns a non-nil error if unhealthy.
	HealthCheck(ctx context.Context, inst *models.PluginInstance) error

	// Invoke calls one named function with a JSON payload.
	Invoke(ctx context.Context, inst *models.PluginInstance, function string, payload []byte) (*InvokeResult, error)

	// Proxy mirrors an arbitrary HTTP request to the instance's surface.
	// Embedded-runtime drivers return ErrNotSupported.
	Proxy(ctx context.Context, inst *models.PluginInstance, method, path string, header http.Header, body io.Reader) (*http.Response, error)

	// Logs streams the instance's recent log output. Only the container
	// driver supports this; others return ErrNotSupported.
	Logs(ctx context.Context, inst *models.PluginInstance, tailLines int) (io.ReadCloser, error)
}
