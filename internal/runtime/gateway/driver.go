// Package gateway proxies invocations to plugins that are themselves
// remote HTTP services, reachable at a templated base URL.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/forgehook/forgehook/internal/models"
	"github.com/forgehook/forgehook/internal/runtime"
)

func encodeBase64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// DefaultTimeout is the longest a proxied call may run; a manifest's
// gateway.timeoutMs or the caller's own deadline can only shorten it.
const DefaultTimeout = 30 * time.Second

// knownDiscoveryPorts supplies a default port for a handful of well-known
// local service discovery tags when entrypoint.baseUrl's host has none.
var knownDiscoveryPorts = map[string]string{
	"ollama":     "11434",
	"postgres":   "5432",
	"redis":      "6379",
	"elasticsearch": "9200",
}

// boundedContext derives a context bounded by the shortest of
// DefaultTimeout and manifest's gateway.timeoutMs, and never loosens a
// deadline the caller's ctx already carries.
func boundedContext(ctx context.Context, manifest models.ForgeHookManifest) (context.Context, context.CancelFunc) {
	timeout := DefaultTimeout
	if manifest.Gateway != nil && manifest.Gateway.TimeoutMs > 0 {
		if declared := time.Duration(manifest.Gateway.TimeoutMs) * time.Millisecond; declared < timeout {
			timeout = declared
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			return context.WithCancel(ctx)
		}
	}
	return context.WithTimeout(ctx, timeout)
}

// wrapTimeout normalizes a deadline-exceeded error (from either ctx or the
// underlying net/http round trip) to runtime.ErrTimeout, so callers can
// classify it with errors.Is regardless of the underlying error shape.
func wrapTimeout(err error) error {
	if err == nil {
		return nil
	}
	if isDeadlineExceeded(err) {
		return fmt.Errorf("%w: %v", runtime.ErrTimeout, err)
	}
	return err
}

func isDeadlineExceeded(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// hopByHopHeaders are stripped before mirroring a request/response,
// per RFC 7230 §6.1.
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// Driver implements runtime.Driver for models.RuntimeGateway.
type Driver struct {
	client *http.Client
}

// NewDriver creates a gateway driver whose single retrying HTTP client
// (up to 3 retries) serves health probes, invocations and proxied
// requests alike.
func NewDriver() *Driver {
	retry := retryablehttp.NewClient()
	retry.RetryMax = 3
	retry.Logger = nil
	return &Driver{client: retry.StandardClient()}
}

func (d *Driver) Runtime() models.Runtime { return models.RuntimeGateway }

// Start resolves entrypoint.baseUrl's ${VAR}/${VAR:-default} templates
// against the environment and stores the resolved form; it is never
// re-templated afterward.
func (d *Driver) Start(ctx context.Context, inst *models.PluginInstance) error {
	resolved := ResolveTemplate(inst.Manifest.Entrypoint.BaseURL, inst.Manifest.EnvDefaults())
	if resolved == "" {
		return fmt.Errorf("gateway entrypoint.baseUrl resolved to empty string")
	}
	resolved = applyDiscoveryPort(resolved, inst.Manifest)
	inst.BaseURL = &resolved
	return nil
}

// applyDiscoveryPort injects a known default port for manifest's
// gateway.discoveryTag into resolved when its host carries none.
func applyDiscoveryPort(resolved string, manifest models.ForgeHookManifest) string {
	if manifest.Gateway == nil || manifest.Gateway.DiscoveryTag == "" {
		return resolved
	}
	port, ok := knownDiscoveryPorts[manifest.Gateway.DiscoveryTag]
	if !ok {
		return resolved
	}
	u, err := url.Parse(resolved)
	if err != nil || u.Port() != "" || u.Hostname() == "" {
		return resolved
	}
	u.Host = u.Hostname() + ":" + port
	return u.String()
}

func (d *Driver) Stop(ctx context.Context, inst *models.PluginInstance) error { return nil }

func (d *Driver) Remove(ctx context.Context, inst *models.PluginInstance) error { return nil }

// HealthCheck issues GET {baseUrl}+healthCheck (default "/health") and
// treats any 2xx as healthy, bounded by the manifest's gateway.timeoutMs.
func (d *Driver) HealthCheck(ctx context.Context, inst *models.PluginInstance) error {
	if inst.BaseURL == nil {
		return fmt.Errorf("gateway instance has no resolved baseUrl")
	}
	path := "/health"
	if inst.Manifest.Gateway != nil && inst.Manifest.Gateway.HealthCheck != "" {
		path = inst.Manifest.Gateway.HealthCheck
	}

	bctx, cancel := boundedContext(ctx, inst.Manifest)
	defer cancel()

	req, err := http.NewRequestWithContext(bctx, http.MethodGet,
		strings.TrimRight(*inst.BaseURL, "/")+"/"+strings.TrimLeft(path, "/"), nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return wrapTimeout(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway health probe returned status %d", resp.StatusCode)
	}
	return nil
}

// Invoke POSTs the payload to {baseUrl}/{function} and classifies the
// response the same way Proxy does.
func (d *Driver) Invoke(ctx context.Context, inst *models.PluginInstance, function string, payload []byte) (*runtime.InvokeResult, error) {
	if inst.BaseURL == nil {
		return nil, fmt.Errorf("gateway instance has no resolved baseUrl")
	}
	url := strings.TrimRight(*inst.BaseURL, "/") + "/" + strings.TrimLeft(function, "/")

	bctx, cancel := boundedContext(ctx, inst.Manifest)
	defer cancel()

	req, err := http.NewRequestWithContext(bctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	latency := time.Since(start).Seconds()
	if err != nil {
		return nil, wrapTimeout(err)
	}
	defer resp.Body.Close()

	result, err := classifyResponse(resp)
	if err != nil {
		return nil, err
	}
	result.Latency = latency
	return result, nil
}

// classifyResponse decodes body by content type: application/json into
// Result, text/* into Text, anything else base64 into RawBase64.
func classifyResponse(resp *http.Response) (*runtime.InvokeResult, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	result := &runtime.InvokeResult{StatusCode: resp.StatusCode}
	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "application/json"):
		var v interface{}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &v); err != nil {
				return nil, fmt.Errorf("decoding json response: %w", err)
			}
		}
		result.Result = v
	case strings.HasPrefix(contentType, "text/"):
		result.Text = string(body)
	default:
		result.RawBase64 = encodeBase64(body)
	}
	return result, nil
}

// Proxy mirrors an arbitrary request to {baseUrl}/{path}, merging the
// manifest's gateway.headers defaults under the caller's own headers,
// optionally stripping the manifest's basePath from path first when
// gateway.stripPrefix is set, and applying a bounded timeout.
func (d *Driver) Proxy(ctx context.Context, inst *models.PluginInstance, method, path string, header http.Header, body io.Reader) (*http.Response, error) {
	if inst.BaseURL == nil {
		return nil, fmt.Errorf("gateway instance has no resolved baseUrl")
	}
	if inst.Manifest.Gateway != nil && inst.Manifest.Gateway.StripPrefix {
		path = stripBasePath(path, inst.Manifest)
	}
	target := strings.TrimRight(*inst.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")

	bctx, cancel := boundedContext(ctx, inst.Manifest)
	defer cancel()

	req, err := http.NewRequestWithContext(bctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header = mergeProxyHeaders(inst.Manifest, header)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, wrapTimeout(err)
	}
	return resp, nil
}

// stripBasePath removes one leading occurrence of manifest.EffectiveBasePath
// from path, so a caller addressing /plugins/{id}/proxy/api/v1/foo reaches
// an upstream whose own routes start at /foo.
func stripBasePath(path string, manifest models.ForgeHookManifest) string {
	prefix := strings.Trim(manifest.EffectiveBasePath(), "/")
	if prefix == "" {
		return path
	}
	trimmed := strings.TrimPrefix(strings.TrimLeft(path, "/"), prefix)
	return strings.TrimPrefix(trimmed, "/")
}

// mergeProxyHeaders layers the caller's headers (minus hop-by-hop and
// Host) over the manifest's gateway.headers defaults; the caller wins on
// key collisions.
func mergeProxyHeaders(manifest models.ForgeHookManifest, caller http.Header) http.Header {
	merged := http.Header{}
	if manifest.Gateway != nil {
		for k, v := range manifest.Gateway.Headers {
			merged.Set(k, v)
		}
	}
	for k, vv := range caller {
		if hopByHopHeaders[strings.ToLower(k)] || strings.EqualFold(k, "host") {
			continue
		}
		merged.Del(k)
		for _, v := range vv {
			merged.Add(k, v)
		}
	}
	return merged
}

// Logs is never supported for gateway-runtime plugins: they are opaque
// remote services with no local log stream.
func (d *Driver) Logs(ctx context.Context, inst *models.PluginInstance, tailLines int) (io.ReadCloser, error) {
	return nil, runtime.ErrNotSupported
}
