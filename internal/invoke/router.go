// Package invoke dispatches /plugins/{id}/invoke and /plugins/{id}/proxy
// requests to the target instance's runtime.Driver and normalizes the
// result into the HTTP surface's documented response envelope.
package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/forgehook/forgehook/internal/api/rest"
	"github.com/forgehook/forgehook/internal/models"
	"github.com/forgehook/forgehook/internal/pkg/metrics"
	"github.com/forgehook/forgehook/internal/pkg/tracing"
	"github.com/forgehook/forgehook/internal/repository"
	"github.com/forgehook/forgehook/internal/runtime"

	"go.opentelemetry.io/otel/attribute"
)

// hopByHopHeaders are stripped before mirroring a proxied request or
// response, per RFC 7230 §6.1.
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

// Router dispatches invocations and proxy requests to the correct
// runtime.Driver for a given plugin instance.
type Router struct {
	repo    repository.PluginRepository
	drivers map[models.Runtime]runtime.Driver
}

// NewRouter wires an invocation Router from one driver per runtime.
func NewRouter(repo repository.PluginRepository, drivers map[models.Runtime]runtime.Driver) *Router {
	return &Router{repo: repo, drivers: drivers}
}

// invokeResponse is the documented /invoke response envelope.
type invokeResponse struct {
	Success       bool        `json:"success"`
	Result        interface{} `json:"result,omitempty"`
	Text          string      `json:"text,omitempty"`
	RawBase64     string      `json:"rawBase64,omitempty"`
	Error         string      `json:"error,omitempty"`
	ExecutionTime float64     `json:"executionTime"`
	Runtime       string      `json:"runtime"`
	Latency       float64     `json:"latency,omitempty"`
}

// Invoke handles POST /plugins/{id}/invoke/{function}.
func (rt *Router) Invoke(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pluginID := vars["id"]
	function := vars["function"]

	ctx, span := tracing.StartSpanWithAttributes(r.Context(), "invoke.Invoke",
		attribute.String("plugin.id", pluginID), attribute.String("function", function))
	defer span.End()

	inst, driver, errResp := rt.resolve(ctx, pluginID)
	if errResp != nil {
		errResp(w)
		return
	}
	if !inst.Manifest.HasFunction(function) {
		rest.WriteErrorAuto(w, rest.ErrFunctionNotFound, "function not declared in manifest", map[string]interface{}{
			"availableEndpoints": inst.Manifest.FunctionNames(),
		})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		rest.WriteErrorAuto(w, rest.ErrValidation, "failed reading request body", nil)
		return
	}

	start := time.Now()
	result, err := driver.Invoke(ctx, inst, function, payload)
	executionTime := time.Since(start).Seconds()

	span.SetAttributes(attribute.Float64("invoke.execution_time_seconds", executionTime))

	outcome := "success"
	defer func() {
		metrics.PluginInvocationsTotal.WithLabelValues(pluginID, string(inst.Runtime), outcome).Inc()
		metrics.PluginInvocationDurationSeconds.WithLabelValues(string(inst.Runtime)).Observe(executionTime)
	}()

	if err != nil {
		outcome = "failure"
		_, status := classifyDriverError(inst.Runtime, err)
		writeInvokeEnvelope(w, status, invokeResponse{
			Success:       false,
			Error:         err.Error(),
			ExecutionTime: executionTime,
			Runtime:       string(inst.Runtime),
		})
		return
	}

	if result.StatusCode >= 500 && (inst.Runtime == models.RuntimeContainer || inst.Runtime == models.RuntimeGateway) {
		outcome = "failure"
		code := rest.ErrContainerError
		if inst.Runtime == models.RuntimeGateway {
			code = rest.ErrGatewayError
		}
		rest.WriteError(w, result.StatusCode, code, "plugin responded with a server error", map[string]interface{}{
			"statusCode": result.StatusCode, "result": result.Result, "text": result.Text,
			"rawBase64": result.RawBase64, "executionTime": executionTime, "runtime": string(inst.Runtime),
		})
		return
	}

	writeInvokeEnvelope(w, http.StatusOK, invokeResponse{
		Success:       true,
		Result:        result.Result,
		Text:          result.Text,
		RawBase64:     result.RawBase64,
		ExecutionTime: executionTime,
		Runtime:       string(inst.Runtime),
		Latency:       result.Latency,
	})
}

func writeInvokeEnvelope(w http.ResponseWriter, status int, body invokeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Proxy handles /plugins/{id}/proxy/{rest:.*}, mirroring method, query,
// and headers (minus hop-by-hop) onto the instance's runtime.Driver.
func (rt *Router) Proxy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pluginID := vars["id"]
	path := vars["rest"]

	ctx, span := tracing.StartSpanWithAttributes(r.Context(), "invoke.Proxy",
		attribute.String("plugin.id", pluginID), attribute.String("path", path))
	defer span.End()

	inst, driver, errResp := rt.resolve(ctx, pluginID)
	if errResp != nil {
		errResp(w)
		return
	}

	if r.URL.RawQuery != "" {
		path = path + "?" + r.URL.RawQuery
	}

	upstream, err := driver.Proxy(ctx, inst, r.Method, path, r.Header, r.Body)
	if err != nil {
		if errors.Is(err, runtime.ErrNotSupported) {
			rest.WriteErrorAuto(w, rest.ErrInvalidOperation, "proxying is not supported for this plugin's runtime", nil)
			return
		}
		code, status := classifyDriverError(inst.Runtime, err)
		rest.WriteError(w, status, code, err.Error(), nil)
		return
	}
	defer upstream.Body.Close()

	for k, vv := range upstream.Header {
		if hopByHopHeaders[strings.ToLower(k)] {
			continue
		}
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(upstream.StatusCode)
	_, _ = io.Copy(w, upstream.Body)
}

// resolve loads the instance and its runtime driver, returning a
// ready-to-call error writer when the request cannot proceed.
func (rt *Router) resolve(ctx context.Context, pluginID string) (*models.PluginInstance, runtime.Driver, func(http.ResponseWriter)) {
	inst, err := rt.repo.GetPlugin(ctx, pluginID)
	if err != nil {
		return nil, nil, func(w http.ResponseWriter) {
			rest.WriteErrorAuto(w, rest.ErrInternal, "failed loading plugin", nil)
		}
	}
	if inst == nil {
		return nil, nil, func(w http.ResponseWriter) {
			rest.WriteErrorAuto(w, rest.ErrPluginNotFound, "plugin not found", nil)
		}
	}
	if inst.Status != models.StatusRunning {
		return nil, nil, func(w http.ResponseWriter) {
			rest.WriteErrorAuto(w, rest.ErrPluginNotRunning, "plugin is not running", map[string]interface{}{"status": inst.Status})
		}
	}
	driver, ok := rt.drivers[inst.Runtime]
	if !ok {
		return nil, nil, func(w http.ResponseWriter) {
			rest.WriteErrorAuto(w, rest.ErrInternal, "no driver registered for runtime", nil)
		}
	}
	return inst, driver, nil
}

// classifyDriverError maps a runtime.Driver failure to the documented
// CONTAINER_ERROR/GATEWAY_ERROR/GATEWAY_TIMEOUT error codes (INTERNAL_ERROR
// for any other runtime); it never yields an *_UNAVAILABLE code.
func classifyDriverError(rt models.Runtime, err error) (rest.ErrorCode, int) {
	if rt == models.RuntimeGateway && errors.Is(err, runtime.ErrTimeout) {
		return rest.ErrGatewayTimeout, http.StatusGatewayTimeout
	}
	switch rt {
	case models.RuntimeContainer:
		return rest.ErrContainerError, http.StatusBadGateway
	case models.RuntimeGateway:
		return rest.ErrGatewayError, http.StatusBadGateway
	default:
		return rest.ErrInternal, http.StatusInternalServerError
	}
}
