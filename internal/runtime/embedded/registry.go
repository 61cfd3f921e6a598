package embedded

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Function is an in-process plugin function. It receives the raw JSON
// payload from an /invoke call and returns a value to be marshaled back
// to the caller.
type Function func(ctx context.Context, payload json.RawMessage) (interface{}, error)

// registry is the compile-time table of embedded functions, keyed by the
// manifest's entrypoint.symbol ("pluginId/functionName"). Design Note
// option (c): no scripting runtime or Go-plugin loader exists anywhere
// in the grounding corpus, so embedded plugins are registered here at
// build time rather than loaded dynamically.
var registry = map[string]Function{
	"forgehook-builtins/ping": func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		return map[string]string{"pong": time.Now().UTC().Format(time.RFC3339)}, nil
	},
	"forgehook-builtins/echo": func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		var v interface{}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &v); err != nil {
				return nil, fmt.Errorf("invalid payload: %w", err)
			}
		}
		return v, nil
	},
}

// Lookup returns the registered function for symbol, or false if none
// is registered.
func Lookup(symbol string) (Function, bool) {
	fn, ok := registry[symbol]
	return fn, ok
}
