// Package middleware provides request body size limiting for plugin package uploads.
package middleware

import (
	"net/http"
	"strings"
)

const (
	// DefaultStandardMaxBodyBytes is the default max request body for non-import API requests (512KB).
	DefaultStandardMaxBodyBytes = 512 * 1024
	// DefaultImportMaxBodyBytes is the default max request body for POST .../packages/import (2GB).
	DefaultImportMaxBodyBytes = 2 * 1024 * 1024 * 1024
)

// MaxBodySize returns middleware that limits request body size: importMax for POST .../packages/import,
// standardMax otherwise. Use for methods that may have a body (POST, PUT, PATCH). GET/HEAD/DELETE are not limited.
func MaxBodySize(standardMax, importMax int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil ||
				(r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch) {
				next.ServeHTTP(w, r)
				return
			}
			max := standardMax
			if strings.HasSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/packages/import") {
				max = importMax
			}
			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}
