package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/forgehook/forgehook/internal/auth"
	"github.com/forgehook/forgehook/internal/pkg/metrics"
	"github.com/forgehook/forgehook/internal/repository"
)

// APIKeyModes mirror config.AuthMode.
const (
	AuthModeDisabled = "disabled"
	AuthModeOptional = "optional"
	AuthModeRequired = "required"
)

const apiKeyHeader = "X-API-Key"

// APIKeyAuth enforces X-API-Key authentication per mode:
//   - disabled: never checks, never populates AuthInfo
//   - optional: checks the header if present, rejects only invalid/revoked keys
//   - required: rejects any request without a valid, non-revoked key
func APIKeyAuth(repo repository.ApiKeyRepository, mode string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if mode == AuthModeDisabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(apiKeyHeader)
			if key == "" {
				if mode == AuthModeRequired {
					writeUnauthorized(w, "missing X-API-Key header")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			record, err := repo.FindAPIKeyByPlaintext(r.Context(), key)
			switch {
			case err != nil:
				metrics.AuthAPIKeyValidationsTotal.WithLabelValues("error").Inc()
				writeUnauthorized(w, "auth lookup failed")
				return
			case record == nil || record.Revoked:
				metrics.AuthAPIKeyValidationsTotal.WithLabelValues("invalid").Inc()
				writeUnauthorized(w, "invalid API key")
				return
			}
			metrics.AuthAPIKeyValidationsTotal.WithLabelValues("valid").Inc()

			ctx := auth.WithAuthInfo(r.Context(), &auth.AuthInfo{KeyID: record.ID, Name: record.Name})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    "UNAUTHORIZED",
			"message": message,
		},
	})
}
