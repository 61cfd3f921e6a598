// Package redact provides helpers to keep secret-shaped values out of logs,
// audit events, and API responses.
package redact

import "strings"

const redactedValue = "***REDACTED***"

// sensitiveHeaderNames are dropped or masked before a proxied request/
// response is logged or audited.
var sensitiveHeaderNames = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"cookie":        true,
	"set-cookie":    true,
}

// IsSensitiveHeader reports whether header (any case) should be redacted.
func IsSensitiveHeader(header string) bool {
	return sensitiveHeaderNames[strings.ToLower(header)]
}

// Headers returns a copy of headers with sensitive values masked, for
// inclusion in logs or audit events.
func Headers(headers map[string][]string) map[string][]string {
	out := make(map[string][]string, len(headers))
	for k, v := range headers {
		if IsSensitiveHeader(k) {
			out[k] = []string{redactedValue}
			continue
		}
		out[k] = v
	}
	return out
}

// IntegrationConfig redacts values of keys that look like secrets
// ("token", "secret", "key", "password") in an Integration.config map.
func IntegrationConfig(cfg map[string]string) map[string]string {
	if cfg == nil {
		return nil
	}
	out := make(map[string]string, len(cfg))
	for k, v := range cfg {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "token") || strings.Contains(lk, "secret") ||
			strings.Contains(lk, "password") || strings.Contains(lk, "key") {
			out[k] = redactedValue
			continue
		}
		out[k] = v
	}
	return out
}
