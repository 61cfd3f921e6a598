package gateway

import (
	"os"
	"strings"
)

// ResolveTemplate expands ${VAR} and ${VAR:-default} references in s.
// Substitution consults pluginEnv (the manifest's declared environment
// defaults) first, then the process environment, then the literal
// default; unset variables with no default expand to the empty string.
func ResolveTemplate(s string, pluginEnv map[string]string) string {
	return os.Expand(s, func(token string) string {
		name, def, hasDefault := strings.Cut(token, ":-")
		if v, ok := pluginEnv[name]; ok && v != "" {
			return v
		}
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
}
