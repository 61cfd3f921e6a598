// Package validate provides input validation for plugin, integration, and
// registry source identifiers.
package validate

import "regexp"

// IDMaxLen is the maximum allowed length for a plugin/integration/source id.
const IDMaxLen = 128

// dnsLabelRe matches a lowercase DNS-label-safe id: alphanumeric and
// hyphen, not starting or ending with a hyphen.
var dnsLabelRe = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// PluginID validates a manifest/plugin id: lowercase DNS-label, 1–IDMaxLen.
func PluginID(id string) bool {
	return id != "" && len(id) <= IDMaxLen && dnsLabelRe.MatchString(id)
}

// IntegrationID validates an integration id with the same shape as PluginID.
func IntegrationID(id string) bool {
	return PluginID(id)
}

// SourceID validates a registry source id with the same shape as PluginID.
func SourceID(id string) bool {
	return PluginID(id)
}

// FunctionName validates a manifest function name: alphanumeric, hyphen,
// underscore; 1–64 chars.
func FunctionName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			continue
		default:
			return false
		}
	}
	return true
}
