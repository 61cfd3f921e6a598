package registry

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	defaultSinglePluginManifest = "forgehook.json"
	defaultMultiPluginManifest  = "registry.json"
	defaultGitHubRef            = "main"
)

var githubOwnerRepo = regexp.MustCompile(`^[\w.-]+/[\w.-]+$`)

// resolveGitHubURL turns one of the three convenience forms a github
// RegistrySource.Location may take into the raw.githubusercontent.com
// URL to fetch, defaulting to registry.json@main for a multi-plugin
// registry source or forgehook.json@main for a single-plugin one.
func resolveGitHubURL(location string, multiPlugin bool) (string, error) {
	manifestPath := defaultSinglePluginManifest
	if multiPlugin {
		manifestPath = defaultMultiPluginManifest
	}

	switch {
	case strings.HasPrefix(location, "https://raw.githubusercontent.com/"):
		return location, nil

	case strings.HasPrefix(location, "https://github.com/"):
		trimmed := strings.TrimPrefix(location, "https://github.com/")
		trimmed = strings.TrimSuffix(trimmed, "/")
		parts := strings.Split(trimmed, "/")
		if len(parts) < 2 {
			return "", fmt.Errorf("malformed github url %q", location)
		}
		owner, repo := parts[0], parts[1]
		ref, path := defaultGitHubRef, manifestPath
		if len(parts) >= 4 && parts[2] == "blob" {
			ref = parts[3]
			if len(parts) > 4 {
				path = strings.Join(parts[4:], "/")
			}
		}
		return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", owner, repo, ref, path), nil

	case githubOwnerRepo.MatchString(location):
		return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s", location, defaultGitHubRef, manifestPath), nil

	default:
		return "", fmt.Errorf("unrecognized github source location %q: expected owner/repo, a github.com URL, or a raw.githubusercontent.com URL", location)
	}
}
