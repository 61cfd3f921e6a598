package models

import "time"

// SourceKind is the protocol a RegistrySource is fetched over.
type SourceKind string

const (
	SourceKindGitHub SourceKind = "github"
	SourceKindHTTP   SourceKind = "http"
	SourceKindLocal  SourceKind = "local"
)

// RegistrySource is a named, priority-ordered plugin catalog origin.
type RegistrySource struct {
	ID        string     `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Kind      SourceKind `json:"kind" db:"kind"`
	Location  string     `json:"location" db:"location"` // owner/repo, URL, or local path, per Kind
	Priority  int        `json:"priority" db:"priority"`
	Enabled   bool       `json:"enabled" db:"enabled"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
}

// RegistryPluginEntry is one catalog entry surfaced by a RegistrySource's
// last successful refresh.
type RegistryPluginEntry struct {
	SourceID     string            `json:"sourceId"`
	PluginID     string            `json:"pluginId"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description,omitempty"`
	Runtime      Runtime           `json:"runtime"`
	ManifestURL  string            `json:"manifestUrl"`
	DownloadURL  string            `json:"downloadUrl,omitempty"`
	Manifest     ForgeHookManifest `json:"manifest"`
}

// RegistryIndex is the cached result of refreshing one RegistrySource.
type RegistryIndex struct {
	SourceID    string                 `json:"sourceId"`
	Entries     []RegistryPluginEntry  `json:"entries"`
	RefreshedAt time.Time              `json:"refreshedAt"`
	Error       string                 `json:"error,omitempty"`
}
