package models

import (
	"encoding/json"
	"time"
)

// Status is a PluginInstance lifecycle state.
type Status string

const (
	StatusInstalling   Status = "installing"
	StatusStopped      Status = "stopped"
	StatusStarting     Status = "starting"
	StatusRunning      Status = "running"
	StatusStopping     Status = "stopping"
	StatusUpdating     Status = "updating"
	StatusUninstalling Status = "uninstalling"
	StatusFailed       Status = "failed"
)

// PluginInstance is a running or previously-run plugin, tied 1:1 to a
// ForgeHookManifest by id.
type PluginInstance struct {
	ID              string            `json:"id" db:"id"`
	ManifestJSON    string            `json:"-" db:"manifest_json"`
	Manifest        ForgeHookManifest `json:"manifest" db:"-"`
	Status          Status            `json:"status" db:"status"`
	Runtime         Runtime           `json:"runtime" db:"runtime"`
	ContainerID     *string           `json:"containerId,omitempty" db:"container_id"`
	Port            *int              `json:"port,omitempty" db:"port"`
	BaseURL         *string           `json:"baseUrl,omitempty" db:"base_url"`
	InstalledAt     time.Time         `json:"installedAt" db:"installed_at"`
	UpdatedAt       time.Time         `json:"updatedAt" db:"updated_at"`
	LastHealthCheck *time.Time        `json:"lastHealthCheck,omitempty" db:"last_health_check"`
	LastError       *string           `json:"lastError,omitempty" db:"last_error"`
	SourceID        *string           `json:"sourceId,omitempty" db:"source_id"`

	// PreviousVersion and PreviousManifestJSON snapshot the manifest in
	// place immediately before the last successful Update. Rollback
	// restores from the snapshot and clears both; nil means no rollback
	// target exists yet (previousVersion == nil <=> canRollback == false).
	PreviousVersion      *string `json:"previousVersion,omitempty" db:"previous_version"`
	PreviousManifestJSON *string `json:"-" db:"previous_manifest_json"`
}

// MarshalManifest serializes Manifest into ManifestJSON before a write.
func (p *PluginInstance) MarshalManifest() error {
	b, err := json.Marshal(p.Manifest)
	if err != nil {
		return err
	}
	p.ManifestJSON = string(b)
	return nil
}

// UnmarshalManifest populates Manifest from ManifestJSON after a read.
func (p *PluginInstance) UnmarshalManifest() error {
	if p.ManifestJSON == "" {
		return nil
	}
	return json.Unmarshal([]byte(p.ManifestJSON), &p.Manifest)
}

// statusAdjacency is the allowed transition table for the lifecycle state
// machine (SPEC_FULL.md §4.1).
var statusAdjacency = map[Status][]Status{
	StatusInstalling:   {StatusStopped, StatusFailed},
	StatusStopped:      {StatusStarting, StatusUninstalling, StatusUpdating},
	StatusStarting:     {StatusRunning, StatusFailed},
	StatusRunning:      {StatusStopping, StatusUpdating},
	StatusStopping:     {StatusStopped, StatusFailed},
	StatusUpdating:     {StatusStopped, StatusFailed},
	StatusUninstalling: {},
	StatusFailed:       {StatusStarting, StatusStopped, StatusUninstalling},
}

// CanTransition reports whether from -> to is a legal state machine edge.
func CanTransition(from, to Status) bool {
	for _, s := range statusAdjacency[from] {
		if s == to {
			return true
		}
	}
	return false
}
