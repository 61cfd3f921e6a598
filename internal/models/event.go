package models

import "time"

// EventKind enumerates the Event Bus's plugin lifecycle event kinds
// (SPEC_FULL.md §4.9).
type EventKind string

const (
	EventPluginInstalled    EventKind = "plugin:installed"
	EventPluginStarted      EventKind = "plugin:started"
	EventPluginStopped      EventKind = "plugin:stopped"
	EventPluginRestarted    EventKind = "plugin:restarted"
	EventPluginUninstalled  EventKind = "plugin:uninstalled"
	EventPluginUpdated      EventKind = "plugin:updated"
	EventPluginRolledBack   EventKind = "plugin:rolled-back"
	EventPluginHealthChange EventKind = "plugin:health-changed"
)

// WebSocketMessage is the Event Bus's wire envelope for /events subscribers.
type WebSocketMessage struct {
	Type      EventKind              `json:"type"`
	PluginID  string                 `json:"pluginId"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
