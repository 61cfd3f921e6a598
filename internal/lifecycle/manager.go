package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgehook/forgehook/internal/models"
	"github.com/forgehook/forgehook/internal/pkg/audit"
	"github.com/forgehook/forgehook/internal/pkg/metrics"
	"github.com/forgehook/forgehook/internal/repository"
	"github.com/forgehook/forgehook/internal/runtime"
)

// EventPublisher broadcasts a lifecycle mutation to Event Bus subscribers.
type EventPublisher interface {
	BroadcastPluginEvent(kind models.EventKind, pluginID string, payload map[string]interface{}) error
}

// Manager owns the PluginInstance state machine: every Install, Start,
// Stop, Restart, Update, Rollback, and Uninstall is serialized per plugin
// id, dispatched to the runtime.Driver matching the instance's manifest,
// persisted, and recorded to update_history and the audit log.
type Manager struct {
	repo    repository.Repository
	drivers map[models.Runtime]runtime.Driver
	events  EventPublisher
	locks   idLocks
}

// NewManager wires a Manager from one driver per supported runtime.
func NewManager(repo repository.Repository, drivers map[models.Runtime]runtime.Driver, events EventPublisher) *Manager {
	return &Manager{repo: repo, drivers: drivers, events: events, locks: idLocks{}}
}

func (m *Manager) driverFor(rt models.Runtime) (runtime.Driver, error) {
	d, ok := m.drivers[rt]
	if !ok {
		return nil, fmt.Errorf("no driver registered for runtime %q", rt)
	}
	return d, nil
}

// Install registers a new plugin instance from manifest, persists it in
// StatusInstalling, then brings it to StatusStopped (its rest state prior
// to a first Start) unless Autostart is set, in which case it starts.
func (m *Manager) Install(ctx context.Context, requestID string, manifest models.ForgeHookManifest) (*models.PluginInstance, error) {
	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var result *models.PluginInstance
	err := m.locks.withLock(manifest.ID, func() error {
		if existing, _ := m.repo.GetPlugin(ctx, manifest.ID); existing != nil {
			return ErrPluginExists
		}

		inst := &models.PluginInstance{
			ID:          manifest.ID,
			Manifest:    manifest,
			Status:      models.StatusInstalling,
			Runtime:     manifest.Runtime,
			InstalledAt: time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
		}
		if err := inst.MarshalManifest(); err != nil {
			return err
		}
		if err := m.repo.CreatePlugin(ctx, inst); err != nil {
			return fmt.Errorf("persisting plugin: %w", err)
		}

		inst.Status = models.StatusStopped
		inst.UpdatedAt = time.Now().UTC()
		if err := m.repo.UpdatePlugin(ctx, inst); err != nil {
			return fmt.Errorf("persisting plugin: %w", err)
		}

		if manifest.Autostart {
			// Best effort: a failed autostart leaves the instance in
			// StatusFailed with LastError set, but Install itself still
			// succeeded — the record exists and reflects what happened.
			_ = m.startLocked(ctx, inst)
		}

		m.recordHistory(ctx, inst.ID, "install", "", manifest.Version, "success", "")
		m.publish(models.EventPluginInstalled, inst.ID, nil)
		result = inst
		return nil
	})
	m.audit(requestID, manifest.ID, "install", err)
	metrics.PluginLifecycleTotal.WithLabelValues("install", outcomeOf(err)).Inc()
	return result, err
}

// startLocked runs Start's core sequence against an instance the caller
// already holds the per-id lock for. It must never be called except from
// inside an idLocks.withLock closure for inst.ID.
func (m *Manager) startLocked(ctx context.Context, inst *models.PluginInstance) error {
	if !models.CanTransition(inst.Status, models.StatusStarting) {
		return fmt.Errorf("%w: cannot start a plugin in status %q", ErrInvalidOperation, inst.Status)
	}

	driver, err := m.driverFor(inst.Runtime)
	if err != nil {
		return err
	}

	inst.Status = models.StatusStarting
	inst.UpdatedAt = time.Now().UTC()
	_ = m.repo.UpdatePlugin(ctx, inst)

	if err := driver.Start(ctx, inst); err != nil {
		inst.Status = models.StatusFailed
		errMsg := err.Error()
		inst.LastError = &errMsg
		inst.UpdatedAt = time.Now().UTC()
		_ = m.repo.UpdatePlugin(ctx, inst)
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	inst.Status = models.StatusRunning
	inst.LastError = nil
	inst.UpdatedAt = time.Now().UTC()
	if err := m.repo.UpdatePlugin(ctx, inst); err != nil {
		return fmt.Errorf("persisting plugin: %w", err)
	}

	m.publish(models.EventPluginStarted, inst.ID, nil)
	return nil
}

// Start transitions a stopped (or failed) instance to running via its
// runtime driver.
func (m *Manager) Start(ctx context.Context, requestID, pluginID string) (*models.PluginInstance, error) {
	var result *models.PluginInstance
	err := m.locks.withLock(pluginID, func() error {
		inst, err := m.getForMutation(ctx, pluginID)
		if err != nil {
			return err
		}
		if err := m.startLocked(ctx, inst); err != nil {
			return err
		}
		result = inst
		return nil
	})
	m.audit(requestID, pluginID, "start", err)
	metrics.PluginLifecycleTotal.WithLabelValues("start", outcomeOf(err)).Inc()
	return result, err
}

// Stop transitions a running instance to stopped.
func (m *Manager) Stop(ctx context.Context, requestID, pluginID string) (*models.PluginInstance, error) {
	var result *models.PluginInstance
	err := m.locks.withLock(pluginID, func() error {
		inst, err := m.getForMutation(ctx, pluginID)
		if err != nil {
			return err
		}
		if !models.CanTransition(inst.Status, models.StatusStopping) {
			return fmt.Errorf("%w: cannot stop a plugin in status %q", ErrInvalidOperation, inst.Status)
		}

		driver, err := m.driverFor(inst.Runtime)
		if err != nil {
			return err
		}

		inst.Status = models.StatusStopping
		inst.UpdatedAt = time.Now().UTC()
		_ = m.repo.UpdatePlugin(ctx, inst)

		if err := driver.Stop(ctx, inst); err != nil {
			inst.Status = models.StatusFailed
			errMsg := err.Error()
			inst.LastError = &errMsg
			inst.UpdatedAt = time.Now().UTC()
			_ = m.repo.UpdatePlugin(ctx, inst)
			return fmt.Errorf("%w: %v", ErrStopFailed, err)
		}

		inst.Status = models.StatusStopped
		inst.UpdatedAt = time.Now().UTC()
		if err := m.repo.UpdatePlugin(ctx, inst); err != nil {
			return fmt.Errorf("persisting plugin: %w", err)
		}

		m.publish(models.EventPluginStopped, inst.ID, nil)
		result = inst
		return nil
	})
	m.audit(requestID, pluginID, "stop", err)
	metrics.PluginLifecycleTotal.WithLabelValues("stop", outcomeOf(err)).Inc()
	return result, err
}

// Restart is Stop followed by Start. Each takes the per-id lock on its own,
// so another operation on the same id can run between the two.
func (m *Manager) Restart(ctx context.Context, requestID, pluginID string) (*models.PluginInstance, error) {
	if _, err := m.Stop(ctx, requestID, pluginID); err != nil {
		return nil, err
	}
	inst, err := m.Start(ctx, requestID, pluginID)
	if err == nil {
		m.publish(models.EventPluginRestarted, pluginID, nil)
	}
	metrics.PluginLifecycleTotal.WithLabelValues("restart", outcomeOf(err)).Inc()
	return inst, err
}

// Uninstall stops a running instance if needed, removes it via its
// driver, and deletes its persisted record.
func (m *Manager) Uninstall(ctx context.Context, requestID, pluginID string) error {
	err := m.locks.withLock(pluginID, func() error {
		inst, err := m.getForMutation(ctx, pluginID)
		if err != nil {
			return err
		}

		driver, err := m.driverFor(inst.Runtime)
		if err != nil {
			return err
		}

		if inst.Status == models.StatusRunning {
			if err := driver.Stop(ctx, inst); err != nil {
				return fmt.Errorf("%w: %v", ErrStopFailed, err)
			}
		}

		inst.Status = models.StatusUninstalling
		inst.UpdatedAt = time.Now().UTC()
		_ = m.repo.UpdatePlugin(ctx, inst)

		if err := driver.Remove(ctx, inst); err != nil {
			return fmt.Errorf("%w: %v", ErrUninstallFailed, err)
		}

		if err := m.repo.DeletePlugin(ctx, pluginID); err != nil {
			return fmt.Errorf("deleting plugin record: %w", err)
		}

		m.recordHistory(ctx, pluginID, "uninstall", inst.Manifest.Version, "", "success", "")
		m.publish(models.EventPluginUninstalled, pluginID, nil)
		return nil
	})
	m.audit(requestID, pluginID, "uninstall", err)
	metrics.PluginLifecycleTotal.WithLabelValues("uninstall", outcomeOf(err)).Inc()
	return err
}

// Update replaces a plugin's manifest in place: stop the old instance,
// install the new manifest's entrypoint/resources, and start it again.
// If the new manifest fails to start, it rolls back to the prior manifest
// and restarts that; a failure before the swap (stopping the old instance)
// leaves the prior manifest in place with the instance marked failed.
// Every attempt is recorded in update_history.
func (m *Manager) Update(ctx context.Context, requestID, pluginID string, newManifest models.ForgeHookManifest) (*models.PluginInstance, error) {
	if err := newManifest.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var result *models.PluginInstance
	err := m.locks.withLock(pluginID, func() error {
		inst, err := m.getForMutation(ctx, pluginID)
		if err != nil {
			return err
		}
		if newManifest.ID != inst.ID {
			return fmt.Errorf("%w: manifest id %q does not match plugin %q", ErrValidation, newManifest.ID, inst.ID)
		}

		driver, err := m.driverFor(inst.Runtime)
		if err != nil {
			return err
		}
		newDriver, err := m.driverFor(newManifest.Runtime)
		if err != nil {
			return err
		}

		oldManifest := inst.Manifest
		wasRunning := inst.Status == models.StatusRunning

		snapshot, err := json.Marshal(oldManifest)
		if err != nil {
			return fmt.Errorf("snapshotting manifest: %w", err)
		}
		snapshotStr := string(snapshot)
		oldVersion := oldManifest.Version
		inst.PreviousManifestJSON = &snapshotStr
		inst.PreviousVersion = &oldVersion

		inst.Status = models.StatusUpdating
		inst.UpdatedAt = time.Now().UTC()
		_ = m.repo.UpdatePlugin(ctx, inst)

		if wasRunning {
			if err := driver.Stop(ctx, inst); err != nil {
				return m.failUpdate(ctx, inst, oldManifest, oldManifest.Version, newManifest.Version, fmt.Errorf("%w: %v", ErrUpdateFailed, err))
			}
		}

		inst.Manifest = newManifest
		inst.Runtime = newManifest.Runtime
		if err := inst.MarshalManifest(); err != nil {
			return m.failUpdate(ctx, inst, oldManifest, oldManifest.Version, newManifest.Version, err)
		}

		if wasRunning {
			if err := newDriver.Start(ctx, inst); err != nil {
				return m.rollbackAfterFailedUpdate(ctx, inst, oldManifest, driver)
			}
			inst.Status = models.StatusRunning
		} else {
			inst.Status = models.StatusStopped
		}

		inst.LastError = nil
		inst.UpdatedAt = time.Now().UTC()
		if err := m.repo.UpdatePlugin(ctx, inst); err != nil {
			return fmt.Errorf("persisting plugin: %w", err)
		}

		m.recordHistory(ctx, pluginID, "update", oldManifest.Version, newManifest.Version, "success", "")
		m.publish(models.EventPluginUpdated, pluginID, map[string]interface{}{
			"fromVersion": oldManifest.Version, "toVersion": newManifest.Version,
		})
		result = inst
		return nil
	})
	m.audit(requestID, pluginID, "update", err)
	metrics.PluginLifecycleTotal.WithLabelValues("update", outcomeOf(err)).Inc()
	return result, err
}

func (m *Manager) failUpdate(ctx context.Context, inst *models.PluginInstance, oldManifest models.ForgeHookManifest, fromVersion, toVersion string, cause error) error {
	inst.Status = models.StatusFailed
	errMsg := cause.Error()
	inst.LastError = &errMsg
	inst.PreviousVersion = nil
	inst.PreviousManifestJSON = nil
	inst.UpdatedAt = time.Now().UTC()
	_ = m.repo.UpdatePlugin(ctx, inst)
	m.recordHistory(ctx, inst.ID, "update", fromVersion, toVersion, "failure", errMsg)
	return cause
}

// rollbackAfterFailedUpdate reverts inst to oldManifest and attempts to
// restart it under the prior driver when the new manifest's Start fails.
func (m *Manager) rollbackAfterFailedUpdate(ctx context.Context, inst *models.PluginInstance, oldManifest models.ForgeHookManifest, oldDriver runtime.Driver) error {
	startErr := fmt.Errorf("%w: new manifest failed to start, rolled back to version %s", ErrUpdateFailed, oldManifest.Version)

	inst.Manifest = oldManifest
	inst.Runtime = oldManifest.Runtime
	inst.PreviousVersion = nil
	inst.PreviousManifestJSON = nil
	_ = inst.MarshalManifest()

	if err := oldDriver.Start(ctx, inst); err != nil {
		inst.Status = models.StatusFailed
		errMsg := err.Error()
		inst.LastError = &errMsg
		inst.UpdatedAt = time.Now().UTC()
		_ = m.repo.UpdatePlugin(ctx, inst)
		m.recordHistory(ctx, inst.ID, "update", oldManifest.Version, inst.Manifest.Version, "failure", err.Error())
		return fmt.Errorf("%w (rollback also failed: %v)", startErr, err)
	}

	inst.Status = models.StatusRunning
	errMsg := startErr.Error()
	inst.LastError = &errMsg
	inst.UpdatedAt = time.Now().UTC()
	_ = m.repo.UpdatePlugin(ctx, inst)
	m.recordHistory(ctx, inst.ID, "update", oldManifest.Version, oldManifest.Version, "failure", startErr.Error())
	return startErr
}

// Rollback restores the manifest snapshot captured before the last
// successful Update and clears it, so previousVersion == nil afterward and
// a second Rollback without an intervening Update fails with
// ErrNothingToRollback.
func (m *Manager) Rollback(ctx context.Context, requestID, pluginID string) (*models.PluginInstance, error) {
	var result *models.PluginInstance
	err := m.locks.withLock(pluginID, func() error {
		inst, err := m.getForMutation(ctx, pluginID)
		if err != nil {
			return err
		}
		if inst.PreviousVersion == nil || inst.PreviousManifestJSON == nil {
			return ErrNothingToRollback
		}

		var priorManifest models.ForgeHookManifest
		if err := json.Unmarshal([]byte(*inst.PreviousManifestJSON), &priorManifest); err != nil {
			return fmt.Errorf("%w: corrupt manifest snapshot: %v", ErrRollbackFailed, err)
		}

		driver, err := m.driverFor(inst.Runtime)
		if err != nil {
			return err
		}
		priorDriver, err := m.driverFor(priorManifest.Runtime)
		if err != nil {
			return err
		}

		fromVersion := inst.Manifest.Version
		wasRunning := inst.Status == models.StatusRunning

		inst.Status = models.StatusUpdating
		inst.UpdatedAt = time.Now().UTC()
		_ = m.repo.UpdatePlugin(ctx, inst)

		fail := func(cause error) error {
			inst.Status = models.StatusFailed
			errMsg := cause.Error()
			inst.LastError = &errMsg
			inst.UpdatedAt = time.Now().UTC()
			_ = m.repo.UpdatePlugin(ctx, inst)
			m.recordHistory(ctx, pluginID, "rollback", fromVersion, priorManifest.Version, "failure", errMsg)
			return cause
		}

		if wasRunning {
			if err := driver.Stop(ctx, inst); err != nil {
				return fail(fmt.Errorf("%w: %v", ErrRollbackFailed, err))
			}
		}

		inst.Manifest = priorManifest
		inst.Runtime = priorManifest.Runtime
		if err := inst.MarshalManifest(); err != nil {
			return fail(fmt.Errorf("%w: %v", ErrRollbackFailed, err))
		}

		if wasRunning {
			if err := priorDriver.Start(ctx, inst); err != nil {
				return fail(fmt.Errorf("%w: %v", ErrRollbackFailed, err))
			}
			inst.Status = models.StatusRunning
		} else {
			inst.Status = models.StatusStopped
		}

		inst.LastError = nil
		inst.PreviousVersion = nil
		inst.PreviousManifestJSON = nil
		inst.UpdatedAt = time.Now().UTC()
		if err := m.repo.UpdatePlugin(ctx, inst); err != nil {
			return fmt.Errorf("persisting plugin: %w", err)
		}

		m.recordHistory(ctx, pluginID, "rollback", fromVersion, priorManifest.Version, "success", "")
		m.publish(models.EventPluginRolledBack, pluginID, map[string]interface{}{
			"fromVersion": fromVersion, "toVersion": priorManifest.Version,
		})
		result = inst
		return nil
	})
	m.audit(requestID, pluginID, "rollback", err)
	metrics.PluginLifecycleTotal.WithLabelValues("rollback", outcomeOf(err)).Inc()
	return result, err
}

// MarkUnhealthy implements container.FailureHandler and gateway's
// equivalent contract: flip a running instance to failed after repeated
// health-check failures and publish plugin:health-changed.
func (m *Manager) MarkUnhealthy(ctx context.Context, pluginID string, cause error) {
	_ = m.locks.withLock(pluginID, func() error {
		inst, err := m.repo.GetPlugin(ctx, pluginID)
		if err != nil || inst == nil || inst.Status != models.StatusRunning {
			return nil
		}
		inst.Status = models.StatusFailed
		errMsg := cause.Error()
		inst.LastError = &errMsg
		now := time.Now().UTC()
		inst.LastHealthCheck = &now
		inst.UpdatedAt = now
		_ = m.repo.UpdatePlugin(ctx, inst)
		m.publish(models.EventPluginHealthChange, pluginID, map[string]interface{}{"status": "failed", "error": errMsg})
		return nil
	})
}

// MarkHealthy records a successful health check timestamp without
// mutating status (only the poller's failure threshold flips status).
func (m *Manager) MarkHealthy(ctx context.Context, pluginID string) {
	_ = m.locks.withLock(pluginID, func() error {
		inst, err := m.repo.GetPlugin(ctx, pluginID)
		if err != nil || inst == nil {
			return nil
		}
		now := time.Now().UTC()
		inst.LastHealthCheck = &now
		inst.UpdatedAt = now
		return m.repo.UpdatePlugin(ctx, inst)
	})
}

// RecordHealthCheck implements gateway.HealthUpdater: a nil err marks the
// instance healthy; otherwise it records the failure in lastError and
// lastHealthCheck without changing status, so the prober keeps probing it.
func (m *Manager) RecordHealthCheck(ctx context.Context, pluginID string, err error) {
	if err == nil {
		m.MarkHealthy(ctx, pluginID)
		return
	}
	_ = m.locks.withLock(pluginID, func() error {
		inst, getErr := m.repo.GetPlugin(ctx, pluginID)
		if getErr != nil || inst == nil {
			return nil
		}
		errMsg := err.Error()
		now := time.Now().UTC()
		inst.LastError = &errMsg
		inst.LastHealthCheck = &now
		inst.UpdatedAt = now
		return m.repo.UpdatePlugin(ctx, inst)
	})
}

// ListRunningContainerInstances and ListRunningGatewayInstances implement
// the container.InstanceLister / gateway.InstanceLister contracts.
func (m *Manager) ListRunningContainerInstances(ctx context.Context) ([]*models.PluginInstance, error) {
	return m.listRunningByRuntime(ctx, models.RuntimeContainer)
}

func (m *Manager) ListRunningGatewayInstances(ctx context.Context) ([]*models.PluginInstance, error) {
	return m.listRunningByRuntime(ctx, models.RuntimeGateway)
}

func (m *Manager) listRunningByRuntime(ctx context.Context, rt models.Runtime) ([]*models.PluginInstance, error) {
	all, err := m.repo.ListPlugins(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.PluginInstance, 0, len(all))
	for _, inst := range all {
		if inst.Status == models.StatusRunning && inst.Runtime == rt {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (m *Manager) getForMutation(ctx context.Context, pluginID string) (*models.PluginInstance, error) {
	inst, err := m.repo.GetPlugin(ctx, pluginID)
	if err != nil {
		return nil, fmt.Errorf("loading plugin: %w", err)
	}
	if inst == nil {
		return nil, ErrPluginNotFound
	}
	return inst, nil
}

func (m *Manager) recordHistory(ctx context.Context, pluginID, action, fromVersion, toVersion, outcome, message string) {
	entry := &models.UpdateHistoryEntry{
		ID:          uuid.New().String(),
		PluginID:    pluginID,
		Action:      action,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Outcome:     outcome,
		Message:     message,
		Timestamp:   time.Now().UTC(),
	}
	_ = m.repo.CreateHistoryEntry(ctx, entry)
}

func (m *Manager) publish(kind models.EventKind, pluginID string, payload map[string]interface{}) {
	if m.events == nil {
		return
	}
	_ = m.events.BroadcastPluginEvent(kind, pluginID, payload)
}

func (m *Manager) audit(requestID, pluginID, action string, err error) {
	audit.LogLifecycle(requestID, pluginID, action, outcomeOf(err), errMessage(err))
}

func outcomeOf(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

