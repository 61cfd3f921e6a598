package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/forgehook/forgehook/internal/auth"
	"github.com/forgehook/forgehook/internal/models"
)

// SQLiteRepository implements Repository over SQLite.
type SQLiteRepository struct {
	db *sqlx.DB
}

// NewSQLiteRepository opens dbPath in WAL mode with a tuned connection
// pool, same settings the teacher repo uses for its addon state store.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	dsn := dbPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	var journalMode string
	if err := db.Get(&journalMode, "PRAGMA journal_mode"); err != nil {
		return nil, fmt.Errorf("failed to check journal mode: %w", err)
	}
	if journalMode != "wal" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error { return r.db.Close() }

func (r *SQLiteRepository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

// RunMigrations executes raw migration SQL (idempotent, CREATE TABLE IF
// NOT EXISTS statements).
func (r *SQLiteRepository) RunMigrations(migrationSQL string) error {
	_, err := r.db.Exec(migrationSQL)
	return err
}

// --- PluginRepository ---

func (r *SQLiteRepository) CreatePlugin(ctx context.Context, p *models.PluginInstance) error {
	if p.ID == "" {
		return fmt.Errorf("plugin id is required")
	}
	if err := p.MarshalManifest(); err != nil {
		return err
	}
	return instrumentQueryContext(ctx, "insert_plugin", func() error {
		query := `INSERT INTO plugin_instances
			(id, manifest_json, status, runtime, container_id, port, base_url,
			 installed_at, updated_at, last_health_check, last_error, source_id,
			 previous_version, previous_manifest_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err := r.db.ExecContext(ctx, query,
			p.ID, p.ManifestJSON, p.Status, p.Runtime, p.ContainerID, p.Port, p.BaseURL,
			p.InstalledAt, p.UpdatedAt, p.LastHealthCheck, p.LastError, p.SourceID,
			p.PreviousVersion, p.PreviousManifestJSON)
		return err
	})
}

func (r *SQLiteRepository) GetPlugin(ctx context.Context, id string) (*models.PluginInstance, error) {
	var p models.PluginInstance
	err := instrumentQueryContext(ctx, "get_plugin", func() error {
		return r.db.GetContext(ctx, &p, `SELECT * FROM plugin_instances WHERE id = ?`, id)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := p.UnmarshalManifest(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *SQLiteRepository) ListPlugins(ctx context.Context) ([]*models.PluginInstance, error) {
	var plugins []*models.PluginInstance
	err := instrumentQueryContext(ctx, "list_plugins", func() error {
		return r.db.SelectContext(ctx, &plugins, `SELECT * FROM plugin_instances ORDER BY installed_at DESC`)
	})
	if err != nil {
		return nil, err
	}
	for _, p := range plugins {
		if err := p.UnmarshalManifest(); err != nil {
			return nil, err
		}
	}
	return plugins, nil
}

func (r *SQLiteRepository) UpdatePlugin(ctx context.Context, p *models.PluginInstance) error {
	if err := p.MarshalManifest(); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	return instrumentQueryContext(ctx, "update_plugin", func() error {
		query := `UPDATE plugin_instances SET
			manifest_json = ?, status = ?, runtime = ?, container_id = ?, port = ?,
			base_url = ?, updated_at = ?, last_health_check = ?, last_error = ?, source_id = ?,
			previous_version = ?, previous_manifest_json = ?
			WHERE id = ?`
		_, err := r.db.ExecContext(ctx, query,
			p.ManifestJSON, p.Status, p.Runtime, p.ContainerID, p.Port, p.BaseURL,
			p.UpdatedAt, p.LastHealthCheck, p.LastError, p.SourceID,
			p.PreviousVersion, p.PreviousManifestJSON, p.ID)
		return err
	})
}

func (r *SQLiteRepository) DeletePlugin(ctx context.Context, id string) error {
	return instrumentQueryContext(ctx, "delete_plugin", func() error {
		_, err := r.db.ExecContext(ctx, `DELETE FROM plugin_instances WHERE id = ?`, id)
		return err
	})
}

// --- RegistryRepository ---

func (r *SQLiteRepository) CreateSource(ctx context.Context, s *models.RegistrySource) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return instrumentQueryContext(ctx, "insert_registry_source", func() error {
		query := `INSERT INTO registry_sources (id, name, kind, location, priority, enabled, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`
		_, err := r.db.ExecContext(ctx, query, s.ID, s.Name, s.Kind, s.Location, s.Priority, s.Enabled, s.CreatedAt)
		return err
	})
}

func (r *SQLiteRepository) GetSource(ctx context.Context, id string) (*models.RegistrySource, error) {
	var s models.RegistrySource
	err := instrumentQueryContext(ctx, "get_registry_source", func() error {
		return r.db.GetContext(ctx, &s, `SELECT * FROM registry_sources WHERE id = ?`, id)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &s, err
}

func (r *SQLiteRepository) ListSources(ctx context.Context) ([]*models.RegistrySource, error) {
	var sources []*models.RegistrySource
	err := instrumentQueryContext(ctx, "list_registry_sources", func() error {
		return r.db.SelectContext(ctx, &sources, `SELECT * FROM registry_sources ORDER BY priority ASC`)
	})
	return sources, err
}

func (r *SQLiteRepository) DeleteSource(ctx context.Context, id string) error {
	return instrumentQueryContext(ctx, "delete_registry_source", func() error {
		_, err := r.db.ExecContext(ctx, `DELETE FROM registry_sources WHERE id = ?`, id)
		return err
	})
}

// --- UpdateHistoryRepository ---

func (r *SQLiteRepository) CreateHistoryEntry(ctx context.Context, e *models.UpdateHistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return instrumentQueryContext(ctx, "insert_update_history", func() error {
		query := `INSERT INTO update_history
			(id, plugin_id, action, from_version, to_version, outcome, message, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
		_, err := r.db.ExecContext(ctx, query,
			e.ID, e.PluginID, e.Action, e.FromVersion, e.ToVersion, e.Outcome, e.Message, e.Timestamp)
		return err
	})
}

func (r *SQLiteRepository) ListHistoryForPlugin(ctx context.Context, pluginID string, limit int) ([]*models.UpdateHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []*models.UpdateHistoryEntry
	err := instrumentQueryContext(ctx, "list_update_history", func() error {
		query := `SELECT * FROM update_history WHERE plugin_id = ? ORDER BY timestamp DESC LIMIT ?`
		return r.db.SelectContext(ctx, &entries, query, pluginID, limit)
	})
	return entries, err
}

// --- IntegrationRepository ---

func (r *SQLiteRepository) SeedBuiltinIntegrations(ctx context.Context) error {
	return instrumentQueryContext(ctx, "seed_integrations", func() error {
		for _, id := range models.BuiltinIntegrationIDs {
			existing, err := r.GetIntegration(ctx, id)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			query := `INSERT INTO integrations (id, name, enabled, builtin) VALUES (?, ?, ?, ?)`
			if _, err := r.db.ExecContext(ctx, query, id, id, true, true); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) CreateIntegration(ctx context.Context, i *models.Integration) error {
	i.ID = models.NormalizeIntegrationID(i.ID)
	return instrumentQueryContext(ctx, "insert_integration", func() error {
		query := `INSERT INTO integrations (id, name, enabled, builtin) VALUES (?, ?, ?, ?)`
		_, err := r.db.ExecContext(ctx, query, i.ID, i.Name, i.Enabled, i.Builtin)
		return err
	})
}

func (r *SQLiteRepository) GetIntegration(ctx context.Context, id string) (*models.Integration, error) {
	id = models.NormalizeIntegrationID(id)
	var i models.Integration
	err := instrumentQueryContext(ctx, "get_integration", func() error {
		return r.db.GetContext(ctx, &i, `SELECT id, name, enabled, builtin FROM integrations WHERE id = ?`, id)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &i, err
}

func (r *SQLiteRepository) ListIntegrations(ctx context.Context) ([]*models.Integration, error) {
	var integrations []*models.Integration
	err := instrumentQueryContext(ctx, "list_integrations", func() error {
		return r.db.SelectContext(ctx, &integrations, `SELECT id, name, enabled, builtin FROM integrations ORDER BY id`)
	})
	return integrations, err
}

func (r *SQLiteRepository) UpdateIntegration(ctx context.Context, i *models.Integration) error {
	i.ID = models.NormalizeIntegrationID(i.ID)
	return instrumentQueryContext(ctx, "update_integration", func() error {
		query := `UPDATE integrations SET name = ?, enabled = ? WHERE id = ?`
		_, err := r.db.ExecContext(ctx, query, i.Name, i.Enabled, i.ID)
		return err
	})
}

func (r *SQLiteRepository) DeleteIntegration(ctx context.Context, id string) error {
	id = models.NormalizeIntegrationID(id)
	return instrumentQueryContext(ctx, "delete_integration", func() error {
		_, err := r.db.ExecContext(ctx, `DELETE FROM integrations WHERE id = ? AND builtin = 0`, id)
		return err
	})
}

// --- ApiKeyRepository ---

func (r *SQLiteRepository) CreateAPIKey(ctx context.Context, k *models.ApiKey) error {
	if k.ID == "" {
		k.ID = uuid.New().String()
	}
	return instrumentQueryContext(ctx, "insert_api_key", func() error {
		query := `INSERT INTO api_keys (id, name, description, key_hash, prefix, created_at, revoked)
			VALUES (?, ?, ?, ?, ?, ?, ?)`
		_, err := r.db.ExecContext(ctx, query, k.ID, k.Name, k.Description, k.KeyHash, k.Prefix, k.CreatedAt, k.Revoked)
		return err
	})
}

func (r *SQLiteRepository) ListAPIKeys(ctx context.Context) ([]*models.ApiKey, error) {
	var keys []*models.ApiKey
	err := instrumentQueryContext(ctx, "list_api_keys", func() error {
		return r.db.SelectContext(ctx, &keys, `SELECT * FROM api_keys ORDER BY created_at DESC`)
	})
	return keys, err
}

func (r *SQLiteRepository) RevokeAPIKey(ctx context.Context, id string) error {
	return instrumentQueryContext(ctx, "revoke_api_key", func() error {
		_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET revoked = 1 WHERE id = ?`, id)
		return err
	})
}

func (r *SQLiteRepository) TouchAPIKeyLastUsed(ctx context.Context, id string, t time.Time) error {
	return instrumentQueryContext(ctx, "touch_api_key", func() error {
		_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, t, id)
		return err
	})
}

// FindAPIKeyByPlaintext checks plaintext against every stored hash of a
// non-revoked key. Inefficient but correct for a control plane expected
// to hold a small number of keys; matches the teacher's own MVP approach.
func (r *SQLiteRepository) FindAPIKeyByPlaintext(ctx context.Context, plaintext string) (*models.ApiKey, error) {
	var keys []*models.ApiKey
	err := instrumentQueryContext(ctx, "scan_api_keys", func() error {
		return r.db.SelectContext(ctx, &keys, `SELECT * FROM api_keys WHERE revoked = 0`)
	})
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if auth.CheckAPIKey(k.KeyHash, plaintext) == nil {
			return k, nil
		}
	}
	return nil, nil
}
