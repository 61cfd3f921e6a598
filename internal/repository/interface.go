package repository

import (
	"context"
	"time"

	"github.com/forgehook/forgehook/internal/models"
)

// PluginRepository persists PluginInstance records.
type PluginRepository interface {
	CreatePlugin(ctx context.Context, p *models.PluginInstance) error
	GetPlugin(ctx context.Context, id string) (*models.PluginInstance, error)
	ListPlugins(ctx context.Context) ([]*models.PluginInstance, error)
	UpdatePlugin(ctx context.Context, p *models.PluginInstance) error
	DeletePlugin(ctx context.Context, id string) error
}

// RegistryRepository persists RegistrySource records.
type RegistryRepository interface {
	CreateSource(ctx context.Context, s *models.RegistrySource) error
	GetSource(ctx context.Context, id string) (*models.RegistrySource, error)
	ListSources(ctx context.Context) ([]*models.RegistrySource, error)
	DeleteSource(ctx context.Context, id string) error
}

// UpdateHistoryRepository persists UpdateHistoryEntry records (append-only).
type UpdateHistoryRepository interface {
	CreateHistoryEntry(ctx context.Context, e *models.UpdateHistoryEntry) error
	ListHistoryForPlugin(ctx context.Context, pluginID string, limit int) ([]*models.UpdateHistoryEntry, error)
}

// IntegrationRepository persists Integration records.
type IntegrationRepository interface {
	SeedBuiltinIntegrations(ctx context.Context) error
	CreateIntegration(ctx context.Context, i *models.Integration) error
	GetIntegration(ctx context.Context, id string) (*models.Integration, error)
	ListIntegrations(ctx context.Context) ([]*models.Integration, error)
	UpdateIntegration(ctx context.Context, i *models.Integration) error
	DeleteIntegration(ctx context.Context, id string) error
}

// ApiKeyRepository persists ApiKey records.
type ApiKeyRepository interface {
	CreateAPIKey(ctx context.Context, k *models.ApiKey) error
	ListAPIKeys(ctx context.Context) ([]*models.ApiKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
	FindAPIKeyByPlaintext(ctx context.Context, plaintext string) (*models.ApiKey, error)
	TouchAPIKeyLastUsed(ctx context.Context, id string, t time.Time) error
}

// Repository aggregates every sub-repository, mirroring the teacher's
// AddOnRepository-holding Repository struct.
type Repository interface {
	PluginRepository
	RegistryRepository
	UpdateHistoryRepository
	IntegrationRepository
	ApiKeyRepository
	Ping(ctx context.Context) error
	Close() error
}
