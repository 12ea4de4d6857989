package connections

import (
	"context"
	"time"

	"github.com/angelmondragon/chatdesk-backend/pkg/db/models"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes persistence helpers for provider connections.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByInstance(ctx context.Context, provider enums.ProviderKind, instanceName string) (*models.Connection, error)
	FindByID(ctx context.Context, workspaceID, connectionID uuid.UUID) (*models.Connection, error)
	TransitionSyncStatus(ctx context.Context, params syncTransition) (bool, error)
	MarkWebhookConfigured(ctx context.Context, connectionID uuid.UUID, webhookURL string, now time.Time) error
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a connections repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type syncTransition struct {
	ConnectionID uuid.UUID
	Target       enums.HistorySyncStatus
	From         []enums.HistorySyncStatus
	EventTime    time.Time
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) FindByInstance(ctx context.Context, provider enums.ProviderKind, instanceName string) (*models.Connection, error) {
	var conn models.Connection
	err := r.db.WithContext(ctx).
		Where("provider = ? AND instance_name = ?", provider, instanceName).
		First(&conn).Error
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *repositoryImpl) FindByID(ctx context.Context, workspaceID, connectionID uuid.UUID) (*models.Connection, error) {
	var conn models.Connection
	err := r.db.WithContext(ctx).
		Where("id = ? AND workspace_id = ?", connectionID, workspaceID).
		First(&conn).Error
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// TransitionSyncStatus moves history_sync_status to Target only from an
// allowed predecessor and only for events newer than the last applied one.
func (r *repositoryImpl) TransitionSyncStatus(ctx context.Context, params syncTransition) (bool, error) {
	if len(params.From) == 0 {
		return false, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.Connection{}).
		Where("id = ?", params.ConnectionID).
		Where("history_sync_status IN ?", params.From).
		Where("(history_sync_updated_at IS NULL OR history_sync_updated_at < ?)", params.EventTime).
		UpdateColumns(map[string]any{
			"history_sync_status":     params.Target,
			"history_sync_updated_at": params.EventTime,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) MarkWebhookConfigured(ctx context.Context, connectionID uuid.UUID, webhookURL string, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Connection{}).
		Where("id = ?", connectionID).
		UpdateColumns(map[string]any{
			"webhook_url":           webhookURL,
			"webhook_configured_at": now,
		}).Error
}
