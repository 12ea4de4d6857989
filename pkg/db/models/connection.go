package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
)

// Connection binds a provider instance to a workspace.
type Connection struct {
	ID                   uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WorkspaceID          uuid.UUID               `gorm:"column:workspace_id;type:uuid;not null"`
	Provider             enums.ProviderKind      `gorm:"column:provider;type:provider_kind;not null"`
	InstanceName         string                  `gorm:"column:instance_name;not null"`
	ProviderInstanceID   *string                 `gorm:"column:provider_instance_id"`
	APIToken             *string                 `gorm:"column:api_token"`
	DefaultQueueID       *uuid.UUID              `gorm:"column:default_queue_id;type:uuid"`
	HistorySyncStatus    enums.HistorySyncStatus `gorm:"column:history_sync_status;type:history_sync_status;not null;default:idle"`
	HistorySyncUpdatedAt *time.Time              `gorm:"column:history_sync_updated_at"`
	WebhookURL           *string                 `gorm:"column:webhook_url"`
	WebhookConfiguredAt  *time.Time              `gorm:"column:webhook_configured_at"`
	CreatedAt            time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
