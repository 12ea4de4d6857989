package models

import (
	"time"

	"github.com/google/uuid"
)

// Workspace is the tenant boundary. Rows are maintained by the admin app;
// this service only reads routing defaults from it.
type Workspace struct {
	ID                   uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name                 string     `gorm:"column:name;not null"`
	AutomationWebhookURL *string    `gorm:"column:automation_webhook_url"`
	DefaultPipelineID    *uuid.UUID `gorm:"column:default_pipeline_id;type:uuid"`
	CreatedAt            time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
