package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
)

type Pipeline struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WorkspaceID uuid.UUID `gorm:"column:workspace_id;type:uuid;not null"`
	Name        string    `gorm:"column:name;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// PipelineStage is a board column; the lowest position is where new cards land.
type PipelineStage struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PipelineID uuid.UUID `gorm:"column:pipeline_id;type:uuid;not null"`
	Name       string    `gorm:"column:name;not null"`
	Position   int       `gorm:"column:position;not null"`
}

// PipelineCard is a sales opportunity. At most one card per (contact,
// pipeline) may be open; ux_pipeline_cards_open_contact_pipeline enforces it.
type PipelineCard struct {
	ID             uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	WorkspaceID    uuid.UUID                `gorm:"column:workspace_id;type:uuid;not null" json:"workspaceId"`
	ContactID      uuid.UUID                `gorm:"column:contact_id;type:uuid;not null" json:"contactId"`
	PipelineID     uuid.UUID                `gorm:"column:pipeline_id;type:uuid;not null" json:"pipelineId"`
	StageID        *uuid.UUID               `gorm:"column:stage_id;type:uuid" json:"stageId"`
	ConversationID *uuid.UUID               `gorm:"column:conversation_id;type:uuid" json:"conversationId"`
	Status         enums.PipelineCardStatus `gorm:"column:status;type:pipeline_card_status;not null;default:open" json:"status"`
	CreatedAt      time.Time                `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time                `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}
