package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
)

// Conversation is one WhatsApp chat thread with a contact. AssignedUserID is
// written only by the assignments package.
type Conversation struct {
	ID             uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	WorkspaceID    uuid.UUID                `gorm:"column:workspace_id;type:uuid;not null" json:"workspace_id"`
	ContactID      uuid.UUID                `gorm:"column:contact_id;type:uuid;not null" json:"contact_id"`
	ConnectionID   *uuid.UUID               `gorm:"column:connection_id;type:uuid" json:"connection_id,omitempty"`
	AssignedUserID *uuid.UUID               `gorm:"column:assigned_user_id;type:uuid" json:"assigned_user_id"`
	Status         enums.ConversationStatus `gorm:"column:status;type:conversation_status;not null;default:open" json:"status"`
	ClosedAt       *time.Time               `gorm:"column:closed_at" json:"closed_at,omitempty"`
	CreatedAt      time.Time                `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time                `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// AssignmentHistory is an append-only audit row; it is never updated.
type AssignmentHistory struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ConversationID uuid.UUID              `gorm:"column:conversation_id;type:uuid;not null" json:"conversation_id"`
	WorkspaceID    uuid.UUID              `gorm:"column:workspace_id;type:uuid;not null" json:"workspace_id"`
	Action         enums.AssignmentAction `gorm:"column:action;type:assignment_action;not null" json:"action"`
	FromUserID     *uuid.UUID             `gorm:"column:from_user_id;type:uuid" json:"from_user_id"`
	ToUserID       *uuid.UUID             `gorm:"column:to_user_id;type:uuid" json:"to_user_id"`
	ChangedBy      *uuid.UUID             `gorm:"column:changed_by;type:uuid" json:"changed_by"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (AssignmentHistory) TableName() string { return "assignment_history" }
