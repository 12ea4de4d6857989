package payloads

import (
	"time"

	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	"github.com/google/uuid"
)

// ConversationAssignedEvent is emitted when a conversation gains its first owner.
type ConversationAssignedEvent struct {
	ConversationID uuid.UUID  `json:"conversation_id" validate:"required"`
	WorkspaceID    uuid.UUID  `json:"workspace_id" validate:"required"`
	AssignedUserID uuid.UUID  `json:"assigned_user_id" validate:"required"`
	ChangedBy      *uuid.UUID `json:"changed_by"`
	QueueID        *uuid.UUID `json:"queue_id,omitempty"`
}

// ConversationTransferredEvent moves ownership between two agents.
type ConversationTransferredEvent struct {
	ConversationID uuid.UUID  `json:"conversation_id" validate:"required"`
	WorkspaceID    uuid.UUID  `json:"workspace_id" validate:"required"`
	FromUserID     uuid.UUID  `json:"from_user_id" validate:"required"`
	ToUserID       uuid.UUID  `json:"to_user_id" validate:"required"`
	ChangedBy      *uuid.UUID `json:"changed_by"`
}

type ConversationReleasedEvent struct {
	ConversationID uuid.UUID  `json:"conversation_id" validate:"required"`
	WorkspaceID    uuid.UUID  `json:"workspace_id" validate:"required"`
	PreviousUserID uuid.UUID  `json:"previous_user_id" validate:"required"`
	ChangedBy      *uuid.UUID `json:"changed_by"`
}

type ConversationClosedEvent struct {
	ConversationID uuid.UUID  `json:"conversation_id" validate:"required"`
	WorkspaceID    uuid.UUID  `json:"workspace_id" validate:"required"`
	AssignedUserID *uuid.UUID `json:"assigned_user_id"`
	ChangedBy      *uuid.UUID `json:"changed_by"`
	ClosedAt       time.Time  `json:"closed_at"`
}

// PipelineCardEvent serves both pipeline_card_opened and pipeline_card_linked.
type PipelineCardEvent struct {
	CardID         uuid.UUID              `json:"card_id" validate:"required"`
	WorkspaceID    uuid.UUID              `json:"workspace_id" validate:"required"`
	ContactID      uuid.UUID              `json:"contact_id" validate:"required"`
	PipelineID     uuid.UUID              `json:"pipeline_id" validate:"required"`
	StageID        *uuid.UUID             `json:"stage_id"`
	ConversationID *uuid.UUID             `json:"conversation_id"`
	Action         enums.EnsureCardAction `json:"action"`
}

type ConnectionSyncStatusChangedEvent struct {
	ConnectionID uuid.UUID               `json:"connection_id" validate:"required"`
	WorkspaceID  uuid.UUID               `json:"workspace_id" validate:"required"`
	Provider     enums.ProviderKind      `json:"provider"`
	InstanceName string                  `json:"instance_name"`
	Status       enums.HistorySyncStatus `json:"status" validate:"required"`
	ChangedAt    time.Time               `json:"changed_at"`
}
