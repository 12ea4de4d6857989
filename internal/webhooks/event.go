package webhooks

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
)

// ProviderEvent is the provider-agnostic shape forwarded to a workspace's
// automation target. It is never persisted.
type ProviderEvent struct {
	EventType    enums.ProviderEventType `json:"event_type"`
	Provider     enums.ProviderKind      `json:"provider"`
	InstanceName string                  `json:"instance_name"`
	WorkspaceID  uuid.UUID               `json:"workspace_id"`
	ConnectionID uuid.UUID               `json:"connection_id"`
	Timestamp    time.Time               `json:"timestamp"`
	RawPayload   json.RawMessage         `json:"raw_payload"`
}

// IngestResult is what the webhook endpoint acknowledges.
type IngestResult struct {
	Accepted    bool                    `json:"accepted"`
	EventType   enums.ProviderEventType `json:"eventType,omitempty"`
	Forwarded   bool                    `json:"-"`
	Duplicate   bool                    `json:"-"`
	SyncApplied bool                    `json:"-"`
}
