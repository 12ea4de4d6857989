package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateConversation OutboxAggregateType = "conversation"
	AggregatePipelineCard OutboxAggregateType = "pipeline_card"
	AggregateConnection   OutboxAggregateType = "connection"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateConversation,
	AggregatePipelineCard,
	AggregateConnection,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventConversationAssigned       OutboxEventType = "conversation_assigned"
	EventConversationTransferred    OutboxEventType = "conversation_transferred"
	EventConversationReleased       OutboxEventType = "conversation_released"
	EventConversationClosed         OutboxEventType = "conversation_closed"
	EventPipelineCardOpened         OutboxEventType = "pipeline_card_opened"
	EventPipelineCardLinked         OutboxEventType = "pipeline_card_linked"
	EventConnectionSyncStatusChange OutboxEventType = "connection_sync_status_changed"
)

var validEventTypes = []OutboxEventType{
	EventConversationAssigned,
	EventConversationTransferred,
	EventConversationReleased,
	EventConversationClosed,
	EventPipelineCardOpened,
	EventPipelineCardLinked,
	EventConnectionSyncStatusChange,
}

func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason explains why a row left the publish loop.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

// Aggregate returns the aggregate kind an event type belongs to, or "" for an
// unknown type.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	switch e {
	case EventConversationAssigned, EventConversationTransferred, EventConversationReleased, EventConversationClosed:
		return AggregateConversation
	case EventPipelineCardOpened, EventPipelineCardLinked:
		return AggregatePipelineCard
	case EventConnectionSyncStatusChange:
		return AggregateConnection
	}
	return ""
}
