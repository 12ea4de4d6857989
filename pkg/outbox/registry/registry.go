// Package registry maps outbox event types to broker topics and decodes the
// stored envelope back into typed payloads for the publisher.
package registry

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/chatdesk-backend/pkg/config"
	"github.com/angelmondragon/chatdesk-backend/pkg/db/models"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	"github.com/angelmondragon/chatdesk-backend/pkg/outbox"
	"github.com/angelmondragon/chatdesk-backend/pkg/outbox/payloads"
)

// EventDescriptor routes one event type. The AMQP transport uses Topic as its
// routing key.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	newPayload    func() any
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that can never be published as stored. The
// publisher moves it to the DLQ without further attempts.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable outbox error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func permanent(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

type EventRegistry struct {
	entries  map[enums.OutboxEventType]EventDescriptor
	validate *validator.Validate
}

// NewEventRegistry routes every known event type to the topic of its
// aggregate.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topics := map[enums.OutboxAggregateType]string{
		enums.AggregateConversation: cfg.AssignmentsTopic,
		enums.AggregatePipelineCard: cfg.PipelineTopic,
		enums.AggregateConnection:   cfg.ConnectionsTopic,
	}
	var missing error
	for aggregate, topic := range topics {
		if topic == "" {
			missing = multierr.Append(missing, fmt.Errorf("topic for %s events is required", aggregate))
		}
	}
	if missing != nil {
		return nil, missing
	}

	r := &EventRegistry{
		entries:  make(map[enums.OutboxEventType]EventDescriptor),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	register[payloads.ConversationAssignedEvent](r, topics, enums.EventConversationAssigned)
	register[payloads.ConversationTransferredEvent](r, topics, enums.EventConversationTransferred)
	register[payloads.ConversationReleasedEvent](r, topics, enums.EventConversationReleased)
	register[payloads.ConversationClosedEvent](r, topics, enums.EventConversationClosed)
	register[payloads.PipelineCardEvent](r, topics, enums.EventPipelineCardOpened)
	register[payloads.PipelineCardEvent](r, topics, enums.EventPipelineCardLinked)
	register[payloads.ConnectionSyncStatusChangedEvent](r, topics, enums.EventConnectionSyncStatusChange)
	return r, nil
}

func register[T any](r *EventRegistry, topics map[enums.OutboxAggregateType]string, eventType enums.OutboxEventType) {
	aggregate := eventType.Aggregate()
	r.entries[eventType] = EventDescriptor{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topics[aggregate],
		newPayload:    func() any { return new(T) },
	}
}

// Descriptor reports how eventType is routed.
func (r *EventRegistry) Descriptor(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	desc, ok := r.entries[eventType]
	return desc, ok
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is a NonRetryableError: a malformed row stays malformed.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, permanent("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, permanent("%s expects aggregate %s, row has %s", event.EventType, desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, permanent("%s row has no aggregate_id", event.EventType)
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}

	payload := desc.newPayload()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, permanent("decode %s payload: %w", event.EventType, err)
	}
	if err := r.validate.Struct(payload); err != nil {
		return nil, permanent("invalid %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
