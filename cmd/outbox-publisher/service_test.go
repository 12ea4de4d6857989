package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/chatdesk-backend/pkg/amqp"
	"github.com/angelmondragon/chatdesk-backend/pkg/config"
	"github.com/angelmondragon/chatdesk-backend/pkg/db/models"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	"github.com/angelmondragon/chatdesk-backend/pkg/metrics"
	"github.com/angelmondragon/chatdesk-backend/pkg/outbox"
	"github.com/angelmondragon/chatdesk-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/chatdesk-backend/pkg/outbox/registry"
	"github.com/angelmondragon/chatdesk-backend/pkg/pubsub"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			assignedEvent(t, "event-one", 0),
			assignedEvent(t, "event-two", 0),
		},
	}
	tr := &fakeTransport{errs: []error{errors.New("transient"), nil}}
	svc := newTestService(t, repo, tr, &fakeRegistry{resolved: assignedResolved()}, &fakeDLQRepo{}, nil)

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	require.Len(t, repo.failed, 1)
	require.Len(t, repo.published, 1)
	assert.Equal(t, repo.events[0].ID, repo.failed[0])
	assert.Equal(t, repo.events[1].ID, repo.published[0])
}

func TestServiceSendsAttributesAndTopic(t *testing.T) {
	event := assignedEvent(t, "evt", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	tr := &fakeTransport{}
	svc := newTestService(t, repo, tr, &fakeRegistry{resolved: assignedResolved()}, &fakeDLQRepo{}, nil)

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, tr.sent, 1)
	msg := tr.sent[0]
	assert.Equal(t, "chatdesk-assignment-events", msg.Topic)
	assert.Equal(t, event.ID.String(), msg.MessageID)
	assert.Equal(t, string(enums.EventConversationAssigned), msg.Attributes["event_type"])
	assert.Equal(t, event.AggregateID.String(), msg.Attributes["aggregate_id"])
	assert.True(t, bytes.Equal(event.Payload, msg.Body))
}

func TestServiceProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	event := assignedEvent(t, "nonretryable", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	reg := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlqRepo := &fakeDLQRepo{}
	svc := newTestService(t, repo, &fakeTransport{}, reg, dlqRepo, nil)

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	require.Len(t, dlqRepo.entries, 1)
	entry := dlqRepo.entries[0]
	assert.Equal(t, event.ID, entry.EventID)
	assert.True(t, bytes.Equal(entry.Payload, event.Payload))
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
}

func TestServiceTreatsNonRetryableSendAsTerminal(t *testing.T) {
	event := assignedEvent(t, "no-topic", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	tr := &fakeTransport{errs: []error{registry.NewNonRetryableError(errors.New("publisher not configured"))}}
	dlqRepo := &fakeDLQRepo{}
	svc := newTestService(t, repo, tr, &fakeRegistry{resolved: assignedResolved()}, dlqRepo, nil)

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlqRepo.entries, 1)
	assert.Empty(t, repo.failed)
}

func TestServiceProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := assignedEvent(t, "max-attempts", 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	tr := &fakeTransport{errs: []error{errors.New("transient")}}
	dlqRepo := &fakeDLQRepo{}
	reg := prometheus.NewRegistry()
	svc := newTestService(t, repo, tr, &fakeRegistry{resolved: assignedResolved()}, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})
	svc.metrics = metrics.NewOutboxMetrics(reg)

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	require.Len(t, dlqRepo.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlqRepo.entries[0].ErrorReason)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var dlqCount float64
	for _, mf := range mfs {
		if mf.GetName() == "chatdesk_outbox_dlq_total" {
			dlqCount = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), dlqCount)
}

func TestProcessBatchReportsIdleWhenEmpty(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakeTransport{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestAMQPTransportUsesTopicAsRoutingKey(t *testing.T) {
	pub := &fakeAMQPPublisher{}
	tr := newAMQPTransport(pub)
	err := tr.Send(context.Background(), outboundMessage{
		Topic:      "chatdesk-pipeline-events",
		MessageID:  "evt-9",
		Attributes: map[string]string{"event_type": "pipeline_card_opened"},
		Body:       []byte(`{}`),
	})
	require.NoError(t, err)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "chatdesk-pipeline-events", pub.msgs[0].RoutingKey)
	assert.Equal(t, "evt-9", pub.msgs[0].MessageID)
	assert.Equal(t, "amqp", tr.Name())
}

func TestPubSubTransportForwardsTopicAndAttributes(t *testing.T) {
	client := &fakePubSubClient{}
	tr := newPubSubTransport(client)
	err := tr.Send(context.Background(), outboundMessage{
		Topic:      "chatdesk-assignment-events",
		Attributes: map[string]string{"event_type": "conversation_assigned"},
		Body:       []byte(`{"ok":true}`),
	})
	require.NoError(t, err)
	require.Len(t, client.msgs, 1)
	assert.Equal(t, "chatdesk-assignment-events", client.msgs[0].Topic)
	assert.Equal(t, "conversation_assigned", client.msgs[0].Attributes["event_type"])
	assert.JSONEq(t, `{"ok":true}`, string(client.msgs[0].Data))

	client.err = errors.New("deadline exceeded")
	assert.Error(t, tr.Send(context.Background(), outboundMessage{Topic: "t"}))
}

func TestDrainStopsOnEmptyPoll(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{assignedEvent(t, "a", 0), assignedEvent(t, "b", 0)}}
	svc := newTestService(t, repo, &fakeTransport{}, &fakeRegistry{resolved: assignedResolved()}, &fakeDLQRepo{}, nil)

	batches, err := svc.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, batches)
	assert.Len(t, repo.published, 2)
	assert.Equal(t, 2, repo.fetches)
}

func TestDeadLetterUsesServiceClock(t *testing.T) {
	event := assignedEvent(t, "clock", 0)
	dlqRepo := &fakeDLQRepo{}
	svc := newTestService(t, &fakeRepo{events: []models.OutboxEvent{event}}, &fakeTransport{},
		&fakeRegistry{err: registry.NewNonRetryableError(errors.New("bad"))}, dlqRepo, nil)
	fixed := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlqRepo.entries, 1)
	assert.Equal(t, fixed, dlqRepo.entries[0].FailedAt)
	require.NotNil(t, dlqRepo.entries[0].ErrorMessage)
	assert.Equal(t, "bad", *dlqRepo.entries[0].ErrorMessage)
}

func TestNewServiceNamesMissingDependency(t *testing.T) {
	_, err := NewService(ServiceParams{Config: &config.Config{}, Logger: logger.Nop(), DB: &fakeDB{}})
	require.Error(t, err)
	assert.Equal(t, "transport is required", err.Error())
}

func TestNewServiceFallsBackToDefaults(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakeTransport{}, &fakeRegistry{}, &fakeDLQRepo{}, &config.OutboxConfig{})
	assert.Equal(t, defaultBatchSize, svc.batchSize)
	assert.Equal(t, defaultMaxAttempts, svc.maxAttempts)
	assert.Equal(t, defaultPollInterval, svc.pollInterval)
	assert.Equal(t, defaultPublishTimeout, svc.publishTimeout)
}

func TestNextBackoffCaps(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(500*time.Millisecond, 500*time.Millisecond, maxBackoff))
	assert.Equal(t, maxBackoff, nextBackoff(8*time.Second, time.Second, maxBackoff))
	assert.Equal(t, 2*time.Second, nextBackoff(0, time.Second, maxBackoff))
}

func newTestService(t *testing.T, repo outboxRepository, tr transport, reg registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	svc, err := NewService(ServiceParams{
		Config:        &config.Config{Outbox: outboxCfg},
		Logger:        logger.Nop(),
		DB:            &fakeDB{},
		Transport:     tr,
		Repository:    repo,
		Registry:      reg,
		DLQRepository: dlq,
	})
	require.NoError(t, err)
	return svc
}

func assignedEvent(tb testing.TB, eventID string, attempts int) models.OutboxEvent {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventConversationAssigned,
		AggregateType: enums.AggregateConversation,
		AggregateID:   uuid.New(),
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

func assignedResolved() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     enums.EventConversationAssigned,
			AggregateType: enums.AggregateConversation,
			Topic:         "chatdesk-assignment-events",
		},
		Payload: &payloads.ConversationAssignedEvent{},
	}
}

// fakeRepo hands out its events on the first fetch only.
type fakeRepo struct {
	events    []models.OutboxEvent
	fetches   int
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	f.fetches++
	if f.fetches > 1 {
		return nil, nil
	}
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakeTransport struct {
	errs []error
	sent []outboundMessage
}

func (f *fakeTransport) Name() string               { return "fake" }
func (f *fakeTransport) Ping(context.Context) error { return nil }

func (f *fakeTransport) Send(_ context.Context, msg outboundMessage) error {
	f.sent = append(f.sent, msg)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

type fakeAMQPPublisher struct {
	msgs []amqp.Message
}

func (f *fakeAMQPPublisher) Ping(context.Context) error { return nil }

func (f *fakeAMQPPublisher) Publish(_ context.Context, msg amqp.Message) error {
	f.msgs = append(f.msgs, msg)
	return nil
}

type fakePubSubClient struct {
	msgs []pubsub.Message
	err  error
}

func (f *fakePubSubClient) Ping(context.Context) error { return nil }

func (f *fakePubSubClient) Publish(_ context.Context, msg pubsub.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.msgs = append(f.msgs, msg)
	return "server-id", nil
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
