package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/chatdesk-backend/pkg/db/models"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/chatdesk-backend/pkg/errors"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	"github.com/angelmondragon/chatdesk-backend/pkg/metrics"
)

type connectionResolver interface {
	Resolve(ctx context.Context, provider enums.ProviderKind, instanceName string) (*models.Connection, error)
}

type syncStatusWriter interface {
	ApplySyncStatus(ctx context.Context, conn *models.Connection, target enums.HistorySyncStatus, eventTime time.Time) (bool, error)
}

type workspaceReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error)
}

type deduper interface {
	CheckAndMark(ctx context.Context, scope, id string) (bool, error)
}

type ServiceParams struct {
	Connections connectionResolver
	SyncStatus  syncStatusWriter
	Workspaces  workspaceReader
	Forwarder   Forwarder
	// Dedupe is optional; without it redelivered messages are forwarded again.
	Dedupe  deduper
	Metrics *metrics.Domain
	Logger  *logger.Logger
}

// Service normalizes provider callbacks into ProviderEvents.
type Service struct {
	connections connectionResolver
	syncStatus  syncStatusWriter
	workspaces  workspaceReader
	forwarder   Forwarder
	dedupe      deduper
	metrics     *metrics.Domain
	logg        *logger.Logger
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Connections == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "connection registry required")
	}
	if params.SyncStatus == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "sync status writer required")
	}
	if params.Workspaces == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "workspace reader required")
	}
	if params.Forwarder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "forwarder required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		connections: params.Connections,
		syncStatus:  params.SyncStatus,
		workspaces:  params.Workspaces,
		forwarder:   params.Forwarder,
		dedupe:      params.Dedupe,
		metrics:     params.Metrics,
		logg:        logg,
		now:         time.Now,
	}, nil
}

// Ingest validates and normalizes one callback. It returns once the event is
// classified and any sync status change is stored; forwarding happens in
// the background.
func (s *Service) Ingest(ctx context.Context, providerKind string, raw []byte) (IngestResult, error) {
	provider, err := enums.ParseProviderKind(providerKind)
	if err != nil {
		return IngestResult{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown provider")
	}

	var body payload
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		s.metrics.WebhookEvent(string(provider), "", metrics.OutcomeRejected)
		return IngestResult{}, pkgerrors.New(pkgerrors.CodeValidation, "payload must be a JSON object")
	}

	instance := instanceName(provider, body)
	if instance == "" {
		s.metrics.WebhookEvent(string(provider), "", metrics.OutcomeRejected)
		return IngestResult{}, pkgerrors.New(pkgerrors.CodeValidation, "instance identifier missing")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"provider":      provider,
		"instance_name": instance,
	})

	conn, err := s.connections.Resolve(ctx, provider, instance)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.metrics.WebhookEvent(string(provider), "", metrics.OutcomeUnknown)
			s.logg.Info(logCtx, "webhook for unknown instance ignored")
			return IngestResult{Accepted: false}, err
		}
		s.logg.Error(logCtx, "resolve connection", err)
		return IngestResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve connection")
	}

	eventType := classify(provider, body)
	event := ProviderEvent{
		EventType:    eventType,
		Provider:     provider,
		InstanceName: instance,
		WorkspaceID:  conn.WorkspaceID,
		ConnectionID: conn.ID,
		Timestamp:    eventTime(provider, body, s.now()),
		RawPayload:   compact(raw),
	}
	result := IngestResult{Accepted: true, EventType: eventType}
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"event_type":    eventType,
		"connection_id": conn.ID.String(),
		"workspace_id":  conn.WorkspaceID.String(),
	})

	if target, ok := syncTarget(provider, eventType, body); ok {
		applied, err := s.syncStatus.ApplySyncStatus(ctx, conn, target, event.Timestamp)
		if err != nil {
			s.logg.Error(logCtx, "apply history sync status", err)
			return IngestResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "apply history sync status")
		}
		result.SyncApplied = applied
	}

	if eventType == enums.EventTypeMessageReceived && s.isDuplicate(logCtx, provider, body) {
		result.Duplicate = true
		s.metrics.WebhookEvent(string(provider), string(eventType), metrics.OutcomeDuplicate)
		s.logg.Debug(logCtx, "duplicate message delivery skipped")
		return result, nil
	}

	if target := s.automationTarget(logCtx, conn.WorkspaceID); target != "" {
		s.forwarder.Forward(target, event)
		result.Forwarded = true
	}

	s.metrics.WebhookEvent(string(provider), string(eventType), metrics.OutcomeAccepted)
	return result, nil
}

func (s *Service) isDuplicate(ctx context.Context, provider enums.ProviderKind, body payload) bool {
	if s.dedupe == nil {
		return false
	}
	id := messageID(provider, body)
	if id == "" {
		return false
	}
	seen, err := s.dedupe.CheckAndMark(ctx, "webhook:"+string(provider), id)
	if err != nil {
		// Redis being down must not stop ingestion.
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "webhook dedupe unavailable")
		return false
	}
	return seen
}

func (s *Service) automationTarget(ctx context.Context, workspaceID uuid.UUID) string {
	ws, err := s.workspaces.FindByID(ctx, workspaceID)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "workspace lookup failed; event not forwarded")
		return ""
	}
	if ws.AutomationWebhookURL == nil {
		return ""
	}
	return strings.TrimSpace(*ws.AutomationWebhookURL)
}

func compact(raw []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return json.RawMessage(raw)
	}
	return json.RawMessage(buf.Bytes())
}
