package connections

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/chatdesk-backend/pkg/db/models"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/chatdesk-backend/pkg/errors"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	"github.com/angelmondragon/chatdesk-backend/pkg/outbox"
	"github.com/angelmondragon/chatdesk-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns the mutable connection fields: history sync status and the
// last configured webhook.
type Service interface {
	Get(ctx context.Context, workspaceID, connectionID uuid.UUID) (*models.Connection, error)
	ApplySyncStatus(ctx context.Context, conn *models.Connection, target enums.HistorySyncStatus, eventTime time.Time) (bool, error)
	MarkWebhookConfigured(ctx context.Context, conn *models.Connection, webhookURL string, now time.Time) error
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	registry *Registry
	logg     *logger.Logger
}

// ServiceParams wires NewService. Registry is optional; when set, webhook
// reconfiguration evicts the cached instance.
type ServiceParams struct {
	Repository        Repository
	TransactionRunner txRunner
	Outbox            outboxPublisher
	Registry          *Registry
	Logger            *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "connections repository required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:     params.Repository,
		tx:       params.TransactionRunner,
		outbox:   params.Outbox,
		registry: params.Registry,
		logg:     logg,
	}, nil
}

func (s *service) Get(ctx context.Context, workspaceID, connectionID uuid.UUID) (*models.Connection, error) {
	conn, err := s.repo.FindByID(ctx, workspaceID, connectionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "connection not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load connection")
	}
	return conn, nil
}

// ApplySyncStatus is a no-op (false, nil) for same-state, disallowed or
// stale deliveries.
func (s *service) ApplySyncStatus(ctx context.Context, conn *models.Connection, target enums.HistorySyncStatus, eventTime time.Time) (bool, error) {
	if conn == nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "connection required")
	}
	if !target.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "invalid history sync status")
	}
	if eventTime.IsZero() {
		eventTime = time.Now()
	}
	eventTime = eventTime.UTC()

	applied := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).TransitionSyncStatus(ctx, syncTransition{
			ConnectionID: conn.ID,
			Target:       target,
			From:         target.AllowedPredecessors(),
			EventTime:    eventTime,
		})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		applied = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventConnectionSyncStatusChange,
			AggregateType: enums.AggregateConnection,
			AggregateID:   conn.ID,
			OccurredAt:    eventTime,
			Data: payloads.ConnectionSyncStatusChangedEvent{
				ConnectionID: conn.ID,
				WorkspaceID:  conn.WorkspaceID,
				Provider:     conn.Provider,
				InstanceName: conn.InstanceName,
				Status:       target,
				ChangedAt:    eventTime,
			},
		})
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update history sync status")
	}

	s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
		"connection_id": conn.ID.String(),
		"target_status": target,
		"applied":       applied,
	}), "history sync transition evaluated")
	return applied, nil
}

func (s *service) MarkWebhookConfigured(ctx context.Context, conn *models.Connection, webhookURL string, now time.Time) error {
	if err := s.repo.MarkWebhookConfigured(ctx, conn.ID, webhookURL, now.UTC()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist webhook configuration")
	}
	if s.registry != nil {
		s.registry.Invalidate(conn.Provider, conn.InstanceName)
	}
	return nil
}
