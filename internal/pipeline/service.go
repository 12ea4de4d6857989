package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/chatdesk-backend/pkg/db"
	"github.com/angelmondragon/chatdesk-backend/pkg/db/models"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/chatdesk-backend/pkg/errors"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	"github.com/angelmondragon/chatdesk-backend/pkg/metrics"
	"github.com/angelmondragon/chatdesk-backend/pkg/outbox"
	"github.com/angelmondragon/chatdesk-backend/pkg/outbox/payloads"
)

// OpenCardConstraint is the partial unique index guarding open cards.
const OpenCardConstraint = "ux_pipeline_cards_open_contact_pipeline"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type workspaceReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error)
}

type EnsureCardInput struct {
	ContactID      uuid.UUID
	ConversationID uuid.UUID
	WorkspaceID    uuid.UUID
	// PipelineID defaults to the workspace's default pipeline.
	PipelineID *uuid.UUID
	ActorID    *uuid.UUID
}

type EnsureCardResult struct {
	Action enums.EnsureCardAction `json:"action"`
	Card   *models.PipelineCard   `json:"card"`
}

type ServiceParams struct {
	Repository        Repository
	Workspaces        workspaceReader
	TransactionRunner txRunner
	Outbox            outboxPublisher
	Metrics           *metrics.Domain
	Logger            *logger.Logger
}

type Service struct {
	repo       Repository
	workspaces workspaceReader
	tx         txRunner
	outbox     outboxPublisher
	metrics    *metrics.Domain
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "pipeline repository required")
	}
	if params.Workspaces == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "workspace reader required")
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
	return &Service{
		repo:       params.Repository,
		workspaces: params.Workspaces,
		tx:         params.TransactionRunner,
		outbox:     params.Outbox,
		metrics:    params.Metrics,
		logg:       logg,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// EnsureCard links the conversation to the contact's open card in the
// pipeline, opening one at the first stage when none exists.
func (s *Service) EnsureCard(ctx context.Context, input EnsureCardInput) (*EnsureCardResult, error) {
	if input.ContactID == uuid.Nil || input.ConversationID == uuid.Nil || input.WorkspaceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "contactId, conversationId and workspaceId are required")
	}
	pipelineID, err := s.resolvePipelineID(ctx, input)
	if err != nil {
		return nil, err
	}

	var result *EnsureCardResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()

		if _, err := repo.FindPipeline(ctx, input.WorkspaceID, pipelineID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "pipeline not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load pipeline")
		}
		if err := checkConversation(ctx, repo, input); err != nil {
			return err
		}

		card, err := repo.FindOpenCard(ctx, input.ContactID, pipelineID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load open card")
		}

		action := enums.EnsureCardUpdated
		eventType := enums.EventPipelineCardLinked
		if card != nil {
			if err := repo.AttachConversation(ctx, card.ID, input.ConversationID, now); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "attach conversation")
			}
			conversationID := input.ConversationID
			card.ConversationID = &conversationID
			card.UpdatedAt = now
		} else {
			stage, err := repo.FirstStage(ctx, pipelineID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load first stage")
			}
			conversationID := input.ConversationID
			card = &models.PipelineCard{
				ID:             uuid.New(),
				WorkspaceID:    input.WorkspaceID,
				ContactID:      input.ContactID,
				PipelineID:     pipelineID,
				ConversationID: &conversationID,
				Status:         enums.PipelineCardOpen,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if stage != nil {
				card.StageID = &stage.ID
			}
			if err := repo.InsertCard(ctx, card); err != nil {
				if dbpkg.IsUniqueViolation(err, OpenCardConstraint) {
					return pkgerrors.Wrap(pkgerrors.CodeDuplicateOpenCard, err, "contact already has an open card in this pipeline").
						WithDetails(map[string]any{"contactId": input.ContactID, "pipelineId": pipelineID})
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert card")
			}
			action = enums.EnsureCardCreated
			eventType = enums.EventPipelineCardOpened
		}

		var actor *outbox.ActorRef
		if input.ActorID != nil {
			workspaceID := input.WorkspaceID
			actor = &outbox.ActorRef{UserID: *input.ActorID, WorkspaceID: &workspaceID}
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregatePipelineCard,
			AggregateID:   card.ID,
			Actor:         actor,
			OccurredAt:    now,
			Data: payloads.PipelineCardEvent{
				CardID:         card.ID,
				WorkspaceID:    card.WorkspaceID,
				ContactID:      card.ContactID,
				PipelineID:     card.PipelineID,
				StageID:        card.StageID,
				ConversationID: card.ConversationID,
				Action:         action,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit "+string(eventType))
		}

		result = &EnsureCardResult{Action: action, Card: card}
		return nil
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeDuplicateOpenCard) {
			s.metrics.PipelineCard(metrics.OutcomeDuplicate)
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"contact_id":  input.ContactID.String(),
				"pipeline_id": pipelineID.String(),
			}), "concurrent open card insert rejected")
		}
		return nil, err
	}

	s.metrics.PipelineCard(string(result.Action))
	return result, nil
}

// checkConversation keeps cards from linking to a conversation outside the
// workspace or belonging to another contact.
func checkConversation(ctx context.Context, repo Repository, input EnsureCardInput) error {
	conv, err := repo.FindConversation(ctx, input.WorkspaceID, input.ConversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "conversation not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load conversation")
	}
	if conv.ContactID != input.ContactID {
		return pkgerrors.New(pkgerrors.CodeValidation, "conversation belongs to a different contact").
			WithDetails(map[string]any{"field": "contactId"})
	}
	return nil
}

func (s *Service) resolvePipelineID(ctx context.Context, input EnsureCardInput) (uuid.UUID, error) {
	if input.PipelineID != nil && *input.PipelineID != uuid.Nil {
		return *input.PipelineID, nil
	}
	ws, err := s.workspaces.FindByID(ctx, input.WorkspaceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "workspace not found")
		}
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load workspace")
	}
	if ws.DefaultPipelineID == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "pipelineId is required: workspace has no default pipeline")
	}
	return *ws.DefaultPipelineID, nil
}
