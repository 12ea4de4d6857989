package assignments

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
	"github.com/angelmondragon/chatdesk-backend/pkg/metrics"
	"github.com/angelmondragon/chatdesk-backend/pkg/outbox"
	"github.com/angelmondragon/chatdesk-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the only writer of Conversation.AssignedUserID.
type Service interface {
	Accept(ctx context.Context, input AcceptInput) (*AcceptResult, error)
	Transfer(ctx context.Context, input TransferInput) (*models.Conversation, error)
	Release(ctx context.Context, input ReleaseInput) (*models.Conversation, error)
	Close(ctx context.Context, input CloseInput) (*models.Conversation, error)
	History(ctx context.Context, workspaceID, conversationID uuid.UUID) ([]models.AssignmentHistory, error)
}

type AcceptInput struct {
	ConversationID uuid.UUID
	WorkspaceID    uuid.UUID
	AgentID        uuid.UUID
	// ChangedBy is the acting user; nil means the system (queue distribution).
	ChangedBy *uuid.UUID
	// QueueID is set when the claim comes from queue distribution.
	QueueID *uuid.UUID
}

type AcceptResult struct {
	Claimed      bool                 `json:"claimed"`
	Conversation *models.Conversation `json:"conversation"`
	CurrentOwner *uuid.UUID           `json:"currentOwner"`
}

type TransferInput struct {
	ConversationID uuid.UUID
	WorkspaceID    uuid.UUID
	// FromUserID defaults to the current owner when nil.
	FromUserID *uuid.UUID
	ToUserID   uuid.UUID
	ChangedBy  *uuid.UUID
}

type ReleaseInput struct {
	ConversationID uuid.UUID
	WorkspaceID    uuid.UUID
	ChangedBy      *uuid.UUID
}

type CloseInput struct {
	ConversationID uuid.UUID
	WorkspaceID    uuid.UUID
	ChangedBy      *uuid.UUID
}

type ServiceParams struct {
	Repository        Repository
	TransactionRunner txRunner
	Outbox            outboxPublisher
	Metrics           *metrics.Domain
	Logger            *logger.Logger
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	metrics *metrics.Domain
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "assignments repository required")
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
		repo:    params.Repository,
		tx:      params.TransactionRunner,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func conversationClosed() error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "conversation is closed")
}

// Accept claims an unassigned open conversation. Exactly one of any number
// of concurrent callers sees Claimed=true; the rest get the winner as
// CurrentOwner.
func (s *service) Accept(ctx context.Context, input AcceptInput) (*AcceptResult, error) {
	if input.ConversationID == uuid.Nil || input.WorkspaceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "conversation and workspace are required")
	}
	if input.AgentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id is required")
	}

	var result *AcceptResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()

		claimed, err := repo.ClaimIfUnassigned(ctx, input.WorkspaceID, input.ConversationID, input.AgentID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim conversation")
		}

		conv, err := s.loadConversation(ctx, repo, input.WorkspaceID, input.ConversationID)
		if err != nil {
			return err
		}
		if !claimed {
			if conv.Status != enums.ConversationStatusOpen {
				return conversationClosed()
			}
			result = &AcceptResult{Claimed: false, Conversation: conv, CurrentOwner: conv.AssignedUserID}
			return nil
		}

		agentID := input.AgentID
		if err := s.appendHistory(ctx, repo, conv, enums.AssignmentActionAccepted, nil, &agentID, input.ChangedBy, now); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, enums.EventConversationAssigned, conv, input.ChangedBy, now, payloads.ConversationAssignedEvent{
			ConversationID: conv.ID,
			WorkspaceID:    conv.WorkspaceID,
			AssignedUserID: agentID,
			ChangedBy:      input.ChangedBy,
			QueueID:        input.QueueID,
		}); err != nil {
			return err
		}
		result = &AcceptResult{Claimed: true, Conversation: conv, CurrentOwner: &agentID}
		return nil
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			s.metrics.AssignmentClaim(metrics.OutcomeNotOpen)
		}
		return nil, err
	}

	if result.Claimed {
		s.metrics.AssignmentClaim(metrics.OutcomeClaimed)
	} else {
		s.metrics.AssignmentClaim(metrics.OutcomeLost)
	}
	s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
		"conversation_id": input.ConversationID.String(),
		"agent_id":        input.AgentID.String(),
		"claimed":         result.Claimed,
	}), "conversation claim evaluated")
	return result, nil
}

func (s *service) Transfer(ctx context.Context, input TransferInput) (*models.Conversation, error) {
	if input.ToUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "to_user_id is required")
	}

	var out *models.Conversation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()

		current, err := s.loadOpenConversation(ctx, repo, input.WorkspaceID, input.ConversationID)
		if err != nil {
			return err
		}
		from := current.AssignedUserID
		if input.FromUserID != nil {
			from = input.FromUserID
		}
		if from == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "conversation is not assigned")
		}
		if *from == input.ToUserID {
			return pkgerrors.New(pkgerrors.CodeValidation, "conversation already belongs to that user")
		}

		moved, err := repo.TransferIfOwner(ctx, input.WorkspaceID, input.ConversationID, *from, input.ToUserID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "transfer conversation")
		}
		if !moved {
			return ownerChangedError(current.AssignedUserID)
		}

		conv, err := s.loadConversation(ctx, repo, input.WorkspaceID, input.ConversationID)
		if err != nil {
			return err
		}
		fromID, toID := *from, input.ToUserID
		if err := s.appendHistory(ctx, repo, conv, enums.AssignmentActionTransferred, &fromID, &toID, input.ChangedBy, now); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, enums.EventConversationTransferred, conv, input.ChangedBy, now, payloads.ConversationTransferredEvent{
			ConversationID: conv.ID,
			WorkspaceID:    conv.WorkspaceID,
			FromUserID:     fromID,
			ToUserID:       toID,
			ChangedBy:      input.ChangedBy,
		}); err != nil {
			return err
		}
		out = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) Release(ctx context.Context, input ReleaseInput) (*models.Conversation, error) {
	var out *models.Conversation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()

		current, err := s.loadOpenConversation(ctx, repo, input.WorkspaceID, input.ConversationID)
		if err != nil {
			return err
		}
		if current.AssignedUserID == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "conversation is not assigned")
		}
		owner := *current.AssignedUserID

		released, err := repo.ReleaseIfOwner(ctx, input.WorkspaceID, input.ConversationID, owner, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release conversation")
		}
		if !released {
			return ownerChangedError(&owner)
		}

		conv, err := s.loadConversation(ctx, repo, input.WorkspaceID, input.ConversationID)
		if err != nil {
			return err
		}
		if err := s.appendHistory(ctx, repo, conv, enums.AssignmentActionReleased, &owner, nil, input.ChangedBy, now); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, enums.EventConversationReleased, conv, input.ChangedBy, now, payloads.ConversationReleasedEvent{
			ConversationID: conv.ID,
			WorkspaceID:    conv.WorkspaceID,
			PreviousUserID: owner,
			ChangedBy:      input.ChangedBy,
		}); err != nil {
			return err
		}
		out = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) Close(ctx context.Context, input CloseInput) (*models.Conversation, error) {
	var out *models.Conversation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()

		closed, err := repo.CloseIfOpen(ctx, input.WorkspaceID, input.ConversationID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "close conversation")
		}
		conv, err := s.loadConversation(ctx, repo, input.WorkspaceID, input.ConversationID)
		if err != nil {
			return err
		}
		if !closed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "conversation already closed")
		}

		if err := s.appendHistory(ctx, repo, conv, enums.AssignmentActionClosed, conv.AssignedUserID, nil, input.ChangedBy, now); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, enums.EventConversationClosed, conv, input.ChangedBy, now, payloads.ConversationClosedEvent{
			ConversationID: conv.ID,
			WorkspaceID:    conv.WorkspaceID,
			AssignedUserID: conv.AssignedUserID,
			ChangedBy:      input.ChangedBy,
			ClosedAt:       now,
		}); err != nil {
			return err
		}
		out = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) History(ctx context.Context, workspaceID, conversationID uuid.UUID) ([]models.AssignmentHistory, error) {
	if _, err := s.loadConversation(ctx, s.repo, workspaceID, conversationID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListHistory(ctx, workspaceID, conversationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list assignment history")
	}
	return rows, nil
}

func (s *service) loadConversation(ctx context.Context, repo Repository, workspaceID, conversationID uuid.UUID) (*models.Conversation, error) {
	conv, err := repo.FindConversation(ctx, workspaceID, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "conversation not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load conversation")
	}
	return conv, nil
}

func (s *service) loadOpenConversation(ctx context.Context, repo Repository, workspaceID, conversationID uuid.UUID) (*models.Conversation, error) {
	conv, err := s.loadConversation(ctx, repo, workspaceID, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status != enums.ConversationStatusOpen {
		return nil, conversationClosed()
	}
	return conv, nil
}

func (s *service) appendHistory(ctx context.Context, repo Repository, conv *models.Conversation, action enums.AssignmentAction, from, to, changedBy *uuid.UUID, now time.Time) error {
	entry := &models.AssignmentHistory{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		WorkspaceID:    conv.WorkspaceID,
		Action:         action,
		FromUserID:     from,
		ToUserID:       to,
		ChangedBy:      changedBy,
		CreatedAt:      now,
	}
	if err := repo.InsertHistory(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append assignment history")
	}
	return nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, conv *models.Conversation, changedBy *uuid.UUID, now time.Time, data any) error {
	var actor *outbox.ActorRef
	if changedBy != nil {
		workspaceID := conv.WorkspaceID
		actor = &outbox.ActorRef{UserID: *changedBy, WorkspaceID: &workspaceID}
	}
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateConversation,
		AggregateID:   conv.ID,
		Actor:         actor,
		OccurredAt:    now,
		Data:          data,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit "+string(eventType))
	}
	return nil
}

func ownerChangedError(owner *uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "conversation owner changed").WithDetails(map[string]any{
		"alreadyAssigned": owner != nil,
		"assignedUserId":  owner,
	})
}
