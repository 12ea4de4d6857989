package distribution

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/chatdesk-backend/internal/assignments"
	"github.com/angelmondragon/chatdesk-backend/pkg/db/models"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/chatdesk-backend/pkg/errors"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	"github.com/angelmondragon/chatdesk-backend/pkg/metrics"
)

const maxCursorAttempts = 3

type claimer interface {
	Accept(ctx context.Context, input assignments.AcceptInput) (*assignments.AcceptResult, error)
}

type DistributeInput struct {
	ConversationID uuid.UUID
	WorkspaceID    uuid.UUID
	// QueueID overrides the connection's default queue.
	QueueID *uuid.UUID
}

type DistributeResult struct {
	Action           enums.DistributionAction `json:"action"`
	AssignedUserID   *uuid.UUID               `json:"assignedUserId,omitempty"`
	QueueID          *uuid.UUID               `json:"queueId,omitempty"`
	QueueName        string                   `json:"queueName,omitempty"`
	DistributionType enums.DistributionType   `json:"distributionType,omitempty"`
	Message          string                   `json:"message,omitempty"`
}

type ServiceParams struct {
	Repository  Repository
	Assignments claimer
	Metrics     *metrics.Domain
	Logger      *logger.Logger
}

type Service struct {
	repo        Repository
	assignments claimer
	metrics     *metrics.Domain
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "distribution repository required")
	}
	if params.Assignments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "assignment coordinator required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		repo:        params.Repository,
		assignments: params.Assignments,
		metrics:     params.Metrics,
		logg:        logg,
	}, nil
}

// Distribute picks an agent from the conversation's queue and claims the
// conversation for them. Skips are reported through Action, not errors.
func (s *Service) Distribute(ctx context.Context, input DistributeInput) (*DistributeResult, error) {
	conv, err := s.repo.FindConversation(ctx, input.WorkspaceID, input.ConversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "conversation not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load conversation")
	}
	if conv.Status != enums.ConversationStatusOpen {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "conversation is closed")
	}
	if conv.AssignedUserID != nil {
		return s.finish(ctx, conv, &DistributeResult{
			Action:         enums.DistributionActionAlreadyAssigned,
			AssignedUserID: conv.AssignedUserID,
			Message:        "conversation already has an owner",
		}), nil
	}

	queueID, err := s.resolveQueueID(ctx, conv, input.QueueID)
	if err != nil {
		return nil, err
	}
	if queueID == nil {
		return s.finish(ctx, conv, &DistributeResult{
			Action:  enums.DistributionActionNoQueue,
			Message: "no queue configured for this conversation",
		}), nil
	}

	queue, err := s.repo.FindQueue(ctx, input.WorkspaceID, *queueID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "queue not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load queue")
	}
	base := DistributeResult{QueueID: &queue.ID, QueueName: queue.Name, DistributionType: queue.DistributionType}

	if queue.DistributionType == enums.DistributionNone || !queue.IsActive {
		base.Action = enums.DistributionActionNoDistribution
		base.Message = "queue does not distribute automatically"
		return s.finish(ctx, conv, &base), nil
	}

	members, err := s.repo.ActiveMembers(ctx, queue.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load queue members")
	}
	if len(members) == 0 {
		base.Action = enums.DistributionActionNoDistribution
		base.Message = "queue has no active members"
		return s.finish(ctx, conv, &base), nil
	}

	var (
		candidate uuid.UUID
		advance   *cursorAdvance
	)
	switch queue.DistributionType {
	case enums.DistributionRoundRobin:
		candidate, advance, err = s.rotate(ctx, queue, members)
	case enums.DistributionLeastBusy:
		candidate, err = s.leastBusy(ctx, conv.WorkspaceID, members)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "unsupported distribution type "+string(queue.DistributionType))
	}
	if err != nil {
		return nil, err
	}

	claim, err := s.assignments.Accept(ctx, assignments.AcceptInput{
		ConversationID: conv.ID,
		WorkspaceID:    conv.WorkspaceID,
		AgentID:        candidate,
		QueueID:        &queue.ID,
	})
	if err != nil {
		s.rewind(ctx, queue, advance)
		return nil, err
	}
	if !claim.Claimed {
		s.rewind(ctx, queue, advance)
		base.Action = enums.DistributionActionAlreadyAssigned
		base.AssignedUserID = claim.CurrentOwner
		base.Message = "conversation was claimed concurrently"
		return s.finish(ctx, conv, &base), nil
	}

	base.Action = enums.DistributionActionAssigned
	base.AssignedUserID = &candidate
	return s.finish(ctx, conv, &base), nil
}

func (s *Service) resolveQueueID(ctx context.Context, conv *models.Conversation, explicit *uuid.UUID) (*uuid.UUID, error) {
	if explicit != nil && *explicit != uuid.Nil {
		return explicit, nil
	}
	if conv.ConnectionID == nil {
		return nil, nil
	}
	queueID, err := s.repo.DefaultQueueID(ctx, conv.WorkspaceID, *conv.ConnectionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load connection default queue")
	}
	return queueID, nil
}

// cursorAdvance records a cursor move made by this call so it can be undone
// when the claim does not land.
type cursorAdvance struct {
	previous *uuid.UUID
	version  int64
}

// rotate advances the queue cursor with a compare-and-set, re-reading the
// queue after a lost race. After maxCursorAttempts it settles for the last
// candidate without moving the cursor; exclusivity comes from Accept, not
// from the cursor.
func (s *Service) rotate(ctx context.Context, queue *models.Queue, members []models.QueueMember) (uuid.UUID, *cursorAdvance, error) {
	current := queue
	var candidate uuid.UUID
	for attempt := 1; attempt <= maxCursorAttempts; attempt++ {
		cursor, err := s.cursorMember(ctx, current, members)
		if err != nil {
			return uuid.Nil, nil, err
		}
		candidate = nextAfter(members, cursor)
		ok, err := s.repo.AdvanceCursor(ctx, current.ID, candidate, current.RotationVersion)
		if err != nil {
			return uuid.Nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advance queue cursor")
		}
		if ok {
			return candidate, &cursorAdvance{previous: current.LastAssignedUserID, version: current.RotationVersion + 1}, nil
		}
		reloaded, err := s.repo.FindQueue(ctx, current.WorkspaceID, current.ID)
		if err != nil {
			return uuid.Nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload queue")
		}
		current = reloaded
	}
	s.logg.Warn(s.logg.WithField(ctx, "queue_id", queue.ID.String()), "queue cursor contended; using last candidate")
	return candidate, nil, nil
}

// rewind puts the cursor back after a claim that did not land, unless another
// distribution has moved it since.
func (s *Service) rewind(ctx context.Context, queue *models.Queue, advance *cursorAdvance) {
	if advance == nil {
		return
	}
	ok, err := s.repo.RewindCursor(ctx, queue.ID, advance.previous, advance.version)
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"queue_id": queue.ID.String(),
			"error":    err.Error(),
		}), "queue cursor rewind failed")
		return
	}
	if !ok {
		s.logg.Debug(s.logg.WithField(ctx, "queue_id", queue.ID.String()), "queue cursor moved on; rewind skipped")
	}
}

// cursorMember resolves the cursor to its membership row. A deactivated
// member keeps its position so rotation resumes after it; a cursor no longer
// in the queue yields nil.
func (s *Service) cursorMember(ctx context.Context, queue *models.Queue, members []models.QueueMember) (*models.QueueMember, error) {
	if queue.LastAssignedUserID == nil {
		return nil, nil
	}
	for i := range members {
		if members[i].UserID == *queue.LastAssignedUserID {
			return &members[i], nil
		}
	}
	member, err := s.repo.FindMember(ctx, queue.ID, *queue.LastAssignedUserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cursor member")
	}
	return member, nil
}

// nextAfter returns the first member ordered after cursor by (position,
// user id), wrapping around. A nil cursor starts at the first member.
// members must be sorted the same way.
func nextAfter(members []models.QueueMember, cursor *models.QueueMember) uuid.UUID {
	if cursor != nil {
		for _, m := range members {
			if m.Position > cursor.Position ||
				(m.Position == cursor.Position && m.UserID.String() > cursor.UserID.String()) {
				return m.UserID
			}
		}
	}
	return members[0].UserID
}

func (s *Service) leastBusy(ctx context.Context, workspaceID uuid.UUID, members []models.QueueMember) (uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	counts, err := s.repo.OpenConversationCounts(ctx, workspaceID, ids)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count open conversations")
	}
	best := members[0].UserID
	for _, m := range members[1:] {
		// strict less keeps the lower position on ties
		if counts[m.UserID] < counts[best] {
			best = m.UserID
		}
	}
	return best, nil
}

func (s *Service) finish(ctx context.Context, conv *models.Conversation, res *DistributeResult) *DistributeResult {
	s.metrics.Distribution(string(res.Action), string(res.DistributionType))
	fields := map[string]any{
		"conversation_id": conv.ID.String(),
		"action":          res.Action,
	}
	if res.QueueID != nil {
		fields["queue_id"] = res.QueueID.String()
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "distribution evaluated")
	return res
}
