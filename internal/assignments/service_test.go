package assignments

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/chatdesk-backend/pkg/db"
	"github.com/angelmondragon/chatdesk-backend/pkg/db/dbtest"
	"github.com/angelmondragon/chatdesk-backend/pkg/db/models"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/chatdesk-backend/pkg/errors"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	"github.com/angelmondragon/chatdesk-backend/pkg/metrics"
	"github.com/angelmondragon/chatdesk-backend/pkg/outbox"
)

type fixture struct {
	db  *gorm.DB
	svc Service
	ws  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t, dbtest.Conversations, dbtest.AssignmentHistory, dbtest.OutboxEvents)
	svc, err := NewService(ServiceParams{
		Repository:        NewRepository(db),
		TransactionRunner: dbpkg.Wrap(db),
		Outbox:            outbox.NewService(outbox.NewRepository(db), logger.Nop()),
		Metrics:           metrics.NewDomain(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	return &fixture{db: db, svc: svc, ws: uuid.New()}
}

func (f *fixture) conversation(t *testing.T, owner *uuid.UUID, status enums.ConversationStatus) *models.Conversation {
	t.Helper()
	conv := &models.Conversation{
		ID:             uuid.New(),
		WorkspaceID:    f.ws,
		ContactID:      uuid.New(),
		AssignedUserID: owner,
		Status:         status,
	}
	require.NoError(t, f.db.Create(conv).Error)
	return conv
}

func (f *fixture) history(t *testing.T, conversationID uuid.UUID) []models.AssignmentHistory {
	t.Helper()
	rows, err := f.svc.History(context.Background(), f.ws, conversationID)
	require.NoError(t, err)
	return rows
}

func (f *fixture) outboxTypes(t *testing.T, conversationID uuid.UUID) []enums.OutboxEventType {
	t.Helper()
	rows, err := outbox.NewRepository(f.db).ListByAggregate(enums.AggregateConversation, conversationID)
	require.NoError(t, err)
	types := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		types = append(types, row.EventType)
	}
	return types
}

func TestAcceptClaimsUnassignedConversation(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, nil, enums.ConversationStatusOpen)
	agent, actor := uuid.New(), uuid.New()

	res, err := f.svc.Accept(context.Background(), AcceptInput{ConversationID: conv.ID, WorkspaceID: f.ws, AgentID: agent, ChangedBy: &actor})
	require.NoError(t, err)
	assert.True(t, res.Claimed)
	require.NotNil(t, res.Conversation.AssignedUserID)
	assert.Equal(t, agent, *res.Conversation.AssignedUserID)
	assert.Equal(t, agent, *res.CurrentOwner)

	rows := f.history(t, conv.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.AssignmentActionAccepted, rows[0].Action)
	assert.Nil(t, rows[0].FromUserID)
	assert.Equal(t, agent, *rows[0].ToUserID)
	assert.Equal(t, actor, *rows[0].ChangedBy)

	assert.Equal(t, []enums.OutboxEventType{enums.EventConversationAssigned}, f.outboxTypes(t, conv.ID))
}

func TestAcceptLosesToExistingOwner(t *testing.T) {
	f := newFixture(t)
	u1 := uuid.New()
	conv := f.conversation(t, &u1, enums.ConversationStatusOpen)

	res, err := f.svc.Accept(context.Background(), AcceptInput{ConversationID: conv.ID, WorkspaceID: f.ws, AgentID: uuid.New()})
	require.NoError(t, err)
	assert.False(t, res.Claimed)
	require.NotNil(t, res.CurrentOwner)
	assert.Equal(t, u1, *res.CurrentOwner)
	assert.Empty(t, f.history(t, conv.ID))
	assert.Empty(t, f.outboxTypes(t, conv.ID))
}

func TestAcceptConcurrentCallersHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, nil, enums.ConversationStatusOpen)

	const callers = 10
	agents := make([]uuid.UUID, callers)
	for i := range agents {
		agents[i] = uuid.New()
	}

	var wg sync.WaitGroup
	results := make(chan *AcceptResult, callers)
	for _, agent := range agents {
		wg.Add(1)
		go func(agent uuid.UUID) {
			defer wg.Done()
			res, err := f.svc.Accept(context.Background(), AcceptInput{ConversationID: conv.ID, WorkspaceID: f.ws, AgentID: agent})
			assert.NoError(t, err)
			results <- res
		}(agent)
	}
	wg.Wait()
	close(results)

	var winners []uuid.UUID
	owners := map[uuid.UUID]struct{}{}
	for res := range results {
		require.NotNil(t, res)
		if res.Claimed {
			winners = append(winners, *res.CurrentOwner)
		}
		owners[*res.CurrentOwner] = struct{}{}
	}
	require.Len(t, winners, 1)
	assert.Len(t, owners, 1, "losers must report the winner")
	assert.Len(t, f.history(t, conv.ID), 1)
	assert.Len(t, f.outboxTypes(t, conv.ID), 1)
}

func TestAcceptRejectsClosedAndForeignConversations(t *testing.T) {
	f := newFixture(t)
	closed := f.conversation(t, nil, enums.ConversationStatusClosed)

	_, err := f.svc.Accept(context.Background(), AcceptInput{ConversationID: closed.ID, WorkspaceID: f.ws, AgentID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	open := f.conversation(t, nil, enums.ConversationStatusOpen)
	_, err = f.svc.Accept(context.Background(), AcceptInput{ConversationID: open.ID, WorkspaceID: uuid.New(), AgentID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.Accept(context.Background(), AcceptInput{ConversationID: open.ID, WorkspaceID: f.ws})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestTransferReleaseCloseLifecycle(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, nil, enums.ConversationStatusOpen)
	a, b := uuid.New(), uuid.New()
	ctx := context.Background()

	_, err := f.svc.Accept(ctx, AcceptInput{ConversationID: conv.ID, WorkspaceID: f.ws, AgentID: a})
	require.NoError(t, err)

	moved, err := f.svc.Transfer(ctx, TransferInput{ConversationID: conv.ID, WorkspaceID: f.ws, FromUserID: &a, ToUserID: b, ChangedBy: &a})
	require.NoError(t, err)
	assert.Equal(t, b, *moved.AssignedUserID)

	released, err := f.svc.Release(ctx, ReleaseInput{ConversationID: conv.ID, WorkspaceID: f.ws, ChangedBy: &b})
	require.NoError(t, err)
	assert.Nil(t, released.AssignedUserID)

	closed, err := f.svc.Close(ctx, CloseInput{ConversationID: conv.ID, WorkspaceID: f.ws})
	require.NoError(t, err)
	assert.Equal(t, enums.ConversationStatusClosed, closed.Status)
	assert.NotNil(t, closed.ClosedAt)

	rows := f.history(t, conv.ID)
	require.Len(t, rows, 4)
	assert.Equal(t, enums.AssignmentActionAccepted, rows[0].Action)
	assert.Equal(t, enums.AssignmentActionTransferred, rows[1].Action)
	assert.Equal(t, a, *rows[1].FromUserID)
	assert.Equal(t, b, *rows[1].ToUserID)
	assert.Equal(t, enums.AssignmentActionReleased, rows[2].Action)
	assert.Equal(t, b, *rows[2].FromUserID)
	assert.Nil(t, rows[2].ToUserID)
	assert.Equal(t, enums.AssignmentActionClosed, rows[3].Action)

	assert.ElementsMatch(t, []enums.OutboxEventType{
		enums.EventConversationAssigned,
		enums.EventConversationTransferred,
		enums.EventConversationReleased,
		enums.EventConversationClosed,
	}, f.outboxTypes(t, conv.ID))

	_, err = f.svc.Accept(ctx, AcceptInput{ConversationID: conv.ID, WorkspaceID: f.ws, AgentID: a})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	_, err = f.svc.Close(ctx, CloseInput{ConversationID: conv.ID, WorkspaceID: f.ws})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestTransferFromStaleOwnerConflicts(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	conv := f.conversation(t, &owner, enums.ConversationStatusOpen)
	stale := uuid.New()

	_, err := f.svc.Transfer(context.Background(), TransferInput{ConversationID: conv.ID, WorkspaceID: f.ws, FromUserID: &stale, ToUserID: uuid.New()})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, details["alreadyAssigned"])
	assert.Equal(t, &owner, details["assignedUserId"])
	assert.Empty(t, f.history(t, conv.ID))
}

func TestReleaseUnassignedIsStateConflict(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, nil, enums.ConversationStatusOpen)

	_, err := f.svc.Release(context.Background(), ReleaseInput{ConversationID: conv.ID, WorkspaceID: f.ws})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestHistoryUnknownConversation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.History(context.Background(), f.ws, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
