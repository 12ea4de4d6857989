package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/chatdesk-backend/pkg/db/dbtest"
	"github.com/angelmondragon/chatdesk-backend/pkg/db/models"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
)

func TestDeadLetterCopiesRow(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventConversationClosed,
		AggregateType: enums.AggregateConversation,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
		AttemptCount:  4,
	}
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	entry := DeadLetter(event, enums.OutboxDLQReasonMaxAttempts, errors.New("broker down"), at)
	assert.Equal(t, event.ID, entry.EventID)
	assert.Equal(t, event.AggregateID, entry.AggregateID)
	assert.Equal(t, 4, entry.AttemptCount)
	assert.Equal(t, at, entry.FailedAt)
	require.NotNil(t, entry.ErrorMessage)
	assert.Equal(t, "broker down", *entry.ErrorMessage)

	assert.Nil(t, DeadLetter(event, enums.OutboxDLQReasonMaxAttempts, nil, at).ErrorMessage)
}

func TestCountByReason(t *testing.T) {
	db := dbtest.Open(t, dbtest.OutboxDLQ)
	dlq := NewDLQRepository(db)

	reasons := []enums.OutboxDLQErrorReason{
		enums.OutboxDLQReasonMaxAttempts,
		enums.OutboxDLQReasonNonRetryable,
		enums.OutboxDLQReasonNonRetryable,
	}
	for _, reason := range reasons {
		event := models.OutboxEvent{
			ID:            uuid.New(),
			EventType:     enums.EventPipelineCardOpened,
			AggregateType: enums.AggregatePipelineCard,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
		}
		require.NoError(t, dlq.InsertTx(db, DeadLetter(event, reason, errors.New("x"), time.Now())))
	}

	counts, err := dlq.CountByReason(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[enums.OutboxDLQReasonMaxAttempts])
	assert.EqualValues(t, 2, counts[enums.OutboxDLQReasonNonRetryable])
}

func TestClipErrorKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", clipError("short"))

	msg := strings.Repeat("a", maxErrorLen-1) + "é tail"
	clipped := clipError(msg)
	assert.LessOrEqual(t, len(clipped), maxErrorLen)
	assert.True(t, utf8.ValidString(clipped))
	assert.Equal(t, strings.Repeat("a", maxErrorLen-1), clipped)
}

func TestRepositoryRejectsMissingTransaction(t *testing.T) {
	repo := NewRepository(nil)
	assert.ErrorIs(t, repo.MarkPublishedTx(nil, uuid.New()), errTxRequired)
	_, err := NewDLQRepository(nil).DeleteFailedBefore(nil, time.Now())
	assert.ErrorIs(t, err, errTxRequired)
}

func TestDecodeEnvelopeRequiresData(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"version":1,"eventId":"e-1","data":{"a":1}}`))
	require.NoError(t, err)
	assert.Equal(t, "e-1", env.EventID)
	assert.JSONEq(t, `{"a":1}`, string(env.Data))

	for _, raw := range []string{`{"eventId":"e-2"}`, `{"eventId":"e-3","data":null}`, `{"data":`} {
		_, err := DecodeEnvelope([]byte(raw))
		assert.Error(t, err, raw)
	}
}
