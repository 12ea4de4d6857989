package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := map[Code]Metadata{
		CodeValidation:        {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true, ExposeMessage: true},
		CodeUnauthorized:      {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required", ExposeMessage: true},
		CodeDuplicateOpenCard: {HTTPStatus: http.StatusConflict, PublicMessage: "an open card already exists for this contact", DetailsAllowed: true, ExposeMessage: true},
		CodeStateConflict:     {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "state transition disallowed", DetailsAllowed: true, ExposeMessage: true},
		CodeRateLimit:         {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "rate limit exceeded", DetailsAllowed: true, ExposeMessage: true},
		CodeInternal:          {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error", Retryable: true},
		CodeDependency:        {HTTPStatus: http.StatusServiceUnavailable, PublicMessage: "dependency unavailable", Retryable: true, DetailsAllowed: true},
	}
	for code, want := range tests {
		assert.Equal(t, want, MetadataFor(code), "%s", code)
	}
	assert.Equal(t, MetadataFor(CodeInternal), MetadataFor("SOMETHING_UNKNOWN"))
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	assert.Equal(t, CodeValidation, base.Code())
	assert.Equal(t, "missing foo", base.Message())
	assert.Nil(t, base.Details())
	assert.Equal(t, map[string]any{"field": "foo"}, base.WithDetails(map[string]any{"field": "foo"}).Details())
	assert.Equal(t, "VALIDATION_ERROR: missing foo", base.Error())

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "CONFLICT: ctx: boom", wrapped.Error())
	assert.Nil(t, Wrap(CodeConflict, nil, "ctx").Unwrap())

	assert.Equal(t, "queue 7 not found", Newf(CodeNotFound, "queue %d not found", 7).Message())
}

func TestNilErrorAccessors(t *testing.T) {
	var e *Error
	assert.Equal(t, CodeInternal, e.Code())
	assert.Empty(t, e.Message())
	assert.Empty(t, e.Error())
	assert.Nil(t, e.WithDetails("x"))
}

func TestSentinelMatchingByCode(t *testing.T) {
	err := fmt.Errorf("load queue: %w", New(CodeNotFound, "queue missing"))
	assert.ErrorIs(t, err, New(CodeNotFound, ""))
	assert.NotErrorIs(t, err, New(CodeConflict, ""))
	assert.NotErrorIs(t, err, New(CodeNotFound, "other message"))
}

func TestIsCodeFollowsWrappedChain(t *testing.T) {
	wrapped := fmt.Errorf("ensure card: %w", New(CodeDuplicateOpenCard, "duplicate"))
	assert.True(t, IsCode(wrapped, CodeDuplicateOpenCard))
	assert.False(t, IsCode(wrapped, CodeConflict))
	assert.False(t, IsCode(stdErrors.New("plain"), CodeInternal))

	require.NotNil(t, As(wrapped))
	assert.Nil(t, As(nil))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.True(t, Retryable(stdErrors.New("socket closed")))
	assert.True(t, Retryable(New(CodeDependency, "redis timeout")))
	assert.False(t, Retryable(New(CodeValidation, "bad")))
}

func TestLogFieldsExtractsPostgresDiagnostics(t *testing.T) {
	pgErr := &pq.Error{Code: "23505", Constraint: "ux_pipeline_cards_open_contact_pipeline", Table: "pipeline_cards"}
	fields := LogFields(Wrap(CodeInternal, pgErr, "insert card"))

	assert.Equal(t, string(CodeInternal), fields["error_code"])
	assert.Equal(t, "23505", fields["pg_code"])
	assert.Equal(t, "ux_pipeline_cards_open_contact_pipeline", fields["pg_constraint"])
	assert.NotContains(t, fields, "pg_detail")
	assert.Len(t, fields["error_chain"], 2)
}

func TestPublicHidesInternalMessages(t *testing.T) {
	typed, meta, msg := Public(stdErrors.New("pq: relation does not exist"))
	assert.Equal(t, CodeInternal, typed.Code())
	assert.Equal(t, http.StatusInternalServerError, meta.HTTPStatus)
	assert.Equal(t, "internal server error", msg)

	_, _, msg = Public(New(CodeStateConflict, "conversation is not open"))
	assert.Equal(t, "conversation is not open", msg)

	_, _, msg = Public(New(CodeDependency, "redis timeout"))
	assert.Equal(t, "dependency unavailable", msg)
}
