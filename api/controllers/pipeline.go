package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/chatdesk-backend/api/responses"
	"github.com/angelmondragon/chatdesk-backend/api/validators"
	"github.com/angelmondragon/chatdesk-backend/internal/pipeline"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/chatdesk-backend/pkg/errors"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
)

type cardEnsurer interface {
	EnsureCard(ctx context.Context, input pipeline.EnsureCardInput) (*pipeline.EnsureCardResult, error)
}

type ensureCardRequest struct {
	ContactID      uuid.UUID  `json:"contactId" validate:"required"`
	ConversationID uuid.UUID  `json:"conversationId" validate:"required"`
	WorkspaceID    *uuid.UUID `json:"workspaceId"`
	PipelineID     *uuid.UUID `json:"pipelineId"`
}

// EnsurePipelineCard opens a card for a contact or links the conversation to
// the card already open. A body workspaceId must match the scoped workspace.
func EnsurePipelineCard(svc cardEnsurer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pipeline service unavailable"))
			return
		}
		scope, err := requestScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body ensureCardRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.WorkspaceID != nil && *body.WorkspaceID != scope.WorkspaceID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "workspace mismatch"))
			return
		}

		actor := scope.ActorID
		result, err := svc.EnsureCard(r.Context(), pipeline.EnsureCardInput{
			ContactID:      body.ContactID,
			ConversationID: body.ConversationID,
			WorkspaceID:    scope.WorkspaceID,
			PipelineID:     body.PipelineID,
			ActorID:        &actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if result.Action == enums.EnsureCardCreated {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}
