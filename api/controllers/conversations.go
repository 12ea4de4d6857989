package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/chatdesk-backend/api/responses"
	"github.com/angelmondragon/chatdesk-backend/api/validators"
	"github.com/angelmondragon/chatdesk-backend/internal/assignments"
	"github.com/angelmondragon/chatdesk-backend/internal/distribution"
	pkgerrors "github.com/angelmondragon/chatdesk-backend/pkg/errors"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
)

type distributor interface {
	Distribute(ctx context.Context, input distribution.DistributeInput) (*distribution.DistributeResult, error)
}

type acceptRequest struct {
	ConversationID uuid.UUID  `json:"conversation_id" validate:"required"`
	AgentID        *uuid.UUID `json:"agent_id"`
}

type distributeRequest struct {
	ConversationID uuid.UUID  `json:"conversation_id" validate:"required"`
	QueueID        *uuid.UUID `json:"queue_id"`
}

type transferRequest struct {
	ToUserID   uuid.UUID  `json:"to_user_id" validate:"required"`
	FromUserID *uuid.UUID `json:"from_user_id"`
}

// AcceptConversation claims a conversation for the caller, or for agent_id
// when an owner or admin assigns on someone's behalf. Losing the race is a 409
// naming the current owner.
func AcceptConversation(svc assignments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignments service unavailable"))
			return
		}
		scope, err := requestScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body acceptRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		agentID := scope.ActorID
		if body.AgentID != nil && *body.AgentID != uuid.Nil {
			agentID = *body.AgentID
		}
		if err := scope.onBehalfOf(agentID, "agent_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor := scope.ActorID

		result, err := svc.Accept(r.Context(), assignments.AcceptInput{
			ConversationID: body.ConversationID,
			WorkspaceID:    scope.WorkspaceID,
			AgentID:        agentID,
			ChangedBy:      &actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !result.Claimed {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeConflict, "conversation already assigned").WithDetails(map[string]any{
				"alreadyAssigned": true,
				"assignedUserId":  result.CurrentOwner,
			}))
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// DistributeConversation routes a conversation through its queue.
func DistributeConversation(svc distributor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "distribution service unavailable"))
			return
		}
		scope, err := requestScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body distributeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Distribute(r.Context(), distribution.DistributeInput{
			ConversationID: body.ConversationID,
			WorkspaceID:    scope.WorkspaceID,
			QueueID:        body.QueueID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// TransferConversation hands a conversation to to_user_id. Agents may only
// hand off conversations they own; owners and admins may move any of them.
func TransferConversation(svc assignments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignments service unavailable"))
			return
		}
		scope, err := requestScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		conversationID, err := uuidParam(r, "conversationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body transferRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if !scope.managesOthers() {
			if body.FromUserID != nil {
				if err := scope.onBehalfOf(*body.FromUserID, "from_user_id"); err != nil {
					responses.WriteError(r.Context(), logg, w, err)
					return
				}
			}
			owner := scope.ActorID
			body.FromUserID = &owner
		}

		actor := scope.ActorID
		conv, err := svc.Transfer(r.Context(), assignments.TransferInput{
			ConversationID: conversationID,
			WorkspaceID:    scope.WorkspaceID,
			FromUserID:     body.FromUserID,
			ToUserID:       body.ToUserID,
			ChangedBy:      &actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, conv)
	}
}

func ReleaseConversation(svc assignments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignments service unavailable"))
			return
		}
		scope, err := requestScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		conversationID, err := uuidParam(r, "conversationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor := scope.ActorID
		conv, err := svc.Release(r.Context(), assignments.ReleaseInput{
			ConversationID: conversationID,
			WorkspaceID:    scope.WorkspaceID,
			ChangedBy:      &actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, conv)
	}
}

func CloseConversation(svc assignments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignments service unavailable"))
			return
		}
		scope, err := requestScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		conversationID, err := uuidParam(r, "conversationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor := scope.ActorID
		conv, err := svc.Close(r.Context(), assignments.CloseInput{
			ConversationID: conversationID,
			WorkspaceID:    scope.WorkspaceID,
			ChangedBy:      &actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, conv)
	}
}

// historyLimit bounds ?limit on the assignment history; the newest entries are
// kept.
var historyLimit = validators.IntRange{Default: 100, Min: 1, Max: 500}

// ConversationAssignments lists the assignment history, oldest first.
func ConversationAssignments(svc assignments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignments service unavailable"))
			return
		}
		scope, err := requestScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		conversationID, err := uuidParam(r, "conversationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.QueryInt(r, "limit", historyLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		history, err := svc.History(r.Context(), scope.WorkspaceID, conversationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if len(history) > limit {
			history = history[len(history)-limit:]
		}
		responses.WriteSuccess(w, history)
	}
}
