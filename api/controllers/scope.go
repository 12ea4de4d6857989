package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/chatdesk-backend/api/middleware"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/chatdesk-backend/pkg/errors"
)

// actorScope carries the caller identity resolved by the auth middleware.
type actorScope struct {
	WorkspaceID uuid.UUID
	ActorID     uuid.UUID
	Role        enums.WorkspaceRole
}

// managesOthers reports whether the caller may act on another user's behalf.
// User ids are issued by the identity provider and are not checked here.
func (s actorScope) managesOthers() bool {
	return s.Role == enums.RoleOwner || s.Role == enums.RoleAdmin
}

// onBehalfOf rejects callers without a managing role acting for target.
func (s actorScope) onBehalfOf(target uuid.UUID, field string) error {
	if target == s.ActorID || s.managesOthers() {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "acting for another user requires owner or admin role").
		WithDetails(map[string]any{"field": field})
}

func requestScope(r *http.Request) (actorScope, error) {
	workspaceID := middleware.WorkspaceIDFromContext(r.Context())
	if workspaceID == uuid.Nil {
		return actorScope{}, pkgerrors.New(pkgerrors.CodeForbidden, "workspace context missing")
	}
	actorID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
	if err != nil {
		return actorScope{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "actor missing")
	}
	return actorScope{
		WorkspaceID: workspaceID,
		ActorID:     actorID,
		Role:        enums.WorkspaceRole(middleware.RoleFromContext(r.Context())),
	}, nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name).WithDetails(map[string]any{"field": name})
	}
	return id, nil
}
