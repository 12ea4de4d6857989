package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/chatdesk-backend/api/responses"
	pkgerrors "github.com/angelmondragon/chatdesk-backend/pkg/errors"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
)

// WorkspaceHeader selects the tenant a request acts on.
const WorkspaceHeader = "X-Workspace-ID"

// WorkspaceScope requires a workspace header the caller's token grants
// access to. Must run after Auth.
func WorkspaceScope(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(WorkspaceHeader))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "workspace context missing"))
				return
			}
			workspaceID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeForbidden, err, "invalid workspace id"))
				return
			}
			if !ClaimsFromContext(r.Context()).HasWorkspace(workspaceID) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "workspace access denied"))
				return
			}

			ctx := logg.WithWorkspaceID(WithWorkspaceID(r.Context(), workspaceID), workspaceID.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
