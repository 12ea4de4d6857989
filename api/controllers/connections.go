package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/chatdesk-backend/api/responses"
	"github.com/angelmondragon/chatdesk-backend/api/validators"
	"github.com/angelmondragon/chatdesk-backend/internal/webhooks"
	pkgerrors "github.com/angelmondragon/chatdesk-backend/pkg/errors"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
)

const maxInstanceNameLen = 128

type webhookConfigurer interface {
	ConfigureWebhook(ctx context.Context, workspaceID uuid.UUID, input webhooks.ConfigureInput) (*webhooks.ConfigureResult, error)
}

type configureWebhookRequest struct {
	ConnectionID uuid.UUID `json:"connectionId" validate:"required"`
	InstanceName *string   `json:"instanceName" validate:"omitempty,max=128"`
}

// ConfigureConnectionWebhook registers the canonical callback URL with the
// connection's provider.
func ConfigureConnectionWebhook(svc webhookConfigurer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook configurer unavailable"))
			return
		}
		scope, err := requestScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body configureWebhookRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := webhooks.ConfigureInput{ConnectionID: body.ConnectionID}
		if body.InstanceName != nil {
			if name := validators.SanitizeString(*body.InstanceName, maxInstanceNameLen); strings.TrimSpace(name) != "" {
				input.InstanceName = &name
			}
		}

		result, err := svc.ConfigureWebhook(r.Context(), scope.WorkspaceID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
