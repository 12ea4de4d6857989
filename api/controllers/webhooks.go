package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/chatdesk-backend/api/responses"
	"github.com/angelmondragon/chatdesk-backend/internal/webhooks"
	pkgerrors "github.com/angelmondragon/chatdesk-backend/pkg/errors"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
)

type webhookIngester interface {
	Ingest(ctx context.Context, providerKind string, raw []byte) (webhooks.IngestResult, error)
}

// webhookAck is the flat body returned to providers.
type webhookAck struct {
	Success   bool   `json:"success"`
	Accepted  bool   `json:"accepted"`
	EventType string `json:"eventType,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProviderWebhook ingests a callback from an Evolution or Z-API instance.
func ProviderWebhook(svc webhookIngester, maxPayloadBytes int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			writeWebhookError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body := r.Body
		if maxPayloadBytes > 0 {
			body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
		}
		payload, err := io.ReadAll(body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeWebhookError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payload too large"))
				return
			}
			writeWebhookError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		result, err := svc.Ingest(ctx, chi.URLParam(r, "provider"), payload)
		if err != nil {
			writeWebhookError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, webhookAck{
			Success:   true,
			Accepted:  result.Accepted,
			EventType: string(result.EventType),
		})
	}
}

func writeWebhookError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	typed, meta, msg := pkgerrors.Public(err)

	// Unknown instances are routine after a connection is deleted.
	if meta.HTTPStatus >= http.StatusInternalServerError {
		logg.Error(logg.WithFields(ctx, pkgerrors.LogFields(err)), "webhook.error", err)
	} else {
		logg.Info(logg.WithFields(ctx, map[string]any{"error_code": typed.Code(), "error": typed.Error()}), "webhook.rejected")
	}

	responses.WriteJSON(w, meta.HTTPStatus, webhookAck{Success: false, Accepted: false, Error: msg})
}
