package webhooks

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/chatdesk-backend/pkg/db/models"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/chatdesk-backend/pkg/errors"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	"github.com/angelmondragon/chatdesk-backend/pkg/providers"
)

type connectionStore interface {
	Get(ctx context.Context, workspaceID, connectionID uuid.UUID) (*models.Connection, error)
	MarkWebhookConfigured(ctx context.Context, conn *models.Connection, webhookURL string, now time.Time) error
}

type configurerRegistry interface {
	For(kind enums.ProviderKind) (providers.WebhookConfigurer, error)
}

type ConfigureInput struct {
	ConnectionID uuid.UUID
	InstanceName *string
}

type ConfigureResult struct {
	Success    bool                   `json:"success"`
	WebhookURL string                 `json:"webhookUrl"`
	Results    []providers.StepResult `json:"results"`
}

type ConfigurerParams struct {
	Connections connectionStore
	Providers   configurerRegistry
	// CallbackURL builds the public callback URL for a provider name.
	CallbackURL func(provider string) string
	Logger      *logger.Logger
}

// Configurer pushes the canonical callback configuration to a provider.
// Every call sends the full desired state, so repeating it is harmless.
type Configurer struct {
	connections connectionStore
	providers   configurerRegistry
	callbackURL func(provider string) string
	logg        *logger.Logger
	now         func() time.Time
}

func NewConfigurer(params ConfigurerParams) (*Configurer, error) {
	if params.Connections == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "connection store required")
	}
	if params.Providers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "provider registry required")
	}
	if params.CallbackURL == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "callback url builder required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Configurer{
		connections: params.Connections,
		providers:   params.Providers,
		callbackURL: params.CallbackURL,
		logg:        logg,
		now:         time.Now,
	}, nil
}

func (c *Configurer) ConfigureWebhook(ctx context.Context, workspaceID uuid.UUID, input ConfigureInput) (*ConfigureResult, error) {
	if input.ConnectionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "connectionId is required")
	}
	conn, err := c.connections.Get(ctx, workspaceID, input.ConnectionID)
	if err != nil {
		return nil, err
	}
	if input.InstanceName != nil {
		if name := strings.TrimSpace(*input.InstanceName); name != "" && name != conn.InstanceName {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "instanceName does not match connection")
		}
	}

	client, err := c.providers.For(conn.Provider)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "provider client unavailable")
	}

	target := providers.WebhookTarget{
		InstanceName: conn.InstanceName,
		URL:          c.callbackURL(string(conn.Provider)),
	}
	if conn.ProviderInstanceID != nil {
		target.InstanceID = *conn.ProviderInstanceID
	}
	if conn.APIToken != nil {
		target.Token = *conn.APIToken
	}

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"connection_id": conn.ID.String(),
		"provider":      conn.Provider,
		"webhook_url":   target.URL,
	})

	results, err := client.ConfigureWebhook(ctx, target)
	result := &ConfigureResult{Success: err == nil, WebhookURL: target.URL, Results: results}
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "provider webhook configuration failed")
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "provider webhook configuration failed").WithDetails(result)
	}

	if err := c.connections.MarkWebhookConfigured(ctx, conn, target.URL, c.now()); err != nil {
		return nil, err
	}
	c.logg.Info(logCtx, "provider webhook configured")
	return result, nil
}
