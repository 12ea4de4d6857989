// Package providers holds thin resty clients for the WhatsApp gateways whose
// webhook configuration this service owns.
package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/angelmondragon/chatdesk-backend/pkg/config"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
)

const userAgent = "chatdesk-backend/1.0"

// ErrNotConfigured is returned when a provider's base URL or credentials are missing.
var ErrNotConfigured = errors.New("provider client is not configured")

// WebhookTarget is everything a provider needs to point its callbacks at us.
type WebhookTarget struct {
	InstanceName string
	// InstanceID is the provider-side identifier (Z-API); empty means InstanceName.
	InstanceID string
	// Token is the per-connection credential; empty falls back to the global key.
	Token string
	URL   string
}

// StepResult reports one provider call made while configuring a webhook.
type StepResult struct {
	Step       string `json:"step"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
}

// WebhookConfigurer pushes the full callback configuration for one instance.
// Results are returned even when err is non-nil.
type WebhookConfigurer interface {
	ConfigureWebhook(ctx context.Context, target WebhookTarget) ([]StepResult, error)
}

// Registry resolves the configurer for a provider kind.
type Registry struct {
	clients map[enums.ProviderKind]WebhookConfigurer
}

func NewRegistry(cfg config.ProvidersConfig) *Registry {
	return &Registry{clients: map[enums.ProviderKind]WebhookConfigurer{
		enums.ProviderEvolution: NewEvolutionClient(cfg.EvolutionBaseURL, cfg.EvolutionAPIKey, cfg.RequestTimeout),
		enums.ProviderZAPI:      NewZAPIClient(cfg.ZAPIBaseURL, cfg.ZAPIClientToken, cfg.RequestTimeout),
	}}
}

// NewStaticRegistry is used by tests to inject fakes.
func NewStaticRegistry(clients map[enums.ProviderKind]WebhookConfigurer) *Registry {
	return &Registry{clients: clients}
}

func (r *Registry) For(kind enums.ProviderKind) (WebhookConfigurer, error) {
	if r == nil {
		return nil, ErrNotConfigured
	}
	client, ok := r.clients[kind]
	if !ok || client == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, kind)
	}
	return client, nil
}

func newRestyClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("User-Agent", userAgent).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
}

func stepFromResponse(step string, resp *resty.Response, err error) StepResult {
	result := StepResult{Step: step}
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.StatusCode = resp.StatusCode()
	if resp.IsError() {
		result.Error = fmt.Sprintf("provider responded %d: %s", resp.StatusCode(), truncate(resp.String(), 256))
		return result
	}
	result.Success = true
	return result
}

func firstFailure(provider string, results []StepResult) error {
	for _, r := range results {
		if !r.Success {
			return fmt.Errorf("%s webhook step %s failed: %s", provider, r.Step, r.Error)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
