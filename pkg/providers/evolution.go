package providers

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// EvolutionWebhookEvents is the subscription set pushed on every configure call.
var EvolutionWebhookEvents = []string{
	"MESSAGES_UPSERT",
	"MESSAGES_UPDATE",
	"MESSAGES_SET",
	"SEND_MESSAGE",
	"CONNECTION_UPDATE",
	"PRESENCE_UPDATE",
}

type EvolutionClient struct {
	baseURL string
	apiKey  string
	http    *resty.Client
}

func NewEvolutionClient(baseURL, apiKey string, timeout time.Duration) *EvolutionClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &EvolutionClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    newRestyClient(baseURL, timeout),
	}
}

func (c *EvolutionClient) IsEnabled() bool {
	return c != nil && c.baseURL != ""
}

type evolutionWebhookBody struct {
	Webhook evolutionWebhook `json:"webhook"`
}

type evolutionWebhook struct {
	Enabled  bool     `json:"enabled"`
	URL      string   `json:"url"`
	ByEvents bool     `json:"byEvents"`
	Base64   bool     `json:"base64"`
	Events   []string `json:"events"`
}

// ConfigureWebhook calls POST /webhook/set/{instance}.
func (c *EvolutionClient) ConfigureWebhook(ctx context.Context, target WebhookTarget) ([]StepResult, error) {
	if !c.IsEnabled() {
		return nil, ErrNotConfigured
	}
	key := target.Token
	if key == "" {
		key = c.apiKey
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("apikey", key).
		SetBody(evolutionWebhookBody{Webhook: evolutionWebhook{
			Enabled:  true,
			URL:      target.URL,
			ByEvents: false,
			Base64:   false,
			Events:   EvolutionWebhookEvents,
		}}).
		Post("/webhook/set/" + url.PathEscape(target.InstanceName))

	results := []StepResult{stepFromResponse("webhook_set", resp, err)}
	return results, firstFailure("evolution", results)
}
