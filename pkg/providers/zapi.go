package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ZAPIWebhookSteps are the update-webhook-* endpoints, one per callback kind.
var ZAPIWebhookSteps = []string{
	"received",
	"message-status",
	"delivery",
	"connected",
	"disconnected",
	"chat-presence",
}

type ZAPIClient struct {
	baseURL     string
	clientToken string
	http        *resty.Client
}

func NewZAPIClient(baseURL, clientToken string, timeout time.Duration) *ZAPIClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &ZAPIClient{
		baseURL:     baseURL,
		clientToken: clientToken,
		http:        newRestyClient(baseURL, timeout),
	}
}

func (c *ZAPIClient) IsEnabled() bool {
	return c != nil && c.baseURL != ""
}

// ConfigureWebhook issues every update-webhook-* call even if an earlier one
// fails, so the results show the full picture.
func (c *ZAPIClient) ConfigureWebhook(ctx context.Context, target WebhookTarget) ([]StepResult, error) {
	if !c.IsEnabled() {
		return nil, ErrNotConfigured
	}
	instanceID := target.InstanceID
	if instanceID == "" {
		instanceID = target.InstanceName
	}
	if instanceID == "" || target.Token == "" {
		return nil, fmt.Errorf("%w: z-api instance id and token are required", ErrNotConfigured)
	}

	base := fmt.Sprintf("/instances/%s/token/%s", url.PathEscape(instanceID), url.PathEscape(target.Token))
	results := make([]StepResult, 0, len(ZAPIWebhookSteps))
	for _, step := range ZAPIWebhookSteps {
		req := c.http.R().
			SetContext(ctx).
			SetBody(map[string]string{"value": target.URL})
		if c.clientToken != "" {
			req.SetHeader("Client-Token", c.clientToken)
		}
		resp, err := req.Put(base + "/update-webhook-" + step)
		results = append(results, stepFromResponse(step, resp, err))
	}
	return results, firstFailure("zapi", results)
}
