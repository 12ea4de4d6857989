package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/chatdesk-backend/pkg/config"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
)

type recordedCall struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

func recordingServer(t *testing.T, status func(path string) int) (*httptest.Server, func() []recordedCall) {
	t.Helper()
	var mu sync.Mutex
	var calls []recordedCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, recordedCall{Method: r.Method, Path: r.URL.Path, Headers: r.Header.Clone(), Body: body})
		mu.Unlock()
		w.WriteHeader(status(r.URL.Path))
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedCall(nil), calls...)
	}
}

func TestEvolutionConfigureWebhookSendsFullConfiguration(t *testing.T) {
	srv, calls := recordingServer(t, func(string) int { return http.StatusCreated })
	client := NewEvolutionClient(srv.URL+"/", "global-key", time.Second)

	target := WebhookTarget{InstanceName: "sales-01", URL: "https://hooks.example.com/api/v1/webhooks/evolution"}
	for i := 0; i < 2; i++ {
		results, err := client.ConfigureWebhook(context.Background(), target)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.True(t, results[0].Success)
	}

	recorded := calls()
	require.Len(t, recorded, 2)
	assert.Equal(t, recorded[0].Body, recorded[1].Body)

	call := recorded[0]
	assert.Equal(t, http.MethodPost, call.Method)
	assert.Equal(t, "/webhook/set/sales-01", call.Path)
	assert.Equal(t, "global-key", call.Headers.Get("apikey"))

	var body evolutionWebhookBody
	require.NoError(t, json.Unmarshal(call.Body, &body))
	assert.True(t, body.Webhook.Enabled)
	assert.Equal(t, target.URL, body.Webhook.URL)
	assert.False(t, body.Webhook.ByEvents)
	assert.Equal(t, EvolutionWebhookEvents, body.Webhook.Events)
}

func TestEvolutionConfigureWebhookPrefersConnectionToken(t *testing.T) {
	srv, calls := recordingServer(t, func(string) int { return http.StatusOK })
	client := NewEvolutionClient(srv.URL, "global-key", time.Second)

	_, err := client.ConfigureWebhook(context.Background(), WebhookTarget{InstanceName: "x", Token: "instance-key", URL: "https://h"})
	require.NoError(t, err)
	assert.Equal(t, "instance-key", calls()[0].Headers.Get("apikey"))
}

func TestEvolutionConfigureWebhookReportsProviderFailure(t *testing.T) {
	srv, _ := recordingServer(t, func(string) int { return http.StatusUnauthorized })
	client := NewEvolutionClient(srv.URL, "bad", time.Second)

	results, err := client.ConfigureWebhook(context.Background(), WebhookTarget{InstanceName: "x", URL: "https://h"})
	require.Error(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, http.StatusUnauthorized, results[0].StatusCode)
}

func TestZAPIConfigureWebhookCallsEveryStep(t *testing.T) {
	srv, calls := recordingServer(t, func(path string) int {
		if strings.HasSuffix(path, "update-webhook-delivery") {
			return http.StatusBadGateway
		}
		return http.StatusOK
	})
	client := NewZAPIClient(srv.URL, "account-token", time.Second)

	results, err := client.ConfigureWebhook(context.Background(), WebhookTarget{
		InstanceName: "support",
		InstanceID:   "3C4F",
		Token:        "tok",
		URL:          "https://hooks.example.com/api/v1/webhooks/zapi",
	})
	require.Error(t, err)
	require.Len(t, results, len(ZAPIWebhookSteps))

	recorded := calls()
	require.Len(t, recorded, len(ZAPIWebhookSteps))
	for i, step := range ZAPIWebhookSteps {
		assert.Equal(t, http.MethodPut, recorded[i].Method)
		assert.Equal(t, "/instances/3C4F/token/tok/update-webhook-"+step, recorded[i].Path)
		assert.Equal(t, "account-token", recorded[i].Headers.Get("Client-Token"))
		assert.JSONEq(t, `{"value":"https://hooks.example.com/api/v1/webhooks/zapi"}`, string(recorded[i].Body))
		assert.Equal(t, step != "delivery", results[i].Success, step)
	}
}

func TestZAPIConfigureWebhookRequiresToken(t *testing.T) {
	client := NewZAPIClient("https://api.z-api.io", "", time.Second)
	_, err := client.ConfigureWebhook(context.Background(), WebhookTarget{InstanceName: "x", URL: "https://h"})
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestRegistryResolvesConfiguredClients(t *testing.T) {
	reg := NewRegistry(config.ProvidersConfig{ZAPIBaseURL: "https://api.z-api.io"})

	evo, err := reg.For(enums.ProviderEvolution)
	require.NoError(t, err)
	_, err = evo.ConfigureWebhook(context.Background(), WebhookTarget{InstanceName: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = reg.For(enums.ProviderKind("twilio"))
	assert.ErrorIs(t, err, ErrNotConfigured)
}
