package webhooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/semaphore"

	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	"github.com/angelmondragon/chatdesk-backend/pkg/metrics"
)

// Forwarder delivers canonical events downstream without blocking the caller.
type Forwarder interface {
	Forward(target string, event ProviderEvent)
}

// HTTPForwarder posts each event on its own goroutine. In-flight deliveries
// are capped by a weighted semaphore; events arriving while it is full are
// dropped and counted.
type HTTPForwarder struct {
	client  *resty.Client
	sem     *semaphore.Weighted
	timeout time.Duration
	logg    *logger.Logger
	metrics *metrics.Domain
	wg      sync.WaitGroup
}

type HTTPForwarderParams struct {
	Timeout     time.Duration
	Concurrency int64
	Logger      *logger.Logger
	Metrics     *metrics.Domain
	// Client overrides the resty client; tests point it at httptest servers.
	Client *resty.Client
}

func NewHTTPForwarder(params HTTPForwarderParams) *HTTPForwarder {
	if params.Timeout <= 0 {
		params.Timeout = 10 * time.Second
	}
	if params.Concurrency <= 0 {
		params.Concurrency = 64
	}
	client := params.Client
	if client == nil {
		client = resty.New()
	}
	client.
		SetTimeout(params.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "chatdesk-backend/1.0")

	return &HTTPForwarder{
		client:  client,
		sem:     semaphore.NewWeighted(params.Concurrency),
		timeout: params.Timeout,
		logg:    params.Logger,
		metrics: params.Metrics,
	}
}

func (f *HTTPForwarder) Forward(target string, event ProviderEvent) {
	if !f.sem.TryAcquire(1) {
		f.metrics.WebhookForward(metrics.OutcomeDropped, 0)
		f.warn(event, target, "webhook forward dropped: concurrency limit reached")
		return
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()

		started := time.Now()
		err := f.post(ctx, target, event)
		took := time.Since(started)
		if err != nil {
			f.metrics.WebhookForward(metrics.OutcomeFailure, took)
			f.warn(event, target, "webhook forward failed: "+err.Error())
			return
		}
		f.metrics.WebhookForward(metrics.OutcomeSuccess, took)
	}()
}

func (f *HTTPForwarder) post(ctx context.Context, target string, event ProviderEvent) error {
	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(event).
		Post(target)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("downstream responded %d", resp.StatusCode())
	}
	return nil
}

// Wait blocks until every in-flight delivery has finished. Called on shutdown.
func (f *HTTPForwarder) Wait() {
	f.wg.Wait()
}

func (f *HTTPForwarder) warn(event ProviderEvent, target, msg string) {
	if f.logg == nil {
		return
	}
	ctx := f.logg.WithFields(context.Background(), map[string]any{
		"provider":      event.Provider,
		"instance_name": event.InstanceName,
		"event_type":    event.EventType,
		"workspace_id":  event.WorkspaceID.String(),
		"target":        target,
	})
	f.logg.Warn(ctx, msg)
}
