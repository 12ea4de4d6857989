package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"

	"github.com/angelmondragon/chatdesk-backend/pkg/config"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
)

const exchangeKind = "topic"

var errClosed = errors.New("amqp publisher closed")

// Message is one broker publish. RoutingKey is the outbox topic name.
type Message struct {
	RoutingKey string
	MessageID  string
	Headers    map[string]string
	Body       []byte
}

// Publisher sends outbox events to a durable topic exchange on a confirm-mode
// channel. Publish calls are serialized on that channel.
type Publisher struct {
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	exchange string
	logg     *logger.Logger
	mu       sync.Mutex
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(ctx context.Context, cfg config.AMQPConfig, logg *logger.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("amqp url is required")
	}
	if strings.TrimSpace(cfg.Exchange) == "" {
		return nil, errors.New("amqp exchange is required")
	}

	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("open amqp channel: %w", err), conn.Close())
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		return nil, multierr.Append(fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err), conn.Close())
	}
	if err := ch.Confirm(false); err != nil {
		return nil, multierr.Append(fmt.Errorf("enable publisher confirms: %w", err), conn.Close())
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "exchange", cfg.Exchange), "amqp publisher initialized")
	}
	return &Publisher{conn: conn, ch: ch, exchange: cfg.Exchange, logg: logg}, nil
}

// Publish blocks until the broker confirms the message or ctx ends.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	if p == nil || p.ch == nil {
		return errClosed
	}
	if strings.TrimSpace(msg.RoutingKey) == "" {
		return errors.New("routing key is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, msg.RoutingKey, false, false, buildPublishing(msg, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("publish to %s: %w", msg.RoutingKey, err)
	}
	if confirm == nil {
		return nil
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for %s: %w", msg.MessageID, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked message %s", msg.MessageID)
	}
	return nil
}

// Ping reports whether the connection is still open.
func (p *Publisher) Ping(context.Context) error {
	if p == nil || p.conn == nil || p.conn.IsClosed() {
		return errClosed
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var err error
	if p.ch != nil {
		err = multierr.Append(err, p.ch.Close())
	}
	if p.conn != nil && !p.conn.IsClosed() {
		err = multierr.Append(err, p.conn.Close())
	}
	return err
}

func buildPublishing(msg Message, now time.Time) amqp091.Publishing {
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	return amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     msg.MessageID,
		CorrelationId: msg.MessageID,
		Timestamp:     now,
		Headers:       headers,
		Body:          msg.Body,
	}
}
