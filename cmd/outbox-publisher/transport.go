package main

import (
	"context"

	"github.com/angelmondragon/chatdesk-backend/pkg/amqp"
	"github.com/angelmondragon/chatdesk-backend/pkg/pubsub"
)

// outboundMessage is one resolved outbox row ready for the broker.
type outboundMessage struct {
	Topic      string
	MessageID  string
	Attributes map[string]string
	Body       []byte
}

// transport delivers messages and blocks until the broker acknowledges them.
type transport interface {
	Name() string
	Ping(ctx context.Context) error
	Send(ctx context.Context, msg outboundMessage) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publish(ctx context.Context, msg pubsub.Message) (string, error)
}

type pubsubTransport struct {
	client pubSubClient
}

func newPubSubTransport(client pubSubClient) *pubsubTransport {
	return &pubsubTransport{client: client}
}

func (t *pubsubTransport) Name() string { return "pubsub" }

func (t *pubsubTransport) Ping(ctx context.Context) error { return t.client.Ping(ctx) }

func (t *pubsubTransport) Send(ctx context.Context, msg outboundMessage) error {
	_, err := t.client.Publish(ctx, pubsub.Message{
		Topic:      msg.Topic,
		Attributes: msg.Attributes,
		Data:       msg.Body,
	})
	return err
}

type amqpPublisher interface {
	Ping(context.Context) error
	Publish(ctx context.Context, msg amqp.Message) error
}

type amqpTransport struct {
	pub amqpPublisher
}

func newAMQPTransport(pub amqpPublisher) *amqpTransport {
	return &amqpTransport{pub: pub}
}

func (t *amqpTransport) Name() string { return "amqp" }

func (t *amqpTransport) Ping(ctx context.Context) error { return t.pub.Ping(ctx) }

// Send uses the outbox topic as the routing key on the shared exchange.
func (t *amqpTransport) Send(ctx context.Context, msg outboundMessage) error {
	return t.pub.Publish(ctx, amqp.Message{
		RoutingKey: msg.Topic,
		MessageID:  msg.MessageID,
		Headers:    msg.Attributes,
		Body:       msg.Body,
	})
}
