package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gpubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/multierr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/chatdesk-backend/pkg/config"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("pubsub: gcp project id is required")
	errNoTopics          = errors.New("pubsub: at least one topic is required")
	errClosed            = errors.New("pubsub: client closed")
)

// Message is one outbox event bound for a topic. Topic may be a short ID or a
// full projects/<p>/topics/<t> resource name.
type Message struct {
	Topic      string
	Attributes map[string]string
	Data       []byte
}

// Client publishes to the configured topics, keeping one publisher per topic
// for the life of the process.
type Client struct {
	client    *gpubsub.Client
	projectID string
	topics    []string

	mu         sync.Mutex
	publishers map[string]*gpubsub.Publisher
}

// NewClient connects and fails fast if any configured topic is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	topics := configuredTopics(cfg)
	if len(topics) == 0 {
		return nil, errNoTopics
	}

	raw, err := gpubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new client: %w", err)
	}
	c := &Client{
		client:     raw,
		projectID:  projectID,
		topics:     topics,
		publishers: make(map[string]*gpubsub.Publisher, len(topics)),
	}
	if err := c.Ping(ctx); err != nil {
		return nil, multierr.Append(err, raw.Close())
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"project": projectID, "topics": topics}), "pubsub client ready")
	}
	return c, nil
}

func configuredTopics(cfg config.PubSubConfig) []string {
	var topics []string
	for _, name := range []string{cfg.AssignmentsTopic, cfg.PipelineTopic, cfg.ConnectionsTopic} {
		if name = strings.TrimSpace(name); name != "" {
			topics = append(topics, name)
		}
	}
	return topics
}

// Publish blocks until the server assigns a message ID or ctx ends.
func (c *Client) Publish(ctx context.Context, msg Message) (string, error) {
	pub, err := c.publisher(msg.Topic)
	if err != nil {
		return "", err
	}
	id, err := pub.Publish(ctx, &gpubsub.Message{Data: msg.Data, Attributes: msg.Attributes}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("pubsub: publish to %s: %w", msg.Topic, err)
	}
	return id, nil
}

func (c *Client) publisher(topic string) (*gpubsub.Publisher, error) {
	if c == nil || c.client == nil {
		return nil, errClosed
	}
	name := resourceName(c.projectID, topic)
	if name == "" {
		return nil, fmt.Errorf("pubsub: invalid topic %q", topic)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishers == nil {
		return nil, errClosed
	}
	pub, ok := c.publishers[name]
	if !ok {
		pub = c.client.Publisher(name)
		c.publishers[name] = pub
	}
	return pub, nil
}

// Ping checks that every configured topic exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errClosed
	}
	for _, topic := range c.topics {
		name := resourceName(c.projectID, topic)
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
		switch {
		case status.Code(err) == codes.NotFound:
			return fmt.Errorf("pubsub: topic %s does not exist", name)
		case err != nil:
			return fmt.Errorf("pubsub: get topic %s: %w", name, err)
		}
	}
	return nil
}

// Close flushes pending publishes and releases the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for _, pub := range c.publishers {
		pub.Stop()
	}
	c.publishers = nil
	c.mu.Unlock()
	return c.client.Close()
}

func resourceName(projectID, topic string) string {
	topic = strings.TrimSpace(topic)
	switch {
	case topic == "":
		return ""
	case strings.HasPrefix(topic, "projects/") && strings.Contains(topic, "/topics/"):
		return topic
	case projectID == "":
		return ""
	}
	return "projects/" + projectID + "/topics/" + topic
}
