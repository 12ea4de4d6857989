package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/chatdesk-backend/pkg/config"
)

func TestResourceName(t *testing.T) {
	assert.Equal(t, "projects/proj/topics/chatdesk-assignment-events", resourceName("proj", "chatdesk-assignment-events"))
	assert.Equal(t, "projects/other/topics/t1", resourceName("proj", " projects/other/topics/t1 "))
	assert.Empty(t, resourceName("proj", ""))
	assert.Empty(t, resourceName("", "t1"))
}

func TestConfiguredTopicsSkipsBlanks(t *testing.T) {
	topics := configuredTopics(config.PubSubConfig{AssignmentsTopic: "a", PipelineTopic: " ", ConnectionsTopic: "c"})
	assert.Equal(t, []string{"a", "c"}, topics)
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{AssignmentsTopic: "a"}, nil)
	assert.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(context.Background(), config.GCPConfig{ProjectID: "p"}, config.PubSubConfig{}, nil)
	assert.ErrorIs(t, err, errNoTopics)
}

func TestNilClient(t *testing.T) {
	var c *Client
	_, err := c.Publish(context.Background(), Message{Topic: "t"})
	assert.ErrorIs(t, err, errClosed)
	assert.NoError(t, c.Close())
	assert.ErrorIs(t, c.Ping(context.Background()), errClosed)
}
