// Package pubsub wraps the Pub/Sub v2 client used by the outbox relay. It only
// publishes; the configured subscriptions are checked so a missing consumer
// binding surfaces at startup instead of as silently dropped events.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/angelmondragon/shophub-settlement/pkg/config"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("at least one pubsub topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// binding pairs a topic with the optional subscription expected to drain it.
type binding struct {
	topic        string
	subscription string
}

type Client struct {
	client    *pubsub.Client
	projectID string
	bindings  []binding
}

// NewClient connects to projectID and verifies every configured topic and
// subscription before returning.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	c := &Client{projectID: projectID, bindings: bindingsFrom(cfg)}
	if len(c.bindings) == 0 {
		return nil, errNoTopics
	}

	psClient, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c.client = psClient
	if err := c.verify(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"project": projectID, "topics": len(c.bindings)}), "pubsub client initialized")
	}
	return c, nil
}

func bindingsFrom(cfg config.PubSubConfig) []binding {
	var out []binding
	for _, b := range []binding{
		{cfg.OrdersTopic, cfg.OrdersSubscription},
		{cfg.SettlementTopic, cfg.SettlementSubscription},
	} {
		b.topic, b.subscription = strings.TrimSpace(b.topic), strings.TrimSpace(b.subscription)
		if b.topic != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c *Client) verify(ctx context.Context) error {
	for _, b := range c.bindings {
		topic := c.topicResourceName(b.topic)
		if _, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topic}); err != nil {
			return describe("topic", b.topic, err)
		}
		if b.subscription == "" {
			continue
		}
		sub, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
			Subscription: c.subscriptionResourceName(b.subscription),
		})
		if err != nil {
			return describe("subscription", b.subscription, err)
		}
		if sub.GetTopic() != topic {
			return fmt.Errorf("subscription %q reads %s, expected %s", b.subscription, sub.GetTopic(), topic)
		}
	}
	return nil
}

func describe(kind, name string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}

// Publisher returns a handle for topic, which may be a short ID or a full
// resource name. Nil when the client is not connected.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	name := c.topicResourceName(topic)
	if name == "" {
		return nil
	}
	return c.client.Publisher(name)
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.verify(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) topicResourceName(name string) string {
	return c.resourceName("topics", name)
}

func (c *Client) subscriptionResourceName(name string) string {
	return c.resourceName("subscriptions", name)
}

// resourceName expands a short ID to projects/<p>/<kind>/<id>; full names pass through.
func (c *Client) resourceName(kind, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case c == nil || name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/"):
		return name
	case c.projectID == "":
		return ""
	}
	return "projects/" + c.projectID + "/" + kind + "/" + name
}
