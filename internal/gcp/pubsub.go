package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pipewright/pipewright/internal/constants"

	"cloud.google.com/go/pubsub"
)

// pubSubClient implements PubSubClient over the Pub/Sub SDK.
type pubSubClient struct{}

// NewPubSubClient returns a PubSubClient backed by the real service.
func NewPubSubClient() PubSubClient {
	return &pubSubClient{}
}

func (c *pubSubClient) TopicExists(
	ctx context.Context,
	projectID, topicID string,
) (bool, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return false, classifyError(err, "failed to create Pub/Sub client")
	}
	defer client.Close()

	exists, err := client.Topic(topicID).Exists(ctx)
	if err != nil {
		return false, classifyError(err, fmt.Sprintf("failed to check topic %s", topicID))
	}

	return exists, nil
}

func (c *pubSubClient) CreateTopic(ctx context.Context, projectID, topicID string) error {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return classifyError(err, "failed to create Pub/Sub client")
	}
	defer client.Close()

	if _, err := client.CreateTopic(ctx, topicID); err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return classifyError(err, fmt.Sprintf("failed to create topic %s", topicID))
	}

	return nil
}

func (c *pubSubClient) SubscriptionExists(
	ctx context.Context,
	projectID, subscriptionID string,
) (bool, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return false, classifyError(err, "failed to create Pub/Sub client")
	}
	defer client.Close()

	exists, err := client.Subscription(subscriptionID).Exists(ctx)
	if err != nil {
		return false, classifyError(err,
			fmt.Sprintf("failed to check subscription %s", subscriptionID))
	}

	return exists, nil
}

func (c *pubSubClient) CreateSubscription(
	ctx context.Context,
	projectID, subscriptionID, topicID string,
	ackDeadline time.Duration,
) error {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return classifyError(err, "failed to create Pub/Sub client")
	}
	defer client.Close()

	cfg := pubsub.SubscriptionConfig{
		Topic:       client.Topic(topicID),
		AckDeadline: ackDeadline,
	}

	if _, err := client.CreateSubscription(ctx, subscriptionID, cfg); err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return classifyError(err,
			fmt.Sprintf("failed to create subscription %s", subscriptionID))
	}

	return nil
}

const topicPublisherRole = "roles/pubsub.publisher"

func (c *pubSubClient) GrantTopicPublisher(
	ctx context.Context,
	projectID, topicID, member string,
) error {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return classifyError(err, "failed to create Pub/Sub client")
	}
	defer client.Close()

	handle := client.Topic(topicID).IAM()

	policy, err := handle.Policy(ctx)
	if err != nil {
		return classifyError(err, fmt.Sprintf("failed to get IAM policy for topic %s", topicID))
	}

	policy.Add(member, topicPublisherRole)

	if err := handle.SetPolicy(ctx, policy); err != nil {
		return classifyError(err, fmt.Sprintf("failed to set IAM policy for topic %s", topicID))
	}

	return nil
}

func (c *pubSubClient) TopicPublisherGranted(
	ctx context.Context,
	projectID, topicID, member string,
) (bool, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return false, classifyError(err, "failed to create Pub/Sub client")
	}
	defer client.Close()

	policy, err := client.Topic(topicID).IAM().Policy(ctx)
	if err != nil {
		return false, classifyError(err,
			fmt.Sprintf("failed to get IAM policy for topic %s", topicID))
	}

	for _, m := range policy.Members(topicPublisherRole) {
		if m == member {
			return true, nil
		}
	}

	return false, nil
}

func (c *pubSubClient) ReceiveMarker(
	ctx context.Context,
	projectID, subscriptionID, marker string,
	wait time.Duration,
) (int, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return 0, classifyError(err, "failed to create Pub/Sub client")
	}
	defer client.Close()

	recvCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var matched atomic.Int64

	sub := client.Subscription(subscriptionID)
	err = sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
		// Non-matching messages are nacked so other consumers still see them.
		if messageCarriesMarker(msg.Data, msg.Attributes, marker) {
			matched.Add(1)
			msg.Ack()
			cancel()
			return
		}
		msg.Nack()
	})

	// Receive returns nil when the context expires; that is the normal end
	// of a bounded pull.
	if err != nil && recvCtx.Err() == nil {
		return int(matched.Load()), classifyError(err,
			fmt.Sprintf("failed to pull from subscription %s", subscriptionID))
	}

	return int(matched.Load()), nil
}

// messageCarriesMarker reports whether a pulled message carries the marker.
// A Cloud Logging sink exports the whole LogEntry as JSON in the message
// data; its labels land in the payload, not in the message attributes, so
// both places are checked.
func messageCarriesMarker(data []byte, attrs map[string]string, marker string) bool {
	if attrs[constants.MarkerLabel] == marker {
		return true
	}

	var entry struct {
		Labels map[string]string `json:"labels"`
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return false
	}

	return entry.Labels[constants.MarkerLabel] == marker
}
