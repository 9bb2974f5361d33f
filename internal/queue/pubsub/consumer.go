// Package pubsub implements the queue consumer over Google Cloud Pub/Sub
// synchronous pull.
package pubsub

import (
	"context"
	"fmt"
	"time"

	pubsubapi "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mlpa-gradi/notifier/internal/queue"
)

// Consumer pulls grading events from one Pub/Sub subscription. The
// higher-level streaming client is deliberately not used: the poller wants
// explicit bounded batches and its own pacing, which maps directly onto
// synchronous Pull.
type Consumer struct {
	client       *pubsubapi.SubscriberClient
	subscription string
}

func fullSubscriptionName(projectID, subscriptionID string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subscriptionID)
}

// New creates a subscriber client and verifies the subscription exists. It
// authenticates using Google Cloud's Application Default Credentials.
func New(ctx context.Context, projectID, subscriptionID string) (*Consumer, error) {
	client, err := pubsubapi.NewSubscriberClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create pubsub subscriber client: %w", err)
	}

	name := fullSubscriptionName(projectID, subscriptionID)
	if _, err := client.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get pubsub subscription %q: %w", name, err)
	}

	return &Consumer{client: client, subscription: name}, nil
}

// FetchBatch pulls up to maxMessages messages, waiting up to wait for the
// first one. Pull blocks server-side until a message arrives or the deadline
// lapses; a deadline lapse is an empty batch, not a failure.
func (c *Consumer) FetchBatch(ctx context.Context, maxMessages int, wait time.Duration) ([]queue.Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	pullCtx := ctx
	if wait > 0 {
		var cancel context.CancelFunc
		pullCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	resp, err := c.client.Pull(pullCtx, &pubsubpb.PullRequest{
		Subscription: c.subscription,
		MaxMessages:  int32(maxMessages),
	})
	if err != nil {
		if status.Code(err) == codes.DeadlineExceeded && ctx.Err() == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("pull from %q: %w", c.subscription, err)
	}

	batch := make([]queue.Message, 0, len(resp.ReceivedMessages))
	for _, m := range resp.ReceivedMessages {
		if m.Message == nil {
			continue
		}
		batch = append(batch, queue.Message{
			Body:     m.Message.Data,
			AckToken: m.AckId,
		})
	}
	return batch, nil
}

// Ack acknowledges one message so Pub/Sub stops redelivering it.
func (c *Consumer) Ack(ctx context.Context, ackToken string) error {
	err := c.client.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: c.subscription,
		AckIds:       []string{ackToken},
	})
	if err != nil {
		return fmt.Errorf("acknowledge on %q: %w", c.subscription, err)
	}
	return nil
}

// Close releases the underlying client connection.
func (c *Consumer) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close pubsub subscriber client: %w", err)
	}
	return nil
}
