// Package queue defines the consumer interface for the grading event queue.
// This abstraction keeps the poller independent of a specific broker
// implementation (e.g., GCP Pub/Sub, an in-memory queue for development).
package queue

import (
	"context"
	"time"
)

// Message is one delivered queue message. AckToken is opaque to callers and
// only meaningful to the consumer that produced it.
type Message struct {
	Body     []byte
	AckToken string
}

// Consumer is a pull-based view of the grading event queue. Messages stay
// in flight until acknowledged; an unacknowledged message is redelivered by
// the broker after its visibility window lapses.
type Consumer interface {
	// FetchBatch returns up to maxMessages messages, waiting up to wait for
	// at least one to arrive. An empty queue yields an empty batch, not an
	// error.
	FetchBatch(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error)

	// Ack marks one message as processed so it is never redelivered.
	Ack(ctx context.Context, ackToken string) error

	// Close cleans up any client connections and resources.
	Close() error
}
