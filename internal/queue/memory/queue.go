// Package memory provides an in-memory queue consumer for local development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mlpa-gradi/notifier/internal/queue"
)

// Queue is an in-memory broker with at-least-once semantics: fetched
// messages move to an in-flight table and return to the ready list only via
// Redeliver, mirroring a visibility timeout without the clock.
type Queue struct {
	mu       sync.Mutex
	ready    []queue.Message
	inflight map[string]queue.Message
	closed   bool

	arrivals chan struct{}
}

// New constructs an empty queue.
func New() *Queue {
	return &Queue{
		inflight: make(map[string]queue.Message),
		arrivals: make(chan struct{}, 1),
	}
}

// Publish enqueues body and returns the ack token the eventual consumer will
// see.
func (q *Queue) Publish(body []byte) string {
	token := uuid.NewString()
	q.mu.Lock()
	q.ready = append(q.ready, queue.Message{Body: body, AckToken: token})
	q.mu.Unlock()

	select {
	case q.arrivals <- struct{}{}:
	default:
	}
	return token
}

// FetchBatch pops up to maxMessages ready messages, waiting up to wait for
// the first arrival when the queue is empty.
func (q *Queue) FetchBatch(ctx context.Context, maxMessages int, wait time.Duration) ([]queue.Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	if batch := q.take(maxMessages); len(batch) > 0 {
		return batch, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case <-timer.C:
		return nil, nil
	case <-q.arrivals:
		return q.take(maxMessages), nil
	}
}

// Ack drops the in-flight message identified by ackToken.
func (q *Queue) Ack(_ context.Context, ackToken string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[ackToken]; !ok {
		return fmt.Errorf("unknown ack token %q", ackToken)
	}
	delete(q.inflight, ackToken)
	return nil
}

// Redeliver returns every unacknowledged message to the ready list, as a
// broker would after the visibility window lapses.
func (q *Queue) Redeliver() int {
	q.mu.Lock()
	n := len(q.inflight)
	for token, msg := range q.inflight {
		q.ready = append(q.ready, msg)
		delete(q.inflight, token)
	}
	q.mu.Unlock()

	if n > 0 {
		select {
		case q.arrivals <- struct{}{}:
		default:
		}
	}
	return n
}

// Close marks the queue closed. Messages already fetched can still be acked.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

func (q *Queue) take(maxMessages int) []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.ready) == 0 {
		return nil
	}
	n := maxMessages
	if n > len(q.ready) {
		n = len(q.ready)
	}
	batch := make([]queue.Message, n)
	copy(batch, q.ready[:n])
	q.ready = q.ready[n:]
	for _, msg := range batch {
		q.inflight[msg.AckToken] = msg
	}
	return batch
}
