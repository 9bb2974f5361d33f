// Package sse fans grading progress events out to server-sent-event
// subscribers, one subscription per connected client.
package sse

import (
	"sync"

	"github.com/google/uuid"
)

// Payload is one wire-ready event: the SSE event name plus its already
// marshaled JSON data. Marshaling happens once per broadcast, not per
// subscriber.
type Payload struct {
	Event string
	Data  []byte
}

// Subscription is one client's buffered view of an exam's event stream. The
// broadcaster owns registration; the transport handler owns draining Events
// and must call the broadcaster's Disconnect when the client goes away.
type Subscription struct {
	id       string
	examCode string
	ch       chan Payload
	done     chan struct{}
	once     sync.Once
}

func newSubscription(examCode string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	return &Subscription{
		id:       uuid.NewString(),
		examCode: examCode,
		ch:       make(chan Payload, buffer),
		done:     make(chan struct{}),
	}
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string { return s.id }

// ExamCode returns the exam this subscription follows.
func (s *Subscription) ExamCode() string { return s.examCode }

// Events is the channel the transport drains.
func (s *Subscription) Events() <-chan Payload { return s.ch }

// Done is closed when the subscription is terminated.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// close terminates the subscription. Safe to call more than once.
func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// push enqueues p without blocking. It reports false when the subscription is
// closed or its buffer is full, signaling the caller to prune it.
func (s *Subscription) push(p Payload) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- p:
		return true
	default:
		return false
	}
}
