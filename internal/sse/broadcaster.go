package sse

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mlpa-gradi/notifier/internal/grading"
	"github.com/mlpa-gradi/notifier/internal/metrics"
	"github.com/mlpa-gradi/notifier/internal/session"
)

// Broadcaster routes events for an exam to every subscription following it.
// Delivery is best effort: a subscriber that cannot keep up is pruned rather
// than allowed to stall the poller.
type Broadcaster struct {
	registry *session.Registry
	logger   *zap.Logger
	buffer   int

	mu   sync.Mutex
	subs map[string]map[string]*Subscription // exam code -> sub id -> sub
}

// NewBroadcaster constructs a Broadcaster over the session registry. buffer
// sizes each subscription's event channel.
func NewBroadcaster(registry *session.Registry, buffer int, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		registry: registry,
		logger:   logger,
		buffer:   buffer,
		subs:     make(map[string]map[string]*Subscription),
	}
}

// Connect registers a new subscription for examCode, creating the session if
// this is the first contact for the exam. The initial connect payload is
// queued on the subscription before it is returned, so the client always sees
// the current state first.
func (b *Broadcaster) Connect(examCode, examName string, total int) (*Subscription, error) {
	sess := b.registry.GetOrCreate(examCode, examName, total)
	snap := sess.Snapshot()

	sub := newSubscription(snap.ExamCode, b.buffer)
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal connect snapshot: %w", err)
	}
	sub.push(Payload{Event: "connect", Data: data})

	b.mu.Lock()
	byID, ok := b.subs[snap.ExamCode]
	if !ok {
		byID = make(map[string]*Subscription)
		b.subs[snap.ExamCode] = byID
	}
	byID[sub.id] = sub
	b.mu.Unlock()

	metrics.IncSubscriptions()
	b.logger.Info("subscriber connected",
		zap.String("exam_code", snap.ExamCode),
		zap.String("subscription_id", sub.id),
	)
	return sub, nil
}

// Disconnect closes sub and removes it from the fan-out table. Idempotent.
func (b *Broadcaster) Disconnect(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	removed := b.removeLocked(sub)
	b.mu.Unlock()
	sub.close()
	if removed {
		metrics.DecSubscriptions()
		b.logger.Info("subscriber disconnected",
			zap.String("exam_code", sub.examCode),
			zap.String("subscription_id", sub.id),
		)
	}
}

// Send marshals payload once and fans it out to every subscription on
// examCode. Subscriptions that are closed or backed up are dropped.
func (b *Broadcaster) Send(examCode, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("marshal event payload failed",
			zap.String("event", event),
			zap.Error(err),
		)
		return
	}
	p := Payload{Event: event, Data: data}

	b.mu.Lock()
	var dropped []*Subscription
	for _, sub := range b.subs[grading.NormalizeExamCode(examCode)] {
		if sub.push(p) {
			metrics.ObserveEventSent(event)
			continue
		}
		b.removeLocked(sub)
		dropped = append(dropped, sub)
	}
	b.mu.Unlock()

	for _, sub := range dropped {
		sub.close()
		metrics.DecSubscriptions()
		metrics.ObserveSubscriptionDropped()
		b.logger.Warn("subscriber dropped",
			zap.String("exam_code", sub.examCode),
			zap.String("subscription_id", sub.id),
			zap.String("event", event),
		)
	}
}

// UpdateProgress broadcasts a progress event for examCode.
func (b *Broadcaster) UpdateProgress(examCode string, index, total int) {
	b.Send(examCode, "progress", map[string]any{
		"examCode": grading.NormalizeExamCode(examCode),
		"index":    index,
		"total":    total,
	})
}

// Session returns the snapshot for examCode or session.ErrNotFound.
func (b *Broadcaster) Session(examCode string) (session.Snapshot, error) {
	sess, ok := b.registry.Get(examCode)
	if !ok {
		return session.Snapshot{}, session.ErrNotFound
	}
	return sess.Snapshot(), nil
}

// ActiveSessions lists snapshots of every tracked session.
func (b *Broadcaster) ActiveSessions() []session.Snapshot {
	return b.registry.ActiveSessions()
}

// Remove tears down the exam's session and closes all of its subscriptions.
// It reports whether a session existed. Subscribers observe Done and the
// transport ends their streams.
func (b *Broadcaster) Remove(examCode string) bool {
	code := grading.NormalizeExamCode(examCode)

	b.mu.Lock()
	byID := b.subs[code]
	delete(b.subs, code)
	b.mu.Unlock()

	for _, sub := range byID {
		sub.close()
		metrics.DecSubscriptions()
	}
	return b.registry.Remove(code)
}

// Subscribers reports how many subscriptions currently follow examCode.
func (b *Broadcaster) Subscribers(examCode string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[grading.NormalizeExamCode(examCode)])
}

// removeLocked unregisters sub. Callers hold b.mu. It reports whether the
// subscription was still registered.
func (b *Broadcaster) removeLocked(sub *Subscription) bool {
	byID, ok := b.subs[sub.examCode]
	if !ok {
		return false
	}
	if _, ok := byID[sub.id]; !ok {
		return false
	}
	delete(byID, sub.id)
	if len(byID) == 0 {
		delete(b.subs, sub.examCode)
	}
	return true
}
