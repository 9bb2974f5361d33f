package session

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/mlpa-gradi/notifier/internal/grading"
	"github.com/mlpa-gradi/notifier/internal/metrics"
)

// ErrNotFound signals that no session exists for the requested exam code.
var ErrNotFound = errors.New("session not found")

// Registry is a concurrency-safe table of sessions keyed by normalized exam
// code. Lookups and inserts go through a sync.Map so unrelated exam codes
// never contend; per-session invariants are protected by each session's own
// mutex.
type Registry struct {
	sessions sync.Map // string -> *Session
	clock    grading.Clock
	logger   *zap.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry(clock grading.Clock, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{clock: clock, logger: logger}
}

// GetOrCreate returns the session for code, creating it with the provided
// seed metadata when absent. Both the stream-connect path and the first-event
// path use this, so session defaults live in exactly one place. The call is
// idempotent; on an existing session the seed metadata only fills gaps.
func (r *Registry) GetOrCreate(code, examName string, total int) *Session {
	code = grading.NormalizeExamCode(code)
	if v, ok := r.sessions.Load(code); ok {
		sess := v.(*Session)
		sess.seed(examName, total)
		return sess
	}
	if examName == "" {
		examName = defaultExamName
	}
	fresh := &Session{
		examCode:      code,
		examName:      examName,
		total:         total,
		processedKeys: make(map[string]struct{}),
		status:        StatusProcessing,
		lastUpdate:    r.clock.Now(),
	}
	actual, loaded := r.sessions.LoadOrStore(code, fresh)
	sess := actual.(*Session)
	if loaded {
		sess.seed(examName, total)
	} else {
		metrics.IncSessions()
		r.logger.Info("session created",
			zap.String("exam_code", code),
			zap.String("exam_name", examName),
			zap.Int("total", total),
		)
	}
	return sess
}

// Get returns the session for code, if one exists.
func (r *Registry) Get(code string) (*Session, bool) {
	v, ok := r.sessions.Load(grading.NormalizeExamCode(code))
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Remove deletes the session for code. It reports whether a session existed;
// removing an absent session is a no-op. The session is also invalidated so
// aggregations that already hold the pointer observe "gone" instead of
// writing into a detached session.
func (r *Registry) Remove(code string) bool {
	code = grading.NormalizeExamCode(code)
	v, ok := r.sessions.LoadAndDelete(code)
	if !ok {
		return false
	}
	v.(*Session).markRemoved()
	metrics.DecSessions()
	r.logger.Info("session removed", zap.String("exam_code", code))
	return true
}

// ActiveSessions returns snapshots of every live session, for operational
// visibility. Order is unspecified.
func (r *Registry) ActiveSessions() []Snapshot {
	out := make([]Snapshot, 0)
	r.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*Session).Snapshot())
		return true
	})
	return out
}
