package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mlpa-gradi/notifier/internal/grading"
	"github.com/mlpa-gradi/notifier/internal/report"
	"github.com/mlpa-gradi/notifier/internal/storage"
)

// ErrNoSession signals that an event referenced an exam code with no active
// session. Expected under startup races: progress cannot retroactively create
// session metadata, so a subscriber must connect first.
var ErrNoSession = errors.New("no session for exam code")

// NormalizedEvent is the outbound payload broadcast after an event has been
// applied to its session.
type NormalizedEvent struct {
	Kind          string   `json:"event_type"`
	ExamCode      string   `json:"examCode"`
	Index         int      `json:"index"`
	Total         int      `json:"total"`
	Status        string   `json:"status"`
	StudentID     string   `json:"studentId,omitempty"`
	Filename      string   `json:"filename,omitempty"`
	PresignedURLs []string `json:"presignedUrls,omitempty"`
}

// Outcome describes what Apply did with an event. On a duplicate delivery the
// snapshot reflects the unchanged session and Event is zero.
type Outcome struct {
	Snapshot  Snapshot
	Event     NormalizedEvent
	Duplicate bool
}

// Aggregator applies recognition events to session state, enforcing
// deduplication, monotonic clamped progress, and sticky terminal statuses.
// It is pure bookkeeping apart from one side effect: unattributed header
// images get a signed retrieval URL recorded in the unknown-image cache.
type Aggregator struct {
	registry *Registry
	signer   storage.URLSigner
	cache    *report.UnknownImageCache
	clock    grading.Clock
	logger   *zap.Logger
}

// NewAggregator wires the aggregator's collaborators.
func NewAggregator(
	registry *Registry,
	signer storage.URLSigner,
	cache *report.UnknownImageCache,
	clock grading.Clock,
	logger *zap.Logger,
) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		registry: registry,
		signer:   signer,
		cache:    cache,
		clock:    clock,
		logger:   logger,
	}
}

// Apply folds one recognition event into its session under the session's
// lock and returns the updated snapshot plus the event to broadcast.
//
// Duplicates (an already-counted filename) are a designed no-op: counters and
// lastUpdate stay untouched so a redelivered stale message cannot resurrect
// an idle session.
func (a *Aggregator) Apply(ctx context.Context, evt grading.Event) (Outcome, error) {
	if evt.ExamCode == "" {
		return Outcome{}, fmt.Errorf("event without exam code: %w", ErrNoSession)
	}
	sess, ok := a.registry.Get(evt.ExamCode)
	if !ok {
		return Outcome{}, fmt.Errorf("exam %s: %w", evt.ExamCode, ErrNoSession)
	}

	sess.mu.Lock()
	if sess.removed {
		sess.mu.Unlock()
		return Outcome{}, fmt.Errorf("exam %s removed: %w", evt.ExamCode, ErrNoSession)
	}

	if evt.Filename != "" {
		if _, dup := sess.processedKeys[evt.Filename]; dup {
			snap := sess.snapshotLocked()
			sess.mu.Unlock()
			a.logger.Debug("duplicate file ignored",
				zap.String("exam_code", evt.ExamCode),
				zap.String("filename", evt.Filename),
			)
			return Outcome{Snapshot: snap, Duplicate: true}, nil
		}
		sess.processedKeys[evt.Filename] = struct{}{}
	}

	// Totals are discovered progressively; a positive total on the event
	// replaces whatever the session had.
	if evt.Total > 0 {
		sess.total = evt.Total
	}

	status := evt.Status
	if status == "" {
		status = StatusProcessing
	}
	if sess.total > 0 && len(sess.processedKeys) >= sess.total {
		status = StatusCompleted
	}
	// Terminal statuses stick; a late total increase needs an explicit
	// session reset rather than silently reopening a finished run.
	if sess.status == StatusCompleted || sess.status == StatusError {
		status = sess.status
	}
	sess.status = status
	sess.lastUpdate = a.clock.Now()
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	norm := NormalizedEvent{
		Kind:      string(evt.Kind),
		ExamCode:  snap.ExamCode,
		Index:     snap.Index,
		Total:     snap.Total,
		Status:    snap.Status,
		StudentID: evt.StudentID,
		Filename:  evt.Filename,
	}
	a.recordUnknownImages(ctx, evt, snap.ExamCode, &norm)

	a.logger.Info("progress applied",
		zap.String("exam_code", snap.ExamCode),
		zap.Int("index", snap.Index),
		zap.Int("total", snap.Total),
		zap.String("status", snap.Status),
	)
	return Outcome{Snapshot: snap, Event: norm}, nil
}

// recordUnknownImages caches retrieval URLs for images the workers could not
// attribute to a student. The cache keys by decoded filename, so a re-signed
// URL for the same file replaces the stale one.
func (a *Aggregator) recordUnknownImages(ctx context.Context, evt grading.Event, examCode string, norm *NormalizedEvent) {
	switch {
	case evt.StudentID == grading.UnknownStudentID && evt.Filename != "":
		key := fmt.Sprintf("header/%s/unknown_id/%s", examCode, evt.Filename)
		url, err := a.signer.SignGet(ctx, key)
		if err != nil {
			a.logger.Warn("sign unknown image url failed", zap.String("key", key), zap.Error(err))
			return
		}
		a.cache.Save(examCode, []string{url})
		norm.PresignedURLs = []string{url}
	case len(evt.PresignedURLs) > 0:
		a.cache.Save(examCode, evt.PresignedURLs)
		norm.PresignedURLs = evt.PresignedURLs
	}
}
