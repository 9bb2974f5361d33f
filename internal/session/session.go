// Package session holds the authoritative per-exam grading progress state
// and the aggregation logic that applies recognition events to it.
package session

import (
	"sync"
	"time"
)

// Statuses a session moves through. Completed and error are terminal: once a
// session reaches either, later non-error events never revert it to
// processing. Resuming requires removing the session and starting over.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// defaultExamName labels sessions created before their display name is known.
const defaultExamName = "Unknown"

// Session is the registry's mutable progress record for one exam code. All
// field access is guarded by mu; callers outside this package only ever see
// Snapshot copies.
type Session struct {
	mu sync.Mutex

	examCode      string
	examName      string
	total         int
	processedKeys map[string]struct{}
	status        string
	lastUpdate    time.Time
	removed       bool
}

// Snapshot is an immutable copy of a session's reportable state. Index is
// clamped to Total when Total is known; the dedup ledger itself is never
// truncated, so the internal set may hold more keys than Total.
type Snapshot struct {
	ExamCode   string    `json:"examCode"`
	ExamName   string    `json:"examName"`
	Index      int       `json:"index"`
	Total      int       `json:"total"`
	Status     string    `json:"status"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	index := len(s.processedKeys)
	if s.total > 0 && index > s.total {
		index = s.total
	}
	return Snapshot{
		ExamCode:   s.examCode,
		ExamName:   s.examName,
		Index:      index,
		Total:      s.total,
		Status:     s.status,
		LastUpdate: s.lastUpdate,
	}
}

// seed fills in metadata a later caller learned before the session did. The
// first nonzero total and the first real exam name win; existing values are
// never downgraded.
func (s *Session) seed(examName string, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if examName != "" && examName != defaultExamName && s.examName == defaultExamName {
		s.examName = examName
	}
	if total > 0 && s.total == 0 {
		s.total = total
	}
}

// markRemoved invalidates the session so in-flight aggregations observe
// "gone" instead of resurrecting it.
func (s *Session) markRemoved() {
	s.mu.Lock()
	s.removed = true
	s.mu.Unlock()
}
