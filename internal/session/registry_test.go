package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubClock struct {
	t time.Time
}

func (c *stubClock) Now() time.Time { return c.t }

func (c *stubClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestClock() *stubClock {
	return &stubClock{t: time.Unix(1700000000, 0).UTC()}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(newTestClock(), nil)
	first := reg.GetOrCreate(" abc123 ", "", 0)
	second := reg.GetOrCreate("ABC123", "Operating Systems", 40)
	require.Same(t, first, second)

	snap := second.Snapshot()
	require.Equal(t, "ABC123", snap.ExamCode)
	require.Equal(t, "Operating Systems", snap.ExamName, "late metadata should fill the gap")
	require.Equal(t, 40, snap.Total)
	require.Equal(t, StatusProcessing, snap.Status)
}

func TestGetOrCreateKeepsExistingMetadata(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(newTestClock(), nil)
	reg.GetOrCreate("ABC123", "Operating Systems", 40)
	sess := reg.GetOrCreate("ABC123", "Renamed", 99)

	snap := sess.Snapshot()
	require.Equal(t, "Operating Systems", snap.ExamName)
	require.Equal(t, 40, snap.Total)
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(newTestClock(), nil)
	reg.GetOrCreate("ABC123", "", 0)

	require.True(t, reg.Remove("abc123"))
	_, ok := reg.Get("ABC123")
	require.False(t, ok)
	require.False(t, reg.Remove("ABC123"), "second remove is a no-op")
}

func TestActiveSessions(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(newTestClock(), nil)
	require.Empty(t, reg.ActiveSessions())

	reg.GetOrCreate("ABC123", "", 0)
	reg.GetOrCreate("XYZ789", "", 0)

	snaps := reg.ActiveSessions()
	require.Len(t, snaps, 2)
	codes := map[string]bool{}
	for _, s := range snaps {
		codes[s.ExamCode] = true
	}
	require.True(t, codes["ABC123"])
	require.True(t, codes["XYZ789"])
}
