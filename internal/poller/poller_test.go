package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mlpa-gradi/notifier/internal/queue"
	"github.com/mlpa-gradi/notifier/internal/queue/memory"
	"github.com/mlpa-gradi/notifier/internal/report"
	"github.com/mlpa-gradi/notifier/internal/session"
	"github.com/mlpa-gradi/notifier/internal/sse"
	"github.com/mlpa-gradi/notifier/internal/storage/local"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type failingConsumer struct {
	calls atomic.Int32
}

func (f *failingConsumer) FetchBatch(context.Context, int, time.Duration) ([]queue.Message, error) {
	f.calls.Add(1)
	return nil, errors.New("broker unavailable")
}

func (f *failingConsumer) Ack(context.Context, string) error { return nil }

func (f *failingConsumer) Close() error { return nil }

type pipeline struct {
	queue       *memory.Queue
	broadcaster *sse.Broadcaster
	poller      *Poller
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	clock := fixedClock{t: time.Unix(1700000000, 0).UTC()}
	reg := session.NewRegistry(clock, nil)
	cache := report.NewUnknownImageCache()
	signer := local.New("http://localhost:8080/fake-storage", 0)
	agg := session.NewAggregator(reg, signer, cache, clock, nil)
	b := sse.NewBroadcaster(reg, 16, nil)
	q := memory.New()
	p := New(q, agg, b, Config{Wait: 10 * time.Millisecond}, nil)
	return &pipeline{queue: q, broadcaster: b, poller: p}
}

func drainOne(t *testing.T, sub *sse.Subscription) sse.Payload {
	t.Helper()
	select {
	case p := <-sub.Events():
		return p
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return sse.Payload{}
	}
}

func TestTickAppliesRecognitionEvent(t *testing.T) {
	t.Parallel()

	pl := newPipeline(t)
	sub, err := pl.broadcaster.Connect("ABC123", "Operating Systems", 3)
	require.NoError(t, err)
	defer pl.broadcaster.Disconnect(sub)
	require.Equal(t, "connect", drainOne(t, sub).Event)

	pl.queue.Publish([]byte(`{"examCode":"ABC123","studentId":"1","filename":"a.jpg","total":3}`))
	pl.poller.Tick(context.Background())

	require.Equal(t, "progress", drainOne(t, sub).Event)
	require.Equal(t, "recognition_update", drainOne(t, sub).Event)
	require.Zero(t, pl.queue.Redeliver(), "processed message must be acknowledged")
}

func TestTickAcknowledgesDuplicates(t *testing.T) {
	t.Parallel()

	pl := newPipeline(t)
	sub, err := pl.broadcaster.Connect("ABC123", "", 0)
	require.NoError(t, err)
	defer pl.broadcaster.Disconnect(sub)
	drainOne(t, sub)

	body := []byte(`{"examCode":"ABC123","filename":"a.jpg","total":3}`)
	pl.queue.Publish(body)
	pl.queue.Publish(body)
	pl.poller.Tick(context.Background())

	require.Equal(t, "progress", drainOne(t, sub).Event)
	require.Equal(t, "recognition_update", drainOne(t, sub).Event)
	select {
	case p := <-sub.Events():
		t.Fatalf("duplicate produced event %q", p.Event)
	default:
	}
	require.Zero(t, pl.queue.Redeliver(), "duplicates are still acknowledged")
}

func TestTickDropsUnknownSessionButAcks(t *testing.T) {
	t.Parallel()

	pl := newPipeline(t)
	pl.queue.Publish([]byte(`{"examCode":"NOPE","filename":"a.jpg","total":3}`))
	pl.poller.Tick(context.Background())
	require.Zero(t, pl.queue.Redeliver())
}

func TestTickLeavesMalformedUnacked(t *testing.T) {
	t.Parallel()

	pl := newPipeline(t)
	pl.queue.Publish([]byte(`not json`))
	pl.poller.Tick(context.Background())
	require.Equal(t, 1, pl.queue.Redeliver(), "malformed message stays in flight for redelivery")
}

func TestTickBroadcastsErrorEvents(t *testing.T) {
	t.Parallel()

	pl := newPipeline(t)
	sub, err := pl.broadcaster.Connect("ABC123", "", 0)
	require.NoError(t, err)
	defer pl.broadcaster.Disconnect(sub)
	drainOne(t, sub)

	pl.queue.Publish([]byte(`{"event_type":"ERROR","examCode":"ABC123","message":"worker crashed"}`))
	pl.poller.Tick(context.Background())

	p := drainOne(t, sub)
	require.Equal(t, "error_occurred", p.Event)
	require.Contains(t, string(p.Data), "worker crashed")
	require.Zero(t, pl.queue.Redeliver())
}

func TestTickAttendanceIsLogOnly(t *testing.T) {
	t.Parallel()

	pl := newPipeline(t)
	sub, err := pl.broadcaster.Connect("ABC123", "", 0)
	require.NoError(t, err)
	defer pl.broadcaster.Disconnect(sub)
	drainOne(t, sub)

	pl.queue.Publish([]byte(`{"event_type":"ATTENDANCE_UPLOAD","examCode":"ABC123","downloadUrl":"https://bucket/attendance/ABC123"}`))
	pl.poller.Tick(context.Background())

	// Attendance uploads are acknowledged but never broadcast.
	select {
	case p := <-sub.Events():
		t.Fatalf("attendance upload produced event %q", p.Event)
	default:
	}
	require.Zero(t, pl.queue.Redeliver())
}

func TestBreakerOpensAndResets(t *testing.T) {
	t.Parallel()

	consumer := &failingConsumer{}
	p := New(consumer, nil, nil, Config{MaxFailures: 3, Wait: time.Millisecond}, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		p.Tick(ctx)
	}
	require.True(t, p.Suspended())
	require.EqualValues(t, 3, consumer.calls.Load())

	// Open breaker means ticks stop touching the queue.
	p.Tick(ctx)
	require.EqualValues(t, 3, consumer.calls.Load())

	p.ResetBreaker()
	require.False(t, p.Suspended())
	p.Tick(ctx)
	require.EqualValues(t, 4, consumer.calls.Load())
}

type flakyConsumer struct {
	inner    *memory.Queue
	failures atomic.Int32
}

func (f *flakyConsumer) FetchBatch(ctx context.Context, maxMessages int, wait time.Duration) ([]queue.Message, error) {
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return nil, errors.New("broker unavailable")
	}
	return f.inner.FetchBatch(ctx, maxMessages, wait)
}

func (f *flakyConsumer) Ack(ctx context.Context, token string) error { return f.inner.Ack(ctx, token) }

func (f *flakyConsumer) Close() error { return f.inner.Close() }

func TestSuccessfulFetchResetsFailureStreak(t *testing.T) {
	t.Parallel()

	consumer := &flakyConsumer{inner: memory.New()}
	p := New(consumer, nil, nil, Config{MaxFailures: 3, Wait: time.Millisecond}, nil)

	ctx := context.Background()
	consumer.failures.Store(2)
	p.Tick(ctx)
	p.Tick(ctx)
	require.False(t, p.Suspended())

	// One clean fetch, then two more failures: the breaker must not trip
	// because the streak restarted from zero.
	p.Tick(ctx)
	consumer.failures.Store(2)
	p.Tick(ctx)
	p.Tick(ctx)
	require.False(t, p.Suspended())
}
