// Package poller drives the grading pipeline: it pulls recognition events
// off the queue, applies them to session state, and hands the results to the
// event broadcaster.
package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mlpa-gradi/notifier/internal/grading"
	"github.com/mlpa-gradi/notifier/internal/metrics"
	"github.com/mlpa-gradi/notifier/internal/queue"
	"github.com/mlpa-gradi/notifier/internal/session"
	"github.com/mlpa-gradi/notifier/internal/sse"
)

// Config tunes the polling loop.
type Config struct {
	// Interval is the delay between polling ticks.
	Interval time.Duration
	// MaxMessages caps the batch size per fetch.
	MaxMessages int
	// Wait is the long-poll timeout passed to the queue.
	Wait time.Duration
	// MaxFailures is the consecutive fetch failure count that opens the
	// circuit breaker.
	MaxFailures int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = 10
	}
	if c.Wait <= 0 {
		c.Wait = 5 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 10
	}
	return c
}

// Poller polls the queue on a fixed interval. A tick that is still running
// when the next interval elapses is not stacked behind it; late ticks are
// skipped so one slow fetch cannot pile up a backlog of polls.
type Poller struct {
	queue       queue.Consumer
	aggregator  *session.Aggregator
	broadcaster *sse.Broadcaster
	cfg         Config
	logger      *zap.Logger

	failures atomic.Int32
	tripped  atomic.Bool
}

// New constructs a Poller.
func New(
	q queue.Consumer,
	aggregator *session.Aggregator,
	broadcaster *sse.Broadcaster,
	cfg Config,
	logger *zap.Logger,
) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		queue:       q,
		aggregator:  aggregator,
		broadcaster: broadcaster,
		cfg:         cfg.withDefaults(),
		logger:      logger,
	}
}

// Run polls until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("poller started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("max_messages", p.cfg.MaxMessages),
	)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			p.Tick(ctx)
			// Drop any tick that fired while we were processing so slow
			// batches skip polls instead of queueing them.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// Tick performs one fetch-and-process cycle. It is a no-op while the circuit
// breaker is open.
func (p *Poller) Tick(ctx context.Context) {
	if p.tripped.Load() {
		return
	}

	msgs, err := p.queue.FetchBatch(ctx, p.cfg.MaxMessages, p.cfg.Wait)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.recordFetchFailure(err)
		return
	}
	p.failures.Store(0)

	for _, msg := range msgs {
		if err := p.handle(ctx, msg.Body); err != nil {
			// Leave the message unacknowledged; the broker redelivers it
			// after the visibility window lapses.
			p.logger.Error("event left unacknowledged", zap.Error(err))
			metrics.ObserveMessage("unknown", "unacked")
			continue
		}
		if err := p.queue.Ack(ctx, msg.AckToken); err != nil {
			p.logger.Warn("ack failed", zap.Error(err))
		}
	}
}

// Suspended reports whether the circuit breaker is open.
func (p *Poller) Suspended() bool {
	return p.tripped.Load()
}

// ResetBreaker closes the circuit breaker and resumes polling on the next
// tick.
func (p *Poller) ResetBreaker() {
	p.failures.Store(0)
	if p.tripped.CompareAndSwap(true, false) {
		metrics.SetBreakerOpen(false)
		p.logger.Info("poller circuit breaker reset")
	}
}

func (p *Poller) recordFetchFailure(err error) {
	metrics.ObserveFetchFailure()
	n := p.failures.Add(1)
	p.logger.Warn("queue fetch failed",
		zap.Int32("consecutive_failures", n),
		zap.Error(err),
	)
	if int(n) >= p.cfg.MaxFailures && p.tripped.CompareAndSwap(false, true) {
		metrics.SetBreakerOpen(true)
		p.logger.Error("queue polling suspended after repeated failures",
			zap.Int("max_failures", p.cfg.MaxFailures),
		)
	}
}

// handle dispatches one decoded queue message. A nil return means the
// message is done and may be acknowledged, including designed drops like
// events for unknown sessions.
func (p *Poller) handle(ctx context.Context, body []byte) error {
	evt, err := grading.ParseEvent(body)
	if err != nil {
		return err
	}

	switch {
	case evt.Kind == grading.KindError:
		p.logger.Error("worker reported grading error",
			zap.String("exam_code", evt.ExamCode),
			zap.String("message", evt.Message),
		)
		p.broadcaster.Send(evt.ExamCode, "error_occurred", evt.Raw)
		metrics.ObserveMessage(string(evt.Kind), "sent")
		return nil

	case evt.IsRecognition():
		out, err := p.aggregator.Apply(ctx, evt)
		if errors.Is(err, session.ErrNoSession) {
			p.logger.Warn("event for unknown session dropped",
				zap.String("exam_code", evt.ExamCode),
				zap.String("filename", evt.Filename),
			)
			metrics.ObserveMessage(string(evt.Kind), "dropped")
			return nil
		}
		if err != nil {
			return err
		}
		if out.Duplicate {
			metrics.ObserveMessage(string(evt.Kind), "duplicate")
			return nil
		}
		p.broadcaster.UpdateProgress(out.Snapshot.ExamCode, out.Snapshot.Index, out.Snapshot.Total)
		p.broadcaster.Send(out.Snapshot.ExamCode, "recognition_update", out.Event)
		metrics.ObserveMessage(string(evt.Kind), "applied")
		return nil

	case evt.Kind == grading.KindAttendanceUpload:
		// Log-only: attendance uploads are operational breadcrumbs, not
		// client-facing events.
		p.logger.Info("attendance sheet uploaded",
			zap.String("exam_code", evt.ExamCode),
			zap.String("download_url", evt.DownloadURL),
		)
		metrics.ObserveMessage(string(evt.Kind), "logged")
		return nil

	default:
		p.logger.Warn("unhandled event kind",
			zap.String("event_type", string(evt.Kind)),
			zap.String("exam_code", evt.ExamCode),
		)
		metrics.ObserveMessage(string(evt.Kind), "ignored")
		return nil
	}
}
