// Package metrics exposes Prometheus collectors for the notifier service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	queueFetchFailuresTotal prometheus.Counter
	queueMessagesTotal      *prometheus.CounterVec
	activeSessions          prometheus.Gauge
	activeSubscriptions     prometheus.Gauge
	eventsSentTotal         *prometheus.CounterVec
	subscriptionsDropped    prometheus.Counter
	pollerBreakerOpen       prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		queueFetchFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "notifier_queue_fetch_failures_total",
				Help: "Total failed queue fetch requests.",
			},
		)

		queueMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_queue_messages_total",
				Help: "Total queue messages handled, labeled by kind and result.",
			},
			[]string{"kind", "result"},
		)

		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "notifier_active_sessions",
				Help: "Number of grading sessions currently tracked.",
			},
		)

		activeSubscriptions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "notifier_active_subscriptions",
				Help: "Number of live event-stream subscriptions.",
			},
		)

		eventsSentTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_events_sent_total",
				Help: "Total events delivered to subscribers, labeled by event name.",
			},
			[]string{"event"},
		)

		subscriptionsDropped = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "notifier_subscriptions_dropped_total",
				Help: "Subscriptions pruned because they were closed or backed up.",
			},
		)

		pollerBreakerOpen = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "notifier_poller_breaker_open",
				Help: "1 when the queue poller circuit breaker is open.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetchFailure increments the queue fetch failure counter.
func ObserveFetchFailure() {
	if queueFetchFailuresTotal != nil {
		queueFetchFailuresTotal.Inc()
	}
}

// ObserveMessage increments the handled-message counter for kind and result.
func ObserveMessage(kind, result string) {
	if queueMessagesTotal != nil {
		queueMessagesTotal.WithLabelValues(kind, result).Inc()
	}
}

// IncSessions increments the active sessions gauge.
func IncSessions() {
	if activeSessions != nil {
		activeSessions.Inc()
	}
}

// DecSessions decrements the active sessions gauge.
func DecSessions() {
	if activeSessions != nil {
		activeSessions.Dec()
	}
}

// IncSubscriptions increments the live subscription gauge.
func IncSubscriptions() {
	if activeSubscriptions != nil {
		activeSubscriptions.Inc()
	}
}

// DecSubscriptions decrements the live subscription gauge.
func DecSubscriptions() {
	if activeSubscriptions != nil {
		activeSubscriptions.Dec()
	}
}

// ObserveEventSent increments the delivered-event counter for an event name.
func ObserveEventSent(event string) {
	if eventsSentTotal != nil {
		eventsSentTotal.WithLabelValues(event).Inc()
	}
}

// ObserveSubscriptionDropped increments the pruned-subscription counter.
func ObserveSubscriptionDropped() {
	if subscriptionsDropped != nil {
		subscriptionsDropped.Inc()
	}
}

// SetBreakerOpen records the poller circuit breaker state.
func SetBreakerOpen(open bool) {
	if pollerBreakerOpen == nil {
		return
	}
	if open {
		pollerBreakerOpen.Set(1)
	} else {
		pollerBreakerOpen.Set(0)
	}
}
