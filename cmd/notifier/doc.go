// Package main hosts the grading notifier service entrypoint.
//
// Architecture overview:
//   - Queue poller: internal/poller pulls recognition events from the grading
//     worker queue (GCP Pub/Sub in production, an in-memory queue for local
//     development) on a fixed interval, with a circuit breaker that suspends
//     polling after repeated broker failures.
//   - Session registry & aggregation: internal/session tracks per-exam
//     progress. Events are deduplicated by filename, totals are discovered
//     progressively, and completed/error statuses are terminal until the
//     session is removed.
//   - Event stream: internal/sse fans applied events out to server-sent-event
//     subscribers per exam code. Slow or dead subscribers are pruned rather
//     than allowed to stall the pipeline.
//   - Storage: internal/storage mints signed upload/download URLs (GCS V4 in
//     production) so scan images never pass through this service. Header
//     images the workers could not attribute to a student are collected in
//     internal/report for manual review.
//   - Persistence: an optional Postgres-backed exam catalog (internal/store,
//     internal/storage/postgres) backs the /api/exams endpoints; without a
//     DSN they answer 503.
//   - Configuration & plumbing: Viper populates config from env/files (prefix
//     NOTIFIER); zap provides structured logging; Prometheus metrics are
//     exported on /metrics.
//
// Operational notes:
//   - Shutdown is coordinated via context cancellation from SIGINT/SIGTERM;
//     the HTTP server drains for up to 10 seconds and open event streams end
//     when their request contexts are canceled.
//   - The poller never overlaps ticks; a slow batch skips polls instead of
//     queueing them. An open circuit breaker flips /readyz to 503 and can be
//     closed again via POST /api/admin/poller/reset.
//
// Run locally: go run ./cmd/notifier -config config.yaml (or rely solely on
// NOTIFIER_* env overrides; the defaults use the memory queue and the local
// fake signer).
package main
