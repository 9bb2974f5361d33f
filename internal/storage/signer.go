// Package storage defines the object-storage boundary used for time-limited
// URL signing. This abstraction keeps the service independent of a specific
// blob store (Google Cloud Storage in production, a deterministic fake for
// development and tests).
package storage

import "context"

// URLSigner mints time-limited URLs for objects the service never reads or
// writes itself: clients and the recognition workers exchange image bytes
// directly with the blob store.
type URLSigner interface {
	// SignGet returns a time-limited read-only URL for key.
	SignGet(ctx context.Context, key string) (string, error)
	// SignPut returns a time-limited write-only URL for key that accepts
	// uploads with the given content type.
	SignPut(ctx context.Context, key, contentType string) (string, error)
}
