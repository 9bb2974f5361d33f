// Package gcs provides a URLSigner backed by Google Cloud Storage V4 signed
// URLs.
package gcs

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
)

const defaultTTL = 10 * time.Minute

// Config captures the parameters required to sign GCS URLs.
type Config struct {
	Bucket string
	TTL    time.Duration
}

// Signer mints V4 signed URLs for objects in a configured bucket. Credentials
// come from Application Default Credentials via the shared client.
type Signer struct {
	client *storage.Client
	bucket string
	ttl    time.Duration
}

// New creates a GCS-backed signer.
func New(client *storage.Client, cfg Config) (*Signer, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Signer{
		client: client,
		bucket: cfg.Bucket,
		ttl:    ttl,
	}, nil
}

// SignGet returns a time-limited read-only URL for key.
func (s *Signer) SignGet(_ context.Context, key string) (string, error) {
	url, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(s.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign GET url for %q: %w", key, err)
	}
	return url, nil
}

// SignPut returns a time-limited write-only URL for key. The upload must send
// the same content type or the signature check fails at the bucket.
func (s *Signer) SignPut(_ context.Context, key, contentType string) (string, error) {
	url, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      http.MethodPut,
		ContentType: contentType,
		Expires:     time.Now().Add(s.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign PUT url for %q: %w", key, err)
	}
	return url, nil
}
