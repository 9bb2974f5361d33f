// Package local provides a deterministic URLSigner for development and
// tests. The URLs it mints are well formed but grant nothing; they exist so
// the rest of the pipeline can run without cloud credentials.
package local

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Signer fabricates signed-looking URLs under a fixed base URL.
type Signer struct {
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// New creates a Signer rooted at baseURL.
func New(baseURL string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Signer{
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SignGet returns a fake read URL for key.
func (s *Signer) SignGet(_ context.Context, key string) (string, error) {
	return s.sign(key, "GET", ""), nil
}

// SignPut returns a fake write URL for key.
func (s *Signer) SignPut(_ context.Context, key, contentType string) (string, error) {
	return s.sign(key, "PUT", contentType), nil
}

func (s *Signer) sign(key, method, contentType string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	q := url.Values{}
	q.Set("method", method)
	q.Set("expires", fmt.Sprintf("%d", s.now().Add(s.ttl).Unix()))
	if contentType != "" {
		q.Set("content-type", contentType)
	}
	return fmt.Sprintf("%s/%s?%s", s.baseURL, strings.Join(segments, "/"), q.Encode())
}
