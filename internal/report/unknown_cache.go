// Package report keeps transient review artifacts produced while an exam is
// being graded.
package report

import (
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/mlpa-gradi/notifier/internal/grading"
)

// UnknownImageCache maps exam codes to signed URLs of header images whose
// student could not be identified automatically. It is a workspace for the
// manual review flow, not a record of truth: Clear is safe at any time and
// simply means the client has reconciled the images by other means.
//
// Buckets are partitioned per exam code with their own locks, so writers for
// unrelated exams never contend.
type UnknownImageCache struct {
	buckets sync.Map // string -> *bucket
}

type bucket struct {
	mu    sync.RWMutex
	files map[string]string // decoded filename -> url
}

// NewUnknownImageCache constructs an empty cache.
func NewUnknownImageCache() *UnknownImageCache {
	return &UnknownImageCache{}
}

// Save upserts urls into the exam's bucket keyed by decoded filename. A fresh
// URL replaces an older, possibly expired, one for the same logical file.
// URLs without a decodable trailing filename are skipped.
func (c *UnknownImageCache) Save(examCode string, urls []string) {
	examCode = grading.NormalizeExamCode(examCode)
	if examCode == "" || len(urls) == 0 {
		return
	}
	b := c.bucket(examCode)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range urls {
		name, ok := DecodeFilename(u)
		if !ok {
			continue
		}
		b.files[name] = u
	}
}

// Get returns a snapshot copy of the exam's URLs, safe to iterate while
// concurrent writers mutate the live bucket. URLs are ordered by decoded
// filename so repeated reads are stable.
func (c *UnknownImageCache) Get(examCode string) []string {
	v, ok := c.buckets.Load(grading.NormalizeExamCode(examCode))
	if !ok {
		return []string{}
	}
	b := v.(*bucket)
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.files))
	for name := range b.files {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, b.files[name])
	}
	return out
}

// Clear removes the exam's entire bucket.
func (c *UnknownImageCache) Clear(examCode string) {
	c.buckets.Delete(grading.NormalizeExamCode(examCode))
}

func (c *UnknownImageCache) bucket(examCode string) *bucket {
	if v, ok := c.buckets.Load(examCode); ok {
		return v.(*bucket)
	}
	v, _ := c.buckets.LoadOrStore(examCode, &bucket{files: make(map[string]string)})
	return v.(*bucket)
}

// DecodeFilename extracts and percent-decodes the trailing path component of
// a URL, ignoring any query string. It reports false when no filename can be
// recovered.
func DecodeFilename(rawURL string) (string, bool) {
	path, _, _ := strings.Cut(rawURL, "?")
	name := path[strings.LastIndex(path, "/")+1:]
	if name == "" {
		return "", false
	}
	decoded, err := url.QueryUnescape(name)
	if err != nil {
		return "", false
	}
	return decoded, true
}
