package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mlpa-gradi/notifier/internal/config"
	"github.com/mlpa-gradi/notifier/internal/report"
	"github.com/mlpa-gradi/notifier/internal/session"
	"github.com/mlpa-gradi/notifier/internal/sse"
	"github.com/mlpa-gradi/notifier/internal/storage/local"
	"github.com/mlpa-gradi/notifier/internal/store"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stubPoller struct {
	suspended bool
	resets    int
}

func (p *stubPoller) ResetBreaker() { p.resets++; p.suspended = false }

func (p *stubPoller) Suspended() bool { return p.suspended }

type fakeExamRepo struct {
	exams map[string]store.Exam
}

func newFakeExamRepo() *fakeExamRepo {
	return &fakeExamRepo{exams: make(map[string]store.Exam)}
}

func (r *fakeExamRepo) CreateExam(_ context.Context, exam store.Exam) error {
	r.exams[exam.ExamCode] = exam
	return nil
}

func (r *fakeExamRepo) GetExamByCode(_ context.Context, examCode string) (store.Exam, error) {
	exam, ok := r.exams[strings.ToUpper(examCode)]
	if !ok {
		return store.Exam{}, store.ErrNotFound
	}
	return exam, nil
}

func (r *fakeExamRepo) ListExams(_ context.Context, _, _ int) ([]store.Exam, error) {
	out := make([]store.Exam, 0, len(r.exams))
	for _, exam := range r.exams {
		out = append(out, exam)
	}
	return out, nil
}

func (r *fakeExamRepo) DeleteExam(_ context.Context, examCode string) error {
	code := strings.ToUpper(examCode)
	if _, ok := r.exams[code]; !ok {
		return store.ErrNotFound
	}
	delete(r.exams, code)
	return nil
}

type fixture struct {
	server      *Server
	broadcaster *sse.Broadcaster
	cache       *report.UnknownImageCache
	exams       *fakeExamRepo
	poller      *stubPoller
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	if mutate != nil {
		mutate(&cfg)
	}

	reg := session.NewRegistry(fixedClock{t: time.Unix(1700000000, 0).UTC()}, nil)
	b := sse.NewBroadcaster(reg, cfg.SSE.BufferSize, nil)
	cache := report.NewUnknownImageCache()
	exams := newFakeExamRepo()
	poller := &stubPoller{}
	signer := local.New(cfg.Storage.BaseURL, 0)
	return &fixture{
		server:      NewServer(b, cache, signer, exams, poller, cfg, nil),
		broadcaster: b,
		cache:       cache,
		exams:       exams,
		poller:      poller,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", "").Code)

	f.poller.suspended = true
	require.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/readyz", "").Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *config.Config) {
		c.Auth.Enabled = true
		c.Auth.APIKey = "secret"
	})

	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/healthz", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestProgressLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/storage/progress/ABC123", "").Code)

	sub, err := f.broadcaster.Connect("abc123", "Operating Systems", 40)
	require.NoError(t, err)
	defer f.broadcaster.Disconnect(sub)

	rec := f.do(t, http.MethodGet, "/api/storage/progress/abc123", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, "ABC123", snap.ExamCode)
	require.Equal(t, 40, snap.Total)

	rec = f.do(t, http.MethodGet, "/api/storage/active-processes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ABC123")

	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/storage/progress/ABC123", "").Code)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/storage/progress/ABC123", "").Code)
}

func TestDeleteProgressIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	// Deleting a session that never existed is still success.
	rec := f.do(t, http.MethodDelete, "/api/storage/progress/NOPE", "")
	require.Equal(t, http.StatusOK, rec.Code)

	sub, err := f.broadcaster.Connect("abc123", "", 0)
	require.NoError(t, err)
	defer f.broadcaster.Disconnect(sub)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/storage/progress/ABC123", "").Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/storage/progress/ABC123", "").Code)
}

func TestCreateUploadURLs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	body := `{"examCode":"abc123","studentId":"20250042","files":[{"index":0,"contentType":"image/png"},{"index":1,"contentType":"image/jpeg"}]}`
	rec := f.do(t, http.MethodPost, "/api/storage/presigned-urls", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ExamCode string              `json:"examCode"`
		URLs     []uploadURLResponse `json:"urls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ABC123", resp.ExamCode)
	require.Len(t, resp.URLs, 2)
	require.Equal(t, "uploads/ABC123/20250042/0.png", resp.URLs[0].Key)
	require.Equal(t, "uploads/ABC123/20250042/1.jpg", resp.URLs[1].Key)
	require.Contains(t, resp.URLs[0].URL, "method=PUT")
}

func TestCreateUploadURLsRejectsBadContentType(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	body := `{"examCode":"abc123","studentId":"1","files":[{"index":0,"contentType":"application/pdf"}]}`
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/storage/presigned-urls", body).Code)
}

func TestAttendanceURLs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/storage/attendance/abc123/download-url", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "attendance/ABC123")

	rec = f.do(t, http.MethodPost, "/api/storage/attendance/abc123/upload-url", `{"contentType":"application/pdf"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "method=PUT")

	require.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPost, "/api/storage/attendance/abc123/upload-url", `{}`).Code)
}

func TestUnknownImagesAndFeedback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.cache.Save("ABC123", []string{"https://signed.example/header/ABC123/unknown_id/x.jpg?sig=1"})

	rec := f.do(t, http.MethodGet, "/api/reports/unknown-images/abc123", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "x.jpg")

	rec = f.do(t, http.MethodPost, "/api/feedback", `{"examCode":"abc123","assignments":{"x.jpg":"20250042"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/reports/unknown-images/abc123", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "x.jpg")
}

func TestExamCatalogCRUD(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/exams/", `{"examCode":"abc123","examName":"Operating Systems","total":40}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/exams/ABC123", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Operating Systems")

	rec = f.do(t, http.MethodGet, "/api/exams/?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ABC123")

	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/exams/ABC123", "").Code)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/exams/ABC123", "").Code)
}

func TestExamCatalogUnavailableWithoutRepo(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.server.exams = nil
	require.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/api/exams/", "").Code)
	require.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/api/exams/", `{}`).Code)
}

func TestPollerAdmin(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.poller.suspended = true

	rec := f.do(t, http.MethodPost, "/api/admin/poller/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, f.poller.resets)
	require.Contains(t, rec.Body.String(), `"suspended":false`)

	rec = f.do(t, http.MethodGet, "/api/admin/poller", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestConnectStreamDeliversEvents(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *config.Config) {
		c.SSE.HeartbeatSeconds = 1
	})
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		ts.URL+"/api/storage/sse/connect?examCode=abc123&examName=Operating+Systems&total=40", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: connect\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))
	require.Contains(t, line, `"examCode":"ABC123"`)

	// Push a progress event through the broadcaster and watch it arrive.
	f.broadcaster.UpdateProgress("ABC123", 1, 40)
	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if line == "event: progress\n" {
			break
		}
	}
}

func TestConnectStreamRequiresExamCode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/storage/sse/connect", "").Code)
}
