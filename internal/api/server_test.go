package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vinay10110/FinCompilance/internal/config"
	"github.com/vinay10110/FinCompilance/internal/crawler"
	"github.com/vinay10110/FinCompilance/internal/dispatcher"
	"github.com/vinay10110/FinCompilance/internal/ingest"
	queueMemory "github.com/vinay10110/FinCompilance/internal/queue/memory"
)

func TestServer_RunCrawl_ReturnsNewRecords(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{result: crawler.CycleResult{
		RunID: "run-1",
		Class: crawler.ClassCircular,
		Records: []crawler.DocumentRecord{
			{Class: crawler.ClassCircular, Identifier: "abc", Title: "Master Direction on KYC"},
		},
		Skips: crawler.SkipCounts{crawler.SkipDuplicate: 3},
	}}
	server := NewServer(runner, nil, nil, nil, config.Config{}, zap.NewNop())

	rec := serve(server, http.MethodPost, "/v1/crawl/circulars", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []crawler.DocumentClass{crawler.ClassCircular}, runner.classes())
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "run-1", body["run_id"])
	require.EqualValues(t, 1, body["new_count"])
	require.Contains(t, rec.Body.String(), "Master Direction on KYC")
}

func TestServer_RunCrawl_UnknownClass(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeRunner{}, nil, nil, nil, config.Config{}, zap.NewNop())
	rec := serve(server, http.MethodPost, "/v1/crawl/notices", "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RunCrawl_AbortedCycle(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: fmt.Errorf("%w: fetch listing: boom", crawler.ErrCycleAborted)}
	server := NewServer(runner, nil, nil, nil, config.Config{}, zap.NewNop())
	rec := serve(server, http.MethodPost, "/v1/crawl/press_release", "")

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "fetch listing")
}

func TestServer_IngestDocument_ByLink(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{namespace: "doc_abc"}
	server := NewServer(&fakeRunner{}, ing, nil, nil, config.Config{}, zap.NewNop())
	rec := serve(server, http.MethodPost, "/v1/documents/ingest",
		`{"identifier":"abc","document_link":"https://rbidocs.rbi.org.in/a.pdf"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "doc_abc")
	require.Equal(t, []string{"link:https://rbidocs.rbi.org.in/a.pdf:abc"}, ing.calls())
}

func TestServer_IngestDocument_ByRecord(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{namespace: "doc_abc"}
	server := NewServer(&fakeRunner{}, ing, nil, nil, config.Config{}, zap.NewNop())
	rec := serve(server, http.MethodPost, "/v1/documents/ingest", `{"class":"circular","identifier":"abc"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"record:circular:abc"}, ing.calls())
}

func TestServer_IngestDocument_Validation(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeRunner{}, &fakeIngester{}, nil, nil, config.Config{}, zap.NewNop())

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: "{invalid"},
		{name: "missing link and class", body: `{"identifier":"abc"}`},
		{name: "link without identifier", body: `{"document_link":"https://example.com/a.pdf"}`},
		{name: "unknown class", body: `{"class":"notice","identifier":"abc"}`},
		{name: "unknown field", body: `{"url":"https://example.com"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(server, http.MethodPost, "/v1/documents/ingest", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestServer_IngestDocument_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "extraction failure",
			err:        &crawler.IngestionError{Stage: crawler.StageExtraction, Identifier: "abc", Err: crawler.ErrNoContent},
			wantStatus: http.StatusBadGateway,
			wantBody:   `"reason":"extraction"`,
		},
		{
			name:       "unknown record",
			err:        fmt.Errorf("lookup document abc: %w", crawler.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantBody:   "lookup document",
		},
		{
			name:       "deadline",
			err:        context.DeadlineExceeded,
			wantStatus: http.StatusGatewayTimeout,
			wantBody:   "deadline",
		},
		{
			name:       "missing identifier",
			err:        crawler.ErrMissingIdentifier,
			wantStatus: http.StatusBadRequest,
			wantBody:   "identifier",
		},
		{
			name:       "unexpected",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := NewServer(&fakeRunner{}, &fakeIngester{err: tt.err}, nil, nil, config.Config{}, zap.NewNop())
			rec := serve(server, http.MethodPost, "/v1/documents/ingest", `{"identifier":"abc","document_link":"https://example.com/a.pdf"}`)
			require.Equal(t, tt.wantStatus, rec.Code)
			require.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestServer_IngestDocument_NotConfigured(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeRunner{}, nil, nil, nil, config.Config{}, zap.NewNop())
	rec := serve(server, http.MethodPost, "/v1/documents/ingest", `{"document_link":"https://example.com/a.pdf"}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_EnqueueDocument_Succeeds(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(1)
	dispatch := dispatcher.New(q, nil, &fakeClock{now: time.Unix(100, 0)})
	server := NewServer(&fakeRunner{}, &fakeIngester{}, dispatch, nil, config.Config{}, zap.NewNop())

	rec := serve(server, http.MethodPost, "/v1/documents/ingest/async",
		`{"identifier":"abc","document_link":"https://example.com/A.pdf"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://example.com/A.pdf", item.DocumentLink)
	require.Equal(t, "abc", item.Identifier)
	require.Equal(t, time.Unix(100, 0), item.Submitted)
	require.Contains(t, rec.Body.String(), `"identifier":"abc"`)
}

func TestServer_EnqueueDocument_RequiresIdentifier(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(1)
	server := NewServer(&fakeRunner{}, &fakeIngester{}, dispatcher.New(q, nil, nil), nil, config.Config{}, zap.NewNop())

	rec := serve(server, http.MethodPost, "/v1/documents/ingest/async", `{"document_link":"https://example.com/A.pdf"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, q.Len())
}

func TestServer_EnqueueDocument_QueueClosed(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(1)
	q.Close()
	server := NewServer(&fakeRunner{}, &fakeIngester{}, dispatcher.New(q, nil, nil), nil, config.Config{}, zap.NewNop())

	rec := serve(server, http.MethodPost, "/v1/documents/ingest/async", `{"class":"circular","identifier":"abc"}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_SearchDocument(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{matches: []crawler.ChunkMatch{
		{StoredChunk: crawler.StoredChunk{ID: "abc_0", Text: "repo rate unchanged", Identifier: "abc"}, Score: 0.92},
	}}
	server := NewServer(&fakeRunner{}, ing, nil, nil, config.Config{}, zap.NewNop())

	rec := serve(server, http.MethodPost, "/v1/documents/abc/search", `{"query":"repo rate","top_k":3}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "repo rate unchanged")
	require.Equal(t, []string{"search:abc:repo rate:3"}, ing.calls())
}

func TestServer_SearchDocument_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "empty query", err: ingest.ErrEmptyQuery, wantStatus: http.StatusBadRequest},
		{name: "not ingested", err: fmt.Errorf("namespace doc_abc: %w", crawler.ErrNotFound), wantStatus: http.StatusNotFound},
		{name: "embedder down", err: errors.New("embed query: 500"), wantStatus: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := NewServer(&fakeRunner{}, &fakeIngester{err: tt.err}, nil, nil, config.Config{}, zap.NewNop())
			rec := serve(server, http.MethodPost, "/v1/documents/abc/search", `{"query":"q"}`)
			require.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	server := NewServer(&fakeRunner{}, nil, nil, nil, cfg, zap.NewNop())

	rec := serve(server, http.MethodPost, "/v1/crawl/circular", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	for _, key := range []string{"Secret", "secre", "secret2"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/crawl/circular", nil)
		req.Header.Set("X-API-Key", key)
		rec = httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code, "key %q", key)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/crawl/circular", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Health endpoints stay open for orchestrators.
	rec = serve(server, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	healthy := NewServer(&fakeRunner{}, nil, nil, nil, config.Config{}, zap.NewNop(),
		ReadinessCheck{Name: "db", Check: func(context.Context) error { return nil }})
	rec := serve(healthy, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	broken := NewServer(&fakeRunner{}, nil, nil, nil, config.Config{}, zap.NewNop(),
		ReadinessCheck{Name: "db", Check: func(context.Context) error { return errors.New("connection refused") }})
	rec = serve(broken, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeRunner{}, nil, nil, nil, config.Config{}, zap.NewNop())
	serve(server, http.MethodGet, "/healthz", "")
	rec := serve(server, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "fincompliance_http_requests_total")
}

type fixedIDs struct{ id string }

func (f fixedIDs) MustNewID() string { return f.id }

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeRunner{}, nil, nil, fixedIDs{id: "req-0001"}, config.Config{}, zap.NewNop())
	rec := serve(server, http.MethodGet, "/healthz", "")
	require.Equal(t, "req-0001", rec.Header().Get("X-Request-ID"))

	defaulted := NewServer(&fakeRunner{}, nil, nil, nil, config.Config{}, zap.NewNop())
	rec = serve(defaulted, http.MethodGet, "/healthz", "")
	require.Len(t, rec.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(&panickingRunner{}, nil, nil, nil, config.Config{}, zap.NewNop())
	rec := serve(server, http.MethodPost, "/v1/crawl/circular", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func serve(server *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeRunner struct {
	mu     sync.Mutex
	result crawler.CycleResult
	err    error
	seen   []crawler.DocumentClass
}

func (f *fakeRunner) RunCycle(_ context.Context, class crawler.DocumentClass) (crawler.CycleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, class)
	if f.err != nil {
		return crawler.CycleResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeRunner) classes() []crawler.DocumentClass {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawler.DocumentClass(nil), f.seen...)
}

type panickingRunner struct{}

func (panickingRunner) RunCycle(context.Context, crawler.DocumentClass) (crawler.CycleResult, error) {
	panic("listing parser exploded")
}

type fakeIngester struct {
	mu        sync.Mutex
	namespace string
	matches   []crawler.ChunkMatch
	err       error
	log       []string
}

func (f *fakeIngester) record(entry string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, entry)
}

func (f *fakeIngester) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *fakeIngester) Ingest(_ context.Context, link, identifier string) (string, error) {
	f.record("link:" + link + ":" + identifier)
	return f.namespace, f.err
}

func (f *fakeIngester) IngestRecord(_ context.Context, class crawler.DocumentClass, identifier string) (string, error) {
	f.record("record:" + string(class) + ":" + identifier)
	return f.namespace, f.err
}

func (f *fakeIngester) Search(_ context.Context, identifier, query string, topK int) ([]crawler.ChunkMatch, error) {
	f.record(fmt.Sprintf("search:%s:%s:%d", identifier, query, topK))
	return f.matches, f.err
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}
