package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/vinay10110/FinCompilance/internal/crawler"
)

func fastRetry(maxRetries int) *crawler.ExponentialRetryPolicy {
	return crawler.NewExponentialRetryPolicy(maxRetries, time.Millisecond, 5*time.Millisecond)
}

type countingLimiter struct {
	calls atomic.Int32
	err   error
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.calls.Add(1)
	return l.err
}

func TestFetchListingSendsBrowserHeaders(t *testing.T) {
	t.Parallel()

	var gotUA, gotReferer, gotAccept, gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		gotReferer = r.Referer()
		gotAccept = r.Header.Get("Accept")
		gotTrace = r.Header.Get("X-Trace")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	f := New(Config{Referer: "https://rbi.org.in/"}, fastRetry(3), limiter, nil)
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/Scripts/list.aspx",
		Kind:    crawler.FetchListing,
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<html>ok</html>", string(resp.Body))
	require.Equal(t, 1, resp.Attempts)
	require.Equal(t, DefaultUserAgent, gotUA)
	require.Equal(t, "https://rbi.org.in/", gotReferer)
	require.Contains(t, gotAccept, "text/html")
	require.Equal(t, "yes", gotTrace)
	require.EqualValues(t, 1, limiter.calls.Load())
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	f := New(Config{}, fastRetry(3), nil, nil)
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, "recovered", string(resp.Body))
	require.Equal(t, 3, resp.Attempts)
	require.EqualValues(t, 3, calls.Load())
}

func TestFetchExhaustedRetriesBecomePermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := New(Config{}, fastRetry(2), nil, nil)
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)

	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, crawler.FetchPermanent, fetchErr.Kind)
	require.Equal(t, http.StatusTooManyRequests, fetchErr.StatusCode)
	require.EqualValues(t, 3, calls.Load(), "first attempt plus two retries")
}

func TestFetchPermanentStatusNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{}, fastRetry(3), nil, nil)
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})

	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, crawler.FetchPermanent, fetchErr.Kind)
	require.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	require.EqualValues(t, 1, calls.Load())
}

func TestFetchBinaryValidatesContentType(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/ok.pdf" {
			require.Contains(t, r.Header.Get("Accept"), "application/pdf")
			w.Header().Set("Content-Type", "Application/PDF")
			_, _ = w.Write([]byte("%PDF-1.4"))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>session expired</html>"))
	}))
	defer srv.Close()

	f := New(Config{}, fastRetry(3), nil, nil)
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/ok.pdf", Kind: crawler.FetchBinary})
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4", string(resp.Body))

	_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/interstitial.pdf", Kind: crawler.FetchBinary})
	require.ErrorIs(t, err, crawler.ErrUnexpectedContentType)
	require.False(t, crawler.IsTransientFetch(err))
	require.EqualValues(t, 2, calls.Load())
}

func TestFetchTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 50 * time.Millisecond}, fastRetry(1), nil, nil)
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})

	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, crawler.FetchPermanent, fetchErr.Kind)
	require.EqualValues(t, 2, calls.Load())
}

func TestFetchCancelledContextIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New(Config{}, fastRetry(3), nil, nil)
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.Canceled)
	require.LessOrEqual(t, calls.Load(), int32(1))
}

func TestFetchCancelDuringVisit(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		entered <- struct{}{}
		<-release
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	f := New(Config{}, fastRetry(3), nil, nil)
	errs := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL + "/slow.pdf", Kind: crawler.FetchBinary})
		errs <- err
	}()

	<-entered
	cancel()
	select {
	case err := <-errs:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not return after cancel")
	}
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		size := 1024
		if r.URL.Path == "/large.pdf" {
			size = 4096
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte(strings.Repeat("x", size)))
	}))
	defer srv.Close()

	f := New(Config{MaxBodyBytes: 1024}, fastRetry(3), nil, nil)
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/exact.pdf", Kind: crawler.FetchBinary})
	require.NoError(t, err)
	require.Len(t, resp.Body, 1024)

	_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/large.pdf", Kind: crawler.FetchBinary})
	require.ErrorIs(t, err, crawler.ErrBodyTooLarge)
	require.False(t, crawler.IsTransientFetch(err))
	require.EqualValues(t, 2, calls.Load(), "oversized bodies are not retried")
}

func TestFetchLimiterErrorIsPermanent(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{err: errors.New("limiter closed")}
	f := New(Config{}, fastRetry(3), limiter, nil)
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://127.0.0.1:1/unused"})
	require.ErrorContains(t, err, "limiter closed")
	require.EqualValues(t, 1, limiter.calls.Load())
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Referer: "https://rbi.org.in/"}, nil, nil, nil)
	req := crawler.FetchRequest{
		URL:     "https://example.com/doc.pdf",
		Kind:    crawler.FetchBinary,
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	state := &attemptState{}
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), state)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	require.Equal(t, "https://rbi.org.in/", collyReq.Headers.Get("Referer"))
	require.Contains(t, collyReq.Headers.Get("Accept"), "application/pdf")

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"application/pdf"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/doc.pdf")},
	})
	require.Equal(t, "body", string(state.response.Body))
	require.Equal(t, "application/pdf", state.response.Headers.Get("Content-Type"))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	require.Equal(t, http.StatusBadGateway, state.statusCode)
	require.EqualError(t, state.err, "Bad Gateway")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
