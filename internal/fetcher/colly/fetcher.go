// Package collyfetcher implements crawler.Fetcher using gocolly, with retry and rate limiting.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/vinay10110/FinCompilance/internal/crawler"
	"github.com/vinay10110/FinCompilance/internal/metrics"
)

// DefaultUserAgent mimics a desktop browser; the source rejects default client signatures.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Referer      string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	retry         *crawler.ExponentialRetryPolicy
	limiter       crawler.Limiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// attemptState collects what the colly callbacks observed during one visit. It is owned by
// the visiting goroutine until handed back over the result channel.
type attemptState struct {
	response   crawler.FetchResponse
	statusCode int
	err        error
	visitErr   error
}

// New builds a Fetcher. retry and limiter may be nil.
func New(cfg Config, retry *crawler.ExponentialRetryPolicy, limiter crawler.Limiter, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if retry == nil {
		retry = crawler.NewExponentialRetryPolicy(3, time.Second, 30*time.Second)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Clones share the backend, so transport-level settings are fixed here once.
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	c.UserAgent = cfg.UserAgent
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	if cfg.MaxBodyBytes > 0 {
		// One byte over the limit lets the response hook tell a capped body from a full one.
		c.MaxBodySize = cfg.MaxBodyBytes + 1
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		retry:         retry,
		limiter:       limiter,
		logger:        logger,
	}
}

// Fetch GETs request.URL, retrying transient failures with exponential backoff. Exhausted
// retries surface as a permanent FetchError wrapping the last failure; cancellation of ctx is
// returned as-is and never retried.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	start := time.Now()
	attempts := 0
	operation := func() (crawler.FetchResponse, error) {
		attempts++
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, request.URL); err != nil {
				return crawler.FetchResponse{}, backoff.Permanent(fmt.Errorf("rate limit wait: %w", err))
			}
		}
		resp, err := f.attempt(ctx, request)
		if err == nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.FetchResponse{}, backoff.Permanent(ctxErr)
		}
		if !crawler.IsTransientFetch(err) {
			return crawler.FetchResponse{}, backoff.Permanent(err)
		}
		return crawler.FetchResponse{}, err
	}
	notify := func(err error, wait time.Duration) {
		f.logger.Warn("transient fetch failure, retrying",
			zap.String("url", request.URL),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	resp, err := backoff.RetryNotifyWithData(operation, f.retry.NewBackOff(ctx), notify)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s canceled: %w", request.URL, ctxErr)
		}
		var fetchErr *crawler.FetchError
		if errors.As(err, &fetchErr) && fetchErr.Kind == crawler.FetchTransient {
			return crawler.FetchResponse{}, &crawler.FetchError{
				URL:        request.URL,
				Kind:       crawler.FetchPermanent,
				StatusCode: fetchErr.StatusCode,
				Err:        fmt.Errorf("retries exhausted after %d attempts: %w", attempts, err),
			}
		}
		return crawler.FetchResponse{}, err
	}
	resp.Attempts = attempts
	resp.Duration = time.Since(start)
	return resp, nil
}

// attempt performs exactly one request and classifies its failure.
func (f *Fetcher) attempt(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	state, err := f.runCollector(ctx, request)
	if err != nil {
		return f.fail(request, f.retry.Classify(0, err), 0, err)
	}

	switch {
	case state.err != nil:
		return f.fail(request, f.retry.Classify(state.statusCode, state.err), state.statusCode, state.err)
	case state.visitErr != nil:
		return f.fail(request, f.retry.Classify(0, state.visitErr), 0, state.visitErr)
	}

	if request.Kind == crawler.FetchBinary {
		contentType := state.response.Headers.Get("Content-Type")
		if !strings.Contains(strings.ToLower(contentType), "pdf") {
			err := fmt.Errorf("%w: got %q", crawler.ErrUnexpectedContentType, contentType)
			return f.fail(request, crawler.FetchPermanent, state.response.StatusCode, err)
		}
	}
	metrics.ObserveFetch(request.URL, request.Kind.String(), "success", len(state.response.Body))
	return state.response, nil
}

func (f *Fetcher) fail(request crawler.FetchRequest, kind crawler.FetchErrorKind, status int, err error) (crawler.FetchResponse, error) {
	metrics.ObserveFetch(request.URL, request.Kind.String(), string(kind), 0)
	return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Kind: kind, StatusCode: status, Err: err}
}

func (f *Fetcher) buildCollector(ctx context.Context, request crawler.FetchRequest, start time.Time, state *attemptState) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, request, start, state)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	state *attemptState,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		if err := f.checkBodySize(r); err != nil {
			state.statusCode = r.StatusCode
			state.err = err
			return
		}
		state.response = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			state.statusCode = r.StatusCode
		}
		state.err = err
	})
}

// runCollector visits request.URL on its own goroutine. On cancellation it returns without
// waiting, leaving the abandoned state to that goroutine.
func (f *Fetcher) runCollector(ctx context.Context, request crawler.FetchRequest) (*attemptState, error) {
	done := make(chan *attemptState, 1)
	go func() {
		state := &attemptState{}
		collector := f.buildCollector(ctx, request, time.Now(), state)
		if err := collector.Visit(request.URL); err != nil {
			state.visitErr = fmt.Errorf("colly visit failed: %w", err)
		}
		done <- state
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case state := <-done:
		return state, nil
	}
}

// checkBodySize rejects bodies that colly cut off at MaxBodySize.
func (f *Fetcher) checkBodySize(r *colly.Response) error {
	if limit := f.cfg.MaxBodyBytes; limit > 0 && len(r.Body) > limit {
		return fmt.Errorf("%w: more than %d bytes", crawler.ErrBodyTooLarge, limit)
	}
	return nil
}

func (f *Fetcher) copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	if f.cfg.Referer != "" {
		r.Headers.Set("Referer", f.cfg.Referer)
	}
	if request.Kind == crawler.FetchBinary {
		r.Headers.Set("Accept", "application/pdf,*/*;q=0.8")
	} else {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
