package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vinay10110/FinCompilance/internal/config"
	"github.com/vinay10110/FinCompilance/internal/crawler"
	"github.com/vinay10110/FinCompilance/internal/discovery"
	"github.com/vinay10110/FinCompilance/internal/dispatcher"
	"github.com/vinay10110/FinCompilance/internal/id/uuid"
	"github.com/vinay10110/FinCompilance/internal/ingest"
	"github.com/vinay10110/FinCompilance/internal/metrics"
)

const (
	searchTimeout    = 30 * time.Second
	readinessTimeout = 2 * time.Second
	maxBodyBytes     = 1 << 20
)

// Ingester is the ingestion surface the API needs.
type Ingester interface {
	Ingest(ctx context.Context, documentLink, identifier string) (string, error)
	IngestRecord(ctx context.Context, class crawler.DocumentClass, identifier string) (string, error)
	Search(ctx context.Context, identifier, query string, topK int) ([]crawler.ChunkMatch, error)
}

// Enqueuer hands ingestion requests to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, req crawler.IngestRequest) error
}

// RequestIDs mints IDs for requests that arrive without an X-Request-ID header.
type RequestIDs interface {
	MustNewID() string
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server wires HTTP handlers to the crawl runner and the ingestion pipeline.
type Server struct {
	router   chi.Router
	runner   crawler.CycleRunner
	ingester Ingester
	enqueuer Enqueuer
	ids      RequestIDs
	checks   []ReadinessCheck
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ingester and enqueuer may be nil,
// in which case the matching routes answer 503. A nil ids mints UUIDv7 request IDs.
func NewServer(
	runner crawler.CycleRunner,
	ingester Ingester,
	enqueuer Enqueuer,
	ids RequestIDs,
	cfg config.Config,
	logger *zap.Logger,
	checks ...ReadinessCheck,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ids == nil {
		ids = uuid.New()
	}
	s := &Server{
		runner:   runner,
		ingester: ingester,
		enqueuer: enqueuer,
		ids:      ids,
		checks:   checks,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/crawl/{class}", s.runCrawl)
		r.Route("/documents", func(r chi.Router) {
			r.Post("/ingest", s.ingestDocument)
			r.Post("/ingest/async", s.enqueueDocument)
			r.Post("/{identifier}/search", s.searchDocument)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	failures := map[string]string{}
	for _, check := range s.checks {
		if err := check.Check(ctx); err != nil {
			failures[check.Name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlResponse struct {
	crawler.CycleResult
	NewCount int `json:"new_count"`
}

func (s *Server) runCrawl(w http.ResponseWriter, r *http.Request) {
	class, err := crawler.ParseDocumentClass(chi.URLParam(r, "class"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	if secs := s.cfg.Schedule.CycleTimeoutSeconds; secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Seconds(secs))
		defer cancel()
	}
	result, err := s.runner.RunCycle(ctx, class)
	switch {
	case discovery.IsAborted(err):
		writeError(w, http.StatusBadGateway, err.Error())
		return
	case err != nil:
		// Records persisted before the interruption are still reported.
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":  err.Error(),
			"result": crawlResponse{CycleResult: result, NewCount: len(result.Records)},
		})
		return
	}
	writeJSON(w, http.StatusOK, crawlResponse{CycleResult: result, NewCount: len(result.Records)})
}

type ingestRequest struct {
	Class        string `json:"class"`
	Identifier   string `json:"identifier"`
	DocumentLink string `json:"document_link"`
}

func (s *Server) decodeIngestRequest(w http.ResponseWriter, r *http.Request) (crawler.IngestRequest, bool) {
	var body ingestRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return crawler.IngestRequest{}, false
	}
	req := crawler.IngestRequest{
		Identifier:   strings.TrimSpace(body.Identifier),
		DocumentLink: strings.TrimSpace(body.DocumentLink),
	}
	if body.Class != "" {
		class, err := crawler.ParseDocumentClass(body.Class)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return crawler.IngestRequest{}, false
		}
		req.Class = class
	}
	if !dispatcher.ValidRequest(req) {
		writeError(w, http.StatusBadRequest, dispatcher.ErrInvalidRequest.Error())
		return crawler.IngestRequest{}, false
	}
	return req, true
}

func (s *Server) ingestDocument(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion is not configured")
		return
	}
	req, ok := s.decodeIngestRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if secs := s.cfg.Crawler.IngestTimeoutSeconds; secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Seconds(secs))
		defer cancel()
	}

	var (
		namespace string
		err       error
	)
	if req.DocumentLink != "" {
		namespace, err = s.ingester.Ingest(ctx, req.DocumentLink, req.Identifier)
	} else {
		namespace, err = s.ingester.IngestRecord(ctx, req.Class, req.Identifier)
	}
	if err != nil {
		s.writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"namespace": namespace})
}

func (s *Server) writeIngestError(w http.ResponseWriter, err error) {
	if stage := crawler.IngestionStageOf(err); stage != "" {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error(), "reason": string(stage)})
		return
	}
	switch {
	case errors.Is(err, crawler.ErrMissingIdentifier):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, crawler.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.logger.Error("ingest request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) enqueueDocument(w http.ResponseWriter, r *http.Request) {
	if s.enqueuer == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion is not configured")
		return
	}
	req, ok := s.decodeIngestRequest(w, r)
	if !ok {
		return
	}
	if err := s.enqueuer.Enqueue(r.Context(), req); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, dispatcher.ErrInvalidRequest):
			status = http.StatusBadRequest
		case errors.Is(err, crawler.ErrQueueClosed):
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"identifier": req.Identifier, "status": "queued"})
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (s *Server) searchDocument(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion is not configured")
		return
	}
	identifier := chi.URLParam(r, "identifier")
	var body searchRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), searchTimeout)
	defer cancel()
	matches, err := s.ingester.Search(ctx, identifier, body.Query, body.TopK)
	switch {
	case errors.Is(err, ingest.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, crawler.ErrNotFound):
		writeError(w, http.StatusNotFound, "document has not been ingested")
		return
	case err != nil:
		s.logger.Error("search failed", zap.String("identifier", identifier), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if matches == nil {
		matches = []crawler.ChunkMatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"identifier": identifier, "matches": matches})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

type requestIDKey struct{}

// RequestID returns the request ID stored by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = s.ids.MustNewID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", RequestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
