// Package worker drains the ingestion queue and runs each request through the pipeline.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vinay10110/FinCompilance/internal/clock/system"
	"github.com/vinay10110/FinCompilance/internal/crawler"
	"github.com/vinay10110/FinCompilance/internal/metrics"
)

// EventDocumentIngested is published after each successful ingestion when a topic is set.
const EventDocumentIngested = "document.ingested"

// Ingester is the pipeline surface the worker drives.
type Ingester interface {
	Ingest(ctx context.Context, documentLink, identifier string) (string, error)
	IngestRecord(ctx context.Context, class crawler.DocumentClass, identifier string) (string, error)
}

// Config controls Worker behavior.
type Config struct {
	// Timeout bounds one ingestion; zero means no bound beyond the run context.
	Timeout time.Duration
	// Topic receives an EventDocumentIngested message per success when non-empty.
	Topic string
}

// Worker consumes ingestion requests until its context ends.
type Worker struct {
	id        int
	queue     crawler.Queue
	ingester  Ingester
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker; publisher may be nil.
func New(
	id int,
	queue crawler.Queue,
	ingester Ingester,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	return &Worker{
		id:        id,
		queue:     queue,
		ingester:  ingester,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.Process(ctx, req)
	}
}

// Process ingests one request. Failures are logged and counted, never returned.
func (w *Worker) Process(ctx context.Context, req crawler.IngestRequest) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}
	logger := w.logger.With(
		zap.String("identifier", req.Identifier),
		zap.String("class", string(req.Class)),
	)
	if !req.Submitted.IsZero() {
		logger = logger.With(zap.Duration("queued_for", w.clock.Now().Sub(req.Submitted)))
	}

	var (
		key string
		err error
	)
	if req.DocumentLink == "" {
		key, err = w.ingester.IngestRecord(ctx, req.Class, req.Identifier)
	} else {
		key, err = w.ingester.Ingest(ctx, req.DocumentLink, req.Identifier)
	}
	if err != nil {
		logger.Error("queued ingestion failed",
			zap.String("stage", string(crawler.IngestionStageOf(err))),
			zap.Error(err),
		)
		return
	}
	logger.Info("queued ingestion finished", zap.String("namespace", key))
	w.publishResult(ctx, logger, req, key)
}

func (w *Worker) publishResult(ctx context.Context, logger *zap.Logger, req crawler.IngestRequest, namespace string) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"type":       EventDocumentIngested,
		"identifier": req.Identifier,
		"class":      req.Class,
		"namespace":  namespace,
		"timestamp":  w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		logger.Warn("publish ingestion event failed", zap.Error(err))
	}
}
