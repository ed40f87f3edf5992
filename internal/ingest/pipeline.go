// Package ingest turns a regulatory document into a searchable namespace of embedded chunks.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vinay10110/FinCompilance/internal/crawler"
	"github.com/vinay10110/FinCompilance/internal/identity"
	"github.com/vinay10110/FinCompilance/internal/metrics"
	"github.com/vinay10110/FinCompilance/internal/telemetry"
)

var tracer = otel.Tracer("github.com/vinay10110/FinCompilance/internal/ingest")

var _ crawler.Ingester = (*Pipeline)(nil)

// Config tunes chunking, embedding fan-out and archiving.
type Config struct {
	ChunkSize        int
	ChunkOverlap     int
	EmbedBatchSize   int
	EmbedConcurrency int
	ArchiveDocuments bool
	ArchivePrefix    string
	// Timeout bounds one shared ingestion run, independent of the callers waiting on it.
	Timeout time.Duration
}

// Pipeline implements crawler.Ingester.
type Pipeline struct {
	fetcher   crawler.Fetcher
	extractor crawler.Extractor
	embedder  crawler.Embedder
	vectors   crawler.VectorStore
	documents crawler.DocumentStore
	blobs     crawler.BlobStore
	splitter  *Splitter
	cfg       Config
	inflight  singleflight.Group
	logger    *zap.Logger
}

// New constructs a Pipeline. documents and blobs may be nil; IngestRecord then reports
// ErrNotFound and archiving is skipped.
func New(
	fetcher crawler.Fetcher,
	extractor crawler.Extractor,
	embedder crawler.Embedder,
	vectors crawler.VectorStore,
	documents crawler.DocumentStore,
	blobs crawler.BlobStore,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 32
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "documents"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher:   fetcher,
		extractor: extractor,
		embedder:  embedder,
		vectors:   vectors,
		documents: documents,
		blobs:     blobs,
		splitter:  NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:       cfg,
		logger:    logger,
	}
}

// Ingest makes sure the namespace for identifier exists, building it from documentLink when
// it does not. It returns the namespace key. identifier must be the key of the stored
// record, which for press releases is derived from the detail page and not the document.
// Concurrent calls for the same identifier share one execution that outlives any single
// caller's cancellation; a failed run leaves no namespace behind.
func (p *Pipeline) Ingest(ctx context.Context, documentLink, identifier string) (string, error) {
	documentLink = strings.TrimSpace(documentLink)
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", crawler.ErrMissingIdentifier
	}
	ch := p.inflight.DoChan(identifier, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
		defer cancel()
		return p.ingest(runCtx, documentLink, identifier)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if res.Shared {
		p.logger.Debug("joined in-flight ingestion", zap.String("identifier", identifier))
	}
	if res.Err != nil {
		return "", res.Err
	}
	return res.Val.(string), nil
}

// IngestRecord ingests the document link of a previously discovered record.
func (p *Pipeline) IngestRecord(ctx context.Context, class crawler.DocumentClass, identifier string) (string, error) {
	if p.documents == nil {
		return "", fmt.Errorf("lookup document %s: %w", identifier, crawler.ErrNotFound)
	}
	record, err := p.documents.GetByIdentifier(ctx, class, identifier)
	if err != nil {
		return "", fmt.Errorf("lookup document %s: %w", identifier, err)
	}
	if record.DocumentLink == "" {
		return "", &crawler.IngestionError{
			Stage:      crawler.StageDownload,
			Identifier: identifier,
			Err:        errors.New("record has no document link"),
		}
	}
	return p.Ingest(ctx, record.DocumentLink, record.Identifier)
}

func (p *Pipeline) ingest(ctx context.Context, documentLink, identifier string) (namespace string, err error) {
	ctx, span := tracer.Start(ctx, "ingest.document", trace.WithAttributes(
		attribute.String("identifier", identifier),
		attribute.String("document_link", documentLink),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(crawler.IngestionStageOf(err)))
		}
		span.End()
	}()

	start := time.Now()
	key := identity.NamespaceKey(identifier)
	logger := p.logger.With(
		zap.String("identifier", identifier),
		zap.String("namespace", key),
		zap.String("trace_id", telemetry.TraceID(ctx)),
	)

	exists, err := p.vectors.NamespaceExists(ctx, key)
	if err != nil {
		return "", p.fail(logger, crawler.StageStorage, identifier, fmt.Errorf("check namespace: %w", err))
	}
	if exists {
		metrics.ObserveIngestion("existing", 0, 0)
		logger.Debug("namespace already present")
		return key, nil
	}

	resp, err := p.fetcher.Fetch(ctx, crawler.FetchRequest{URL: documentLink, Kind: crawler.FetchBinary})
	if err != nil {
		return "", p.fail(logger, crawler.StageDownload, identifier, err)
	}
	p.archive(ctx, logger, identifier, resp.Body)

	extraction, err := p.extractor.Extract(ctx, resp.Body)
	if err != nil {
		return "", p.fail(logger, crawler.StageExtraction, identifier, err)
	}
	texts := p.chunkTexts(extraction)
	if len(texts) == 0 {
		return "", p.fail(logger, crawler.StageExtraction, identifier, crawler.ErrNoContent)
	}

	vectors, err := p.embed(ctx, texts)
	if err != nil {
		return "", p.fail(logger, crawler.StageEmbedding, identifier, err)
	}

	chunks := make([]crawler.StoredChunk, len(texts))
	for i, text := range texts {
		chunks[i] = crawler.StoredChunk{
			ID:         identity.ChunkID(identifier, i),
			Vector:     vectors[i],
			Text:       text,
			Identifier: identifier,
		}
	}
	if err := p.vectors.UpsertChunks(ctx, key, chunks); err != nil {
		return "", p.fail(logger, crawler.StageStorage, identifier, fmt.Errorf("upsert chunks: %w", err))
	}

	elapsed := time.Since(start)
	metrics.ObserveIngestion("stored", len(chunks), elapsed)
	logger.Info("document ingested",
		zap.Int("chunks", len(chunks)),
		zap.Int("tables", len(extraction.Tables)),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("elapsed", elapsed),
	)
	return key, nil
}

// chunkTexts splits prose and appends each table whole, after all prose chunks.
func (p *Pipeline) chunkTexts(extraction crawler.Extraction) []string {
	texts := p.splitter.Split(strings.Join(extraction.Pages, "\n"))
	for i, table := range extraction.Tables {
		texts = append(texts, SerializeTable(i, table))
	}
	return texts
}

// embed runs batches on a bounded errgroup and reassembles vectors in input order.
func (p *Pipeline) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.EmbedConcurrency)
	for start := 0; start < len(texts); start += p.cfg.EmbedBatchSize {
		end := min(start+p.cfg.EmbedBatchSize, len(texts))
		g.Go(func() error {
			batch, err := p.embedder.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
			}
			if len(batch) != end-start {
				return fmt.Errorf("embed chunks %d-%d: got %d vectors for %d texts", start, end-1, len(batch), end-start)
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (p *Pipeline) archive(ctx context.Context, logger *zap.Logger, identifier string, body []byte) {
	if p.blobs == nil || !p.cfg.ArchiveDocuments {
		return
	}
	path := fmt.Sprintf("%s/%s.pdf", strings.TrimSuffix(p.cfg.ArchivePrefix, "/"), identifier)
	uri, err := p.blobs.PutObject(ctx, path, "application/pdf", bytes.NewReader(body))
	if err != nil {
		logger.Warn("archive document failed", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Debug("document archived", zap.String("uri", uri))
}

func (p *Pipeline) fail(logger *zap.Logger, stage crawler.IngestionStage, identifier string, err error) error {
	metrics.ObserveIngestion(string(stage), 0, 0)
	logger.Error("ingestion failed", zap.String("stage", string(stage)), zap.Error(err))
	return &crawler.IngestionError{Stage: stage, Identifier: identifier, Err: err}
}
