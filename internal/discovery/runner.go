package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vinay10110/FinCompilance/internal/crawler"
	"github.com/vinay10110/FinCompilance/internal/listing"
	"github.com/vinay10110/FinCompilance/internal/metrics"
	"github.com/vinay10110/FinCompilance/internal/telemetry"
)

var tracer = otel.Tracer("github.com/vinay10110/FinCompilance/internal/discovery")

// Config controls where and how politely a cycle crawls.
type Config struct {
	PressReleaseURL string
	CircularURL     string
	CategoryDelay   time.Duration
}

// Runner executes crawl cycles for both document classes.
type Runner struct {
	store    crawler.DocumentStore
	fetcher  crawler.Fetcher
	parsers  map[crawler.DocumentClass]*listing.Parser
	builder  *Builder
	notifier crawler.Notifier
	pauser   crawler.PauseController
	ids      crawler.IDGenerator
	clock    crawler.Clock
	cfg      Config
	logger   *zap.Logger
}

// NewRunner constructs a Runner. notifier and pauser may be nil.
func NewRunner(
	store crawler.DocumentStore,
	fetcher crawler.Fetcher,
	normalizer crawler.Normalizer,
	categories []string,
	notifier crawler.Notifier,
	pauser crawler.PauseController,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pauser == nil {
		pauser = crawler.TimerPauseController{}
	}
	builder := NewBuilder(normalizer, clock)
	return &Runner{
		store:   store,
		fetcher: fetcher,
		parsers: map[crawler.DocumentClass]*listing.Parser{
			crawler.ClassPressRelease: listing.New(listing.ShapePressRelease, normalizer, categories),
			crawler.ClassCircular:     listing.New(listing.ShapeCircular, normalizer, categories),
		},
		builder:  builder,
		notifier: notifier,
		pauser:   pauser,
		ids:      ids,
		clock:    builder.clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// cycle carries the mutable state of one RunCycle call.
type cycle struct {
	class  crawler.DocumentClass
	known  crawler.KnownLinkSet
	result crawler.CycleResult
	span   trace.Span
	logger *zap.Logger
}

// RunCycle discovers and persists new documents of class. It fails only when the known set
// cannot be loaded or the listing page cannot be fetched; every later failure is scoped to a
// category or row, logged, counted and skipped.
func (r *Runner) RunCycle(ctx context.Context, class crawler.DocumentClass) (crawler.CycleResult, error) {
	listingURL, err := r.listingURL(class)
	if err != nil {
		return crawler.CycleResult{}, err
	}
	runID, err := r.ids.NewID()
	if err != nil {
		return crawler.CycleResult{}, fmt.Errorf("generate run id: %w", err)
	}
	ctx, span := tracer.Start(ctx, "crawl.cycle", trace.WithAttributes(
		attribute.String("class", string(class)),
		attribute.String("run_id", runID),
	))
	defer span.End()
	c := &cycle{
		class: class,
		result: crawler.CycleResult{
			RunID:     runID,
			Class:     class,
			Records:   []crawler.DocumentRecord{},
			Skips:     crawler.SkipCounts{},
			StartedAt: r.clock.Now(),
		},
		span: span,
		logger: r.logger.With(
			zap.String("run_id", runID),
			zap.String("class", string(class)),
			zap.String("trace_id", telemetry.TraceID(ctx)),
		),
	}
	c.logger.Info("crawl cycle started", zap.String("url", listingURL))

	c.known, err = r.store.ExistingCanonicalLinks(ctx, class)
	if err != nil {
		return r.abort(c, fmt.Errorf("%w: load known links: %w", crawler.ErrCycleAborted, err))
	}
	page, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{URL: listingURL, Kind: crawler.FetchListing})
	if err != nil {
		return r.abort(c, fmt.Errorf("%w: fetch listing: %w", crawler.ErrCycleAborted, err))
	}

	parser := r.parsers[class]
	if class == crawler.ClassCircular {
		err = r.crawlCategories(ctx, c, parser, page.Body)
	} else {
		err = r.crawlTable(ctx, c, parser, page.Body, "")
	}

	r.notify(ctx, c)
	c.result.FinishedAt = r.clock.Now()
	status := "success"
	if err != nil {
		status = "interrupted"
	}
	span.SetAttributes(attribute.Int("new_records", len(c.result.Records)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
	}
	metrics.ObserveCrawlCycle(string(class), status)
	metrics.ObserveDocumentsDiscovered(string(class), len(c.result.Records))
	metrics.ObserveCrawlSkips(string(class), c.result.Skips)
	c.logger.Info("crawl cycle finished",
		zap.Int("new_records", len(c.result.Records)),
		zap.Int("skipped", c.result.Skips.Total()),
		zap.Duration("elapsed", c.result.FinishedAt.Sub(c.result.StartedAt)),
		zap.Error(err),
	)
	return c.result, err
}

func (r *Runner) abort(c *cycle, err error) (crawler.CycleResult, error) {
	c.span.RecordError(err)
	c.span.SetStatus(codes.Error, "aborted")
	metrics.ObserveCrawlCycle(string(c.class), "aborted")
	c.logger.Error("crawl cycle aborted", zap.Error(err))
	return crawler.CycleResult{}, err
}

func (r *Runner) listingURL(class crawler.DocumentClass) (string, error) {
	switch class {
	case crawler.ClassPressRelease:
		return r.cfg.PressReleaseURL, nil
	case crawler.ClassCircular:
		return r.cfg.CircularURL, nil
	default:
		return "", fmt.Errorf("%w: unknown document class %q", crawler.ErrCycleAborted, class)
	}
}

// crawlCategories visits every sidebar category in page order with a pause before each fetch.
func (r *Runner) crawlCategories(ctx context.Context, c *cycle, parser *listing.Parser, index []byte) error {
	categories, err := parser.ParseCategories(index)
	if err != nil {
		c.logger.Warn("category sidebar unparseable", zap.Error(err))
		c.result.Skips.Inc(crawler.SkipMalformedRow)
		return nil
	}
	c.logger.Debug("categories discovered", zap.Int("count", len(categories)))
	for _, category := range categories {
		if err := r.pauser.Pause(ctx, r.cfg.CategoryDelay); err != nil {
			return fmt.Errorf("pause before category %q: %w", category.Name, err)
		}
		page, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{URL: category.URL, Kind: crawler.FetchListing})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("fetch category %q: %w", category.Name, ctxErr)
			}
			c.logger.Warn("category fetch failed",
				zap.String("category", category.Name),
				zap.String("url", category.URL),
				zap.Error(err),
			)
			c.result.Skips.Inc(crawler.SkipCategoryFailed)
			continue
		}
		if err := r.crawlTable(ctx, c, parser, page.Body, category.Name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) crawlTable(ctx context.Context, c *cycle, parser *listing.Parser, body []byte, category string) error {
	parsed, err := parser.ParseTable(body, category)
	if err != nil {
		c.logger.Warn("listing table unparseable", zap.String("category", category), zap.Error(err))
		c.result.Skips.Inc(crawler.SkipCategoryFailed)
		return nil
	}
	c.result.Skips.Merge(parsed.Skips)
	for _, entry := range parsed.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.accept(ctx, c, entry)
	}
	return nil
}

// accept builds and persists one entry. Accepted links join the known set so a link listed
// twice in one cycle (for example under two categories) yields a single record.
func (r *Runner) accept(ctx context.Context, c *cycle, entry crawler.RawEntry) {
	record, skip := r.builder.Build(c.class, entry, c.known)
	if skip != crawler.SkipNone {
		c.result.Skips.Inc(skip)
		return
	}
	inserted, err := r.store.InsertIfAbsent(ctx, record)
	if err != nil {
		c.logger.Error("persist record failed",
			zap.String("identifier", record.Identifier),
			zap.String("url", record.CanonicalLink),
			zap.Error(err),
		)
		c.result.Skips.Inc(crawler.SkipPersistFailed)
		return
	}
	c.known.Add(record.CanonicalLink)
	if !inserted {
		c.result.Skips.Inc(crawler.SkipDuplicate)
		return
	}
	c.result.Records = append(c.result.Records, record)
}

func (r *Runner) notify(ctx context.Context, c *cycle) {
	if r.notifier == nil || len(c.result.Records) == 0 {
		return
	}
	// Notify even when the cycle was cancelled after persisting records.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := r.notifier.Notify(notifyCtx, c.class, c.result.Records); err != nil {
		c.logger.Warn("notify new records failed", zap.Error(err))
	}
}

// IsAborted reports whether err means the cycle could not run at all.
func IsAborted(err error) bool {
	return errors.Is(err, crawler.ErrCycleAborted)
}
