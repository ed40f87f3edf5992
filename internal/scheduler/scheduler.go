// Package scheduler triggers crawl cycles on a cron schedule and at startup.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vinay10110/FinCompilance/internal/crawler"
)

// DefaultSpec crawls every five minutes.
const DefaultSpec = "@every 5m"

// Config controls when cycles run.
type Config struct {
	// Spec is a standard five-field cron expression or a descriptor such as "@every 5m".
	Spec string
	// RunOnStart triggers one round as soon as Run is called.
	RunOnStart bool
	// Classes are crawled in order on every round.
	Classes []crawler.DocumentClass
	// CycleTimeout bounds each cycle; zero means no bound.
	CycleTimeout time.Duration
}

// Scheduler runs every configured class on each tick. Overlapping ticks are skipped.
type Scheduler struct {
	runner crawler.CycleRunner
	cfg    Config
	logger *zap.Logger
	cron   *cron.Cron
	entry  cron.EntryID

	mu  sync.Mutex
	ctx context.Context
}

// New parses the schedule and registers the crawl job.
func New(runner crawler.CycleRunner, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("cycle runner is required")
	}
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if len(cfg.Classes) == 0 {
		cfg.Classes = crawler.Classes()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLog := cronLogger{logger: logger.Sugar()}
	s := &Scheduler{
		runner: runner,
		cfg:    cfg,
		logger: logger,
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		ctx: context.Background(),
	}
	entry, err := s.cron.AddFunc(cfg.Spec, s.tick)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Spec, err)
	}
	s.entry = entry
	return s, nil
}

// Run starts the schedule and blocks until ctx ends, then waits for a running round to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if s.cfg.RunOnStart {
		// Wrapped so it is skipped if the first tick is still running.
		go s.cron.Entry(s.entry).WrappedJob.Run()
	}
	s.cron.Start()
	s.logger.Info("crawl schedule started", zap.String("spec", s.cfg.Spec), zap.Bool("run_on_start", s.cfg.RunOnStart))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("crawl schedule stopped")
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	s.RunRound(ctx)
}

// RunRound crawls every class once, in order, and returns the results of cycles that ran.
func (s *Scheduler) RunRound(ctx context.Context) []crawler.CycleResult {
	results := make([]crawler.CycleResult, 0, len(s.cfg.Classes))
	for _, class := range s.cfg.Classes {
		if ctx.Err() != nil {
			break
		}
		result, err := s.runCycle(ctx, class)
		if err != nil {
			s.logger.Error("scheduled crawl failed", zap.String("class", string(class)), zap.Error(err))
			continue
		}
		results = append(results, result)
	}
	return results
}

func (s *Scheduler) runCycle(ctx context.Context, class crawler.DocumentClass) (crawler.CycleResult, error) {
	if s.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CycleTimeout)
		defer cancel()
	}
	return s.runner.RunCycle(ctx, class)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
