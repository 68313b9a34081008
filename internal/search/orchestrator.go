// Package search owns one search run: it builds the shared visited set,
// frontier and result list, seeds the frontier, runs the worker pool to
// completion and hands the results back.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlgrep/internal/backoff"
	"github.com/JakeFAU/crawlgrep/internal/crawler"
	"github.com/JakeFAU/crawlgrep/internal/dispatcher"
	"github.com/JakeFAU/crawlgrep/internal/frontier"
	"github.com/JakeFAU/crawlgrep/internal/results"
	"github.com/JakeFAU/crawlgrep/internal/visited"
	"github.com/JakeFAU/crawlgrep/internal/worker"
)

// Options sizes the shared structures and the pool.
type Options struct {
	Workers          int
	QueueCapacity    int
	VisitedBuckets   int
	VisitedHash      string
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	StopOnFirstMatch bool
	Topic            string
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Workers:        8,
		QueueCapacity:  frontier.DefaultCapacity,
		VisitedBuckets: visited.DefaultBuckets,
		VisitedHash:    "djb2",
		BackoffInitial: backoff.DefaultInitial,
		BackoffMax:     backoff.DefaultMax,
	}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLimiter applies per-host politeness before every fetch.
func WithLimiter(l crawler.Limiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithPublisher publishes every match to Options.Topic.
func WithPublisher(p crawler.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithPauser replaces the backoff sleep, mainly for tests.
func WithPauser(p backoff.Pauser) Option {
	return func(o *Orchestrator) { o.pauser = p }
}

// Orchestrator runs searches. It holds no per-run state and may be reused.
type Orchestrator struct {
	opts      Options
	fetcher   crawler.Fetcher
	extractor crawler.Extractor
	limiter   crawler.Limiter
	publisher crawler.Publisher
	pauser    backoff.Pauser
	hash      visited.HashFunc
	logger    *zap.Logger
}

// New validates opts and builds an Orchestrator.
func New(
	opts Options,
	fetcher crawler.Fetcher,
	extractor crawler.Extractor,
	logger *zap.Logger,
	options ...Option,
) (*Orchestrator, error) {
	if fetcher == nil {
		return nil, errors.New("search requires a fetcher")
	}
	if extractor == nil {
		return nil, errors.New("search requires an extractor")
	}
	if opts.Workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0, got %d", opts.Workers)
	}
	hash, err := visited.HashByName(opts.VisitedHash)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		opts:      opts,
		fetcher:   fetcher,
		extractor: extractor,
		hash:      hash,
		logger:    logger,
	}
	for _, opt := range options {
		opt(o)
	}
	return o, nil
}

// Run searches from seed for expression. The returned list holds matched
// URLs in completion order; the caller owns it and should Destroy it when
// done. Construction failures abort before any worker starts.
func (o *Orchestrator) Run(ctx context.Context, seed, expression string) (*results.List[string], error) {
	if seed == "" {
		return nil, errors.New("seed url is empty")
	}
	runID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	logger := o.logger.With(zap.String("run_id", runID.String()))

	set, err := visited.New(o.opts.VisitedBuckets, visited.WithHash(o.hash))
	if err != nil {
		return nil, fmt.Errorf("allocate visited set: %w", err)
	}
	queue, err := frontier.New(o.opts.QueueCapacity)
	if err != nil {
		return nil, fmt.Errorf("allocate frontier: %w", err)
	}
	var backoffOpts []backoff.Option
	if o.pauser != nil {
		backoffOpts = append(backoffOpts, backoff.WithPauser(o.pauser))
	}
	policy, err := backoff.New(o.opts.BackoffInitial, o.opts.BackoffMax, backoffOpts...)
	if err != nil {
		return nil, fmt.Errorf("build backoff policy: %w", err)
	}
	found := results.New[string]()

	if err := queue.Push(seed); err != nil {
		return nil, fmt.Errorf("seed frontier: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerOpts := o.workerOptions(cancel, logger)
	runners := make([]dispatcher.Runner, o.opts.Workers)
	for i := range runners {
		runners[i] = worker.New(
			queue,
			set,
			found,
			o.fetcher,
			o.extractor,
			policy,
			worker.Config{
				ID:         i,
				RunID:      runID.String(),
				Expression: expression,
				Topic:      o.opts.Topic,
			},
			logger,
			workerOpts...,
		)
	}

	logger.Info("search started",
		zap.String("seed", seed),
		zap.String("expression", expression),
		zap.Int("workers", o.opts.Workers),
	)
	start := time.Now()
	stats, err := dispatcher.New(runners, logger).Run(runCtx)
	queue.Close()
	if err != nil {
		found.Destroy(nil)
		return nil, err
	}

	summary := dispatcher.Summarize(stats)
	logger.Info("search finished",
		zap.Int("matches", found.Len()),
		zap.Int("fetched", summary.Fetched),
		zap.Int("failed", summary.Failed),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("visited", set.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)
	if ctx.Err() != nil {
		return found, fmt.Errorf("search interrupted: %w", ctx.Err())
	}
	return found, nil
}

// workerOptions is called once per run so the stop hook is shared by every
// worker.
func (o *Orchestrator) workerOptions(stop context.CancelFunc, logger *zap.Logger) []worker.Option {
	var opts []worker.Option
	if o.limiter != nil {
		opts = append(opts, worker.WithLimiter(o.limiter))
	}
	if o.publisher != nil {
		opts = append(opts, worker.WithPublisher(o.publisher))
	}
	if o.opts.StopOnFirstMatch {
		var once sync.Once
		opts = append(opts, worker.WithMatchHook(func(url string) {
			once.Do(func() {
				logger.Info("first match found, stopping remaining workers", zap.String("url", url))
				stop()
			})
		}))
	}
	return opts
}
