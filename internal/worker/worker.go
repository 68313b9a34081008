// Package worker implements the per-worker search loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlgrep/internal/backoff"
	"github.com/JakeFAU/crawlgrep/internal/crawler"
	"github.com/JakeFAU/crawlgrep/internal/extract"
	"github.com/JakeFAU/crawlgrep/internal/frontier"
	"github.com/JakeFAU/crawlgrep/internal/metrics"
)

const notifyTimeout = 10 * time.Second

// Outcome says why a worker's loop ended.
type Outcome int

// Loop outcomes.
const (
	OutcomeExhausted Outcome = iota
	OutcomeMatched
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "exhausted"
	}
}

// Stats summarizes one worker's run.
type Stats struct {
	Worker     int
	Outcome    Outcome
	Match      string
	Fetched    int
	Failed     int
	Duplicates int
	Sleeps     int
}

// Config controls Worker behavior.
type Config struct {
	ID         int
	RunID      string
	Expression string
	Topic      string
}

// Option customizes a Worker.
type Option func(*Worker)

// WithLimiter applies a politeness wait before each fetch.
func WithLimiter(l crawler.Limiter) Option {
	return func(w *Worker) { w.limiter = l }
}

// WithPublisher sends a crawler.Match to cfg.Topic for every match.
func WithPublisher(p crawler.Publisher) Option {
	return func(w *Worker) { w.publisher = p }
}

// WithMatchHook runs fn after a match has been recorded.
func WithMatchHook(fn func(url string)) Option {
	return func(w *Worker) { w.onMatch = fn }
}

// WithClock overrides the timestamp source for match notifications.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// Worker drains the shared frontier until it finds a match or its backoff
// decides the frontier is exhausted.
type Worker struct {
	frontier  crawler.Frontier
	visited   crawler.VisitedSet
	results   crawler.ResultSink
	fetcher   crawler.Fetcher
	extractor crawler.Extractor
	backoff   *backoff.Policy
	limiter   crawler.Limiter
	publisher crawler.Publisher
	onMatch   func(url string)
	now       func() time.Time
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue crawler.Frontier,
	visited crawler.VisitedSet,
	results crawler.ResultSink,
	fetcher crawler.Fetcher,
	extractor crawler.Extractor,
	policy *backoff.Policy,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Worker {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		frontier:  queue,
		visited:   visited,
		results:   results,
		fetcher:   fetcher,
		extractor: extractor,
		backoff:   policy,
		now:       func() time.Time { return time.Now().UTC() },
		cfg:       cfg,
		logger:    logger.Named("worker").With(zap.Int("worker", cfg.ID)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run opens the worker's fetch session and loops until a match, exhaustion
// or cancellation. Only a failure to open the session is returned as an error.
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	stats := Stats{Worker: w.cfg.ID}
	sess, err := w.fetcher.Open()
	if err != nil {
		return stats, fmt.Errorf("worker %d open fetch session: %w", w.cfg.ID, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			w.logger.Warn("fetch session close failed", zap.Error(cerr))
		}
	}()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	stats.Outcome = w.loop(ctx, sess, &stats)
	w.logger.Debug("worker finished",
		zap.Stringer("outcome", stats.Outcome),
		zap.Int("fetched", stats.Fetched),
		zap.Int("failed", stats.Failed),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("sleeps", stats.Sleeps),
	)
	return stats, nil
}

func (w *Worker) loop(ctx context.Context, sess crawler.Session, stats *Stats) Outcome {
	delay := w.backoff.Initial()
	for {
		if ctx.Err() != nil {
			return OutcomeCanceled
		}

		url, err := w.frontier.TryPop()
		if err != nil {
			if errors.Is(err, frontier.ErrClosed) {
				return OutcomeExhausted
			}
			stats.Sleeps++
			metrics.ObserveBackoffSleep()
			if delay = w.backoff.Next(ctx, delay); delay == backoff.Stop {
				if ctx.Err() != nil {
					return OutcomeCanceled
				}
				return OutcomeExhausted
			}
			continue
		}
		delay = w.backoff.Initial()
		metrics.SetFrontierDepth(w.frontier.Len())

		if !w.visited.Insert(url) {
			stats.Duplicates++
			metrics.ObserveDuplicate()
			w.logger.Debug("skipping visited url", zap.String("url", url))
			continue
		}

		page, ok := w.fetch(ctx, sess, url, stats)
		if !ok && ctx.Err() != nil {
			return OutcomeCanceled
		}
		var segments []string
		if ok {
			segments = w.extractor.Extract(page.Body)
		}
		if !extract.Contains(segments, w.cfg.Expression) {
			continue
		}

		w.recordMatch(ctx, url, page)
		stats.Match = url
		return OutcomeMatched
	}
}

// fetch reports false when there is no content to search. Transport failures
// are logged here and never stop the worker.
func (w *Worker) fetch(ctx context.Context, sess crawler.Session, url string, stats *Stats) (crawler.Page, bool) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, url); err != nil {
			w.logger.Warn("rate limit wait aborted", zap.String("url", url), zap.Error(err))
			return crawler.Page{}, false
		}
	}

	page, err := sess.Fetch(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			w.logger.Debug("fetch abandoned", zap.String("url", url), zap.Error(err))
			return crawler.Page{}, false
		}
		stats.Failed++
		metrics.ObserveFetchError(url)
		w.logger.Error("fetch failed", zap.String("url", url), zap.Error(err))
		return crawler.Page{}, false
	}

	stats.Fetched++
	metrics.ObservePage(url, crawler.StatusClass(page.StatusCode), len(page.Body))
	w.logger.Debug("page fetched",
		zap.String("url", url),
		zap.Int("status", page.StatusCode),
		zap.Int("bytes", len(page.Body)),
		zap.Bool("truncated", page.Truncated),
		zap.Duration("duration", page.Duration),
	)
	return page, true
}

func (w *Worker) recordMatch(ctx context.Context, url string, page crawler.Page) {
	if _, err := w.results.Append(url); err != nil {
		w.logger.Error("record match failed", zap.String("url", url), zap.Error(err))
	}
	metrics.ObserveMatch()
	w.logger.Info("match found", zap.String("url", url), zap.Int("status", page.StatusCode))

	w.publishMatch(ctx, url, page)
	if w.onMatch != nil {
		w.onMatch(url)
	}
}

func (w *Worker) publishMatch(ctx context.Context, url string, page crawler.Page) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	// The match is already recorded; the notification outlives a stop signal
	// raised by another worker.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	match := crawler.Match{
		RunID:      w.cfg.RunID,
		URL:        url,
		FinalURL:   page.FinalURL,
		Expression: w.cfg.Expression,
		StatusCode: page.StatusCode,
		Worker:     w.cfg.ID,
		FoundAt:    w.now(),

		ContentSHA256: crawler.Digest(page.Body),
	}
	id, err := w.publisher.Publish(pubCtx, w.cfg.Topic, match)
	if err != nil {
		w.logger.Warn("match notification failed", zap.String("url", url), zap.Error(err))
		return
	}
	w.logger.Debug("match published", zap.String("url", url), zap.String("message_id", id))
}
