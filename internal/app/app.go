// Package app wires configuration into the long-lived services a search
// needs and tears them down afterwards.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlgrep/internal/config"
	"github.com/JakeFAU/crawlgrep/internal/crawler"
	"github.com/JakeFAU/crawlgrep/internal/extract"
	collyfetcher "github.com/JakeFAU/crawlgrep/internal/fetcher/colly"
	"github.com/JakeFAU/crawlgrep/internal/fetcher/headless"
	"github.com/JakeFAU/crawlgrep/internal/fetcher/httpclient"
	"github.com/JakeFAU/crawlgrep/internal/fetcher/promote"
	"github.com/JakeFAU/crawlgrep/internal/metrics"
	"github.com/JakeFAU/crawlgrep/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/crawlgrep/internal/publisher/pubsub"
	"github.com/JakeFAU/crawlgrep/internal/results"
	"github.com/JakeFAU/crawlgrep/internal/search"
)

type closer interface {
	Close() error
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type namedCloser struct {
	name string
	c    closer
}

// App holds the services built from one Config.
type App struct {
	Logger *zap.Logger
	Config config.Config

	search    *search.Orchestrator
	publisher crawler.Publisher
	limiter   *ratelimit.Limiter
	metrics   *metrics.Server
	stopSrv   context.CancelFunc
	srvDone   chan error
	closers   []namedCloser
}

// Option customizes New.
type Option func(*App)

// WithPublisher replaces the Pub/Sub publisher New would otherwise dial.
func WithPublisher(p crawler.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// New builds every service cfg asks for. It fails fast; anything already
// started is closed before the error is returned.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a = &App{Logger: logger, Config: cfg}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	fetcher, err := a.buildFetcher()
	if err != nil {
		return a, err
	}
	extractor, err := extract.ByMode(cfg.Extract.Mode)
	if err != nil {
		return a, err
	}

	var searchOpts []search.Option
	if cfg.Crawler.RateLimitPerHost > 0 {
		a.limiter = ratelimit.New(ratelimit.Config{
			PerHostRPS: cfg.Crawler.RateLimitPerHost,
			Burst:      cfg.Crawler.RateLimitBurst,
		})
		searchOpts = append(searchOpts, search.WithLimiter(a.limiter))
	}

	if a.publisher == nil && cfg.NotifyEnabled() {
		logger.Info("connecting to pubsub",
			zap.String("project", cfg.Notify.PubSubProject),
			zap.String("topic", cfg.Notify.PubSubTopic),
		)
		pub, err := pubsubpublisher.Dial(ctx, cfg.Notify.PubSubProject, cfg.Notify.PubSubTopic)
		if err != nil {
			return a, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.publisher = pub
		a.addCloser("pubsub", pub)
	}
	if a.publisher != nil {
		searchOpts = append(searchOpts, search.WithPublisher(a.publisher))
	}

	if cfg.Metrics.Addr != "" {
		if err := a.startMetrics(cfg.Metrics.Addr); err != nil {
			return a, err
		}
	}

	a.search, err = search.New(search.Options{
		Workers:          cfg.Crawler.Workers,
		QueueCapacity:    cfg.Crawler.QueueCapacity,
		VisitedBuckets:   cfg.Crawler.VisitedBuckets,
		VisitedHash:      cfg.Crawler.VisitedHash,
		BackoffInitial:   cfg.Crawler.BackoffInitial,
		BackoffMax:       cfg.Crawler.BackoffMax,
		StopOnFirstMatch: cfg.Crawler.StopOnFirstMatch,
		Topic:            cfg.Notify.PubSubTopic,
	}, fetcher, extractor, logger, searchOpts...)
	if err != nil {
		return a, fmt.Errorf("init search: %w", err)
	}

	logger.Debug("services initialized",
		zap.String("engine", cfg.Fetch.Engine),
		zap.String("extract_mode", cfg.Extract.Mode),
		zap.Bool("notify", a.publisher != nil),
	)
	return a, nil
}

func (a *App) buildFetcher() (crawler.Fetcher, error) {
	f := a.Config.Fetch
	switch f.Engine {
	case config.EngineColly:
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:       f.UserAgent,
			RespectRobots:   f.RespectRobots,
			Timeout:         f.Timeout,
			MaxBodyBytes:    f.MaxBodyBytes,
			FollowRedirects: f.FollowRedirects,
		}), nil
	case config.EngineHeadless:
		return a.buildHeadless()
	case config.EngineAuto:
		render, err := a.buildHeadless()
		if err != nil {
			return nil, err
		}
		pf, err := promote.New(a.buildHTTP(), render, promote.NewDetector(f.PromotionMinBody), a.Logger)
		if err != nil {
			return nil, fmt.Errorf("init promote fetcher: %w", err)
		}
		return pf, nil
	default:
		return a.buildHTTP(), nil
	}
}

func (a *App) buildHTTP() *httpclient.Fetcher {
	f := a.Config.Fetch
	hf := httpclient.New(httpclient.Config{
		UserAgent:       f.UserAgent,
		Timeout:         f.Timeout,
		MaxBodyBytes:    int64(f.MaxBodyBytes),
		FollowRedirects: f.FollowRedirects,
	})
	a.addCloser("http", closerFunc(func() error { hf.Close(); return nil }))
	return hf
}

func (a *App) buildHeadless() (*headless.Fetcher, error) {
	f := a.Config.Fetch
	hf, err := headless.NewChromedp(headless.Config{
		MaxParallel:       f.HeadlessMaxParallel,
		UserAgent:         f.UserAgent,
		NavigationTimeout: f.Timeout,
		MaxBodyBytes:      f.MaxBodyBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("init headless fetcher: %w", err)
	}
	a.addCloser("headless", closerFunc(func() error { hf.Close(); return nil }))
	return hf, nil
}

func (a *App) startMetrics(addr string) error {
	srv, err := metrics.Listen(addr, a.Logger.Named("metrics"))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.metrics = srv
	a.stopSrv = cancel
	a.srvDone = make(chan error, 1)
	go func() { a.srvDone <- srv.Serve(ctx) }()
	a.addCloser("metrics", closerFunc(func() error {
		a.stopSrv()
		return <-a.srvDone
	}))
	return nil
}

func (a *App) addCloser(name string, c closer) {
	a.closers = append(a.closers, namedCloser{name: name, c: c})
}

// MetricsAddr reports the metrics listener address, or "" when disabled.
func (a *App) MetricsAddr() string {
	if a.metrics == nil {
		return ""
	}
	return a.metrics.Addr()
}

// Search runs one search from seed for expression.
func (a *App) Search(ctx context.Context, seed, expression string) (*results.List[string], error) {
	list, err := a.search.Run(ctx, seed, expression)
	if a.limiter != nil {
		a.Logger.Info("per-host rate limiting applied", zap.Int("hosts", a.limiter.Hosts()))
	}
	return list, err
}

// Close shuts services down in reverse start order. Failures are logged and
// joined; every closer runs regardless.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		nc := a.closers[i]
		if err := nc.c.Close(); err != nil {
			a.Logger.Warn("error closing service", zap.String("service", nc.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", nc.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
