// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/crawlgrep/internal/crawler"
	"github.com/JakeFAU/crawlgrep/internal/metrics"
)

const (
	engineName     = "colly"
	stateKey       = "crawlgrep.fetch"
	defaultTimeout = 30 * time.Second
)

// Config controls collector behavior.
type Config struct {
	UserAgent       string
	RespectRobots   bool
	Timeout         time.Duration
	MaxBodyBytes    int
	FollowRedirects bool
}

// Fetcher holds the base collector that sessions clone.
type Fetcher struct {
	cfg           Config
	transport     *robotsTransport
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchState carries one Fetch call's outcome through colly's callbacks.
type fetchState struct {
	url   string
	start time.Time
	page  crawler.Page
	err   error
	done  bool
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	metrics.Init()
	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	if cfg.MaxBodyBytes > 0 {
		opts = append(opts, colly.MaxBodySize(cfg.MaxBodyBytes))
	}
	c := colly.NewCollector(opts...)
	c.IgnoreRobotsTxt = !cfg.RespectRobots

	transport := newRobotsTransport(newHTTPTransport())
	c.WithTransport(transport)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.SetRequestTimeout(timeout)
	if !cfg.FollowRedirects {
		c.SetRedirectHandler(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		})
	}

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Open clones the base collector for one worker.
func (f *Fetcher) Open() (crawler.Session, error) {
	collector := f.baseCollector.Clone()
	configureCollectorHooks(collector, f.cfg.MaxBodyBytes)
	return &Session{collector: collector}, nil
}

// Session fetches through a cloned collector.
type Session struct {
	collector *colly.Collector
}

// Fetch executes a single GET using Colly.
func (s *Session) Fetch(ctx context.Context, url string) (crawler.Page, error) {
	state := &fetchState{url: url, start: time.Now()}
	collyCtx := colly.NewContext()
	collyCtx.Put(stateKey, state)

	if err := runCollector(ctx, s.collector, url, collyCtx, state); err != nil {
		return crawler.Page{}, err
	}
	metrics.ObserveFetchDuration(engineName, state.page.Duration)
	return state.page, nil
}

// Close is a no-op; the transport is shared with the parent Fetcher.
func (s *Session) Close() error {
	return nil
}

func configureCollectorHooks(hooks collectorHooks, maxBody int) {
	hooks.OnResponse(func(r *colly.Response) {
		state, ok := stateFrom(r.Ctx)
		if !ok {
			return
		}
		body := append([]byte(nil), r.Body...)
		state.page = crawler.Page{
			URL:        state.url,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       body,
			Truncated:  maxBody > 0 && len(body) >= maxBody,
			Duration:   time.Since(state.start),
		}
		if r.Headers != nil {
			state.page.Headers = r.Headers.Clone()
		}
		state.done = true
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r == nil {
			return
		}
		if state, ok := stateFrom(r.Ctx); ok {
			state.err = err
		}
	})
}

func stateFrom(ctx *colly.Context) (*fetchState, bool) {
	if ctx == nil {
		return nil, false
	}
	state, ok := ctx.GetAny(stateKey).(*fetchState)
	return state, ok
}

func runCollector(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	collyCtx *colly.Context,
	state *fetchState,
) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Request(http.MethodGet, url, nil, collyCtx, nil)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if state.err != nil {
			return fmt.Errorf("colly response failed: %w", state.err)
		}
		if !state.done {
			return errors.New("colly returned no response")
		}
		return nil
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
