// Package headless fetches pages through headless Chrome so text filled in by
// JavaScript is searchable.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/crawlgrep/internal/crawler"
	"github.com/JakeFAU/crawlgrep/internal/metrics"
)

const (
	engineName               = "headless"
	defaultNavigationTimeout = 45 * time.Second
)

var allocatorFlags = []chromedp.ExecAllocatorOption{
	chromedp.Flag("headless", "new"),
	chromedp.Flag("disable-gpu", true),
	chromedp.Flag("hide-scrollbars", true),
	chromedp.Flag("enable-automation", false),
}

// Config controls the headless engine. MaxParallel 0 means no tab limit.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	MaxBodyBytes      int
}

// Fetcher shares one Chrome allocator between all sessions.
type Fetcher struct {
	cfg         Config
	tabs        semaphore
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp builds a Fetcher. Chrome is not launched until the first page
// is fetched.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0, got %d", cfg.MaxParallel)
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	metrics.Init()

	opts := append(append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...), allocatorFlags...)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Fetcher{
		cfg:         cfg,
		tabs:        newSemaphore(cfg.MaxParallel),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts Chrome down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Open creates a browser context for one worker; every Fetch opens a tab in it.
func (f *Fetcher) Open() (crawler.Session, error) {
	browserCtx, cancel := chromedp.NewContext(f.allocator)
	return &Session{f: f, browser: browserCtx, cancel: cancel}, nil
}

// Session owns one browser context.
type Session struct {
	f       *Fetcher
	browser context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// Close cancels the browser context. It is idempotent.
func (s *Session) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Fetch renders url in a new tab and returns the serialized DOM. The status
// and headers come from the last document response the tab received.
func (s *Session) Fetch(ctx context.Context, url string) (crawler.Page, error) {
	if err := s.f.tabs.take(ctx); err != nil {
		return crawler.Page{}, err
	}
	defer s.f.tabs.give()

	tabCtx, closeTab := chromedp.NewContext(s.browser)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, s.f.cfg.NavigationTimeout)
	defer cancel()
	// The tab hangs off the session's browser, not ctx, so wire ctx in.
	defer context.AfterFunc(ctx, cancel)()

	var doc documentWatcher
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tabCtx,
		s.f.prepareTab(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.Page{}, fmt.Errorf("headless fetch canceled: %w", errors.Join(ctx.Err(), err))
		}
		return crawler.Page{}, fmt.Errorf("chromedp run: %w", err)
	}
	elapsed := time.Since(start)
	metrics.ObserveFetchDuration(engineName, elapsed)

	resp := doc.result(url, location)
	body, truncated := clip([]byte(html), s.f.cfg.MaxBodyBytes)
	return crawler.Page{
		URL:        url,
		FinalURL:   resp.url,
		StatusCode: resp.status,
		Headers:    resp.header,
		Body:       body,
		Truncated:  truncated,
		Duration:   elapsed,
	}, nil
}

// prepareTab enables network events and applies the User-Agent.
func (f *Fetcher) prepareTab() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func clip(body []byte, limit int) ([]byte, bool) {
	if limit <= 0 || len(body) <= limit {
		return body, false
	}
	return body[:limit], true
}

// semaphore bounds open tabs across every session. A nil semaphore never
// blocks.
type semaphore chan struct{}

func newSemaphore(n int) semaphore {
	if n <= 0 {
		return nil
	}
	return make(semaphore, n)
}

func (s semaphore) take(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (s semaphore) give() {
	if s == nil {
		return
	}
	select {
	case <-s:
	default:
	}
}

type docResponse struct {
	status int
	header http.Header
	url    string
}

// documentWatcher keeps the last document response seen by a tab, which after
// redirects is the page that was rendered.
type documentWatcher struct {
	mu   sync.Mutex
	last docResponse
}

func (w *documentWatcher) observe(ev any) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	resp := docResponse{
		status: int(e.Response.Status),
		header: toHeader(e.Response.Headers),
		url:    e.Response.URL,
	}
	w.mu.Lock()
	w.last = resp
	w.mu.Unlock()
}

// result fills gaps in the observed response: the URL falls back to the
// tab location, then the request URL; a missing status is reported as 200.
func (w *documentWatcher) result(requestURL, location string) docResponse {
	w.mu.Lock()
	resp := w.last
	w.mu.Unlock()

	if resp.url == "" {
		resp.url = location
	}
	if resp.url == "" {
		resp.url = requestURL
	}
	if resp.status == 0 {
		resp.status = http.StatusOK
	}
	if resp.header == nil {
		resp.header = http.Header{}
	}
	return resp
}

func toHeader(raw network.Headers) http.Header {
	h := make(http.Header, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			h.Add(key, v)
		case []string:
			for _, s := range v {
				h.Add(key, s)
			}
		case []any:
			for _, s := range v {
				h.Add(key, fmt.Sprint(s))
			}
		default:
			h.Add(key, fmt.Sprint(v))
		}
	}
	return h
}
