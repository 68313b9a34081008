// Package httpclient implements crawler.Fetcher on net/http.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/crawlgrep/internal/crawler"
	"github.com/JakeFAU/crawlgrep/internal/metrics"
)

const (
	engineName          = "http"
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 10 << 20
)

// Config controls request behavior.
type Config struct {
	UserAgent       string
	Timeout         time.Duration
	MaxBodyBytes    int64
	FollowRedirects bool
}

// Fetcher shares one pooled transport across all sessions.
type Fetcher struct {
	cfg       Config
	transport *http.Transport
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	metrics.Init()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Fetcher{cfg: cfg, transport: newHTTPTransport()}
}

// Open returns a session with its own client.
func (f *Fetcher) Open() (crawler.Session, error) {
	client := &http.Client{
		Transport: f.transport,
		Timeout:   f.cfg.Timeout,
	}
	if !f.cfg.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return &Session{client: client, cfg: f.cfg}, nil
}

// Close drops pooled connections.
func (f *Fetcher) Close() {
	f.transport.CloseIdleConnections()
}

// Session issues GET requests for one worker.
type Session struct {
	client *http.Client
	cfg    Config
}

// Fetch downloads url. Any status code is a page; only transport failures
// are errors.
func (s *Session) Fetch(ctx context.Context, url string) (crawler.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("build request: %w", err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // body fully read below

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		return crawler.Page{}, fmt.Errorf("read body: %w", err)
	}
	truncated := int64(len(body)) > s.cfg.MaxBodyBytes
	if truncated {
		body = body[:s.cfg.MaxBodyBytes]
	}
	elapsed := time.Since(start)
	metrics.ObserveFetchDuration(engineName, elapsed)

	return crawler.Page{
		URL:        url,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		Truncated:  truncated,
		Duration:   elapsed,
	}, nil
}

// Close releases idle connections held for this session.
func (s *Session) Close() error {
	s.client.CloseIdleConnections()
	return nil
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
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
