// Package promote fetches every page with a cheap probe engine and re-fetches
// it in a headless browser when the probe looks like a client-rendered shell.
package promote

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlgrep/internal/crawler"
	"github.com/JakeFAU/crawlgrep/internal/metrics"
)

// Fetcher pairs a probe engine with a rendering engine.
type Fetcher struct {
	probe    crawler.Fetcher
	render   crawler.Fetcher
	detector *Detector
	logger   *zap.Logger
}

// New builds a Fetcher. A nil detector uses NewDetector(0).
func New(probe, render crawler.Fetcher, detector *Detector, logger *zap.Logger) (*Fetcher, error) {
	if probe == nil || render == nil {
		return nil, errors.New("promote fetcher requires probe and render engines")
	}
	if detector == nil {
		detector = NewDetector(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Fetcher{
		probe:    probe,
		render:   render,
		detector: detector,
		logger:   logger.Named("promote"),
	}, nil
}

// Open opens a probe session. The render session is opened on the first
// promotion so workers that never promote never start a browser tab.
func (f *Fetcher) Open() (crawler.Session, error) {
	probe, err := f.probe.Open()
	if err != nil {
		return nil, fmt.Errorf("open probe session: %w", err)
	}
	return &Session{f: f, probe: probe}, nil
}

// Session is one worker's probe session plus its lazily opened render
// session. It is not safe for concurrent use.
type Session struct {
	f      *Fetcher
	probe  crawler.Session
	render crawler.Session
}

// Fetch probes url and promotes when the detector asks for it. A failed
// render falls back to the probe page.
func (s *Session) Fetch(ctx context.Context, url string) (crawler.Page, error) {
	page, err := s.probe.Fetch(ctx, url)
	if err != nil {
		return crawler.Page{}, err
	}
	if !s.f.detector.NeedsRender(page) {
		return page, nil
	}

	rendered, err := s.renderPage(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.Page{}, ctx.Err()
		}
		metrics.ObservePromotion("failed")
		s.f.logger.Warn("headless render failed, using probe page", zap.String("url", url), zap.Error(err))
		return page, nil
	}
	metrics.ObservePromotion("rendered")
	s.f.logger.Debug("page promoted", zap.String("url", url), zap.Int("probe_bytes", len(page.Body)))
	return rendered, nil
}

func (s *Session) renderPage(ctx context.Context, url string) (crawler.Page, error) {
	if s.render == nil {
		r, err := s.f.render.Open()
		if err != nil {
			return crawler.Page{}, fmt.Errorf("open render session: %w", err)
		}
		s.render = r
	}
	return s.render.Fetch(ctx, url)
}

// Close closes both sessions.
func (s *Session) Close() error {
	var errs []error
	if s.render != nil {
		errs = append(errs, s.render.Close())
	}
	errs = append(errs, s.probe.Close())
	return errors.Join(errs...)
}
