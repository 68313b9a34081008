package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/crawlgrep/internal/backoff"
	"github.com/JakeFAU/crawlgrep/internal/metrics"
)

const allowAllRobots = "User-agent: *\nAllow: /"

// robotsTransport wraps the collector transport. Requests for /robots.txt
// that time out during the TLS handshake are retried on a doubling delay;
// once the delay runs out the host is treated as allowing everything.
type robotsTransport struct {
	next      http.RoundTripper
	retry     *backoff.Policy
	fallbacks atomic.Int64
}

// robotsRetry sleeps 250ms, 500ms and 1s: four attempts in total.
var robotsRetry = mustPolicy(backoff.New(250*time.Millisecond, time.Second))

func mustPolicy(p *backoff.Policy, err error) *backoff.Policy {
	if err != nil {
		panic(fmt.Sprintf("robots retry policy: %v", err))
	}
	return p
}

func newRobotsTransport(next http.RoundTripper) *robotsTransport {
	return &robotsTransport{next: next, retry: robotsRetry}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return t.next.RoundTrip(req)
	}

	ctx := req.Context()
	delay := t.retry.Initial()
	for {
		resp, err := t.next.RoundTrip(req.Clone(ctx))
		switch {
		case err == nil:
			return resp, nil
		case !handshakeTimeout(err):
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		case delay == backoff.Stop:
			t.fallbacks.Add(1)
			metrics.ObserveRobotsFallback()
			return allowAllResponse(req), nil
		}
		delay = t.retry.Next(ctx, delay)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch robots.txt: %w", ctx.Err())
		}
	}
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Request:       req,
	}
}

func handshakeTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
