package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlgrep/internal/extract"
	"github.com/JakeFAU/crawlgrep/internal/fetcher/httpclient"
	"github.com/JakeFAU/crawlgrep/internal/publisher/memory"
)

type instantPauser struct{}

func (instantPauser) Pause(context.Context, time.Duration) {}

// ctxPauser only wakes when the run is canceled.
type ctxPauser struct{}

func (ctxPauser) Pause(ctx context.Context, _ time.Duration) { <-ctx.Done() }

func pageServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newOrchestrator(t *testing.T, opts Options, extra ...Option) *Orchestrator {
	t.Helper()
	f := httpclient.New(httpclient.Config{UserAgent: "libcurl-agent/1.0", Timeout: 5 * time.Second})
	t.Cleanup(f.Close)
	o, err := New(opts, f, extract.Func(extract.Scan), zap.NewNop(), extra...)
	require.NoError(t, err)
	return o
}

func TestRunMatchRecordsSeed(t *testing.T) {
	t.Parallel()

	srv := pageServer(t, "<html><body><p>Hello world</p></body></html>")
	o := newOrchestrator(t, DefaultOptions(), WithPauser(instantPauser{}))

	list, err := o.Run(context.Background(), srv.URL, "Hello world")
	require.NoError(t, err)
	got, err := list.Snapshot()
	require.NoError(t, err)
	require.Equal(t, []string{srv.URL}, got)
	list.Destroy(nil)
}

func TestRunNoMatchLeavesResultsEmpty(t *testing.T) {
	t.Parallel()

	srv := pageServer(t, "<p>Goodbye</p>")
	o := newOrchestrator(t, DefaultOptions(), WithPauser(instantPauser{}))

	list, err := o.Run(context.Background(), srv.URL, "Hello world")
	require.NoError(t, err)
	require.Zero(t, list.Len())
}

func TestRunFetchFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	o := newOrchestrator(t, DefaultOptions(), WithPauser(instantPauser{}))
	list, err := o.Run(context.Background(), addr, "anything")
	require.NoError(t, err)
	require.Zero(t, list.Len())
}

func TestRunStopOnFirstMatchWakesSleepingWorkers(t *testing.T) {
	t.Parallel()

	srv := pageServer(t, "<p>needle</p>")
	opts := DefaultOptions()
	opts.StopOnFirstMatch = true
	opts.Topic = "matches"
	pub := memory.New()
	o := newOrchestrator(t, opts, WithPauser(ctxPauser{}), WithPublisher(pub))

	done := make(chan struct{})
	var runErr error
	var n int
	go func() {
		defer close(done)
		list, err := o.Run(context.Background(), srv.URL, "needle")
		runErr = err
		if list != nil {
			n = list.Len()
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("idle workers were not released after the first match")
	}
	require.NoError(t, runErr)
	require.Equal(t, 1, n)

	matches := pub.Matches()
	require.Len(t, matches, 1)
	require.Equal(t, srv.URL, matches[0].URL)
	require.Equal(t, "needle", matches[0].Expression)
	id, err := uuid.Parse(matches[0].RunID)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), id.Version())
}

func TestRunInterrupted(t *testing.T) {
	t.Parallel()

	srv := pageServer(t, "<p>nothing</p>")
	o := newOrchestrator(t, DefaultOptions(), WithPauser(ctxPauser{}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	list, err := o.Run(ctx, srv.URL, "needle")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, list)
	require.Zero(t, list.Len())
}

func TestNewValidatesOptions(t *testing.T) {
	t.Parallel()

	f := httpclient.New(httpclient.Config{})
	ex := extract.Func(extract.Scan)

	_, err := New(DefaultOptions(), nil, ex, nil)
	require.Error(t, err)
	_, err = New(DefaultOptions(), f, nil, nil)
	require.Error(t, err)

	opts := DefaultOptions()
	opts.Workers = 0
	_, err = New(opts, f, ex, nil)
	require.Error(t, err)

	opts = DefaultOptions()
	opts.VisitedHash = "md5"
	_, err = New(opts, f, ex, nil)
	require.Error(t, err)
}

func TestRunAbortsOnBadStructureSizes(t *testing.T) {
	t.Parallel()

	f := httpclient.New(httpclient.Config{})
	ex := extract.Func(extract.Scan)

	opts := DefaultOptions()
	opts.QueueCapacity = 0
	o, err := New(opts, f, ex, nil)
	require.NoError(t, err)
	_, err = o.Run(context.Background(), "http://127.0.0.1/", "x")
	require.ErrorContains(t, err, "allocate frontier")

	opts = DefaultOptions()
	opts.VisitedBuckets = -1
	o, err = New(opts, f, ex, nil)
	require.NoError(t, err)
	_, err = o.Run(context.Background(), "http://127.0.0.1/", "x")
	require.ErrorContains(t, err, "allocate visited set")

	opts = DefaultOptions()
	opts.BackoffInitial = 0
	o, err = New(opts, f, ex, nil)
	require.NoError(t, err)
	_, err = o.Run(context.Background(), "http://127.0.0.1/", "x")
	require.ErrorContains(t, err, "build backoff policy")

	_, err = o.Run(context.Background(), "", "x")
	require.Error(t, err)
}
