package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
)

func openSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	sess, err := New(cfg).Open()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, sess.Close()) })
	return sess.(*Session)
}

func TestSessionFetchReturnsPage(t *testing.T) {
	t.Parallel()

	uaCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uaCh <- r.Header.Get("User-Agent")
		w.Header().Set("X-Resp", "ok")
		_, _ = w.Write([]byte("<p>Hello world</p>"))
	}))
	defer srv.Close()

	sess := openSession(t, Config{UserAgent: "libcurl-agent/1.0", Timeout: time.Second})
	page, err := sess.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "libcurl-agent/1.0", <-uaCh)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, "<p>Hello world</p>", string(page.Body))
	require.Equal(t, "ok", page.Headers.Get("X-Resp"))
	require.Equal(t, srv.URL, page.URL)
}

func TestSessionFetchSameURLTwice(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		_, _ = w.Write([]byte("again"))
	}))
	defer srv.Close()

	sess := openSession(t, Config{})
	for i := 0; i < 2; i++ {
		_, err := sess.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, hits)
}

func TestSessionFetchErrorStatusStillReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("<p>oops</p>"))
	}))
	defer srv.Close()

	page, err := openSession(t, Config{}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, page.StatusCode)
	require.Equal(t, "<p>oops</p>", string(page.Body))
}

func TestSessionFetchTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := openSession(t, Config{Timeout: time.Second}).Fetch(context.Background(), addr)
	require.Error(t, err)
}

func TestSessionsAreIndependent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	f := New(Config{})
	var wg sync.WaitGroup
	for _, path := range []string{"/a", "/b", "/c", "/d"} {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			sess, err := f.Open()
			if err != nil {
				t.Errorf("open: %v", err)
				return
			}
			defer sess.Close() //nolint:errcheck // no-op close
			page, err := sess.Fetch(context.Background(), srv.URL+path)
			if err != nil {
				t.Errorf("fetch %s: %v", path, err)
				return
			}
			if string(page.Body) != path {
				t.Errorf("fetch %s got body %q", path, page.Body)
			}
		}(path)
	}
	wg.Wait()
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	hooks := &stubHooks{}
	configureCollectorHooks(hooks, 4)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	state := &fetchState{url: "https://example.com", start: time.Unix(0, 0)}
	ctx := colly.NewContext()
	ctx.Put(stateKey, state)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Ctx:        ctx,
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	require.True(t, state.done)
	require.Equal(t, http.StatusCreated, state.page.StatusCode)
	require.Equal(t, "https://example.com/final", state.page.FinalURL)
	require.Equal(t, "ok", state.page.Headers.Get("X-Resp"))
	require.True(t, state.page.Truncated)

	hooks.onError(&colly.Response{Ctx: ctx}, errors.New("boom"))
	require.EqualError(t, state.err, "boom")

	// Responses without fetch state are ignored.
	hooks.onResponse(&colly.Response{Ctx: colly.NewContext()})
	hooks.onError(nil, errors.New("ignored"))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
