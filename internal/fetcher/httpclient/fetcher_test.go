package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	f := New(cfg)
	t.Cleanup(f.Close)
	sess, err := f.Open()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, sess.Close()) })
	return sess.(*Session)
}

func TestSessionFetchSendsUserAgent(t *testing.T) {
	t.Parallel()

	uaCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uaCh <- r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("<p>Hello world</p>"))
	}))
	defer srv.Close()

	sess := newSession(t, Config{UserAgent: "libcurl-agent/1.0"})
	page, err := sess.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "libcurl-agent/1.0", <-uaCh)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, "<p>Hello world</p>", string(page.Body))
	require.Equal(t, srv.URL, page.URL)
	require.False(t, page.Truncated)
}

func TestSessionFetchNonSuccessStatusIsAPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<h1>not here</h1>"))
	}))
	defer srv.Close()

	page, err := newSession(t, Config{}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, page.StatusCode)
	require.Equal(t, "<h1>not here</h1>", string(page.Body))
}

func TestSessionFetchTruncatesLargeBodies(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 64)))
	}))
	defer srv.Close()

	page, err := newSession(t, Config{MaxBodyBytes: 16}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, page.Body, 16)
	require.True(t, page.Truncated)
}

func TestSessionFetchRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("moved"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	page, err := newSession(t, Config{}).Fetch(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	require.Equal(t, http.StatusFound, page.StatusCode)

	page, err = newSession(t, Config{FollowRedirects: true}).Fetch(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, "moved", string(page.Body))
	require.Equal(t, srv.URL+"/new", page.FinalURL)
}

func TestSessionFetchTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := newSession(t, Config{Timeout: time.Second}).Fetch(context.Background(), addr)
	require.Error(t, err)

	_, err = newSession(t, Config{}).Fetch(context.Background(), "://bad")
	require.Error(t, err)
}

func TestSessionFetchHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newSession(t, Config{}).Fetch(ctx, srv.URL)
	require.Error(t, err)
}
