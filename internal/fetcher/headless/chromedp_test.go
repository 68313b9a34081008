package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)
	require.Equal(t, 2, cap(fetcher.tabs))
	require.Equal(t, defaultNavigationTimeout, fetcher.cfg.NavigationTimeout)

	unlimited, err := NewChromedp(Config{NavigationTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(unlimited.Close)
	require.Nil(t, unlimited.tabs)
	require.Equal(t, time.Second, unlimited.cfg.NavigationTimeout)
}

func TestSemaphoreBoundsTabs(t *testing.T) {
	t.Parallel()

	s := newSemaphore(1)
	require.NoError(t, s.take(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, s.take(ctx), "second tab waits while the first is open")

	s.give()
	require.NoError(t, s.take(context.Background()))
	s.give()
	s.give()

	var none semaphore
	require.NoError(t, none.take(context.Background()))
	none.give()
}

func TestOpenAndCloseSessionWithoutBrowser(t *testing.T) {
	t.Parallel()

	fetcher, err := NewChromedp(Config{})
	require.NoError(t, err)
	defer fetcher.Close()

	sess, err := fetcher.Open()
	require.NoError(t, err)
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
}

func TestClip(t *testing.T) {
	t.Parallel()

	body, truncated := clip([]byte("abcdef"), 3)
	require.Equal(t, "abc", string(body))
	require.True(t, truncated)

	body, truncated = clip([]byte("abcdef"), 0)
	require.Equal(t, "abcdef", string(body))
	require.False(t, truncated)
}

func TestDocumentWatcherKeepsLastDocument(t *testing.T) {
	t.Parallel()

	var w documentWatcher
	w.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{URL: "https://example.com/logo.png", Status: 200},
	})
	w.observe("not an event")
	resp := w.result("https://example.com/", "")
	require.Equal(t, http.StatusOK, resp.status)
	require.Equal(t, "https://example.com/", resp.url)
	require.NotNil(t, resp.header)

	w.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			URL:    "https://example.com/final",
			Status: 404,
			Headers: network.Headers{
				"X-One":  "a",
				"X-Many": []any{"b", "c"},
				"X-Num":  7,
			},
		},
	})
	resp = w.result("https://example.com/", "https://example.com/location")
	require.Equal(t, http.StatusNotFound, resp.status)
	require.Equal(t, "https://example.com/final", resp.url)
	require.Equal(t, "a", resp.header.Get("X-One"))
	require.Equal(t, []string{"b", "c"}, resp.header.Values("X-Many"))
	require.Equal(t, "7", resp.header.Get("X-Num"))
}

func TestDocumentWatcherLocationFallback(t *testing.T) {
	t.Parallel()

	var w documentWatcher
	require.Equal(t, "https://final", w.result("https://req", "https://final").url)
}
