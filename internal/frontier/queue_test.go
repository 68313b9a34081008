package frontier

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadCapacity(t *testing.T) {
	t.Parallel()

	_, err := New(0)
	require.Error(t, err)
}

func TestQueuePushPopFIFO(t *testing.T) {
	t.Parallel()

	q, err := New(4)
	require.NoError(t, err)
	require.Equal(t, 4, q.Cap())

	for _, u := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(u))
	}
	require.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.TryPop()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err = q.TryPop()
	require.ErrorIs(t, err, ErrEmpty)
}

func TestQueuePushFull(t *testing.T) {
	t.Parallel()

	q, err := New(1)
	require.NoError(t, err)
	require.NoError(t, q.Push("a"))
	require.ErrorIs(t, q.Push("b"), ErrFull)
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q, err := New(2)
	require.NoError(t, err)
	require.NoError(t, q.Push("left-over"))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Push("late"), ErrClosed)
	got, err := q.TryPop()
	require.NoError(t, err)
	require.Equal(t, "left-over", got)
	_, err = q.TryPop()
	require.ErrorIs(t, err, ErrClosed)
}

// Concurrent producers and consumers must deliver every URL exactly once.
func TestQueueConcurrentExactlyOnce(t *testing.T) {
	t.Parallel()

	const (
		producers   = 8
		perProducer = 500
	)
	q, err := New(producers * perProducer)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := q.Push(fmt.Sprintf("%d-%d", p, i)); err != nil {
					t.Errorf("push: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()

	var mu sync.Mutex
	seen := make(map[string]int)
	var consumers sync.WaitGroup
	for c := 0; c < 8; c++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				u, err := q.TryPop()
				if errors.Is(err, ErrEmpty) {
					return
				}
				mu.Lock()
				seen[u]++
				mu.Unlock()
			}
		}()
	}
	consumers.Wait()

	require.Len(t, seen, producers*perProducer)
	for u, n := range seen {
		require.Equal(t, 1, n, u)
	}
}
