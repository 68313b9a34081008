package visited

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadBucketCount(t *testing.T) {
	t.Parallel()

	_, err := New(0)
	require.Error(t, err)
	_, err = New(-3)
	require.Error(t, err)
}

func TestInsertIsIdempotent(t *testing.T) {
	t.Parallel()

	s, err := New(DefaultBuckets)
	require.NoError(t, err)

	require.False(t, s.Contains("https://example.com/"))
	require.True(t, s.Insert("https://example.com/"))
	require.True(t, s.Contains("https://example.com/"))
	require.False(t, s.Insert("https://example.com/"))
	require.Equal(t, 1, s.Len())
}

func TestSingleBucketChainsCollisions(t *testing.T) {
	t.Parallel()

	s, err := New(1)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		require.True(t, s.Insert(fmt.Sprintf("https://example.com/%d", i)))
	}
	for i := 0; i < 50; i++ {
		require.True(t, s.Contains(fmt.Sprintf("https://example.com/%d", i)))
	}
	require.False(t, s.Contains("https://example.com/50"))
	require.Equal(t, 50, s.Len())
}

func TestDJB2KnownValues(t *testing.T) {
	t.Parallel()

	require.Equal(t, uint64(5381), DJB2(""))
	require.Equal(t, uint64(5381*33+'a'), DJB2("a"))
	require.Equal(t, uint64((5381*33+'a')*33+'b'), DJB2("ab"))
}

func TestHashByName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "djb2", "xxhash"} {
		h, err := HashByName(name)
		require.NoError(t, err, name)
		require.NotNil(t, h)
	}
	_, err := HashByName("md5")
	require.Error(t, err)

	s, err := New(7, WithHash(XXHash))
	require.NoError(t, err)
	require.True(t, s.Insert("x"))
	require.True(t, s.Contains("x"))
}

// Every goroutine races to insert the same URLs; exactly one insert per URL
// may report the set as changed.
func TestConcurrentInsertSingleWinner(t *testing.T) {
	t.Parallel()

	s, err := New(31)
	require.NoError(t, err)

	const (
		goroutines = 16
		urls       = 200
	)
	var wins [urls]atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < urls; i++ {
				if s.Insert(fmt.Sprintf("https://example.com/page/%d", i)) {
					wins[i].Add(1)
				}
			}
		}()
	}
	close(start)
	wg.Wait()

	for i := range wins {
		require.Equal(t, int32(1), wins[i].Load(), "url %d", i)
	}
	require.Equal(t, urls, s.Len())
}
