// Package frontier provides the bounded FIFO of URLs waiting to be fetched.
package frontier

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultCapacity matches the reference sizing of the work queue.
const DefaultCapacity = 16384

var (
	// ErrFull is returned by Push when every slot is occupied.
	ErrFull = errors.New("frontier full")
	// ErrEmpty is returned by TryPop when no URL is pending.
	ErrEmpty = errors.New("frontier empty")
	// ErrClosed is returned once the queue has been closed and drained.
	ErrClosed = errors.New("frontier closed")
)

// Queue is a bounded in-memory FIFO. Pops never block; callers decide how to
// wait when it is empty.
type Queue struct {
	ch      chan string
	closeMu sync.RWMutex
	closed  bool
}

// New constructs a queue with the provided capacity.
func New(capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("frontier capacity must be > 0, got %d", capacity)
	}
	return &Queue{ch: make(chan string, capacity)}, nil
}

// Push enqueues url without waiting.
func (q *Queue) Push(url string) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- url:
		return nil
	default:
		return ErrFull
	}
}

// TryPop returns the oldest pending URL, ErrEmpty when nothing is pending, or
// ErrClosed once a closed queue has been drained.
func (q *Queue) TryPop() (string, error) {
	select {
	case url, ok := <-q.ch:
		if !ok {
			return "", ErrClosed
		}
		return url, nil
	default:
		return "", ErrEmpty
	}
}

// Len returns the number of pending URLs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the slot count.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close releases the queue. Safe to call more than once.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
