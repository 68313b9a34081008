// Package results implements the concurrent ordered collection that workers
// append matches to.
//
// The list keeps a list-level RWMutex for the head pointer and length and an
// RWMutex on every node. Positional walks are hand over hand: the next node is
// locked before the current one is released, so a walker is never standing on
// a node another goroutine is unlinking. Locks are always taken in list, head,
// ..., tail order.
package results

import (
	"errors"
	"sync"
)

var (
	// ErrIndexOutOfRange is returned when a position does not exist.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrDestroyed is returned by every operation after Destroy.
	ErrDestroyed = errors.New("list destroyed")
)

type node[T any] struct {
	mu   sync.RWMutex
	val  T
	next *node[T]
}

type lockMode int

const (
	readLock lockMode = iota
	writeLock
)

func (n *node[T]) lock(m lockMode) {
	if m == readLock {
		n.mu.RLock()
		return
	}
	n.mu.Lock()
}

func (n *node[T]) unlock(m lockMode) {
	if m == readLock {
		n.mu.RUnlock()
		return
	}
	n.mu.Unlock()
}

// List is safe for concurrent use. The zero value is an empty list.
type List[T any] struct {
	mu        sync.RWMutex
	head      *node[T]
	length    int
	destroyed bool
}

// New returns an empty list.
func New[T any]() *List[T] {
	return &List[T]{}
}

// nth walks to index n and returns that node locked in mode m.
func (l *List[T]) nth(n int, m lockMode) (*node[T], error) {
	if n < 0 {
		return nil, ErrIndexOutOfRange
	}
	l.mu.RLock()
	if l.destroyed {
		l.mu.RUnlock()
		return nil, ErrDestroyed
	}
	cur := l.head
	if cur == nil {
		l.mu.RUnlock()
		return nil, ErrIndexOutOfRange
	}
	cur.lock(m)
	l.mu.RUnlock()

	for ; n > 0; n-- {
		next := cur.next
		if next == nil {
			cur.unlock(m)
			return nil, ErrIndexOutOfRange
		}
		next.lock(m)
		cur.unlock(m)
		cur = next
	}
	return cur, nil
}

func (l *List[T]) adjustLen(delta int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		return 0, ErrDestroyed
	}
	l.length += delta
	return l.length, nil
}

// InsertAt places v at position n, where 0 <= n <= Len(). It returns the new
// length.
func (l *List[T]) InsertAt(n int, v T) (int, error) {
	if n == 0 {
		return l.Prepend(v)
	}
	prev, err := l.nth(n-1, writeLock)
	if err != nil {
		return 0, err
	}
	prev.next = &node[T]{val: v, next: prev.next}
	prev.unlock(writeLock)
	return l.adjustLen(1)
}

// Prepend places v at the front and returns the new length.
func (l *List[T]) Prepend(v T) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		return 0, ErrDestroyed
	}
	l.head = &node[T]{val: v, next: l.head}
	l.length++
	return l.length, nil
}

// Append places v after the current tail and returns the new length. The tail
// is found by walking, not by index, so concurrent removals cannot make an
// append fail.
func (l *List[T]) Append(v T) (int, error) {
	nd := &node[T]{val: v}

	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return 0, ErrDestroyed
	}
	if l.head == nil {
		l.head = nd
		l.length++
		n := l.length
		l.mu.Unlock()
		return n, nil
	}
	cur := l.head
	cur.lock(writeLock)
	l.mu.Unlock()

	for cur.next != nil {
		next := cur.next
		next.lock(writeLock)
		cur.unlock(writeLock)
		cur = next
	}
	cur.next = nd
	cur.unlock(writeLock)
	return l.adjustLen(1)
}

// RemoveAt unlinks the element at position n and returns its value.
func (l *List[T]) RemoveAt(n int) (T, error) {
	var zero T
	if n == 0 {
		return l.RemoveFirst()
	}
	prev, err := l.nth(n-1, writeLock)
	if err != nil {
		return zero, err
	}
	victim := prev.next
	if victim == nil {
		prev.unlock(writeLock)
		return zero, ErrIndexOutOfRange
	}
	victim.lock(writeLock)
	prev.next = victim.next
	v := victim.val
	victim.unlock(writeLock)
	prev.unlock(writeLock)

	if _, err := l.adjustLen(-1); err != nil {
		return zero, err
	}
	return v, nil
}

// RemoveFirst unlinks the head element and returns its value.
func (l *List[T]) RemoveFirst() (T, error) {
	var zero T
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		return zero, ErrDestroyed
	}
	victim := l.head
	if victim == nil {
		return zero, ErrIndexOutOfRange
	}
	victim.lock(writeLock)
	l.head = victim.next
	v := victim.val
	victim.unlock(writeLock)
	l.length--
	return v, nil
}

// RemoveFunc unlinks the first element for which match returns true. The
// boolean reports whether anything was removed.
func (l *List[T]) RemoveFunc(match func(T) bool) (T, bool, error) {
	var zero T
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return zero, false, ErrDestroyed
	}
	cur := l.head
	if cur == nil {
		l.mu.Unlock()
		return zero, false, nil
	}
	cur.lock(writeLock)
	if match(cur.val) {
		l.head = cur.next
		l.length--
		v := cur.val
		cur.unlock(writeLock)
		l.mu.Unlock()
		return v, true, nil
	}
	l.mu.Unlock()

	for {
		next := cur.next
		if next == nil {
			cur.unlock(writeLock)
			return zero, false, nil
		}
		next.lock(writeLock)
		if match(next.val) {
			cur.next = next.next
			v := next.val
			next.unlock(writeLock)
			cur.unlock(writeLock)
			if _, err := l.adjustLen(-1); err != nil {
				return zero, false, err
			}
			return v, true, nil
		}
		cur.unlock(writeLock)
		cur = next
	}
}

// Get returns the value at position n.
func (l *List[T]) Get(n int) (T, error) {
	var zero T
	nd, err := l.nth(n, readLock)
	if err != nil {
		return zero, err
	}
	v := nd.val
	nd.unlock(readLock)
	return v, nil
}

// First returns the head value.
func (l *List[T]) First() (T, error) {
	return l.Get(0)
}

// Len returns the current length.
func (l *List[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.length
}

// ForEach calls fn for every element in order while holding that element's
// read lock. fn must not mutate the list.
func (l *List[T]) ForEach(fn func(i int, v T)) error {
	l.mu.RLock()
	if l.destroyed {
		l.mu.RUnlock()
		return ErrDestroyed
	}
	cur := l.head
	if cur == nil {
		l.mu.RUnlock()
		return nil
	}
	cur.lock(readLock)
	l.mu.RUnlock()

	for i := 0; ; i++ {
		fn(i, cur.val)
		next := cur.next
		if next == nil {
			cur.unlock(readLock)
			return nil
		}
		next.lock(readLock)
		cur.unlock(readLock)
		cur = next
	}
}

// Snapshot copies the values out in order.
func (l *List[T]) Snapshot() ([]T, error) {
	out := make([]T, 0, l.Len())
	err := l.ForEach(func(_ int, v T) {
		out = append(out, v)
	})
	return out, err
}

// Destroy tears the list down, calling teardown (if non-nil) on every value
// under that node's write lock. Callers must ensure no other operation is in
// flight. Subsequent calls are no-ops.
func (l *List[T]) Destroy(teardown func(T)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		return
	}
	var zero T
	for nd := l.head; nd != nil; {
		nd.lock(writeLock)
		if teardown != nil {
			teardown(nd.val)
		}
		next := nd.next
		nd.val = zero
		nd.next = nil
		nd.unlock(writeLock)
		nd = next
	}
	l.head = nil
	l.length = 0
	l.destroyed = true
}
