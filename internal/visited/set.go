// Package visited implements the lock-striped URL set shared by all workers.
//
// URLs are spread over a fixed number of buckets, each a singly linked chain
// guarded by its own mutex. Membership is permanent: there is no removal.
// Insert is an atomic test-and-set on the owning bucket, so two workers racing
// on the same URL cannot both observe it as new.
package visited

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// DefaultBuckets is prime to keep djb2 residues from clustering.
const DefaultBuckets = 1013

// HashFunc maps a URL to a bucket-selection hash.
type HashFunc func(s string) uint64

// DJB2 is the classic hash*33 + c string hash seeded with 5381.
func DJB2(s string) uint64 {
	var h uint64 = 5381
	for i := 0; i < len(s); i++ {
		h = h*33 + uint64(s[i])
	}
	return h
}

// XXHash is a faster, better distributed alternative to DJB2.
func XXHash(s string) uint64 {
	return xxhash.Sum64String(s)
}

// HashByName resolves a configured hash name.
func HashByName(name string) (HashFunc, error) {
	switch name {
	case "", "djb2":
		return DJB2, nil
	case "xxhash":
		return XXHash, nil
	default:
		return nil, fmt.Errorf("unknown visited hash %q", name)
	}
}

type entry struct {
	url  string
	next *entry
}

type bucket struct {
	mu   sync.Mutex
	head *entry
}

// find must be called with b.mu held.
func (b *bucket) find(url string) bool {
	for e := b.head; e != nil; e = e.next {
		if e.url == url {
			return true
		}
	}
	return false
}

// Set is safe for concurrent use.
type Set struct {
	buckets []bucket
	hash    HashFunc
	size    atomic.Int64
}

// Option customizes a Set.
type Option func(*Set)

// WithHash overrides the bucket hash (DJB2 by default).
func WithHash(h HashFunc) Option {
	return func(s *Set) {
		if h != nil {
			s.hash = h
		}
	}
}

// New builds a Set with n buckets. n <= 0 is rejected.
func New(n int, opts ...Option) (*Set, error) {
	if n <= 0 {
		return nil, fmt.Errorf("visited bucket count must be > 0, got %d", n)
	}
	s := &Set{
		buckets: make([]bucket, n),
		hash:    DJB2,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Set) bucketFor(url string) *bucket {
	return &s.buckets[s.hash(url)%uint64(len(s.buckets))]
}

// Contains reports whether url has been inserted.
func (s *Set) Contains(url string) bool {
	b := s.bucketFor(url)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.find(url)
}

// Insert adds url and reports whether the set changed. Lookup and prepend
// happen under one bucket lock.
func (s *Set) Insert(url string) bool {
	b := s.bucketFor(url)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.find(url) {
		return false
	}
	b.head = &entry{url: url, next: b.head}
	s.size.Add(1)
	return true
}

// Len returns the number of members.
func (s *Set) Len() int {
	return int(s.size.Load())
}

// Buckets returns the configured bucket count.
func (s *Set) Buckets() int {
	return len(s.buckets)
}
