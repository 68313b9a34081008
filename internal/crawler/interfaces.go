package crawler

import (
	"context"
)

// Fetcher hands out per-worker sessions. A Fetcher is shared; sessions are not.
type Fetcher interface {
	Open() (Session, error)
}

// Session fetches pages for a single worker and is closed when that worker exits.
type Session interface {
	Fetch(ctx context.Context, url string) (Page, error)
	Close() error
}

// Extractor turns a fetched body into ordered text segments.
type Extractor interface {
	Extract(body []byte) []string
}

// Limiter applies politeness delays before a fetch.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Publisher pushes match notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// VisitedSet records URLs that have been claimed by a worker.
type VisitedSet interface {
	Insert(url string) bool
}

// Frontier is the shared queue of URLs waiting to be fetched.
type Frontier interface {
	Push(url string) error
	TryPop() (string, error)
	Len() int
}

// ResultSink collects URLs whose content matched.
type ResultSink interface {
	Append(url string) (int, error)
}
