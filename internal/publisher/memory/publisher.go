// Package memory keeps published notifications in process. The app uses it
// when no broker is configured; tests use it to inspect what was sent.
package memory

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"github.com/JakeFAU/crawlgrep/internal/crawler"
)

// Message is one recorded Publish call.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher records every message it is handed.
type Publisher struct {
	mu   sync.RWMutex
	sent []Message
	fail error
}

// New returns an empty Publisher.
func New() *Publisher { return &Publisher{} }

// FailWith makes Publish return err until it is called again with nil.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

// Publish appends the message and returns its sequence ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return "", p.fail
	}
	id := "memory-" + strconv.Itoa(len(p.sent)+1)
	p.sent = append(p.sent, Message{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.sent)
}

// Matches filters Messages down to match notifications.
func (p *Publisher) Matches() []crawler.Match {
	var out []crawler.Match
	for _, m := range p.Messages() {
		if match, ok := m.Payload.(crawler.Match); ok {
			out = append(out, match)
		}
	}
	return out
}
