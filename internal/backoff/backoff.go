// Package backoff implements the doubling delay workers use while the
// frontier is empty. When the next delay would pass the ceiling the policy
// returns Stop, which is how a worker decides the frontier is exhausted.
package backoff

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultInitial is the first delay and the value a worker resets to after
	// every successful pop.
	DefaultInitial = time.Millisecond
	// DefaultMax is the delay ceiling.
	DefaultMax = 5 * time.Second
	// Stop is returned by Next once the ceiling would be exceeded.
	Stop time.Duration = 0
)

// Pauser abstracts how the policy sleeps.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// TimerPauser sleeps on a timer and wakes early when ctx ends.
type TimerPauser struct{}

// Pause blocks for delay or until ctx is done.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Policy is immutable and safe to share between workers.
type Policy struct {
	initial time.Duration
	max     time.Duration
	pauser  Pauser
}

// Option customizes a Policy.
type Option func(*Policy)

// WithPauser replaces the timer-based sleep, mainly for tests.
func WithPauser(p Pauser) Option {
	return func(pol *Policy) {
		if p != nil {
			pol.pauser = p
		}
	}
}

// New builds a Policy. initial must be positive and no larger than max.
func New(initial, maxDelay time.Duration, opts ...Option) (*Policy, error) {
	if initial <= 0 {
		return nil, fmt.Errorf("backoff initial delay must be > 0, got %s", initial)
	}
	if maxDelay < initial {
		return nil, fmt.Errorf("backoff max delay %s is below initial delay %s", maxDelay, initial)
	}
	p := &Policy{
		initial: initial,
		max:     maxDelay,
		pauser:  TimerPauser{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Initial returns the starting delay.
func (p *Policy) Initial() time.Duration {
	return p.initial
}

// Next sleeps for delay, then returns the doubled delay, or Stop when the
// doubled delay would exceed the ceiling or ctx has ended.
func (p *Policy) Next(ctx context.Context, delay time.Duration) time.Duration {
	p.pauser.Pause(ctx, delay)
	if ctx.Err() != nil {
		return Stop
	}
	next := delay * 2
	if next > p.max {
		return Stop
	}
	return next
}
