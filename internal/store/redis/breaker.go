package redis

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while the breaker rejects calls.
var ErrBreakerOpen = errors.New("redis publisher: circuit open")

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	Closed   BreakerState = iota // calls pass through
	Open                         // calls fail fast with ErrBreakerOpen
	HalfOpen                     // a single probe is let through
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker stops the publisher from hammering an unreachable Redis.
// After maxFailures consecutive errors it opens for cooldown, then lets one probe through.
// A successful probe closes it, a failed one reopens it.
type Breaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	probing     bool
	now         func() time.Time

	OnStateChange func(from, to BreakerState)
}

// NewBreaker returns a closed breaker. maxFailures below 1 is treated as 1.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// Do runs fn unless the breaker is open. While half-open only the caller
// holding the probe runs; the others get ErrBreakerOpen.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.setState(HalfOpen)
	}
	probe := b.state == HalfOpen
	if probe {
		if b.probing {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	if err == nil {
		b.failures = 0
		if b.state != Closed {
			b.setState(Closed)
		}
		return nil
	}
	b.failures++
	if b.state == HalfOpen || b.failures >= b.maxFailures {
		b.openedAt = b.now()
		b.setState(Open)
	}
	return err
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) setState(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}
