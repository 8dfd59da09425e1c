package circuit

import (
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ChangeFunc observes state transitions. It runs after the breaker lock is
// released, on the goroutine that caused the transition.
type ChangeFunc func(name string, from, to State)

// Breaker opens after threshold consecutive countable failures and stays
// open for cooldown. After that a single probe call is let through; its
// outcome closes or re-opens the breaker.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	nowFn     func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
	onChange ChangeFunc
}

func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{name: name, threshold: threshold, cooldown: cooldown, nowFn: time.Now}
}

func (b *Breaker) OnStateChange(fn ChangeFunc) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs fn unless the breaker rejects the call with ErrOpen. countable
// picks the errors that count as failures; nil counts every error.
func (b *Breaker) Do(fn func() error, countable func(error) bool) error {
	if b == nil {
		return fn()
	}
	if !b.acquire() {
		return ErrOpen
	}
	err := fn()
	b.release(err != nil && (countable == nil || countable(err)))
	return err
}

func (b *Breaker) acquire() bool {
	b.mu.Lock()
	var change func()
	allowed := true
	switch b.state {
	case StateOpen:
		if b.nowFn().Sub(b.openedAt) < b.cooldown {
			allowed = false
			break
		}
		change = b.setLocked(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			allowed = false
		} else {
			b.probing = true
		}
	}
	b.mu.Unlock()
	if change != nil {
		change()
	}
	return allowed
}

func (b *Breaker) release(failed bool) {
	b.mu.Lock()
	var change func()
	switch {
	case b.state == StateHalfOpen:
		b.probing = false
		if failed {
			b.openedAt = b.nowFn()
			change = b.setLocked(StateOpen)
		} else {
			b.failures = 0
			change = b.setLocked(StateClosed)
		}
	case failed:
		b.failures++
		if b.state == StateClosed && b.failures >= b.threshold {
			b.openedAt = b.nowFn()
			change = b.setLocked(StateOpen)
		}
	default:
		b.failures = 0
	}
	b.mu.Unlock()
	if change != nil {
		change()
	}
}

// setLocked switches state and returns the notification to run once the
// lock is dropped.
func (b *Breaker) setLocked(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	fn := b.onChange
	if fn == nil {
		return nil
	}
	name := b.name
	return func() { fn(name, from, to) }
}
