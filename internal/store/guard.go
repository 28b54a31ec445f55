package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rendis/authflow/pkg/schema"
)

// CircuitState represents the state of the trace write breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // writes go through
	CircuitOpen                         // writes are rejected until the cooldown elapses
	CircuitHalfOpen                     // one probe write is allowed
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the write breaker shared by an EventLog's recorders.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failed flushes before opening
	Cooldown         time.Duration // how long the breaker stays open
}

// DefaultBreakerConfig opens after 5 failed flushes for 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second}
}

// RetryPolicy bounds how a recorder retries one flush.
type RetryPolicy struct {
	Attempts int           // total tries including the first; <= 1 disables retries
	Delay    time.Duration // base delay, doubled per attempt
	MaxDelay time.Duration
}

// DefaultRetryPolicy tries a flush three times, 50ms then 100ms apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 50 * time.Millisecond, MaxDelay: time.Second}
}

// Backoff returns the wait before retry number attempt (0-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	delay := p.Delay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// IsRetryable reports whether a failed write may succeed if repeated.
// Cancellation and caller errors (unknown session, invalid input) are final.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		switch fe.Code {
		case schema.ErrCodeNotFound, schema.ErrCodeValidation, schema.ErrCodeInvalidCommand:
			return false
		}
	}
	return true
}

// writeBreaker stops recorders from hammering a failing store.
type writeBreaker struct {
	mu          sync.Mutex
	cfg         BreakerConfig
	state       CircuitState
	failures    int
	lastFailure time.Time
	probing     bool
	now         func() time.Time
}

func newWriteBreaker(cfg BreakerConfig) *writeBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	return &writeBreaker{cfg: cfg, now: time.Now}
}

// allow returns a STORE_ERROR while the breaker is open.
func (b *writeBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.Cooldown {
			return schema.NewErrorf(schema.ErrCodeStore,
				"trace writes suspended after %d consecutive failures", b.failures).
				WithDetails(map[string]any{"state": b.state.String()})
		}
		b.state = CircuitHalfOpen
		b.probing = true
		return nil
	case CircuitHalfOpen:
		if b.probing {
			return schema.NewError(schema.ErrCodeStore, "trace write probe in flight")
		}
		b.probing = true
	}
	return nil
}

func (b *writeBreaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.failures = 0
	b.probing = false
}

func (b *writeBreaker) failure() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	b.probing = false
	if b.state == CircuitHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state = CircuitOpen
	}
	return b.state
}

func (b *writeBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

// waitBackoff sleeps for delay or until ctx is done.
func waitBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
