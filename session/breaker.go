package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// CircuitState is the state of a BreakerCache.
type CircuitState int

const (
	// StateClosed passes calls to the backend.
	StateClosed CircuitState = iota
	// StateOpen fails calls without touching the backend.
	StateOpen
	// StateHalfOpen lets a single trial call reach the backend after the reset
	// timeout.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "Half-Open"
	default:
		return "Unknown"
	}
}

// ErrCircuitOpen is wrapped, together with ErrBackend, by calls refused while
// the breaker is open.
var ErrCircuitOpen = errors.New("session cache circuit open")

const (
	DefaultBreakerThreshold = 5
	DefaultBreakerReset     = 30 * time.Second
)

// BreakerPolicy configures a BreakerCache.
type BreakerPolicy struct {
	// FailureThreshold is the number of consecutive backend errors that
	// opens the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before a trial call.
	ResetTimeout time.Duration
	// OnStateChange is called on every transition, after the breaker's lock
	// is released, so it may call back into the cache.
	OnStateChange func(from, to CircuitState)
	Clock         Clock
}

// BreakerCache wraps a remote Cache so that an unreachable backend fails
// fast instead of stalling every request for the dial timeout. Only errors
// wrapping ErrBackend count as failures.
type BreakerCache[V any] struct {
	next Cache[V]

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	inTrial     bool

	threshold     int
	reset         time.Duration
	clock         Clock
	onStateChange func(from, to CircuitState)
}

// NewBreakerCache wraps next. Zero policy fields take the defaults.
func NewBreakerCache[V any](next Cache[V], policy BreakerPolicy) *BreakerCache[V] {
	if policy.FailureThreshold <= 0 {
		policy.FailureThreshold = DefaultBreakerThreshold
	}
	if policy.ResetTimeout <= 0 {
		policy.ResetTimeout = DefaultBreakerReset
	}
	if policy.Clock == nil {
		policy.Clock = realClock{}
	}
	return &BreakerCache[V]{
		next:          next,
		threshold:     policy.FailureThreshold,
		reset:         policy.ResetTimeout,
		clock:         policy.Clock,
		onStateChange: policy.OnStateChange,
	}
}

// LogStateChanges returns an OnStateChange callback that logs transitions.
func LogStateChanges(logger *slog.Logger) func(from, to CircuitState) {
	return func(from, to CircuitState) {
		if to == StateOpen {
			logger.Warn("Session cache circuit opened", "from", from.String())
			return
		}
		logger.Info("Session cache circuit state changed", "from", from.String(), "to", to.String())
	}
}

// Get implements Cache.
func (c *BreakerCache[V]) Get(ctx context.Context, token string) (V, bool, error) {
	var (
		value V
		ok    bool
	)
	err := c.execute(func() error {
		var err error
		value, ok, err = c.next.Get(ctx, token)
		return err
	})
	return value, ok, err
}

// Set implements Cache.
func (c *BreakerCache[V]) Set(ctx context.Context, token string, value V, ttl time.Duration) error {
	return c.execute(func() error {
		return c.next.Set(ctx, token, value, ttl)
	})
}

// Invalidate implements Cache.
func (c *BreakerCache[V]) Invalidate(ctx context.Context, token string) error {
	return c.execute(func() error {
		return c.next.Invalidate(ctx, token)
	})
}

// State returns the current circuit state.
func (c *BreakerCache[V]) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *BreakerCache[V]) execute(fn func() error) error {
	trial, err := c.allow()
	if err != nil {
		return err
	}
	err = fn()
	c.record(err, trial)
	return err
}

// allow admits a call. Once the reset timeout has passed a single trial call
// goes through; every other call fails fast until the trial finishes.
func (c *BreakerCache[V]) allow() (trial bool, err error) {
	c.mu.Lock()
	var changes []stateChange
	defer func() {
		c.mu.Unlock()
		c.notify(changes)
	}()

	switch c.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if c.clock.Now().Sub(c.lastFailure) < c.reset {
			break
		}
		changes = c.transitionLocked(changes, StateHalfOpen)
		c.inTrial = true
		return true, nil
	case StateHalfOpen:
		if !c.inTrial {
			c.inTrial = true
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: %w", ErrBackend, ErrCircuitOpen)
}

func (c *BreakerCache[V]) record(err error, trial bool) {
	c.mu.Lock()
	var changes []stateChange
	defer func() {
		c.mu.Unlock()
		c.notify(changes)
	}()

	if trial {
		c.inTrial = false
	}
	if !errors.Is(err, ErrBackend) {
		// Success, or a caller error such as ErrInvalidTTL.
		c.failures = 0
		if c.state == StateHalfOpen {
			changes = c.transitionLocked(changes, StateClosed)
		}
		return
	}

	c.failures++
	c.lastFailure = c.clock.Now()
	if c.state == StateHalfOpen || c.failures >= c.threshold {
		changes = c.transitionLocked(changes, StateOpen)
	}
}

type stateChange struct {
	from, to CircuitState
}

// transitionLocked must be called with mu held. The change is reported by
// notify once mu is released.
func (c *BreakerCache[V]) transitionLocked(changes []stateChange, to CircuitState) []stateChange {
	if c.state == to {
		return changes
	}
	changes = append(changes, stateChange{from: c.state, to: to})
	c.state = to
	return changes
}

func (c *BreakerCache[V]) notify(changes []stateChange) {
	if c.onStateChange == nil {
		return
	}
	for _, ch := range changes {
		c.onStateChange(ch.from, ch.to)
	}
}
