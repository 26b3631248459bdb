package session

import "time"

// Clock is the time source for TTL expiry and the circuit breaker.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
