package model

import "time"

// Circuit states.
const (
	circuitClosed   = "closed"
	circuitOpen     = "open"
	circuitHalfOpen = "half_open"
)

// breaker is a circuit breaker over model loads. Three consecutive failures
// (regardless of model) open it for a fixed cooldown; after cooldown one
// half-open trial is permitted. Success closes and resets, failure reopens.
// Single-writer: the engine's worker goroutine owns it.
type breaker struct {
	state               string
	consecutiveFailures int
	openedUntil         time.Time

	threshold int
	cooldown  time.Duration
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{
		state:     circuitClosed,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// allow reports whether a load may proceed. When the circuit is open it
// returns the remaining cooldown; once the cooldown elapses the breaker
// moves to half-open and permits exactly one trial.
func (b *breaker) allow(now time.Time) (bool, time.Duration) {
	switch b.state {
	case circuitOpen:
		if now.Before(b.openedUntil) {
			return false, b.openedUntil.Sub(now)
		}
		b.state = circuitHalfOpen
		return true, 0
	default:
		return true, 0
	}
}

func (b *breaker) recordSuccess() {
	b.state = circuitClosed
	b.consecutiveFailures = 0
}

func (b *breaker) recordFailure(now time.Time) {
	if b.state == circuitHalfOpen {
		b.state = circuitOpen
		b.openedUntil = now.Add(b.cooldown)
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.threshold {
		b.state = circuitOpen
		b.openedUntil = now.Add(b.cooldown)
	}
}
