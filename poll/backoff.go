package poll

import "time"

// Backoff is the rescheduling policy for non-terminal polls: a short
// fixed interval while an order is fresh, then exponential growth
// capped once the order is known to be slow-moving. Jitter is applied
// by the workflow, which owns deterministic randomness.
type Backoff struct {
	// FastInterval is used for the first FastAttempts polls.
	FastInterval time.Duration
	FastAttempts int
	// Base seeds the exponential phase.
	Base time.Duration
	// Factor multiplies the delay each attempt past FastAttempts.
	Factor float64
	// Cap bounds the delay between attempts.
	Cap time.Duration
	// Budget bounds the total polling window.
	Budget time.Duration
}

// DefaultBackoff polls every few seconds at first, then backs off
// exponentially to at most ten minutes between attempts, for up to 48
// hours overall.
func DefaultBackoff() Backoff {
	return Backoff{
		FastInterval: 5 * time.Second,
		FastAttempts: 12,
		Base:         15 * time.Second,
		Factor:       2.0,
		Cap:          10 * time.Minute,
		Budget:       48 * time.Hour,
	}
}

// Delay returns the base delay before the next poll for a zero-based
// attempt counter.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < b.FastAttempts {
		return b.FastInterval
	}
	delay := float64(b.Base)
	for i := b.FastAttempts; i < attempt; i++ {
		delay *= b.Factor
		if time.Duration(delay) >= b.Cap {
			return b.Cap
		}
	}
	if time.Duration(delay) > b.Cap {
		return b.Cap
	}
	return time.Duration(delay)
}

// Exhausted reports whether the polling budget is spent.
func (b Backoff) Exhausted(elapsed time.Duration) bool {
	return elapsed >= b.Budget
}
