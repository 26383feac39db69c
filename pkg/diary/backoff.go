package diary

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: exponential in the attempt count, with a
// small uniform jitter so a fleet of devices that failed together does not
// retry together.
type Backoff struct {
	Base   time.Duration
	Min    time.Duration
	Max    time.Duration
	Jitter time.Duration
}

// DefaultBackoff returns the standard schedule: 10s doubling up to 6h.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   10 * time.Second,
		Min:    10 * time.Second,
		Max:    6 * time.Hour,
		Jitter: 2 * time.Second,
	}
}

// Delay returns the wait before retry number attempt (1-based). The result
// is non-decreasing in attempt and always within [Min, Max]. The delay is a
// function of the attempt count only, never of the error that caused it.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := b.Base
	for i := 1; i < attempt && delay < b.Max; i++ {
		delay *= 2
	}

	if b.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(b.Jitter)))
	}

	if delay < b.Min {
		delay = b.Min
	}
	if delay > b.Max {
		delay = b.Max
	}
	return delay
}
