package license

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// backoffSchedule computes the exponential keepalive retry delay (doubling
// from a floor to a ceiling) and exposes a token-bucket limiter so callers
// driving the keepalive loop also cap attempt frequency during a failure
// storm, independent of the computed delay.
type backoffSchedule struct {
	mu      sync.Mutex
	floor   time.Duration
	ceiling time.Duration
	delay   time.Duration
	limiter *rate.Limiter
}

func newBackoffSchedule(floor, ceiling time.Duration) backoffSchedule {
	return backoffSchedule{
		floor:   floor,
		ceiling: ceiling,
		delay:   floor,
		// Burst of 1: only one keepalive attempt may proceed per computed
		// interval, even if the caller's scheduler fires more often.
		limiter: rate.NewLimiter(rate.Every(floor), 1),
	}
}

func (b *backoffSchedule) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.delay * 2
	if next > b.ceiling {
		next = b.ceiling
	}
	b.delay = next
	b.limiter.SetLimit(rate.Every(b.delay))
}

func (b *backoffSchedule) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = b.floor
	b.limiter.SetLimit(rate.Every(b.floor))
}

func (b *backoffSchedule) current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delay
}

// Allow reports whether a keepalive attempt may proceed right now under the
// current backoff-derived rate limit.
func (b *backoffSchedule) Allow() bool {
	b.mu.Lock()
	limiter := b.limiter
	b.mu.Unlock()
	return limiter.Allow()
}
