package gemini

import (
	"context"
	"sync"
	"time"
)

// A token bucket rate limiter. The free Gemini tier allows a fixed number of
// requests per minute; going over gets 429s that the user would see.
type rateLimiter struct {
	mu       sync.Mutex // protect access to lastTime, tokens and carry
	lastTime time.Time
	tokens   int
	carry    time.Duration // elapsed time not yet turned into a token

	window time.Duration
	rate   int

	now func() time.Time
}

// newRateLimiter creates a rate limiter allowing rate units of work over each
// window, e.g. newRateLimiter(15, time.Minute). The bucket starts full.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		window:   window,
		rate:     rate,
		lastTime: time.Now(),
		tokens:   rate,
		now:      time.Now,
	}
}

// Acquire returns nil once a token has been taken. If ctx is Done first it
// returns ctx.Err().
func (rl *rateLimiter) Acquire(ctx context.Context) error {
	for {
		if ok := rl.tryAcquire(); ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.interval()):
		}
	}
}

// interval is the time it takes for one token to be added to the bucket.
func (rl *rateLimiter) interval() time.Duration {
	return rl.window / time.Duration(rl.rate)
}

func (rl *rateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(rl.lastTime) + rl.carry
	rl.lastTime = now

	// Refill in whole tokens, keeping the remainder so frequent callers still
	// accumulate tokens.
	interval := rl.interval()
	rl.tokens += int(elapsed / interval)
	rl.carry = elapsed % interval
	if rl.tokens >= rl.rate {
		rl.tokens = rl.rate
		rl.carry = 0
	}
	if rl.tokens <= 0 {
		return false
	}

	rl.tokens--
	return true
}
