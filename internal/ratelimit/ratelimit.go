package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter implements a token bucket rate limiter. Rates below one token per
// second are supported (the backfill throttle runs in blocks per minute).
type Limiter struct {
	rate       float64 // tokens per second
	tokens     float64
	maxTokens  float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// New creates a new rate limiter with the specified rate (tokens per second)
func New(rps float64) *Limiter {
	if rps <= 0 {
		rps = 1.0
	}
	burst := rps
	if burst < 1.0 {
		burst = 1.0
	}
	return &Limiter{
		rate:       rps,
		tokens:     burst,
		maxTokens:  burst,
		lastUpdate: time.Now(),
	}
}

// PerMinute creates a limiter expressed in tokens per minute
func PerMinute(rpm float64) *Limiter {
	return New(rpm / 60.0)
}

// Wait blocks until a token is available or the context is cancelled
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.tryTake() {
			return nil
		}

		waitTime := time.Duration(float64(time.Second) / l.rate)
		if waitTime > time.Second {
			// Re-check every second so cancellation stays responsive at slow rates
			waitTime = time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

func (l *Limiter) tryTake() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastUpdate).Seconds()

	l.tokens += elapsed * l.rate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}

	l.lastUpdate = now

	if l.tokens >= 1.0 {
		l.tokens -= 1.0
		return true
	}

	return false
}
