// Package ratelimit implements a real-valued token-bucket limiter used to
// throttle outbound approval requests. Unlike golang.org/x/time/rate, the
// bucket state here — fractional tokens, last_refill instant — is part of
// the public contract (Tokens, LastRefill), readable for diagnostics and
// tests; the approval coordinator itself only calls Acquire.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter is a single token bucket: capacity max_tokens, refilled
// continuously at rate tokens/second based on elapsed wall-clock time
// between operations (never tick-based).
type Limiter struct {
	mu         sync.Mutex
	rate       float64 // tokens added per second
	maxTokens  float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// New constructs a Limiter with the given refill rate (tokens/second) and
// burst capacity maxTokens. The bucket starts full, matching spec semantics
// ("initial tokens = max_tokens"). rate <= 0 is rejected — a bucket that
// never refills can never recover from exhaustion, which is never what the
// caller means.
func New(rate, maxTokens float64) (*Limiter, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("ratelimit: rate must be positive, got %v", rate)
	}
	if maxTokens <= 0 {
		return nil, fmt.Errorf("ratelimit: maxTokens must be positive, got %v", maxTokens)
	}
	return &Limiter{
		rate:       rate,
		maxTokens:  maxTokens,
		tokens:     maxTokens,
		lastRefill: time.Now(),
		now:        time.Now,
	}, nil
}

// refill advances tokens by elapsed time since lastRefill, capped at
// maxTokens. Must be called with mu held.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens = min(l.maxTokens, l.tokens+elapsed*l.rate)
	l.lastRefill = now
}

// TryAcquire attempts to take one token without blocking. It returns false
// immediately if the bucket has less than one token after refill.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// Acquire blocks until one token is available or ctx is cancelled. It is
// cancel-safe: a call that returns ctx's error has not consumed a token
// (a token already available is taken before ctx is checked). Callers waiting
// on Acquire do not starve each other strictly in FIFO order — unlike a
// request queue, token availability is the only ordering signal.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		deficit := 1 - l.tokens
		wait := time.Duration(deficit/l.rate*float64(time.Second)) + time.Millisecond
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tokens reports the current token count after an implicit refill, for
// diagnostics and tests. It does not consume a token.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// LastRefill reports the instant tokens were last recomputed.
func (l *Limiter) LastRefill() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastRefill
}
