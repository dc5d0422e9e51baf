// Package ratelimit provides the token-bucket rate limiting and in-flight
// concurrency semaphores shared by every outbound provider call (spec §4.1,
// §4.8 "Concurrency caps", §5 "Shared-resource policy").
package ratelimit

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate with the retry policy from spec §4.1:
// exponential back-off, base 500ms, factor 2, jitter ±25%, capped attempts.
type Limiter struct {
	bucket     *rate.Limiter
	maxRetries int
	base       time.Duration
	factor     float64
	jitter     float64
}

// NewLimiter builds a token bucket refilling at requestsPerSecond, with room
// for bursts of up to burst requests.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		bucket:     rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		maxRetries: 3,
		base:       500 * time.Millisecond,
		factor:     2,
		jitter:     0.25,
	}
}

// WithRetryPolicy overrides the default retry budget/back-off curve.
func (l *Limiter) WithRetryPolicy(maxRetries int, base time.Duration, factor, jitter float64) *Limiter {
	l.maxRetries = maxRetries
	l.base = base
	l.factor = factor
	l.jitter = jitter
	return l
}

// Retryable classifies an error as worth retrying (transient provider
// failure) versus terminal. Callers pass a predicate because each provider's
// transient-error shape (HTTP 429/503 vs others) differs.
type Retryable func(error) bool

// Do waits for a rate-limiting token, then calls fn, retrying on transient
// failures per the configured back-off curve (spec §4.1). fn is responsible
// for honoring ctx cancellation internally.
func (l *Limiter) Do(ctx context.Context, isTransient Retryable, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if err := l.bucket.Wait(ctx); err != nil {
			return ctx.Err()
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == l.maxRetries || !isTransient(lastErr) {
			return lastErr
		}
		delay := l.backoff(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (l *Limiter) backoff(attempt int) time.Duration {
	d := float64(l.base) * pow(l.factor, attempt)
	jitterRange := d * l.jitter
	d += (rand.Float64()*2 - 1) * jitterRange
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// ProviderSemaphores is the process-global set of per-provider in-flight
// caps referenced by spec §4.8 ("Per provider (C1, C4, C5), global
// semaphores bound in-flight calls"). Counters are monotonically
// non-negative and always released via scoped acquisition, even on failure.
type ProviderSemaphores struct {
	sems map[string]*semaphore.Weighted
}

// NewProviderSemaphores builds the global semaphore set from a
// provider-name -> concurrency-limit map (spec §6 "per-provider concurrency").
func NewProviderSemaphores(limits map[string]int) *ProviderSemaphores {
	sems := make(map[string]*semaphore.Weighted, len(limits))
	for name, limit := range limits {
		if limit <= 0 {
			limit = 1
		}
		sems[name] = semaphore.NewWeighted(int64(limit))
	}
	return &ProviderSemaphores{sems: sems}
}

// Acquire blocks until a slot for provider is free (or ctx is cancelled) and
// returns a release func. Unknown providers are unbounded (no semaphore
// configured) and Acquire returns a no-op release.
func (p *ProviderSemaphores) Acquire(ctx context.Context, provider string) (release func(), err error) {
	sem, ok := p.sems[provider]
	if !ok {
		return func() {}, nil
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return func() {}, err
	}
	return func() { sem.Release(1) }, nil
}
