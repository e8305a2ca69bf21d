// Package ratelimit implements the global gate that spaces out search engine requests.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/serp-visibility-crawler/internal/metrics"
)

// DefaultMinInterval is the minimum spacing between two engine requests.
const DefaultMinInterval = 5 * time.Second

// Config holds rate limiter configuration.
type Config struct {
	MinInterval time.Duration
}

// Limiter is a single process-wide gate: consecutive Acquire calls return at
// least MinInterval apart. Callers queue behind each other; there are no
// priority classes.
type Limiter struct {
	sem      chan struct{}
	limiter  *rate.Limiter
	interval time.Duration
	last     time.Time
	logger   *zap.Logger
}

// New creates a new Limiter.
func New(cfg Config, logger *zap.Logger) *Limiter {
	interval := cfg.MinInterval
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		sem:      make(chan struct{}, 1),
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
		logger:   logger,
	}
}

// Interval returns the enforced minimum spacing.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Acquire blocks until the minimum interval has elapsed since the previous
// Acquire returned, then records the new timestamp. A caller queued behind
// another gives up as soon as ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	}
	defer func() { <-l.sem }()

	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// The token bucket schedules on reservation time; top up so the spacing
	// holds against the previous return time as well.
	if !l.last.IsZero() {
		if remaining := l.interval - time.Since(l.last); remaining > 0 {
			timer := time.NewTimer(remaining)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("rate limit wait: %w", ctx.Err())
			}
		}
	}
	l.last = time.Now()

	if waited := l.last.Sub(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
		l.logger.Debug("rate limiting search", zap.Duration("waited", waited))
	}
	return nil
}
