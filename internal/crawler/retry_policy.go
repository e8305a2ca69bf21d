package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// AttemptResult is what one gated fetch+extract attempt produced.
type AttemptResult struct {
	Page    SearchPage
	Results []SearchResult
}

// AttemptFunc performs one attempt. attempt is 1-based.
type AttemptFunc func(ctx context.Context, attempt int) (AttemptResult, error)

// RetryConfig tunes the retry loop to the engine's blocking behavior.
type RetryConfig struct {
	MaxAttempts     int
	CaptchaCooldown time.Duration
	EmptyCooldown   time.Duration
	BackoffStep     time.Duration
}

// DefaultRetryConfig returns the production retry budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		CaptchaCooldown: 30 * time.Second,
		EmptyCooldown:   15 * time.Second,
		BackoffStep:     10 * time.Second,
	}
}

// RetryPolicy runs an attempt function with bounded retries and
// failure-specific waits.
type RetryPolicy struct {
	cfg     RetryConfig
	sleeper Sleeper
	logger  *zap.Logger
}

// NewRetryPolicy builds a policy; zero config fields fall back to defaults.
func NewRetryPolicy(cfg RetryConfig, sleeper Sleeper, logger *zap.Logger) (*RetryPolicy, error) {
	if sleeper == nil {
		return nil, errors.New("retry policy: sleeper is required")
	}
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.CaptchaCooldown <= 0 {
		cfg.CaptchaCooldown = def.CaptchaCooldown
	}
	if cfg.EmptyCooldown <= 0 {
		cfg.EmptyCooldown = def.EmptyCooldown
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = def.BackoffStep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryPolicy{cfg: cfg, sleeper: sleeper, logger: logger}, nil
}

// MaxAttempts returns the configured attempt budget.
func (p *RetryPolicy) MaxAttempts() int {
	return p.cfg.MaxAttempts
}

// Do runs fn until it yields results or a terminal failure is reached.
// Terminal errors match ErrCaptchaBlocked, ErrNoResultsFound or ErrRetryExhausted.
// Context cancellation is returned as-is and never retried.
func (p *RetryPolicy) Do(ctx context.Context, fn AttemptFunc) (AttemptResult, error) {
	maxAttempts := p.cfg.MaxAttempts
	for attempt := 1; ; attempt++ {
		last := attempt >= maxAttempts
		p.logger.Debug("search attempt", zap.Int("attempt", attempt), zap.Int("max_attempts", maxAttempts))

		res, err := fn(ctx, attempt)
		if err == nil && len(res.Results) == 0 {
			err = ErrExtractionEmpty
		}
		if err == nil {
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return AttemptResult{}, fmt.Errorf("search aborted: %w", ctxErr)
		}

		var wait time.Duration
		switch {
		case errors.Is(err, ErrBlockedByCaptcha):
			p.logger.Warn("captcha detected, engine is blocking automated requests", zap.Int("attempt", attempt))
			if last {
				return AttemptResult{}, ErrCaptchaBlocked
			}
			wait = p.cfg.CaptchaCooldown
		case errors.Is(err, ErrExtractionEmpty):
			p.logger.Warn("no results extracted, page may be blocked or changed", zap.Int("attempt", attempt))
			if last {
				return AttemptResult{}, ErrNoResultsFound
			}
			wait = p.cfg.EmptyCooldown
		default:
			p.logger.Warn("search attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			if last {
				return AttemptResult{}, &RetryExhaustedError{Attempts: attempt, Last: err}
			}
			wait = time.Duration(attempt) * p.cfg.BackoffStep
		}

		p.logger.Info("waiting before retry", zap.Duration("wait", wait), zap.Int("next_attempt", attempt+1))
		if err := p.sleeper.Sleep(ctx, wait); err != nil {
			return AttemptResult{}, fmt.Errorf("retry wait: %w", err)
		}
	}
}
