package crawler

import (
	"errors"
	"fmt"
)

// Store-level failures shared by every EntityStore implementation.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Fetch-level failures reported by a SearchFetcher.
var (
	ErrTimeout          = errors.New("navigation timed out")
	ErrNavigation       = errors.New("navigation failed")
	ErrBlockedByCaptcha = errors.New("blocked by captcha")
)

// ErrExtractionEmpty marks an attempt whose page yielded no usable results.
var ErrExtractionEmpty = errors.New("extraction yielded no results")

// Terminal failures surfaced by RetryPolicy once the attempt budget is spent.
var (
	ErrCaptchaBlocked = errors.New("captcha detected, reduce search frequency or try again later")
	ErrNoResultsFound = errors.New("no search results found after multiple attempts, engine may be blocking requests")
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// RetryExhaustedError carries the attempt count and the last underlying error.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

// Is lets errors.Is(err, ErrRetryExhausted) match.
func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// CrawlFailedError wraps the terminal cause of a failed entity crawl.
type CrawlFailedError struct {
	EntityID int64
	Cause    error
}

func (e *CrawlFailedError) Error() string {
	return fmt.Sprintf("crawl entity %d: %v", e.EntityID, e.Cause)
}

func (e *CrawlFailedError) Unwrap() error {
	return e.Cause
}

// FailureReason maps an error onto a short label for logs and metrics.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCaptchaBlocked), errors.Is(err, ErrBlockedByCaptcha):
		return "captcha"
	case errors.Is(err, ErrNoResultsFound), errors.Is(err, ErrExtractionEmpty):
		return "no_results"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNavigation):
		return "navigation"
	case errors.Is(err, ErrRetryExhausted):
		return "retry_exhausted"
	default:
		return "error"
	}
}
