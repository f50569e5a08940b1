package router

import (
	"errors"
	"fmt"
)

var (
	ErrNoProviders      = errors.New("no providers configured")
	ErrUnknownPolicy    = errors.New("unknown routing policy")
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrInvalidThreshold = errors.New("circuit breaker threshold must be >= 1")
	ErrInvalidErrorRate = errors.New("max error rate must be within [0,1]")
	ErrRouterClosed     = errors.New("router closed")
)

// AllProvidersFailedError reports that every ranked candidate was attempted
// and failed, keeping the last provider error for diagnostics.
type AllProvidersFailedError struct {
	Method   string
	Attempts int
	LastErr  error
}

func (e *AllProvidersFailedError) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("all providers failed for %q (%d attempted)", e.Method, e.Attempts)
	}
	return fmt.Sprintf("all providers failed for %q (%d attempted): %v", e.Method, e.Attempts, e.LastErr)
}

func (e *AllProvidersFailedError) Unwrap() error {
	return e.LastErr
}
