package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultAttempts  = 4
	DefaultRetryUnit = 3 * time.Second
)

// RetryPolicy retries transient failures with a linearly growing delay:
// after failed attempt n it waits n*Unit before trying again.
type RetryPolicy struct {
	Attempts int
	Unit     time.Duration
}

// DefaultRetryPolicy is four attempts, three seconds per step
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultAttempts, Unit: DefaultRetryUnit}
}

// RetryError is returned once every attempt has failed
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, returns a permanent error, the context is
// done, or the attempts are used up. label identifies the operation in logs.
func (p RetryPolicy) Do(ctx context.Context, label string, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		delay := time.Duration(attempt) * p.Unit
		log.Warn("request failed, retrying", "op", label, "attempt", attempt, "delay", delay, "err", err)
		if err := waitWithContext(ctx, delay); err != nil {
			return err
		}
	}
	return &RetryError{Attempts: attempts, Err: lastErr}
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
