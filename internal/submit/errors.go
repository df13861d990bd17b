package submit

import (
	"context"
	"errors"
	"fmt"
)

// RetryableError signals a transient submission failure: timeout, network
// error or rate limiting. The coordinator retries it under the backoff
// policy.
type RetryableError struct {
	Reason string
	Err    error
}

func (e *RetryableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError signals a failure that retrying cannot fix: rejected
// authentication, form validation or a duplicate-application signal from the
// platform.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }

// Retryable wraps err as a transient submission failure.
func Retryable(reason string, err error) error {
	return &RetryableError{Reason: reason, Err: err}
}

// Fatal wraps err as a non-retryable submission failure.
func Fatal(reason string, err error) error {
	return &FatalError{Reason: reason, Err: err}
}

// classify decides whether a submission error ends the record or queues a
// retry. Unclassified errors are treated as retryable so a flaky collaborator
// cannot permanently fail an application.
func classify(err error) (fatal bool, reason string) {
	var fatalErr *FatalError
	if errors.As(err, &fatalErr) {
		return true, fatalErr.Reason
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return false, retryableErr.Reason
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return false, "submission timed out"
	}

	return false, err.Error()
}
