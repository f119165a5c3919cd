package mailqueue

import "errors"

// Repository errors.
var (
	ErrItemNotFound = errors.New("queue item not found")
	ErrInvalidState = errors.New("queue item is not in a valid state for this operation")
	ErrNotClaimed   = errors.New("queue item could not be claimed")
)

// Dispatch errors.
var (
	ErrUnknownKind = errors.New("unknown email kind")
)

// RetryableError wraps an error and marks it as retryable or not. Errors
// without the marker default to retryable.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}
