package errors

import (
	"fmt"
	"strings"
)

/*
Error collects the failures of an operation that was attempted more
than once. RetryWithBackoff returns one when it gives up, carrying the
error of every attempt so a caller can see how the failure evolved
rather than only the last result.
*/
type Error struct {
	Errs []error
}

// NewError builds an aggregate from errors and strings. Strings become
// plain errors, nils are skipped.
func NewError(errs ...any) error {
	err := &Error{}

	for _, item := range errs {
		switch v := item.(type) {
		case error:
			if v != nil {
				err.Errs = append(err.Errs, v)
			}
		case string:
			err.Errs = append(err.Errs, fmt.Errorf("%s", v))
		}
	}

	return err
}

func (err *Error) Error() string {
	parts := make([]string, 0, len(err.Errs))

	for _, e := range err.Errs {
		parts = append(parts, e.Error())
	}

	return strings.Join(parts, "\n")
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (err *Error) Unwrap() []error {
	return err.Errs
}

// Retryable reports whether every collected failure is transient. A
// single permanent failure makes the aggregate permanent.
func (err *Error) Retryable() bool {
	if len(err.Errs) == 0 {
		return false
	}

	for _, e := range err.Errs {
		memErr, ok := e.(*MemoryError)
		if !ok || !memErr.Retryable() {
			return false
		}
	}

	return true
}
