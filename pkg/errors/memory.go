package errors

import (
	"fmt"
	"time"
)

/*
Kind classifies a memory subsystem failure. Callers branch on the kind,
never on message text.
*/
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindStorage            Kind = "storage"
	KindEmbedding          Kind = "embedding"
	KindConfig             Kind = "config"
	KindCapacityExceeded   Kind = "capacity_exceeded"
	KindInvalidMemoryType  Kind = "invalid_memory_type"
	KindSerialization      Kind = "serialization"
	KindConsolidation      Kind = "consolidation"
	KindRetrieval          Kind = "retrieval"
	KindVector             Kind = "vector"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindInvalidQuery       Kind = "invalid_query"
	KindTimeout            Kind = "timeout"
	KindLock               Kind = "lock"
)

/*
MemoryError is the error type every memory operation returns. The Tier
field, when set, names the store the failure surfaced in.
*/
type MemoryError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Tier    string `json:"tier,omitempty"`
	Err     error  `json:"-"`
}

func (e *MemoryError) Error() string {
	if e.Tier != "" {
		return fmt.Sprintf("memory error (%s) in %s store: %s", e.Kind, e.Tier, e.Message)
	}

	return fmt.Sprintf("memory error (%s): %s", e.Kind, e.Message)
}

func (e *MemoryError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient. Only timeouts,
// lock contention and backend outages qualify.
func (e *MemoryError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindLock, KindBackendUnavailable:
		return true
	}

	return false
}

var (
	ErrNotFound           = &MemoryError{Kind: KindNotFound, Message: "memory entry not found"}
	ErrStorage            = &MemoryError{Kind: KindStorage, Message: "storage operation failed"}
	ErrEmbedding          = &MemoryError{Kind: KindEmbedding, Message: "embedding generation failed"}
	ErrConfig             = &MemoryError{Kind: KindConfig, Message: "invalid configuration"}
	ErrCapacityExceeded   = &MemoryError{Kind: KindCapacityExceeded, Message: "store capacity exceeded"}
	ErrInvalidMemoryType  = &MemoryError{Kind: KindInvalidMemoryType, Message: "entry type not accepted by this store"}
	ErrSerialization      = &MemoryError{Kind: KindSerialization, Message: "serialization failed"}
	ErrConsolidation      = &MemoryError{Kind: KindConsolidation, Message: "consolidation failed"}
	ErrRetrieval          = &MemoryError{Kind: KindRetrieval, Message: "retrieval failed"}
	ErrVector             = &MemoryError{Kind: KindVector, Message: "vector operation failed"}
	ErrBackendUnavailable = &MemoryError{Kind: KindBackendUnavailable, Message: "backend unavailable"}
	ErrInvalidQuery       = &MemoryError{Kind: KindInvalidQuery, Message: "invalid query"}
	ErrTimeout            = &MemoryError{Kind: KindTimeout, Message: "operation timed out"}
	ErrLock               = &MemoryError{Kind: KindLock, Message: "lock acquisition failed"}
)

// WithMessagef creates a *copy* of a MemoryError with a formatted message.
// It does not modify the original error variable.
func (e *MemoryError) WithMessagef(format string, args ...any) *MemoryError {
	newErr := *e
	newErr.Message = fmt.Sprintf(format, args...)
	return &newErr
}

// WithTier creates a copy of a MemoryError tagged with the store it
// surfaced in.
func (e *MemoryError) WithTier(tier string) *MemoryError {
	newErr := *e
	newErr.Tier = tier
	return &newErr
}

// Wrap creates a copy of a MemoryError carrying an underlying cause.
func (e *MemoryError) Wrap(err error) *MemoryError {
	newErr := *e
	newErr.Err = err

	if err != nil {
		newErr.Message = fmt.Sprintf("%s: %v", e.Message, err)
	}

	return &newErr
}

// RetryConfig holds configuration for retry behavior.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2.0,
	}
}

// RetryWithBackoff executes a function with exponential backoff retry
// logic. Non-retryable MemoryErrors abort immediately; when every
// attempt fails it returns an *Error aggregating each attempt's
// failure.
func RetryWithBackoff(config *RetryConfig, fn func() error) error {
	attempts := make([]any, 0, config.MaxAttempts)
	delay := config.InitialDelay

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		if memErr, ok := err.(*MemoryError); ok && !memErr.Retryable() {
			return err
		}

		attempts = append(attempts, err)

		if attempt == config.MaxAttempts-1 {
			break
		}

		time.Sleep(delay)
		delay = time.Duration(float64(delay) * config.BackoffFactor)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return NewError(attempts...)
}
