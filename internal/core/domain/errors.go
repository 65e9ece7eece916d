package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("invalid request")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrOrderNotFound        = errors.New("order not found")
	ErrSubscriberOverflow   = errors.New("subscriber overflow")
	ErrDuplicateRequest     = errors.New("duplicate request")
	ErrEstimatorUnavailable = errors.New("crowd estimator unavailable")
)

// ValidationError describes why an intake request was rejected.
// Line is -1 when the problem is not tied to a single line.
type ValidationError struct {
	Line   int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Line < 0 {
		return fmt.Sprintf("invalid request: %s", e.Reason)
	}
	return fmt.Sprintf("invalid request: line %d: %s", e.Line, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ValidateLines checks the structural constraints of an intake request.
func ValidateLines(lines []LineRequest) error {
	if len(lines) == 0 {
		return &ValidationError{Line: -1, Reason: "at least one line is required"}
	}
	for i, l := range lines {
		if l.Item == "" {
			return &ValidationError{Line: i, Reason: "item name is required"}
		}
		if l.Quantity <= 0 {
			return &ValidationError{Line: i, Reason: "quantity must be positive"}
		}
	}
	return nil
}
