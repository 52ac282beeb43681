package utils

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying failure sources. Probe and actuator failures
// are contained and turned into data; only ErrConfig aborts an operation.
var (
	ErrProbe     = errors.New("probe failure")
	ErrActuator  = errors.New("actuator failure")
	ErrConfig    = errors.New("invalid configuration")
	ErrExhausted = errors.New("candidate actions exhausted")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
