package tools

import (
	"errors"
	"fmt"
)

var (
	ErrToolNotFound  = errors.New("tool not found")
	ErrValidation    = errors.New("invalid tool parameters")
	ErrToolExecution = errors.New("tool execution failed")
	ErrSafeMode      = errors.New("tool disabled in safe mode")
)

// ValidationError reports parameters rejected by a tool's schema.
type ValidationError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %s: parameter %q: %s", e.Tool, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ExecutionError wraps a failure returned by a tool's executor.
type ExecutionError struct {
	Tool  string
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

func (e *ExecutionError) Is(target error) bool { return target == ErrToolExecution }
