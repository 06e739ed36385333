package commands

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is; concrete errors wrap one of these.
var (
	// ErrNotFound reports a lookup miss on a command, plugin, check or extension.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists reports a name or alias collision.
	ErrAlreadyExists = errors.New("already exists")

	// ErrLoad reports a missing or malformed extension entry point or command definition.
	ErrLoad = errors.New("load error")

	// ErrArgument reports a missing required argument or a failed conversion.
	ErrArgument = errors.New("argument error")

	// ErrCheckFailure reports that a check predicate rejected the invocation.
	ErrCheckFailure = errors.New("check failure")
)

// ArgumentReason says why binding failed.
type ArgumentReason string

const (
	ReasonMissing    ArgumentReason = "missing"
	ReasonConversion ArgumentReason = "conversion"
)

// ArgumentError is returned by the binder.
type ArgumentError struct {
	Param  string
	Reason ArgumentReason
	// Value is the raw token (or joined span) that failed to convert.
	Value string
	// Type is the converter's target type name.
	Type  string
	Cause error
}

func (e *ArgumentError) Error() string {
	if e.Reason == ReasonMissing {
		return fmt.Sprintf("required argument %q is missing", e.Param)
	}
	if e.Cause != nil {
		return fmt.Sprintf("cannot convert %q to %s for argument %q: %v", e.Value, e.Type, e.Param, e.Cause)
	}
	return fmt.Sprintf("cannot convert %q to %s for argument %q", e.Value, e.Type, e.Param)
}

// Is makes every ArgumentError match ErrArgument. The converter's own error
// is only reachable through the Cause field.
func (e *ArgumentError) Is(target error) bool {
	return target == ErrArgument
}

// CheckFailure is returned when a check predicate rejects an invocation.
type CheckFailure struct {
	Command string
	Check   string
}

func (e *CheckFailure) Error() string {
	return fmt.Sprintf("check %q failed for command %q", e.Check, e.Command)
}

// Is makes every CheckFailure match ErrCheckFailure.
func (e *CheckFailure) Is(target error) bool {
	return target == ErrCheckFailure
}

// Kind returns a short label for the error kind, used in logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrArgument):
		return "argument"
	case errors.Is(err, ErrCheckFailure):
		return "check"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrLoad):
		return "load"
	default:
		return "handler"
	}
}

type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}
