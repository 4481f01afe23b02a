// Package scriberr provides structured error handling for CombatScribe.
// It implements coded errors with context and stack traces.
package scriberr

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Input errors (1xx)
	CodeFileNotFound  Code = "E101"
	CodeInvalidFormat Code = "E102"
	CodeSessionEmpty  Code = "E103"

	// Replay errors (2xx)
	CodeEventNotFound    Code = "E201"
	CodeMissingCharacter Code = "E202"
	CodeMissingCaster    Code = "E203"
	CodeStringTarget     Code = "E204"
	CodeNoCombatState    Code = "E205"
	CodeGroupCoverage    Code = "E206"
	CodeDecodeFailed     Code = "E207"

	// Output errors (3xx)
	CodeWriteFailed Code = "E301"
	CodeExportErr   Code = "E302"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"
	CodePanic           Code = "E402"

	// Unknown
	CodeUnknown Code = "E999"
)

// ScribeError is the base error type for all CombatScribe errors.
type ScribeError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *ScribeError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *ScribeError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *ScribeError) Is(target error) bool {
	if t, ok := target.(*ScribeError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *ScribeError) WithContext(key string, value interface{}) *ScribeError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new ScribeError.
func New(code Code, message string) *ScribeError {
	return &ScribeError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *ScribeError {
	if err == nil {
		return nil
	}

	return &ScribeError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *ScribeError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *ScribeError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// EventNotFound reports a failed position lookup in the session log.
func EventNotFound(kind string, key string) *ScribeError {
	return New(CodeEventNotFound, "event not found in session log").
		WithContext("kind", kind).
		WithContext("key", key)
}

// MissingCharacter reports an unresolvable character reference.
func MissingCharacter(owner, upstream string) *ScribeError {
	return New(CodeMissingCharacter, "character not in session cache").
		WithContext("owner", owner).
		WithContext("upstream", upstream)
}

// MissingCaster reports a command span whose automation runs all lack a caster.
func MissingCaster() *ScribeError {
	return New(CodeMissingCaster, "no automation run in span has a caster")
}

// StringTarget reports an unresolvable (bare string) automation target.
func StringTarget(name string) *ScribeError {
	return New(CodeStringTarget, "unresolvable string target").
		WithContext("target", name)
}

// NoCombatState reports a triple with no terminal combat-state update.
func NoCombatState() *ScribeError {
	return New(CodeNoCombatState, "no terminal combat state update found")
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var sErr *ScribeError
	if errors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var sErr *ScribeError
	if errors.As(err, &sErr) {
		return sErr.Code
	}
	return CodeUnknown
}

// IsDiscard reports whether an error marks a triple that is dropped by
// policy rather than failed: string targets and missing terminal state.
func IsDiscard(err error) bool {
	switch GetCode(err) {
	case CodeStringTarget, CodeNoCombatState:
		return true
	default:
		return false
	}
}
