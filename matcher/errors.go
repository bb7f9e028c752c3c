package matcher

import (
	"errors"
	"fmt"
)

// Error codes carried by *Error.
const (
	// CodeConfiguration marks a rejected comparison or run setting (unknown mode, bad range).
	CodeConfiguration = "configuration"
	// CodeData marks input samples that violate a precondition (short child, bad width).
	CodeData = "data"
	// CodeIO marks a collaborator failure reading or writing waveform files.
	CodeIO = "io"
)

// Error is a classified matcher failure. Op names the step that failed.
type Error struct {
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Code, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a code and operation name.
func NewError(code, op string, err error) error {
	return &Error{Code: code, Op: op, Err: err}
}

// Code extracts the error code from err, or "" when err is not an *Error.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConfiguration reports whether err carries CodeConfiguration.
func IsConfiguration(err error) bool { return Code(err) == CodeConfiguration }

// IsData reports whether err carries CodeData.
func IsData(err error) bool { return Code(err) == CodeData }

// IsIO reports whether err carries CodeIO.
func IsIO(err error) bool { return Code(err) == CodeIO }

func configErrorf(op, format string, args ...any) error {
	return &Error{Code: CodeConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

func dataErrorf(op, format string, args ...any) error {
	return &Error{Code: CodeData, Op: op, Err: fmt.Errorf(format, args...)}
}
