package parse

import (
	"errors"
	"fmt"
)

var (
	ErrTooShort            = errors.New("line too short")
	ErrInvalidCallsign     = errors.New("invalid callsign")
	ErrUnparsableFrequency = errors.New("unparsable frequency")
	ErrNotShowDX           = errors.New("not a show/dx line")
)

// Error describes why a line could not be turned into a spot
type Error struct {
	Field string // Which field failed (line, spotter, freq, dx)
	Value string // Offending field value
	Line  string // Whole input line, for logging
	Err   error
}

func (e *Error) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("parse %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("parse %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(field, value, line string, err error) *Error {
	return &Error{Field: field, Value: value, Line: line, Err: err}
}
