package ics

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput indicates a line folding or encoding violation in the
	// raw document, such as a continuation line with nothing to continue.
	ErrMalformedInput = errors.New("malformed input")
	// ErrStructure indicates unbalanced BEGIN/END markers or a document
	// without a top-level VCALENDAR.
	ErrStructure = errors.New("invalid structure")
	// ErrUnknownTimezone indicates a TZID that resolves to nothing in the
	// document, the alias table, or the timezone database.
	ErrUnknownTimezone = errors.New("unknown timezone")
)

// Error is the failure type returned by Normalize. It wraps one of the
// sentinel kinds above and carries the location of the offending input: the
// component type, the event UID when one is present, and the property name.
// Every kind is fatal; Normalize never returns partial output.
type Error struct {
	Kind      error
	Component string
	UID       string
	Property  string
	Detail    string
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	switch {
	case e.Property != "":
		msg += fmt.Sprintf(" (property %s", e.Property)
		if e.Component != "" {
			msg += " in " + e.Component
		}
		if e.UID != "" {
			msg += " uid=" + e.UID
		}
		msg += ")"
	case e.Component != "":
		msg += " (in " + e.Component
		if e.UID != "" {
			msg += " uid=" + e.UID
		}
		msg += ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func malformedf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrMalformedInput, Detail: fmt.Sprintf(format, args...)}
}

func structuref(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrStructure, Detail: fmt.Sprintf(format, args...)}
}
