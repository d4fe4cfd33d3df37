package nspmirror

import (
	"errors"
	"slices"
	"strings"
)

// Error is the error type for failures in the mirror.
//
// Somewhere in the chain of any error returned by a mirror component there
// should be an *Error, retrievable with [errors.As]. Errors are created where
// the mirror talks to something outside itself: the advisory feed, the proxy
// configuration, or the database. Layers in between wrap with [fmt.Errorf]
// and "%w" instead of nesting another Error, unless they need to reclassify
// the failure.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
//
// The format is "op [kind]: message: inner". An Error with neither Op nor
// Message formats as its Inner error alone.
func (e *Error) Error() string {
	if e.Op == "" && e.Message == "" {
		if e.Inner == nil {
			return ""
		}
		return e.Inner.Error()
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteByte(' ')
	}
	kind := "???"
	if slices.Contains(kinds, e.Kind) {
		kind = string(e.Kind)
	}
	b.WriteString("[" + kind + "]: ")
	b.WriteString(e.Message)
	if e.Inner != nil {
		if e.Message != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is reports whether the Error is of the provided [ErrorKind].
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap returns the Inner error.
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind classifies an [Error]. Check for one with [errors.Is].
//
// ErrInternal is the kind to use when no other fits.
type ErrorKind string

// The kinds of Error.
var (
	ErrConflict     = ErrorKind("conflict")     // another run holds the lock
	ErrInternal     = ErrorKind("internal")     // bug or unclassified failure
	ErrInvalid      = ErrorKind("invalid")      // bad input or configuration
	ErrPrecondition = ErrorKind("precondition") // environment is unsuitable
	ErrTransient    = ErrorKind("transient")    // a later run may succeed
	ErrPermanent    = ErrorKind("permanent")    // retrying will not help
)

var kinds = []ErrorKind{ErrConflict, ErrInternal, ErrInvalid, ErrPrecondition, ErrTransient, ErrPermanent}

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}
