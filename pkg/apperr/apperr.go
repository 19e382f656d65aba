// Package apperr defines the error-kind taxonomy shared by every
// component of the verification pipeline. Every failure surfaced to a
// caller is one of these kinds, built with New or Wrap, and checked
// downstream with KindOf/Is, which walk the Unwrap chain via errors.As.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the user-visible error kinds from spec.md section 7.
type Kind string

const (
	InvalidFormat         Kind = "InvalidFormat"
	NotFound              Kind = "NotFound"
	Unreachable           Kind = "Unreachable"
	Expired               Kind = "Expired"
	SignatureInvalid      Kind = "SignatureInvalid"
	HashMismatch          Kind = "HashMismatch"
	InsufficientTrustData Kind = "InsufficientTrustData"
	AmbiguousDigest       Kind = "AmbiguousDigest"
	UnknownAPIVersion     Kind = "UnknownAPIVersion"
	ParentNotFound        Kind = "ParentNotFound"
	PathTraversal         Kind = "PathTraversal"
	CosignTimeout         Kind = "CosignTimeout"
	CosignError           Kind = "CosignError"
	ConfigurationError    Kind = "ConfigurationError"
	UnknownType           Kind = "UnknownType"
	VersionRollback       Kind = "VersionRollback"
)

// Error carries a Kind alongside the detailed, loggable message. The
// detailed message is never meant to reach an admission response
// verbatim; callers render a terse status message keyed on Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind of err, walking the Unwrap chain. It
// returns "" if no *Error is found anywhere in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err's kind (anywhere in its Unwrap chain) equals
// kind. Kind is not an error value, so errors.Is cannot be used to test
// for a kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
