// Package bootrerr defines the error taxonomy surfaced by the sysroot
// lifecycle core: a small set of classifiable kinds, each wrapping the
// underlying cause so callers can both branch on kind and log context.
package bootrerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for programmatic branching by callers (via Of or
// errors.Is against the sentinels below); the CLI itself exits with status 1
// on every error regardless of Kind. Besides Of, Kind appears only as the
// message prefix produced by Error.
type Kind int

const (
	// KindNotFound is used for a missing slot, blob, config file, or whiteout target.
	KindNotFound Kind = iota
	// KindInvalidArgument is used for a malformed image reference.
	KindInvalidArgument
	// KindInvalidData is used for an unparseable manifest/config/metadata, or hash mismatch.
	KindInvalidData
	// KindUnavailable is used for registry transport or auth failure.
	KindUnavailable
	// KindAlreadyExists is used when install is attempted on an already-provisioned host.
	KindAlreadyExists
	// KindIO is used for generic underlying filesystem errors.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindInvalidData:
		return "InvalidData"
	case KindUnavailable:
		return "Unavailable"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindIO:
		return "IO"
	default:
		return "Unknown"
	}
}

// Error is a kind-classified, wrapped error.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Is reports whether target is a bare *Error sentinel (no message, no cause)
// with the same Kind, enabling errors.Is(err, bootrerr.NotFound) style checks
// against the sentinels below. Two errors built by the constructors never
// match each other through Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind && other.msg == "" && other.err == nil
	}
	return false
}

// Sentinels for errors.Is comparisons, e.g. errors.Is(err, bootrerr.NotFound).
var (
	NotFound        = &Error{Kind: KindNotFound}
	InvalidArgument = &Error{Kind: KindInvalidArgument}
	InvalidData     = &Error{Kind: KindInvalidData}
	Unavailable     = &Error{Kind: KindUnavailable}
	AlreadyExists   = &Error{Kind: KindAlreadyExists}
	IOErr           = &Error{Kind: KindIO}
)

// Newf builds a Kind-classified error wrapping cause (which may be nil).
func Newf(kind Kind, cause error, format string, args ...any) error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), err: cause}
}

// NotFoundf builds a NotFound error.
func NotFoundf(format string, args ...any) error {
	return Newf(KindNotFound, nil, format, args...)
}

// InvalidArgumentf builds an InvalidArgument error.
func InvalidArgumentf(format string, args ...any) error {
	return Newf(KindInvalidArgument, nil, format, args...)
}

// InvalidDataf builds an InvalidData error, wrapping cause.
func InvalidDataf(cause error, format string, args ...any) error {
	return Newf(KindInvalidData, cause, format, args...)
}

// Unavailablef builds an Unavailable error, wrapping cause.
func Unavailablef(cause error, format string, args ...any) error {
	return Newf(KindUnavailable, cause, format, args...)
}

// AlreadyExistsf builds an AlreadyExists error.
func AlreadyExistsf(format string, args ...any) error {
	return Newf(KindAlreadyExists, nil, format, args...)
}

// IOf builds an IO error, wrapping cause.
func IOf(cause error, format string, args ...any) error {
	return Newf(KindIO, cause, format, args...)
}

// Of reports the Kind of err if it is (or wraps) a *Error, and ok=false otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
