// Package errkind classifies broker errors by semantic kind rather than by
// concrete type, so callers can branch on "what went wrong" without a
// growing hierarchy of sentinel error values.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is the semantic classification of an error.
type Kind uint8

const (
	Unknown Kind = iota
	InvalidArgument
	NotFound
	AlreadyExists
	TypeMismatch
	ValidationFailure
	StorageFailure
	CodecFailure
	Aborted
	Internal
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case TypeMismatch:
		return "type_mismatch"
	case ValidationFailure:
		return "validation_failure"
	case StorageFailure:
		return "storage_failure"
	case CodecFailure:
		return "codec_failure"
	case Aborted:
		return "aborted"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// kindErr wraps an underlying error with a Kind. It implements Unwrap so
// errors.Is/errors.As keep working across the wrap.
type kindErr struct {
	kind Kind
	err  error
}

func (e *kindErr) Error() string { return e.err.Error() }
func (e *kindErr) Unwrap() error { return e.err }

// New creates an error with the given kind and message.
func New(kind Kind, msg string) error {
	return &kindErr{kind: kind, err: errors.New(msg)}
}

// Newf creates an error with the given kind and a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &kindErr{kind: kind, err: fmt.Errorf(format, args...)}
}

// Wrap attaches kind to an existing error, preserving it for errors.Is/As.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindErr{kind: kind, err: fmt.Errorf("%w", err)}
}

// KindOf returns the Kind carried by err, or Unknown if err (or any error in
// its chain) was not produced by this package.
func KindOf(err error) Kind {
	var ke *kindErr
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}

// Is reports whether err's kind equals kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
