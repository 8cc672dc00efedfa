package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide whether to retry,
// report or translate it.
type Kind int

const (
	Fatal Kind = iota
	NotFound
	Unauthorized
	Invalid
	Conflict
	Transient
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Unauthorized:
		return "unauthorized"
	case Invalid:
		return "invalid"
	case Conflict:
		return "conflict"
	case Transient:
		return "transient"
	default:
		return "fatal"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and the name of the failing operation.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain, or Fatal
// when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func IsNotFound(err error) bool     { return Is(err, NotFound) }
func IsUnauthorized(err error) bool { return Is(err, Unauthorized) }
func IsTransient(err error) bool    { return Is(err, Transient) }
