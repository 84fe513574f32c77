// Package errs defines the error kinds shared by the rating core.
//
// Every error returned across a package boundary either is one of the
// sentinel kinds below or wraps one, so callers can branch with errors.Is
// without string matching.
package errs

import (
	"errors"
	"strings"
)

// Sentinel error kinds.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyUndone   = errors.New("game already undone")
	ErrNoActiveGame    = errors.New("no active game to undo")
	ErrTransaction     = errors.New("transaction failed")
	ErrStorage         = errors.New("storage unavailable")
	ErrTimeout         = errors.New("timed out")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
)

// Error annotates a failure with the operation that produced it and its kind.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Kind != nil && e.Err != nil:
		b.WriteString(e.Kind.Error())
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case e.Kind != nil:
		b.WriteString(e.Kind.Error())
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && e.Kind == target
}

func (e *Error) Unwrap() error { return e.Err }

// NewKind returns an error of the given kind with no underlying cause.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// Wrap annotates err with op, keeping whatever kind err already carries.
// A nil err stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// WrapKind annotates err with op and classifies it as kind.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the first known sentinel matched by err, or nil.
func KindOf(err error) error {
	for _, k := range []error{
		ErrInvalidArgument,
		ErrTransaction,
		ErrNoActiveGame,
		ErrAlreadyUndone,
		ErrConflict,
		ErrTimeout,
		ErrNotFound,
		ErrStorage,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
