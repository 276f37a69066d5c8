// Package apperr definiuje kategorie błędów widocznych dla klienta API.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	NotFound
	Conflict
	Forbidden
	Unauthorized
	Upstream
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Forbidden:
		return "forbidden"
	case Unauthorized:
		return "unauthorized"
	case Upstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Error niesie kategorię i komunikat, który wolno pokazać klientowi.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap dokleja przyczynę; komunikat dla klienta pozostaje msg.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf zwraca kategorię pierwszego *Error w łańcuchu albo Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message zwraca komunikat bezpieczny do pokazania klientowi.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == Upstream && e.Err != nil {
			return e.Error()
		}
		return e.Msg
	}
	return "internal error"
}
