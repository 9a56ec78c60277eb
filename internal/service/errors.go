package service

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is matching; every *Error matches the one for its Kind.
var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrInvalidSessionState = errors.New("invalid session state")
	ErrForbidden           = errors.New("forbidden")
)

type Kind int

const (
	KindNotFound Kind = iota + 1
	KindValidation
	KindInvalidSessionState
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindInvalidSessionState:
		return "invalid_session_state"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindValidation:
		return ErrValidation
	case KindInvalidSessionState:
		return ErrInvalidSessionState
	case KindForbidden:
		return ErrForbidden
	}
	return nil
}

// Error is what the engine returns for every rejected operation.
type Error struct {
	Kind    Kind
	Message string
	// Fields names the offending inputs of a validation error.
	Fields []string
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(e.Fields, ", "))
}

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func notFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func invalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidSessionState, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// validation collects offending fields before failing an operation.
type validation struct {
	fields []string
}

func (v *validation) check(ok bool, field string) {
	if !ok {
		v.fields = append(v.fields, field)
	}
}

func (v *validation) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &Error{Kind: KindValidation, Message: "invalid request", Fields: v.fields}
}

// KindOf reports the kind of an engine error, or 0 for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
