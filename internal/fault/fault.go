package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can map it to a transport
// status without inspecting the message.
type Kind string

const (
	// KindValidation marks malformed input.
	KindValidation Kind = "validation"
	// KindAuthorization marks a requester lacking the required role or relationship.
	KindAuthorization Kind = "authorization"
	// KindConflict marks a uniqueness violation.
	KindConflict Kind = "conflict"
	// KindNotFound marks a missing referenced entity.
	KindNotFound Kind = "not_found"
	// KindStorage marks a persistence-layer failure, propagated unchanged.
	KindStorage Kind = "storage"
)

// Error carries a kind, a dotted operation.reason code, and the cause.
type Error struct {
	kind Kind
	code string
	err  error
}

// New builds a fault with code "<operation>.<reason>" wrapping cause.
func New(kind Kind, operation, reason string, cause error) error {
	return &Error{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) Code() string {
	return e.code
}

// KindOf reports the kind of err when it is (or wraps) a fault.
func KindOf(err error) (Kind, bool) {
	var faultErr *Error
	if errors.As(err, &faultErr) {
		return faultErr.kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	actual, ok := KindOf(err)
	return ok && actual == kind
}

// CodeOf returns the dotted code of err when it is (or wraps) a fault.
func CodeOf(err error) string {
	var faultErr *Error
	if errors.As(err, &faultErr) {
		return faultErr.code
	}
	return ""
}
