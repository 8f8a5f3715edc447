// Package kabanerr defines kaban's stable error taxonomy: a small set of
// domain error kinds, each with a fixed numeric exit code, plus an Error
// type that carries an optional structured payload (a cycle path, a
// blocker list, a WIP count) for front-ends to render a useful hint (§4.8, §7).
package kabanerr

import "fmt"

// Kind is a stable domain error kind. Values and their exit codes must
// never change once shipped — front-ends key behavior off the code.
type Kind int

const (
	General      Kind = 1
	NotFound     Kind = 2
	Conflict     Kind = 3
	Validation   Kind = 4
	Blocked      Kind = 5
	Cycle        Kind = 6
	Duplicate    Kind = 7
	AmbiguousID  Kind = 8
	IO           Kind = 9
	Cancelled    Kind = 10
)

// String renders the kind's name, used in error messages and JSON envelopes.
func (k Kind) String() string {
	switch k {
	case General:
		return "GENERAL"
	case NotFound:
		return "NOT_FOUND"
	case Conflict:
		return "CONFLICT"
	case Validation:
		return "VALIDATION"
	case Blocked:
		return "BLOCKED"
	case Cycle:
		return "CYCLE"
	case Duplicate:
		return "DUPLICATE"
	case AmbiguousID:
		return "AMBIGUOUS_ID"
	case IO:
		return "IO"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Code returns the stable numeric exit code for the kind.
func (k Kind) Code() int {
	return int(k)
}

// Error is kaban's domain error type. Field is set for VALIDATION errors
// raised against a single input field. Payload carries kind-specific
// structured detail (CyclePayload, BlockedPayload, WIPPayload) for a rich
// error response.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Payload any
	Cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind wrapping a lower-level cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithField returns a copy of e with Field set, for VALIDATION errors
// that name the offending input.
func (e *Error) WithField(field string) *Error {
	c := *e
	c.Field = field
	return &c
}

// WithPayload returns a copy of e with Payload set.
func (e *Error) WithPayload(payload any) *Error {
	c := *e
	c.Payload = payload
	return &c
}

// Is reports whether err, or the first *Error found by following its
// Unwrap chain (as produced by %w wrapping), is of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ke, ok := err.(*Error); ok {
			e = ke
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}

// CyclePayload is the Payload of a CYCLE error: the rejected edge's path
// through the blocked_by graph as global task ids, starting and ending at
// the task that would have been blocked, e.g. [C, A, B, C] when adding
// blocked_by(C, A) to A->B->C.
type CyclePayload struct {
	Path []string
}

// BlockedPayload is the Payload of a BLOCKED error: the tasks currently
// blocking the move, by board short id.
type BlockedPayload struct {
	Blockers []string
}

// WIPPayload is the Payload of a VALIDATION error raised by the WIP gate.
type WIPPayload struct {
	ColumnID string
	ColumnName string
	Limit    int
	Current  int
}
