// Package attesterr defines the error type shared by the codec, transport and exchange layers.
//
// Every error crossing a package boundary is an [*Error] carrying a [Kind], so callers can
// decide whether a retry makes sense without parsing messages:
//
//   - [Argument]: invalid input from the caller. Never retried.
//   - [Capacity]: a buffer, option count or length bound would be exceeded. Never retried.
//   - [Transport]: TCP/TLS failure. The write retry loop and the candidate loop retry these.
//   - [Malformed]: the peer sent a structurally invalid message. Never retried.
package attesterr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error by origin.
type Kind uint8

const (
	// Unknown is the zero Kind. It is never set by this module.
	Unknown Kind = iota
	// Argument marks invalid caller input.
	Argument
	// Capacity marks an exceeded buffer, count or length bound.
	Capacity
	// Transport marks a network or TLS failure.
	Transport
	// Malformed marks a structurally invalid wire message.
	Malformed
)

func (k Kind) String() string {
	switch k {
	case Argument:
		return "argument"
	case Capacity:
		return "capacity"
	case Transport:
		return "transport"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is a classified error.
// Offset and Limit are -1 when they do not apply.
type Error struct {
	Kind   Kind
	Op     string
	Offset int
	Limit  int
	Err    error
}

// New returns an error of the given kind without offset or limit context.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Offset: -1, Limit: -1, Err: err}
}

// AtOffset returns an error of the given kind that occurred at a byte offset.
func AtOffset(kind Kind, op string, offset int, err error) *Error {
	return &Error{Kind: kind, Op: op, Offset: offset, Limit: -1, Err: err}
}

// OverLimit returns a capacity error for a bound that would be exceeded.
func OverLimit(op string, offset, limit int, err error) *Error {
	return &Error{Kind: Capacity, Op: op, Offset: offset, Limit: limit, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Offset >= 0 {
		fmt.Fprintf(&b, " at offset %d", e.Offset)
	}
	if e.Limit >= 0 {
		fmt.Fprintf(&b, " (limit %d)", e.Limit)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first [*Error] in err's chain, or [Unknown].
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether an operation that failed with err may succeed when repeated.
func Retryable(err error) bool {
	return Is(err, Transport)
}
