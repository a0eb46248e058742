// internal/apperr/apperr.go
//
// Structured errors for sshdeck. Every failure that crosses a package or the
// bridge boundary carries a Kind plus a human-readable message, so callers can
// branch on the kind and the UI never has to show a raw stack trace.

package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Unknown Kind = iota
	Validation
	Transport
	Authentication
	Protocol
	InvalidState
	InvalidKeyLength
	MalformedEnvelope
	DecryptionFailure
	Conflict
	Storage
	UnknownHost
)

// String returns the wire name of the kind, used verbatim in bridge frames.
func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Transport:
		return "transport"
	case Authentication:
		return "authentication"
	case Protocol:
		return "protocol"
	case InvalidState:
		return "invalid_state"
	case InvalidKeyLength:
		return "invalid_key_length"
	case MalformedEnvelope:
		return "malformed_envelope"
	case DecryptionFailure:
		return "decryption_failure"
	case Conflict:
		return "conflict"
	case Storage:
		return "storage"
	case UnknownHost:
		return "unknown_host"
	default:
		return "unknown"
	}
}

// KindFromString is the inverse of Kind.String for decoding bridge frames.
func KindFromString(s string) Kind {
	for k := Validation; k <= UnknownHost; k++ {
		if k.String() == s {
			return k
		}
	}
	return Unknown
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match two apperr values by kind alone, so sentinel
// comparisons like errors.Is(err, apperr.New(apperr.Conflict, "", nil))
// are not needed; use IsKind instead for readability.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// KindOf extracts the kind from any error in the chain, Unknown if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
