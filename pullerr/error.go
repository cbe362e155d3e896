// Package pullerr defines the error taxonomy shared by every component of
// the pull engine, so that a driver can latch the first failure without
// caring which layer produced it.
package pullerr

import "fmt"

// Kind classifies a pull failure. Callers branch on Kind, not on the
// wrapped error chain, so that recovery logic (e.g. swallowing NotFound
// for detached metadata) stays independent of the underlying transport.
type Kind uint8

const (
	// KindUnknown is the zero value and never produced intentionally.
	KindUnknown Kind = iota
	KindNetwork
	KindNotFound
	KindInvalidFormat
	KindIntegrityMismatch
	KindTrustFailure
	KindProtocolError
	KindStorageError
	KindCancelled
	KindRecursionExceeded
	KindConfigurationError
)

// String implements the Stringer interface.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindNotFound:
		return "not-found"
	case KindInvalidFormat:
		return "invalid-format"
	case KindIntegrityMismatch:
		return "integrity-mismatch"
	case KindTrustFailure:
		return "trust-failure"
	case KindProtocolError:
		return "protocol-error"
	case KindStorageError:
		return "storage-error"
	case KindCancelled:
		return "cancelled"
	case KindRecursionExceeded:
		return "recursion-exceeded"
	case KindConfigurationError:
		return "configuration-error"
	default:
		return "unknown"
	}
}

// Error is the single error type that crosses package boundaries in the
// pull engine.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind that wraps an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to reach the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target is a pullerr.Error of the same kind. This
// lets callers write errors.Is(err, pullerr.New(pullerr.KindNotFound, "")).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, and
// KindUnknown otherwise.
func KindOf(err error) Kind {
	var pe *Error
	if asError(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

func asError(err error, target **Error) bool {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
