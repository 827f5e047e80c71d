package model

import "fmt"

// Kind is the channel-internal error taxonomy of §7: every error that can
// cause a log to be lost, retried, or suspended is one of these kinds.
type Kind int

const (
	// KindCancelled is synthesized on disable and shutdown, for rows
	// drained by a discarding suspend, and by transport decorators when
	// Close or the send-rate limiter cancels a send.
	KindCancelled Kind = iota
	// KindRecoverableTransport covers network errors, 5xx, 408, 429, and
	// offline deferral — the batch is retained and the channel suspends
	// in suspended-retain.
	KindRecoverableTransport
	// KindFatalTransport covers other non-2xx responses — the batch is
	// discarded and the channel suspends in suspended-discard.
	KindFatalTransport
	// KindSerialization means the serializer refused the log; the row is
	// never persisted and the producer is not notified.
	KindSerialization
	// KindStore means the disk/quota failed; the enqueue silently drops.
	KindStore
	// KindDeviceInfo means the device snapshot could not be built; the log
	// is dropped with a warning.
	KindDeviceInfo
)

func (k Kind) String() string {
	switch k {
	case KindCancelled:
		return "Cancelled"
	case KindRecoverableTransport:
		return "RecoverableTransportError"
	case KindFatalTransport:
		return "FatalTransportError"
	case KindSerialization:
		return "SerializationError"
	case KindStore:
		return "StoreError"
	case KindDeviceInfo:
		return "DeviceInfoError"
	default:
		return "UnknownError"
	}
}

// Error is the concrete error type carried through listener callbacks and
// the channel's state machine. It wraps an optional underlying cause.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Cancelled returns a new Cancelled error.
func Cancelled() *Error { return &Error{Kind: KindCancelled} }

// Recoverable wraps cause as a RecoverableTransportError.
func Recoverable(cause error) *Error { return &Error{Kind: KindRecoverableTransport, Cause: cause} }

// Fatal wraps cause as a FatalTransportError.
func Fatal(cause error) *Error { return &Error{Kind: KindFatalTransport, Cause: cause} }

// IsRecoverable reports whether err is a RecoverableTransportError.
func IsRecoverable(err error) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == KindRecoverableTransport
}

// IsFatal reports whether err is a FatalTransportError.
func IsFatal(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindFatalTransport
}
