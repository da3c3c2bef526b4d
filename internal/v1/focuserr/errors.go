// Package focuserr defines the internal error-kind vocabulary used
// throughout the conference core (spec §7). Internal code never unwinds
// the stack for these expected failure modes: every fallible operation
// returns a *Error (or nil) and callers branch on Kind. Only the wire
// boundary (internal/wireerr) maps a Kind to an outward-facing error.
package focuserr

import "fmt"

// Kind enumerates the internal failure modes the orchestration core can
// surface. Zero value KindNone never appears on a returned error.
type Kind int

const (
	KindNone Kind = iota
	// KindInvalidSources: a source/source-group addition failed SourceModel
	// validation. Participant state is unchanged.
	KindInvalidSources
	// KindNoBridgeAvailable: BridgeSelector could not find a bridge.
	KindNoBridgeAvailable
	// KindBridgeFailure: a COLIBRI allocation failed on a specific bridge.
	KindBridgeFailure
	// KindNotAllowed: a permission check failed (mute, dial, self-unmute-only).
	KindNotAllowed
	// KindRoomNotFound: the addressed room has no live conference.
	KindRoomNotFound
	// KindCancelled: a ChannelAllocator was cancelled; produces no wire error.
	KindCancelled
	// KindTimeout: an outbound round-trip did not get a reply in time.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInvalidSources:
		return "invalid_sources"
	case KindNoBridgeAvailable:
		return "no_bridge_available"
	case KindBridgeFailure:
		return "bridge_failure"
	case KindNotAllowed:
		return "not_allowed"
	case KindRoomNotFound:
		return "room_not_found"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// Error is the internal result type for a fallible operation. It never
// unwinds a call stack; callers inspect Kind to decide what to do next.
type Error struct {
	Kind   Kind
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error of the given kind with a formatted reason.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the Kind from any error, returning KindNone if err is
// nil or not a *Error.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var fe *Error
	if e, ok := err.(*Error); ok {
		fe = e
	}
	if fe == nil {
		return KindNone
	}
	return fe.Kind
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
