// Package errs implements the host library's error taxonomy: a small set of
// stable, comparable kinds rather than bare strings, so callers can use
// errors.As instead of matching on message text.
package errs

import "fmt"

// Kind categorizes an error the way callers are expected to branch on it.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransport
	KindParseFailure
	KindProtocolError
	KindTimeout
	KindCancelled
	KindHandshakeFailed
	KindSyncInterrupted
	KindSubscriberOverflow
	KindContactTableFull
	KindContactNotFound
	KindNotConnected
	KindInvalidResponse
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindParseFailure:
		return "parseFailure"
	case KindProtocolError:
		return "protocolError"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindHandshakeFailed:
		return "handshakeFailed"
	case KindSyncInterrupted:
		return "syncInterrupted"
	case KindSubscriberOverflow:
		return "subscriberOverflow"
	case KindContactTableFull:
		return "contactTableFull"
	case KindContactNotFound:
		return "contactNotFound"
	case KindNotConnected:
		return "notConnected"
	case KindInvalidResponse:
		return "invalidResponse"
	default:
		return "unknown"
	}
}

// Error is a categorical error carrying a stable Kind and a human-readable
// Reason, with an optional wrapped cause for errors.Unwrap/errors.Is chains.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, errs.New(KindTimeout, "")) works for sentinel-style checks.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// ParseFailure is the Codec's non-throwing failure signal: it is carried as
// an Event on the Event Bus, never returned as a Go error across the parse
// boundary (Parse itself never errors, per the Codec's propagation policy).
type ParseFailure struct {
	Code   byte
	Reason string
}

func (p ParseFailure) Error() string {
	return fmt.Sprintf("parseFailure{code=0x%02X, reason=%s}", p.Code, p.Reason)
}
