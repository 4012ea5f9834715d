package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/relaykit/go-relay/transport"
)

// ErrorKind classifies a relay failure. Callers branch on the kind (via the
// Is* helpers) rather than on error message text.
type ErrorKind int

const (
	// KindTransportFailure is an underlying channel error: network failure,
	// protocol violation, or a relay-side abort. Possibly transient; the
	// caller decides whether to retry.
	KindTransportFailure ErrorKind = iota

	// KindEndpointNotFound means the target entity does not exist at the
	// relay.
	KindEndpointNotFound

	// KindAuthorizationFailed means the relay rejected the presented token.
	KindAuthorizationFailed

	// KindCancelled means the caller-supplied context expired before the
	// operation completed.
	KindCancelled

	// KindInvalidState means the operation was invoked in a state that
	// forbids it, such as writing after a shutdown or opening a listener
	// twice.
	KindInvalidState
)

// String returns the string representation of an ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransportFailure:
		return "transport failure"
	case KindEndpointNotFound:
		return "endpoint not found"
	case KindAuthorizationFailed:
		return "authorization failed"
	case KindCancelled:
		return "cancelled"
	case KindInvalidState:
		return "invalid state"
	default:
		return "unknown"
	}
}

// Error is the failure type surfaced by this package. Path carries the
// entity's logical path when the failure relates to a specific endpoint;
// it is part of the diagnostic text for not-found and authorization
// failures.
type Error struct {
	Kind ErrorKind
	Path string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("relay: ")
	switch e.Kind {
	case KindEndpointNotFound:
		fmt.Fprintf(&b, "endpoint %q could not be found", e.Path)
	case KindAuthorizationFailed:
		fmt.Fprintf(&b, "authorization failed for endpoint %q: token rejected", e.Path)
	case KindCancelled:
		b.WriteString("operation cancelled")
	case KindInvalidState:
		b.WriteString("invalid state")
	default:
		b.WriteString("transport failure")
		if e.Path != "" {
			fmt.Fprintf(&b, " on endpoint %q", e.Path)
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause for errors.Is / errors.As chains; a
// cancelled Error matches context.Canceled or context.DeadlineExceeded.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

func invalidStateError(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Err: fmt.Errorf(format, args...)}
}

func cancelledError(path string, err error) *Error {
	return &Error{Kind: KindCancelled, Path: path, Err: err}
}

// errKind reports whether err is a relay Error of the given kind.
func errKind(err error, kind ErrorKind) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == kind
}

// IsEndpointNotFound reports whether err is an endpoint-not-found failure.
func IsEndpointNotFound(err error) bool { return errKind(err, KindEndpointNotFound) }

// IsAuthorizationFailed reports whether err is a token rejection.
func IsAuthorizationFailed(err error) bool { return errKind(err, KindAuthorizationFailed) }

// IsTransportFailure reports whether err is an underlying channel failure.
func IsTransportFailure(err error) bool { return errKind(err, KindTransportFailure) }

// IsCancelled reports whether err is a caller cancellation.
func IsCancelled(err error) bool { return errKind(err, KindCancelled) }

// IsInvalidState reports whether err is an invalid-state failure.
func IsInvalidState(err error) bool { return errKind(err, KindInvalidState) }

// classifyEstablishment maps a raw establishment failure onto the taxonomy.
// Classification happens once, here, and is never downgraded afterwards: a
// token rejection stays an authorization failure even when wrapped.
func classifyEstablishment(path string, err error) *Error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return cancelledError(path, err)
	}

	var status *transport.StatusError
	if errors.As(err, &status) {
		switch status.Code {
		case 404, 410:
			return newError(KindEndpointNotFound, path, err)
		case 401, 403:
			return newError(KindAuthorizationFailed, path, err)
		default:
			return newError(KindTransportFailure, path, err)
		}
	}

	// Some relay front ends report rejections only in the response text. Only
	// unambiguous rejection phrases classify as authorization failures; a
	// transport error that merely mentions a token stays a transport failure.
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "could not be found") || strings.Contains(text, "does not exist"):
		return newError(KindEndpointNotFound, path, err)
	case strings.Contains(text, "unauthorized") ||
		strings.Contains(text, "invalid signature") ||
		strings.Contains(text, "malformed token") ||
		strings.Contains(text, "token is expired") ||
		strings.Contains(text, "expired token"):
		return newError(KindAuthorizationFailed, path, err)
	default:
		return newError(KindTransportFailure, path, err)
	}
}
