// Package transport defines the message-framed channel abstraction that
// carries relay traffic, together with two implementations: a
// gorilla/websocket channel speaking the hybrid connection wire protocol
// against a real relay namespace, and an in-memory relay for tests and
// local mode.
//
// A Channel is bidirectional and message-oriented. The relay core layers
// byte-stream semantics on top of it; this package knows nothing about
// stream state machines, only about delivering framed messages.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// MessageKind identifies the role of a message on a channel.
type MessageKind int

const (
	// KindData carries payload bytes.
	KindData MessageKind = iota

	// KindShutdown signals that the sender has half-closed its write
	// direction and will send no further data.
	KindShutdown

	// KindClose signals the sender's intent to close the channel as part
	// of the cooperative close handshake.
	KindClose
)

// String returns the string representation of a MessageKind.
func (k MessageKind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindShutdown:
		return "shutdown"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

// Message is a single framed message exchanged over a Channel.
type Message struct {
	Kind MessageKind
	Data []byte
}

var (
	// ErrChannelClosed is returned by Send and Receive once the channel has
	// been closed by either side.
	ErrChannelClosed = errors.New("transport: channel is closed")

	// ErrChannelAborted is returned when the channel was torn down
	// non-cooperatively by either side.
	ErrChannelAborted = errors.New("transport: channel was aborted")

	// ErrControlClosed is returned by ControlChannel.Next once the control
	// channel has been closed.
	ErrControlClosed = errors.New("transport: control channel is closed")
)

// Channel is a bidirectional, message-framed, cancellable channel to a peer
// through the relay. A Channel is exclusively owned by one logical stream.
type Channel interface {
	// Send delivers one message to the peer. It returns once the message has
	// been handed to the transport, not once the peer has consumed it.
	Send(ctx context.Context, m Message) error

	// Receive blocks until the next message from the peer is available.
	// It returns ErrChannelClosed after the peer performed a graceful close
	// and ErrChannelAborted (or a transport-specific error) on failure.
	Receive(ctx context.Context) (Message, error)

	// Close performs a graceful transport-level close, waiting up to the
	// context deadline for the close to complete.
	Close(ctx context.Context) error

	// Abort tears the channel down immediately without a close handshake.
	// The peer observes a failure rather than a clean end-of-channel.
	Abort()
}

// ControlChannel is a listener's registration with the relay. It yields one
// data Channel per inbound connection.
type ControlChannel interface {
	// Next blocks until an inbound connection has been fully established and
	// returns its data channel. It returns ErrControlClosed after Close.
	Next(ctx context.Context) (Channel, error)

	// Close detaches from the relay. Pending and future Next calls are
	// unblocked with ErrControlClosed.
	Close(ctx context.Context) error
}

// Endpoint identifies a relay entity plus the credential used to reach it.
type Endpoint struct {
	// Host is the relay namespace host, e.g. "contoso.servicebus.windows.net".
	Host string

	// Path is the entity (hybrid connection) name within the namespace.
	Path string

	// Token is the pre-minted authorization token, or empty for
	// unauthenticated endpoints.
	Token string
}

// Connector opens channels through a relay. It is implemented by the
// websocket transport and by MemoryRelay.
type Connector interface {
	// Connect establishes a data channel to a listener registered at the
	// endpoint (the sender side of the handshake).
	Connect(ctx context.Context, ep Endpoint) (Channel, error)

	// Listen registers at the endpoint and returns the control channel that
	// yields inbound connections (the listener side of the handshake).
	Listen(ctx context.Context, ep Endpoint) (ControlChannel, error)
}

// StatusError reports a relay rejection of a connect or listen attempt,
// carrying the HTTP-style status code from the handshake response. The relay
// core classifies establishment failures by this code.
type StatusError struct {
	// Code is the HTTP status code of the rejection (404, 401, ...).
	Code int

	// Detail is the response body or reason phrase, when available.
	Detail string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("transport: relay rejected request (status %d)", e.Code)
	}
	return fmt.Sprintf("transport: relay rejected request (status %d): %s", e.Code, e.Detail)
}
