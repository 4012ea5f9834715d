package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relaykit/go-relay/internal/logging"
	"github.com/relaykit/go-relay/transport"
)

// directionState tracks one direction of a stream. The read and write
// directions advance independently; the stream is terminal once both have
// left Open and the channel has been released.
type directionState int

const (
	stateOpen directionState = iota
	stateHalfClosed
	stateClosed
)

// shutdownTimeout bounds the half-close control frame send so Shutdown never
// blocks the caller on a stalled transport.
const shutdownTimeout = 5 * time.Second

// closeRecheckInterval is how often a closing stream re-checks whether it can
// take over receiving after an application read was abandoned mid-close.
const closeRecheckInterval = 20 * time.Millisecond

// ErrStreamAborted is the cause recorded when a stream is torn down via
// Abort rather than by a transport failure.
var ErrStreamAborted = errors.New("relay: stream aborted")

// Stream is a byte-oriented duplex stream carried over a relay channel. It is
// created by Client.CreateConnection or Listener.Accept, never directly.
//
// The write direction can be half-closed with Shutdown while reads continue;
// Close performs the cooperative close handshake with the peer and always
// reaches a terminal closed state, forcing local teardown if the peer does
// not respond within the context deadline.
type Stream struct {
	ch     transport.Channel
	path   string
	id     string
	logger *logging.Logger

	// writeMu serializes Write and control-frame sends so concurrent writers
	// queue rather than interleave.
	writeMu sync.Mutex

	mu           sync.Mutex
	readState    directionState
	writeState   directionState
	fault        error
	readBuf      []byte
	reading      bool
	peerClosed   bool
	peerClosedCh chan struct{}
	closeStarted bool
	closeDone    chan struct{}
}

func newStream(ch transport.Channel, path string, logger *logging.Logger) *Stream {
	return &Stream{
		ch:           ch,
		path:         path,
		id:           uuid.New().String(),
		logger:       logger,
		peerClosedCh: make(chan struct{}),
		closeDone:    make(chan struct{}),
	}
}

// ID returns the stream's unique identifier.
func (s *Stream) ID() string { return s.id }

// Path returns the entity path the stream was established against.
func (s *Stream) Path() string { return s.path }

func (s *Stream) setFaultLocked(err error) {
	if s.fault == nil {
		s.fault = err
		if s.logger != nil {
			s.logger.Warn("Stream faulted",
				logging.String("stream_id", s.id),
				logging.Error(err))
		}
	}
}

func (s *Stream) setPeerClosedLocked() {
	if !s.peerClosed {
		s.peerClosed = true
		close(s.peerClosedCh)
	}
}

// applyMessageLocked folds a received message into stream state. Data that
// arrives while the close handshake is draining the channel is buffered so a
// racing reader still observes it.
func (s *Stream) applyMessageLocked(m transport.Message) {
	switch m.Kind {
	case transport.KindData:
		s.readBuf = append(s.readBuf, m.Data...)
	case transport.KindShutdown:
		if s.readState == stateOpen {
			s.readState = stateHalfClosed
		}
	case transport.KindClose:
		if s.readState == stateOpen {
			s.readState = stateHalfClosed
		}
		s.setPeerClosedLocked()
	}
}

// Read reads up to len(p) bytes from the stream. It blocks until data is
// available, the peer half-closes (io.EOF, permanently thereafter), the
// context expires (a Cancelled error; the stream stays usable), or the
// stream faults.
//
// Only one Read may be outstanding at a time; a concurrent Read fails with
// an invalid-state error.
func (s *Stream) Read(ctx context.Context, p []byte) (int, error) {
	s.mu.Lock()
	if s.fault != nil {
		err := s.fault
		s.mu.Unlock()
		return 0, newError(KindTransportFailure, s.path, err)
	}
	if len(s.readBuf) > 0 {
		n := copy(p, s.readBuf)
		s.readBuf = s.readBuf[n:]
		s.mu.Unlock()
		return n, nil
	}
	if s.readState != stateOpen || s.peerClosed {
		s.mu.Unlock()
		return 0, io.EOF
	}
	if s.closeStarted {
		s.mu.Unlock()
		return 0, invalidStateError("read on closed stream %s", s.id)
	}
	if s.reading {
		s.mu.Unlock()
		return 0, invalidStateError("concurrent read on stream %s", s.id)
	}
	if len(p) == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	s.reading = true
	s.mu.Unlock()

	for {
		m, err := s.ch.Receive(ctx)

		s.mu.Lock()
		if err != nil {
			s.reading = false
			if ctx.Err() != nil {
				// Cancelling a read does not tear down the stream.
				s.mu.Unlock()
				return 0, cancelledError(s.path, ctx.Err())
			}
			if errors.Is(err, transport.ErrChannelClosed) && s.peerClosed {
				s.mu.Unlock()
				return 0, io.EOF
			}
			s.setFaultLocked(err)
			s.mu.Unlock()
			return 0, newError(KindTransportFailure, s.path, err)
		}

		switch m.Kind {
		case transport.KindData:
			if len(m.Data) == 0 {
				s.mu.Unlock()
				continue
			}
			n := copy(p, m.Data)
			if n < len(m.Data) {
				s.readBuf = append(s.readBuf, m.Data[n:]...)
			}
			s.reading = false
			s.mu.Unlock()
			return n, nil
		case transport.KindShutdown:
			s.readState = stateHalfClosed
			s.reading = false
			s.mu.Unlock()
			return 0, io.EOF
		case transport.KindClose:
			s.applyMessageLocked(m)
			s.reading = false
			s.mu.Unlock()
			return 0, io.EOF
		default:
			s.mu.Unlock()
		}
	}
}

// Write writes p to the stream, returning once the bytes have been handed to
// the transport. Writes are serialized: concurrent Write calls queue and
// their payloads never interleave. Write fails with an invalid-state error
// after Shutdown or Close and with a transport failure once the stream has
// faulted.
func (s *Stream) Write(ctx context.Context, p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.fault != nil {
		err := s.fault
		s.mu.Unlock()
		return 0, newError(KindTransportFailure, s.path, err)
	}
	if s.writeState != stateOpen {
		s.mu.Unlock()
		return 0, invalidStateError("write on stream %s after shutdown or close", s.id)
	}
	s.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}

	// The transport may hold on to the buffer after Send returns; the caller
	// is free to reuse p immediately.
	data := make([]byte, len(p))
	copy(data, p)

	if err := s.ch.Send(ctx, transport.Message{Kind: transport.KindData, Data: data}); err != nil {
		if ctx.Err() != nil {
			return 0, cancelledError(s.path, ctx.Err())
		}
		s.mu.Lock()
		s.setFaultLocked(err)
		s.mu.Unlock()
		return 0, newError(KindTransportFailure, s.path, err)
	}
	return len(p), nil
}

// Shutdown half-closes the write direction. It is idempotent and does not
// wait for peer acknowledgement: the peer's next read after draining
// buffered data observes a clean end-of-stream. The read direction is
// unaffected.
func (s *Stream) Shutdown() error {
	s.mu.Lock()
	if s.writeState != stateOpen || s.fault != nil {
		s.mu.Unlock()
		return nil
	}
	s.writeState = stateHalfClosed
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Debug("Stream write direction half-closed", logging.String("stream_id", s.id))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.ch.Send(ctx, transport.Message{Kind: transport.KindShutdown}); err != nil {
		s.mu.Lock()
		s.setFaultLocked(err)
		s.mu.Unlock()
		return newError(KindTransportFailure, s.path, err)
	}
	return nil
}

// Close performs the cooperative close handshake: it sends a close intent,
// waits up to the context deadline for the peer's matching intent or for the
// channel to report closure, then releases the channel. If the deadline
// elapses first the stream is force-closed locally; Close always leaves the
// stream terminally closed and never leaks the channel.
//
// Close is idempotent. A second call returns the outcome of the first.
func (s *Stream) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closeStarted {
		done := s.closeDone
		s.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return cancelledError(s.path, ctx.Err())
		}
	}
	s.closeStarted = true
	closeBegan := time.Now()
	faulted := s.fault != nil
	peerDone := s.peerClosed
	s.writeState = stateClosed
	s.mu.Unlock()

	if !faulted {
		s.writeMu.Lock()
		sendErr := s.ch.Send(ctx, transport.Message{Kind: transport.KindClose})
		s.writeMu.Unlock()
		if sendErr == nil && !peerDone {
			s.awaitPeerClose(ctx)
		}
	}

	if ctx.Err() != nil {
		// Deadline fired mid-handshake: force local teardown rather than
		// leaving the stream open.
		s.ch.Abort()
	} else if err := s.ch.Close(ctx); err != nil {
		s.ch.Abort()
	}

	s.mu.Lock()
	s.readState = stateClosed
	s.mu.Unlock()
	close(s.closeDone)

	if s.logger != nil {
		s.logger.Debug("Stream closed",
			logging.String("stream_id", s.id),
			logging.Duration("close_duration", time.Since(closeBegan)))
	}
	return nil
}

// awaitPeerClose drains the channel until the peer's close intent, a channel
// closure, a fault, or the context deadline. If an application read is still
// outstanding it is left to consume the intent, and this side waits for it.
func (s *Stream) awaitPeerClose(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.peerClosed || s.fault != nil || ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		if !s.reading {
			s.reading = true
			s.mu.Unlock()

			m, err := s.ch.Receive(ctx)

			s.mu.Lock()
			s.reading = false
			if err != nil {
				if errors.Is(err, transport.ErrChannelClosed) {
					// The peer released the channel; that counts as closure.
					s.setPeerClosedLocked()
				} else if ctx.Err() == nil {
					s.setFaultLocked(err)
				}
				s.mu.Unlock()
				return
			}
			s.applyMessageLocked(m)
			s.mu.Unlock()
			continue
		}
		wait := s.peerClosedCh
		s.mu.Unlock()

		select {
		case <-wait:
			return
		case <-ctx.Done():
			return
		case <-time.After(closeRecheckInterval):
			// The outstanding read may have been cancelled; re-check whether
			// this side can take over receiving.
		}
	}
}

// Abort tears the stream down immediately without a close handshake. The
// peer observes a transport fault, never a clean end-of-stream. Subsequent
// Read and Write calls fail with a transport failure.
func (s *Stream) Abort() {
	s.mu.Lock()
	alreadyDown := s.fault != nil && s.readState == stateClosed && s.writeState == stateClosed
	s.setFaultLocked(ErrStreamAborted)
	s.readState = stateClosed
	s.writeState = stateClosed
	s.mu.Unlock()
	if alreadyDown {
		return
	}

	s.ch.Abort()
	if s.logger != nil {
		s.logger.Debug("Stream aborted", logging.String("stream_id", s.id))
	}
}
