package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relaykit/go-relay/internal/logging"
	"github.com/relaykit/go-relay/transport"
)

// listenerState is the lifecycle of a Listener.
type listenerState int

const (
	lsCreated listenerState = iota
	lsOpening
	lsOpen
	lsClosing
	lsClosed
)

// String returns the string representation of a listenerState.
func (s listenerState) String() string {
	switch s {
	case lsCreated:
		return "created"
	case lsOpening:
		return "opening"
	case lsOpen:
		return "open"
	case lsClosing:
		return "closing"
	case lsClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// acceptWaiter is one outstanding Accept call. Its channel receives either a
// stream or nil (listener closed, no connection). Buffered so dispatch never
// blocks on an abandoned waiter.
type acceptWaiter struct {
	ch chan *Stream
}

// Listener accepts inbound relay connections for one entity.
//
// Inbound connections arriving while no Accept call is pending are queued;
// Accept calls pending while no connection is available are queued too, and
// the two queues are matched first-come first-served. At most one of the two
// queues is non-empty at any instant.
type Listener struct {
	est    *establishment
	logger *logging.Logger
	id     string

	mu         sync.Mutex
	state      listenerState
	ctrl       transport.ControlChannel
	ready      []*Stream
	waiters    []*acceptWaiter
	pumpCancel context.CancelFunc
	closedCh   chan struct{}
}

// NewListener creates a listener for the entity described by cfg. The
// listener is not registered with the relay until Open is called.
func NewListener(cfg *Config) (*Listener, error) {
	est, err := newEstablishment(cfg)
	if err != nil {
		return nil, err
	}
	return &Listener{
		est:      est,
		logger:   est.logger,
		id:       uuid.New().String(),
		closedCh: make(chan struct{}),
	}, nil
}

// Open registers the listener with the relay and starts feeding inbound
// connections to the accept queue. Open may only be called from the created
// state; a duplicate or concurrent call fails with an invalid-state error.
// An establishment failure is surfaced classified (endpoint-not-found,
// authorization-failed, or transport-failure) and leaves the listener
// openable again.
func (l *Listener) Open(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case lsCreated:
		l.state = lsOpening
	case lsOpening:
		l.mu.Unlock()
		return invalidStateError("listener %s is already opening", l.id)
	case lsOpen:
		l.mu.Unlock()
		return invalidStateError("listener %s is already open", l.id)
	default:
		l.mu.Unlock()
		return invalidStateError("listener %s is closed", l.id)
	}
	l.mu.Unlock()

	ctrl, err := l.est.listen(ctx)
	if err != nil {
		l.mu.Lock()
		switch l.state {
		case lsOpening:
			// Leave the listener openable: authorization is re-validated on
			// the next attempt, never cached from a failed one.
			l.state = lsCreated
		case lsClosing:
			l.finishCloseLocked()
		}
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	if l.state != lsOpening {
		// Closed while the registration was in flight.
		l.finishCloseLocked()
		l.mu.Unlock()
		_ = ctrl.Close(ctx)
		return invalidStateError("listener %s was closed during open", l.id)
	}
	l.state = lsOpen
	l.ctrl = ctrl
	pumpCtx, cancel := context.WithCancel(context.Background())
	l.pumpCancel = cancel
	l.mu.Unlock()

	go l.pump(pumpCtx, ctrl)

	if l.logger != nil {
		l.logger.Info("Listener open",
			logging.String("listener_id", l.id),
			logging.String("entity_path", l.est.path))
	}
	return nil
}

// pump converts inbound control-channel notifications into accepted streams.
func (l *Listener) pump(ctx context.Context, ctrl transport.ControlChannel) {
	for {
		ch, err := ctrl.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrControlClosed) {
				return
			}
			if l.logger != nil {
				l.logger.Error("Control channel failed",
					logging.String("listener_id", l.id),
					logging.Error(err))
			}
			l.shutdownOnFailure()
			return
		}
		l.dispatch(newStream(ch, l.est.path, l.logger))
	}
}

// dispatch hands an inbound stream to the oldest waiting Accept call, or
// queues it when none is waiting. Streams arriving after close are aborted.
func (l *Listener) dispatch(stream *Stream) {
	l.mu.Lock()
	if l.state != lsOpen {
		l.mu.Unlock()
		stream.Abort()
		return
	}
	if len(l.waiters) > 0 {
		w := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.mu.Unlock()
		w.ch <- stream
		return
	}
	l.ready = append(l.ready, stream)
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.Debug("Inbound connection queued",
			logging.String("listener_id", l.id),
			logging.String("stream_id", stream.ID()))
	}
}

// Accept returns the next inbound stream. While the listener is open it
// blocks until a connection arrives, the context expires (a Cancelled error;
// the listener is unaffected), or the listener closes. Once the listener is
// closing or closed and no connection is pending, Accept returns (nil, nil).
//
// Waiting Accept calls are served in the order they were issued.
func (l *Listener) Accept(ctx context.Context) (*Stream, error) {
	l.mu.Lock()
	switch l.state {
	case lsCreated, lsOpening:
		l.mu.Unlock()
		return nil, invalidStateError("listener %s is not open", l.id)
	case lsClosing, lsClosed:
		if len(l.ready) > 0 {
			stream := l.ready[0]
			l.ready = l.ready[1:]
			l.mu.Unlock()
			return stream, nil
		}
		l.mu.Unlock()
		return nil, nil
	}

	if len(l.ready) > 0 {
		stream := l.ready[0]
		l.ready = l.ready[1:]
		l.mu.Unlock()
		return stream, nil
	}

	w := &acceptWaiter{ch: make(chan *Stream, 1)}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	select {
	case stream := <-w.ch:
		return stream, nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, queued := range l.waiters {
			if queued == w {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return nil, cancelledError(l.est.path, ctx.Err())
			}
		}
		// A stream was dispatched to this waiter concurrently with the
		// cancellation; put it back at the head so ordering is preserved.
		select {
		case stream := <-w.ch:
			if stream != nil {
				l.ready = append([]*Stream{stream}, l.ready...)
			}
		default:
		}
		l.mu.Unlock()
		return nil, cancelledError(l.est.path, ctx.Err())
	}
}

// shutdownOnFailure closes the listener after an unrecoverable control
// channel failure, resolving outstanding accepts with no-connection.
func (l *Listener) shutdownOnFailure() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.Close(ctx)
}

// finishCloseLocked moves the listener to its terminal state. Callers hold
// l.mu.
func (l *Listener) finishCloseLocked() {
	if l.state != lsClosed {
		l.state = lsClosed
		close(l.closedCh)
	}
}

// Close detaches the listener from the relay. Every outstanding Accept call
// resolves with no-connection (not an error) exactly once, no new inbound
// connections are accepted, and the control channel is released. Close is
// idempotent and safe on a nil listener.
func (l *Listener) Close(ctx context.Context) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	switch l.state {
	case lsClosed:
		l.mu.Unlock()
		return nil
	case lsClosing:
		closed := l.closedCh
		l.mu.Unlock()
		select {
		case <-closed:
		case <-ctx.Done():
		}
		return nil
	case lsCreated:
		l.finishCloseLocked()
		l.mu.Unlock()
		return nil
	case lsOpening:
		// An Open is in flight; it observes the state change and completes
		// the close. Wait for that so the listener is terminally closed when
		// Close returns.
		l.state = lsClosing
		closed := l.closedCh
		l.mu.Unlock()
		select {
		case <-closed:
		case <-ctx.Done():
		}
		return nil
	}

	l.state = lsClosing
	waiters := l.waiters
	l.waiters = nil
	ctrl := l.ctrl
	l.ctrl = nil
	cancel := l.pumpCancel
	l.pumpCancel = nil
	l.mu.Unlock()

	// Resolve every outstanding accept with no-connection, oldest first.
	for _, w := range waiters {
		w.ch <- nil
	}

	if cancel != nil {
		cancel()
	}
	if ctrl != nil {
		_ = ctrl.Close(ctx)
	}

	l.mu.Lock()
	l.finishCloseLocked()
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.Info("Listener closed",
			logging.String("listener_id", l.id),
			logging.String("entity_path", l.est.path),
			logging.Int("resolved_accepts", len(waiters)))
	}
	return nil
}
