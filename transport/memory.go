package transport

import (
	"context"
	"fmt"
	"sync"
)

// channelBuffer is the number of in-flight messages each direction of an
// in-memory channel can hold before Send exerts backpressure.
const channelBuffer = 64

// controlBuffer bounds how many established-but-unclaimed inbound channels a
// memory control channel can hold.
const controlBuffer = 256

// MemoryRelay is an in-process relay used for tests and local mode. Endpoints
// are registered by name with an optional expected token; Connect and Listen
// enforce the same rejection statuses a real relay namespace produces, so the
// establishment failure paths can be exercised without Azure.
type MemoryRelay struct {
	mu        sync.Mutex
	endpoints map[string]*memoryEndpoint
}

type memoryEndpoint struct {
	token string
	ctrl  *memoryControl
}

// NewMemoryRelay creates an empty in-memory relay.
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{
		endpoints: make(map[string]*memoryEndpoint),
	}
}

// CreateEndpoint registers an entity at the relay. If token is non-empty,
// Connect and Listen attempts must present exactly that token.
func (r *MemoryRelay) CreateEndpoint(path, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[path] = &memoryEndpoint{token: token}
}

// DeleteEndpoint removes an entity. Subsequent establishment attempts fail
// with a not-found status.
func (r *MemoryRelay) DeleteEndpoint(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, path)
}

// resolve authorizes an establishment attempt against the registry.
func (r *MemoryRelay) resolve(ep Endpoint) (*memoryEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entity, ok := r.endpoints[ep.Path]
	if !ok {
		return nil, &StatusError{
			Code:   404,
			Detail: fmt.Sprintf("the endpoint %s could not be found", ep.Path),
		}
	}
	if entity.token != "" && entity.token != ep.Token {
		return nil, &StatusError{
			Code:   401,
			Detail: "the provided token has an invalid signature",
		}
	}
	return entity, nil
}

// Listen registers a listener at the endpoint. At most one listener may be
// attached to an entity at a time.
func (r *MemoryRelay) Listen(ctx context.Context, ep Endpoint) (ControlChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entity, err := r.resolve(ep)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entity.ctrl != nil {
		return nil, &StatusError{
			Code:   409,
			Detail: fmt.Sprintf("a listener is already attached to %s", ep.Path),
		}
	}
	ctrl := &memoryControl{
		relay:   r,
		path:    ep.Path,
		inbound: make(chan Channel, controlBuffer),
		closed:  make(chan struct{}),
	}
	entity.ctrl = ctrl
	return ctrl, nil
}

// Connect establishes a data channel to the listener attached at the
// endpoint.
func (r *MemoryRelay) Connect(ctx context.Context, ep Endpoint) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entity, err := r.resolve(ep)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	ctrl := entity.ctrl
	r.mu.Unlock()
	if ctrl == nil {
		return nil, &StatusError{
			Code:   503,
			Detail: fmt.Sprintf("no listener is connected for endpoint %s", ep.Path),
		}
	}

	local, remote := NewMemoryPipe()
	if err := ctrl.deliver(ctx, remote); err != nil {
		local.Abort()
		return nil, err
	}
	return local, nil
}

var _ Connector = (*MemoryRelay)(nil)

// memoryControl is the in-memory control channel feeding inbound connections
// to a listener.
type memoryControl struct {
	relay   *MemoryRelay
	path    string
	inbound chan Channel

	mu       sync.Mutex
	isClosed bool
	closed   chan struct{}
}

// deliver hands an established inbound channel to the listener.
func (c *memoryControl) deliver(ctx context.Context, ch Channel) error {
	select {
	case c.inbound <- ch:
		return nil
	case <-c.closed:
		return &StatusError{
			Code:   503,
			Detail: fmt.Sprintf("no listener is connected for endpoint %s", c.path),
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next inbound data channel.
func (c *memoryControl) Next(ctx context.Context) (Channel, error) {
	// Drain channels delivered before Close so none are lost.
	select {
	case ch := <-c.inbound:
		return ch, nil
	default:
	}
	select {
	case ch := <-c.inbound:
		return ch, nil
	case <-c.closed:
		return nil, ErrControlClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close detaches the listener from the relay.
func (c *memoryControl) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return nil
	}
	c.isClosed = true
	close(c.closed)
	c.mu.Unlock()

	c.relay.mu.Lock()
	if entity, ok := c.relay.endpoints[c.path]; ok && entity.ctrl == c {
		entity.ctrl = nil
	}
	c.relay.mu.Unlock()
	return nil
}

var _ ControlChannel = (*memoryControl)(nil)

// memoryPipe holds the state shared by both halves of an in-memory channel
// pair. Abort is symmetric: either side aborting fails both.
type memoryPipe struct {
	abortOnce sync.Once
	aborted   chan struct{}
}

// memoryChannel is one half of an in-memory channel pair.
type memoryChannel struct {
	pipe *memoryPipe
	out  chan<- Message
	in   <-chan Message

	mu         sync.Mutex
	isClosed   bool
	closed     chan struct{} // this side closed
	peerClosed <-chan struct{}
}

// NewMemoryPipe creates a directly connected channel pair, bypassing
// endpoint registration. Useful for tests exercising channel consumers in
// isolation.
func NewMemoryPipe() (Channel, Channel) {
	pipe := &memoryPipe{aborted: make(chan struct{})}
	ab := make(chan Message, channelBuffer)
	ba := make(chan Message, channelBuffer)
	a := &memoryChannel{pipe: pipe, out: ab, in: ba, closed: make(chan struct{})}
	b := &memoryChannel{pipe: pipe, out: ba, in: ab, closed: make(chan struct{})}
	a.peerClosed = b.closed
	b.peerClosed = a.closed
	return a, b
}

// Send delivers one message to the peer.
func (c *memoryChannel) Send(ctx context.Context, m Message) error {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.mu.Unlock()

	select {
	case <-c.pipe.aborted:
		return ErrChannelAborted
	default:
	}

	select {
	case c.out <- m:
		return nil
	case <-c.pipe.aborted:
		return ErrChannelAborted
	case <-c.peerClosed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks for the next message from the peer. Messages sent before the
// peer closed are drained before the closure is reported.
func (c *memoryChannel) Receive(ctx context.Context) (Message, error) {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return Message{}, ErrChannelClosed
	}
	c.mu.Unlock()

	// Abort discards buffered data: a fault must surface as a fault, not as
	// a residual successful read.
	select {
	case <-c.pipe.aborted:
		return Message{}, ErrChannelAborted
	default:
	}

	select {
	case m := <-c.in:
		return m, nil
	default:
	}
	select {
	case m := <-c.in:
		return m, nil
	case <-c.pipe.aborted:
		return Message{}, ErrChannelAborted
	case <-c.peerClosed:
		// One last drain: a message may have been queued just before the
		// peer closed.
		select {
		case m := <-c.in:
			return m, nil
		default:
			return Message{}, ErrChannelClosed
		}
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close performs a graceful local close. The peer keeps draining queued
// messages and then observes ErrChannelClosed.
func (c *memoryChannel) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed {
		return nil
	}
	c.isClosed = true
	close(c.closed)
	return nil
}

// Abort tears down both halves immediately.
func (c *memoryChannel) Abort() {
	c.pipe.abortOnce.Do(func() {
		close(c.pipe.aborted)
	})
}

var _ Channel = (*memoryChannel)(nil)
