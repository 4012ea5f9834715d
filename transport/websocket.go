package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// defaultHandshakeTimeout bounds the websocket upgrade against the relay.
const defaultHandshakeTimeout = 30 * time.Second

// wsInboundBuffer is the number of received frames a channel holds before its
// reader goroutine blocks on the consumer.
const wsInboundBuffer = 16

// sasTokenPrefix identifies a SharedAccessSignature token. Anything else is
// treated as an Azure AD bearer token.
const sasTokenPrefix = "SharedAccessSignature"

// WebSocketConnector opens channels against an Azure Relay namespace over
// websockets. The zero value is ready to use.
type WebSocketConnector struct {
	// Dialer overrides the websocket dialer. When nil a dialer with a
	// 30-second handshake timeout is used.
	Dialer *websocket.Dialer
}

func (c *WebSocketConnector) dialer() *websocket.Dialer {
	if c.Dialer != nil {
		return c.Dialer
	}
	return &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
}

// senderURL builds the connect URL for an endpoint.
// Format: wss://<host>/$hc/<path>?sb-hc-action=connect&sb-hc-token=<token>
func senderURL(ep Endpoint) string {
	u := url.URL{Scheme: "wss", Host: ep.Host, Path: "/$hc/" + ep.Path}
	q := u.Query()
	q.Set("sb-hc-action", "connect")
	if ep.Token != "" && strings.HasPrefix(ep.Token, sasTokenPrefix) {
		q.Set("sb-hc-token", ep.Token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// listenerURL builds the control channel URL for an endpoint.
// Format: wss://<host>/$hc/<path>?sb-hc-action=listen&sb-hc-id=<listener-id>
func listenerURL(ep Endpoint, listenerID string) string {
	u := url.URL{Scheme: "wss", Host: ep.Host, Path: "/$hc/" + ep.Path}
	q := u.Query()
	q.Set("sb-hc-action", "listen")
	q.Set("sb-hc-id", listenerID)
	u.RawQuery = q.Encode()
	return u.String()
}

// dial performs the websocket upgrade, converting a rejected handshake into a
// StatusError carrying the relay's response status and body.
func (c *WebSocketConnector) dial(ctx context.Context, wsURL string, header http.Header) (*websocket.Conn, error) {
	conn, resp, err := c.dialer().DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			body := make([]byte, 512)
			n, _ := resp.Body.Read(body)
			_ = resp.Body.Close()
			return nil, &StatusError{Code: resp.StatusCode, Detail: strings.TrimSpace(string(body[:n]))}
		}
		return nil, fmt.Errorf("transport: websocket dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, nil
}

// Connect establishes a sender-side data channel.
func (c *WebSocketConnector) Connect(ctx context.Context, ep Endpoint) (Channel, error) {
	header := http.Header{}
	// SAS tokens travel in the sb-hc-token query parameter; Azure AD tokens
	// go in the Authorization header.
	if ep.Token != "" && !strings.HasPrefix(ep.Token, sasTokenPrefix) {
		header.Set("Authorization", "Bearer "+ep.Token)
	}
	conn, err := c.dial(ctx, senderURL(ep), header)
	if err != nil {
		return nil, err
	}
	return newWSChannel(conn), nil
}

// Listen establishes the listener control channel.
func (c *WebSocketConnector) Listen(ctx context.Context, ep Endpoint) (ControlChannel, error) {
	header := http.Header{}
	if ep.Token != "" {
		header.Set("ServiceBusAuthorization", ep.Token)
	}
	listenerID := uuid.New().String()
	conn, err := c.dial(ctx, listenerURL(ep, listenerID), header)
	if err != nil {
		return nil, err
	}
	return newWSControl(c, conn, listenerID), nil
}

var _ Connector = (*WebSocketConnector)(nil)

// acceptNotification is the JSON control frame the relay sends for each
// inbound connection. The address is the rendezvous URL to dial for the data
// channel.
type acceptNotification struct {
	Accept struct {
		Address        string            `json:"address"`
		ID             string            `json:"id"`
		ConnectHeaders map[string]string `json:"connectHeaders"`
	} `json:"accept"`
}

// wsControl is the websocket control channel of a listener. A single reader
// goroutine owns the connection's read side and feeds notifications through
// inbound; Next selects on that channel against the caller's context, so a
// cancelled Next never disturbs the connection.
type wsControl struct {
	connector  *WebSocketConnector
	conn       *websocket.Conn
	listenerID string
	inbound    chan acceptNotification

	mu       sync.Mutex
	isClosed bool
	readErr  error
}

func newWSControl(connector *WebSocketConnector, conn *websocket.Conn, listenerID string) *wsControl {
	c := &wsControl{
		connector:  connector,
		conn:       conn,
		listenerID: listenerID,
		inbound:    make(chan acceptNotification, wsInboundBuffer),
	}
	go c.readLoop()
	return c
}

// readLoop drains the control connection until it fails or is closed,
// recording the terminal error before closing inbound.
func (c *wsControl) readLoop() {
	defer close(c.inbound)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.isClosed || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.readErr = ErrControlClosed
			} else {
				c.readErr = fmt.Errorf("transport: control channel read failed: %w", err)
			}
			c.mu.Unlock()
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg acceptNotification
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Accept.Address == "" {
			continue
		}
		c.inbound <- msg
	}
}

// Next blocks for the next accept notification and dials its rendezvous
// address to establish the inbound data channel.
func (c *wsControl) Next(ctx context.Context) (Channel, error) {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return nil, ErrControlClosed
	}
	c.mu.Unlock()

	select {
	case msg, ok := <-c.inbound:
		if !ok {
			c.mu.Lock()
			err := c.readErr
			c.mu.Unlock()
			if err == nil {
				err = ErrControlClosed
			}
			return nil, err
		}
		// The rendezvous dial needs no authorization; the relay already
		// validated the listener when the control channel was established.
		dataConn, err := c.connector.dial(ctx, msg.Accept.Address, http.Header{})
		if err != nil {
			return nil, fmt.Errorf("transport: rendezvous dial for connection %s failed: %w", msg.Accept.ID, err)
		}
		return newWSChannel(dataConn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close detaches the listener from the relay.
func (c *wsControl) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return nil
	}
	c.isClosed = true
	conn := c.conn
	c.mu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

var _ ControlChannel = (*wsControl)(nil)

// controlFrame is the JSON text frame used for stream-level signaling on a
// data channel. Data itself travels as binary frames.
type controlFrame struct {
	Shutdown bool `json:"shutdown,omitempty"`
	Close    bool `json:"close,omitempty"`
}

// wsChannel adapts a websocket connection to the Channel contract. A single
// reader goroutine owns the read side of the connection for the channel's
// whole life and feeds decoded messages through inbound; Receive selects on
// that channel against the caller's context. Per-call cancellation therefore
// never touches the connection's read deadline, and a cancelled Receive
// leaves the channel fully usable.
type wsChannel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	inbound chan Message

	mu       sync.Mutex
	isClosed bool
	readErr  error
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	c := &wsChannel{
		conn:    conn,
		inbound: make(chan Message, wsInboundBuffer),
	}
	go c.readLoop()
	return c
}

// readLoop drains the connection until it fails or is closed, recording the
// terminal error before closing inbound so consumers drain buffered frames
// first and then observe the closure.
func (c *wsChannel) readLoop() {
	defer close(c.inbound)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.isClosed || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.readErr = ErrChannelClosed
			} else {
				c.readErr = fmt.Errorf("transport: websocket receive failed: %w", err)
			}
			c.mu.Unlock()
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.inbound <- Message{Kind: KindData, Data: data}
		case websocket.TextMessage:
			var frame controlFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			switch {
			case frame.Close:
				c.inbound <- Message{Kind: KindClose}
			case frame.Shutdown:
				c.inbound <- Message{Kind: KindShutdown}
			}
		}
	}
}

// Send delivers one message: data as a binary frame, shutdown and close
// intents as JSON text frames.
func (c *wsChannel) Send(ctx context.Context, m Message) error {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}

	var err error
	switch m.Kind {
	case KindData:
		err = c.conn.WriteMessage(websocket.BinaryMessage, m.Data)
	case KindShutdown:
		err = c.writeControlFrame(controlFrame{Shutdown: true})
	case KindClose:
		err = c.writeControlFrame(controlFrame{Close: true})
	default:
		return fmt.Errorf("transport: unsupported message kind %v", m.Kind)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("transport: websocket send failed: %w", err)
	}
	return nil
}

func (c *wsChannel) writeControlFrame(frame controlFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive blocks for the next message from the peer. Frames already received
// are drained before any terminal error is reported.
func (c *wsChannel) Receive(ctx context.Context) (Message, error) {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return Message{}, ErrChannelClosed
	}
	c.mu.Unlock()

	select {
	case m, ok := <-c.inbound:
		if !ok {
			c.mu.Lock()
			err := c.readErr
			c.mu.Unlock()
			if err == nil {
				err = ErrChannelClosed
			}
			return Message{}, err
		}
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close performs the websocket close handshake and releases the connection.
func (c *wsChannel) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return nil
	}
	c.isClosed = true
	c.mu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}

// Abort drops the connection without a close handshake. The peer observes an
// abnormal closure.
func (c *wsChannel) Abort() {
	c.mu.Lock()
	c.isClosed = true
	c.mu.Unlock()
	_ = c.conn.Close()
}

var _ Channel = (*wsChannel)(nil)
