package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestSenderURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint Endpoint
		want     string
	}{
		{
			name:     "without token",
			endpoint: Endpoint{Host: "contoso.servicebus.windows.net", Path: "tunnel"},
			want:     "wss://contoso.servicebus.windows.net/$hc/tunnel?sb-hc-action=connect",
		},
		{
			name: "sas token travels in the query",
			endpoint: Endpoint{
				Host:  "contoso.servicebus.windows.net",
				Path:  "tunnel",
				Token: "SharedAccessSignature sr=x&sig=y&se=1&skn=root",
			},
			want: "wss://contoso.servicebus.windows.net/$hc/tunnel?sb-hc-action=connect&sb-hc-token=SharedAccessSignature+sr%3Dx%26sig%3Dy%26se%3D1%26skn%3Droot",
		},
		{
			name: "bearer token stays out of the query",
			endpoint: Endpoint{
				Host:  "contoso.servicebus.windows.net",
				Path:  "tunnel",
				Token: "eyJhbGciOi.bearer.token",
			},
			want: "wss://contoso.servicebus.windows.net/$hc/tunnel?sb-hc-action=connect",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := senderURL(tt.endpoint); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestListenerURL(t *testing.T) {
	ep := Endpoint{Host: "contoso.servicebus.windows.net", Path: "tunnel"}
	got := listenerURL(ep, "listener-1")
	want := "wss://contoso.servicebus.windows.net/$hc/tunnel?sb-hc-action=listen&sb-hc-id=listener-1"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestAcceptNotificationParsing(t *testing.T) {
	raw := `{"accept":{"address":"wss://g1.servicebus.windows.net/$hc/tunnel?sb-hc-action=accept","id":"abc-123","connectHeaders":{"Host":"contoso"}}}`
	var msg acceptNotification
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if msg.Accept.ID != "abc-123" {
		t.Errorf("Expected id abc-123, got %q", msg.Accept.ID)
	}
	if !strings.Contains(msg.Accept.Address, "sb-hc-action=accept") {
		t.Errorf("Expected rendezvous address, got %q", msg.Accept.Address)
	}
}

func TestDial_RejectedHandshakeYieldsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Endpoint does not exist", http.StatusNotFound)
	}))
	defer srv.Close()

	c := &WebSocketConnector{}
	ctx := testContext(t)
	_, err := c.dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), http.Header{})

	var status *StatusError
	if !errors.As(err, &status) {
		t.Fatalf("Expected StatusError, got: %v", err)
	}
	if status.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", status.Code)
	}
	if !strings.Contains(status.Detail, "does not exist") {
		t.Errorf("Expected response body in detail, got %q", status.Detail)
	}
}

// wsEchoServer upgrades and echoes every frame back, preserving its type.
func wsEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialEcho(t *testing.T, srv *httptest.Server) *wsChannel {
	t.Helper()
	c := &WebSocketConnector{}
	conn, err := c.dial(testContext(t), "ws"+strings.TrimPrefix(srv.URL, "http"), http.Header{})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return newWSChannel(conn)
}

func TestWSChannel_DataRoundtrip(t *testing.T) {
	ctx := testContext(t)
	ch := dialEcho(t, wsEchoServer(t))
	defer func() { _ = ch.Close(ctx) }()

	if err := ch.Send(ctx, Message{Kind: KindData, Data: []byte("ping")}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	m, err := ch.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if m.Kind != KindData || string(m.Data) != "ping" {
		t.Errorf("Expected data frame ping, got kind=%v data=%q", m.Kind, m.Data)
	}
}

func TestWSChannel_ControlFrames(t *testing.T) {
	ctx := testContext(t)
	ch := dialEcho(t, wsEchoServer(t))
	defer func() { _ = ch.Close(ctx) }()

	if err := ch.Send(ctx, Message{Kind: KindShutdown}); err != nil {
		t.Fatalf("Send shutdown failed: %v", err)
	}
	m, err := ch.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if m.Kind != KindShutdown {
		t.Errorf("Expected shutdown frame, got kind=%v", m.Kind)
	}

	if err := ch.Send(ctx, Message{Kind: KindClose}); err != nil {
		t.Fatalf("Send close failed: %v", err)
	}
	m, err = ch.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if m.Kind != KindClose {
		t.Errorf("Expected close frame, got kind=%v", m.Kind)
	}
}

func TestWSChannel_ReceiveCancellation(t *testing.T) {
	ch := dialEcho(t, wsEchoServer(t))
	defer func() { _ = ch.Close(testContext(t)) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ch.Receive(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got: %v", err)
	}
}

func TestWSChannel_UsableAfterCancelledReceive(t *testing.T) {
	ctx := testContext(t)
	ch := dialEcho(t, wsEchoServer(t))
	defer func() { _ = ch.Close(ctx) }()

	shortCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := ch.Receive(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected DeadlineExceeded, got: %v", err)
	}

	// The cancelled receive must not poison the connection: a message sent
	// afterwards still arrives on the next receive.
	if err := ch.Send(ctx, Message{Kind: KindData, Data: []byte("after cancel")}); err != nil {
		t.Fatalf("Send after cancelled receive failed: %v", err)
	}
	m, err := ch.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive after cancelled receive failed: %v", err)
	}
	if m.Kind != KindData || string(m.Data) != "after cancel" {
		t.Errorf("Expected the sent frame back, got kind=%v data=%q", m.Kind, m.Data)
	}

	// And again, to rule out a one-shot recovery
	if err := ch.Send(ctx, Message{Kind: KindShutdown}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	m, err = ch.Receive(ctx)
	if err != nil || m.Kind != KindShutdown {
		t.Fatalf("Expected shutdown frame, got (kind=%v, %v)", m.Kind, err)
	}
}

func TestWSControl_NextUsableAfterCancellation(t *testing.T) {
	ctx := testContext(t)
	upgrader := websocket.Upgrader{}

	// One endpoint plays the control channel, delivering an accept
	// notification when released; the other is the rendezvous target.
	release := make(chan struct{})
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if r.URL.Path == "/rendezvous" {
			defer conn.Close()
			_, _, _ = conn.ReadMessage()
			return
		}
		defer conn.Close()
		<-release
		addr := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rendezvous"
		note := `{"accept":{"address":"` + addr + `","id":"conn-1"}}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(note))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()
	defer close(release)

	connector := &WebSocketConnector{}
	conn, err := connector.dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/control", http.Header{})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	ctrl := newWSControl(connector, conn, "listener-1")
	defer func() { _ = ctrl.Close(ctx) }()

	shortCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := ctrl.Next(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected DeadlineExceeded, got: %v", err)
	}

	// The cancelled Next must not disturb the control connection: once a
	// notification arrives, the next call yields its data channel.
	release <- struct{}{}
	dataCh, err := ctrl.Next(ctx)
	if err != nil {
		t.Fatalf("Next after cancelled Next failed: %v", err)
	}
	dataCh.Abort()
}
