// Package relay implements a relay-tunneled duplex-stream transport: a
// Listener accepts inbound logical connections and a Client originates them,
// with the bytes carried through an intermediary relay service rather than a
// direct socket.
//
// # Streams
//
// A Stream is a byte-oriented duplex connection with independently managed
// read and write directions. The write direction can be half-closed with
// Shutdown, after which the peer's reads drain buffered data and then return
// io.EOF; the read direction remains usable. Close runs a cooperative close
// handshake with the peer and always reaches a terminal closed state, even
// when the peer is unresponsive. Abort tears the stream down immediately;
// the peer observes a transport fault rather than a clean end-of-stream.
//
// # Establishment
//
// Connection establishment attaches a token from the configured
// TokenProvider and classifies failures into a fixed taxonomy: the endpoint
// does not exist (IsEndpointNotFound), the token was rejected
// (IsAuthorizationFailed), the transport failed (IsTransportFailure), the
// caller's context expired (IsCancelled), or the operation was invoked in a
// state that forbids it (IsInvalidState). Failures are classified once at
// the point of detection and never downgraded. Nothing is retried
// internally.
//
// # Usage
//
//	cfg := &relay.Config{
//	    Namespace:     "contoso.servicebus.windows.net",
//	    EntityPath:    "my-connection",
//	    TokenProvider: sas.NewSigner("RootManageSharedAccessKey", key),
//	}
//
//	listener, err := relay.NewListener(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := listener.Open(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer listener.Close(ctx)
//
//	for {
//	    stream, err := listener.Accept(ctx)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if stream == nil {
//	        break // listener closed
//	    }
//	    go handle(stream)
//	}
//
// On the originating side:
//
//	client, err := relay.NewClient(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	stream, err := client.CreateConnection(ctx)
//
// The transport carrying the traffic is pluggable through Config.Connector;
// by default streams travel over websockets against a real relay namespace,
// and tests use the in-memory relay from the transport package.
package relay
