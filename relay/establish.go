package relay

import (
	"context"
	"fmt"

	"github.com/relaykit/go-relay/internal/logging"
	"github.com/relaykit/go-relay/transport"
)

// TokenProvider supplies an authorization token for a relay audience. The
// relay core never inspects token contents; it only attaches them to
// establishment requests. Implementations live in the sas package.
type TokenProvider interface {
	GetToken(ctx context.Context, audience string) (string, error)
}

// Config describes how to reach a relay entity. It is shared by Client and
// Listener.
type Config struct {
	// Namespace is the relay namespace host, e.g.
	// "contoso.servicebus.windows.net".
	Namespace string

	// EntityPath is the hybrid connection name within the namespace.
	EntityPath string

	// TokenProvider mints tokens per establishment attempt. Nil means the
	// entity allows unauthenticated access.
	TokenProvider TokenProvider

	// Connector carries the actual traffic. Nil defaults to the websocket
	// transport against a real relay namespace.
	Connector transport.Connector

	// Logger receives structured diagnostics. Nil disables logging.
	Logger *logging.Logger
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if c.Namespace == "" {
		return fmt.Errorf("relay namespace is required")
	}
	if c.EntityPath == "" {
		return fmt.Errorf("entity path is required")
	}
	return nil
}

// establishment turns connection intents into live channels or classified
// failures. Both Client and Listener drive it; it holds no per-attempt state
// so any number of attempts may run concurrently.
type establishment struct {
	connector transport.Connector
	namespace string
	path      string
	tokens    TokenProvider
	logger    *logging.Logger
}

func newEstablishment(cfg *Config) (*establishment, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	connector := cfg.Connector
	if connector == nil {
		connector = &transport.WebSocketConnector{}
	}
	return &establishment{
		connector: connector,
		namespace: cfg.Namespace,
		path:      cfg.EntityPath,
		tokens:    cfg.TokenProvider,
		logger:    cfg.Logger,
	}, nil
}

// audience is the resource URI tokens are minted for.
// Format: https://<namespace>/<path>
func (e *establishment) audience() string {
	return fmt.Sprintf("https://%s/%s", e.namespace, e.path)
}

// endpoint builds the establishment request, attaching a freshly minted
// token. Tokens are fetched per attempt; authorization is never cached here
// across attempts.
func (e *establishment) endpoint(ctx context.Context) (transport.Endpoint, error) {
	ep := transport.Endpoint{Host: e.namespace, Path: e.path}
	if e.tokens == nil {
		return ep, nil
	}
	token, err := e.tokens.GetToken(ctx, e.audience())
	if err != nil {
		if ctx.Err() != nil {
			return transport.Endpoint{}, cancelledError(e.path, ctx.Err())
		}
		return transport.Endpoint{}, newError(KindTransportFailure, e.path,
			fmt.Errorf("token source failed: %w", err))
	}
	ep.Token = token
	return ep, nil
}

// connect originates one sender-side connection.
func (e *establishment) connect(ctx context.Context) (transport.Channel, error) {
	ep, err := e.endpoint(ctx)
	if err != nil {
		return nil, err
	}
	if e.logger != nil {
		e.logger.Debug("Connecting to relay endpoint",
			logging.String("namespace", e.namespace),
			logging.String("entity_path", e.path))
	}
	ch, err := e.connector.Connect(ctx, ep)
	if err != nil {
		classified := classifyEstablishment(e.path, err)
		if e.logger != nil {
			e.logger.Error("Connection establishment failed",
				logging.String("entity_path", e.path),
				logging.String("kind", classified.Kind.String()),
				logging.Error(err))
		}
		return nil, classified
	}
	return ch, nil
}

// listen establishes the listener control channel.
func (e *establishment) listen(ctx context.Context) (transport.ControlChannel, error) {
	ep, err := e.endpoint(ctx)
	if err != nil {
		return nil, err
	}
	if e.logger != nil {
		e.logger.Debug("Registering listener at relay endpoint",
			logging.String("namespace", e.namespace),
			logging.String("entity_path", e.path))
	}
	ctrl, err := e.connector.Listen(ctx, ep)
	if err != nil {
		classified := classifyEstablishment(e.path, err)
		if e.logger != nil {
			e.logger.Error("Listener registration failed",
				logging.String("entity_path", e.path),
				logging.String("kind", classified.Kind.String()),
				logging.Error(err))
		}
		return nil, classified
	}
	return ctrl, nil
}
