package relay

import (
	"context"

	"github.com/relaykit/go-relay/internal/logging"
)

// Client originates connections to a listener through the relay. A Client
// holds no per-connection state: every CreateConnection call is an
// independent establishment attempt, and any number of them may run
// concurrently.
type Client struct {
	est    *establishment
	logger *logging.Logger
}

// NewClient creates a client for the entity described by cfg.
func NewClient(cfg *Config) (*Client, error) {
	est, err := newEstablishment(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{est: est, logger: est.logger}, nil
}

// CreateConnection establishes one new stream to the listener. Establishment
// runs exactly once per call; failures are surfaced classified
// (endpoint-not-found, authorization-failed, transport-failure, cancelled)
// and never retried internally.
func (c *Client) CreateConnection(ctx context.Context) (*Stream, error) {
	ch, err := c.est.connect(ctx)
	if err != nil {
		return nil, err
	}
	stream := newStream(ch, c.est.path, c.logger)
	if c.logger != nil {
		c.logger.Debug("Connection established",
			logging.String("entity_path", c.est.path),
			logging.String("stream_id", stream.ID()))
	}
	return stream, nil
}
