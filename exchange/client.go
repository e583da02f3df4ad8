package exchange

import (
	"context"
	"fmt"

	"github.com/edgelesssys/go-attest-coap/transport"
)

// ServerSource returns the ordered candidate servers.
// [*netconfig.Loader] implements it.
type ServerSource interface {
	Load() ([]transport.Endpoint, error)
}

// Client runs complete connect, exchange and close cycles.
type Client struct {
	dialer         *transport.Dialer
	servers        ServerSource
	identity       Identity
	writeRetries   int
	maxMessageSize int
}

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithWriteRetries sets how often a failed write is repeated.
func WithWriteRetries(retries int) ClientOption {
	return func(c *Client) {
		c.writeRetries = retries
	}
}

// WithMaxMessageSize bounds request and response frames.
func WithMaxMessageSize(size int) ClientOption {
	return func(c *Client) {
		c.maxMessageSize = size
	}
}

// NewClient returns a client connecting with dialer to the servers of source.
func NewClient(dialer *transport.Dialer, source ServerSource, identity Identity, opts ...ClientOption) *Client {
	c := &Client{
		dialer:       dialer,
		servers:      source,
		identity:     identity,
		writeRetries: DefaultWriteRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do connects to the first reachable server, performs one exchange and closes the session.
// A failure to close after a successful exchange is logged by the session and not returned.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	servers, err := c.servers.Load()
	if err != nil {
		return Response{}, fmt.Errorf("loading servers: %w", err)
	}

	session, err := c.dialer.Connect(ctx, servers)
	if err != nil {
		return Response{}, err
	}
	defer session.Close()

	exchanger := &Exchanger{
		Conn:           session,
		Host:           session.Endpoint().Host,
		Identity:       c.identity,
		WriteRetries:   c.writeRetries,
		MaxMessageSize: c.maxMessageSize,
	}
	return exchanger.Do(ctx, req)
}

// StaticServers is a fixed candidate list.
type StaticServers []transport.Endpoint

// Load returns a copy of the list.
func (s StaticServers) Load() ([]transport.Endpoint, error) {
	return append([]transport.Endpoint(nil), s...), nil
}
