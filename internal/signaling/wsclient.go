package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/proto"
)

// ErrClientClosed is returned by Send after Close.
var ErrClientClosed = errors.New("signaling client closed")

// ClientOptions configures the websocket signaling client.
type ClientOptions struct {
	// URL is the relay websocket endpoint, e.g. ws://host:8080/ws.
	URL string

	// Token authenticates the connection (Bearer header).
	Token string

	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration

	// MaxReconnectWait caps the reconnect backoff. Zero disables
	// reconnection: the first read error shuts the transport down.
	MaxReconnectWait time.Duration

	Logger *zerolog.Logger
}

// Client is the production Transport: a websocket connection to the
// relay with automatic reconnection. Events are delivered in the order
// the relay sent them; the events channel closes when the client stops.
type Client struct {
	opts   ClientOptions
	events chan proto.Envelope

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to the relay and starts the read loop. The initial dial
// failing is surfaced immediately so a call cannot start on a dead
// channel.
func Dial(ctx context.Context, opts ClientOptions) (*Client, error) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:   opts,
		events: make(chan proto.Envelope, 64),
		ctx:    runCtx,
		cancel: cancel,
	}

	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	c.conn = conn

	go c.readLoop()
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, _, err := websocket.Dial(dialCtx, c.opts.URL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Send writes one envelope to the relay.
func (c *Client) Send(ctx context.Context, env proto.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClientClosed
	}
	if conn == nil {
		return fmt.Errorf("send %s: not connected", env.Type)
	}
	if err := wsjson.Write(ctx, conn, env); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

// Events returns the incoming envelope stream.
func (c *Client) Events() <-chan proto.Envelope {
	return c.events
}

// Close shuts the client down. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "closing")
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.events)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		var env proto.Envelope
		if err := wsjson.Read(c.ctx, conn, &env); err != nil {
			if c.ctx.Err() != nil {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			c.opts.Logger.Warn().Err(err).Msg("signaling read failed")
			if !c.reconnect() {
				return
			}
			continue
		}

		select {
		case c.events <- env:
		case <-c.ctx.Done():
			return
		}
	}
}

// reconnect re-dials with exponential backoff. Returns false when the
// client is closed or reconnection is disabled or exhausted.
func (c *Client) reconnect() bool {
	if c.opts.MaxReconnectWait == 0 {
		return false
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = c.opts.MaxReconnectWait
	policy.MaxElapsedTime = 0

	attempt := func() error {
		conn, err := c.dial(c.ctx)
		if err != nil {
			return err
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close(websocket.StatusNormalClosure, "closing")
			return nil
		}
		c.conn = conn
		c.mu.Unlock()
		return nil
	}

	err := backoff.Retry(attempt, backoff.WithContext(policy, c.ctx))
	if err != nil {
		c.opts.Logger.Error().Err(err).Msg("signaling reconnect failed")
		return false
	}

	c.mu.Lock()
	alive := !c.closed
	c.mu.Unlock()
	if alive {
		c.opts.Logger.Info().Str("url", c.opts.URL).Msg("signaling reconnected")
	}
	return alive
}
