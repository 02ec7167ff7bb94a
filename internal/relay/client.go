package relay

import "github.com/vovakirdan/wirecall/internal/proto"

const clientEventBuffer = 16

// Client is one authenticated websocket connection as seen by the hub.
// Events is drained by the connection's write loop.
type Client struct {
	ID       string
	UserID   string
	Username string
	Events   chan proto.Envelope
}

// NewClient constructs a client with an initialized event channel.
func NewClient(id, userID, username string) *Client {
	return &Client{
		ID:       id,
		UserID:   userID,
		Username: username,
		Events:   make(chan proto.Envelope, clientEventBuffer),
	}
}

// trySend queues an event without blocking. A full buffer means the
// connection is too slow to matter for real-time signaling; the event is
// dropped and the caller decides whether to log.
func (c *Client) trySend(env proto.Envelope) bool {
	select {
	case c.Events <- env:
		return true
	default:
		return false
	}
}
