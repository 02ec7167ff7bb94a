// Package signaling provides the event channel between a call engine and
// the relay: a bidirectional, ordered stream of protocol envelopes. The
// engine only depends on the Transport interface; the websocket client is
// the production implementation and Pipe backs tests and local setups.
package signaling

import (
	"context"

	"github.com/vovakirdan/wirecall/internal/proto"
)

// Transport is a bidirectional, ordered, at-most-once event channel to
// the signaling relay. Events for one session arrive in send order.
type Transport interface {
	// Send delivers one envelope to the relay.
	Send(ctx context.Context, env proto.Envelope) error

	// Events returns the stream of incoming envelopes. The channel closes
	// when the transport shuts down.
	Events() <-chan proto.Envelope

	// Close tears the channel down. Idempotent.
	Close() error
}
