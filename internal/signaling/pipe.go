package signaling

import (
	"context"
	"errors"
	"sync"

	"github.com/vovakirdan/wirecall/internal/proto"
)

// ErrPipeClosed is returned by Send after either end has closed.
var ErrPipeClosed = errors.New("signaling pipe closed")

const pipeBuffer = 64

// Pipe returns two connected in-memory transports: everything sent on one
// end is received on the other, in order. Used by tests and by the relay
// to hand engines a loopback channel.
func Pipe() (Transport, Transport) {
	ab := make(chan proto.Envelope, pipeBuffer)
	ba := make(chan proto.Envelope, pipeBuffer)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &pipeEnd{out: ab, in: ba, done: done, once: once}
	b := &pipeEnd{out: ba, in: ab, done: done, once: once}
	return a, b
}

type pipeEnd struct {
	out  chan proto.Envelope
	in   chan proto.Envelope
	done chan struct{}
	once *sync.Once
}

func (p *pipeEnd) Send(ctx context.Context, env proto.Envelope) error {
	select {
	case <-p.done:
		return ErrPipeClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.out <- env:
		return nil
	}
}

func (p *pipeEnd) Events() <-chan proto.Envelope {
	return p.in
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
