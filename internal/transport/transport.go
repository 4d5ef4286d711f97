// Package transport adapts the inbound message broker to the pipeline.
//
// The contract is at-least-once: every message carries an acknowledgment
// handle, and anything not acked within the broker's lease window is
// redelivered. Acking from many workers concurrently is safe.
package transport

import (
	"context"
	"time"
)

// Message is one raw payload borrowed from the transport. The pipeline owns
// it until Ack or Nak.
type Message struct {
	// Data is the opaque event payload.
	Data []byte

	// Arrival is when the broker first delivered the message.
	Arrival time.Time

	// AckFunc removes the message from the transport.
	AckFunc func() error

	// NakFunc returns the message for redelivery after delay.
	NakFunc func(delay time.Duration) error
}

// Ack acknowledges the message, removing it from the transport.
func (m *Message) Ack() error {
	if m.AckFunc == nil {
		return nil
	}
	return m.AckFunc()
}

// Nak returns the message to the transport for redelivery after delay.
func (m *Message) Nak(delay time.Duration) error {
	if m.NakFunc == nil {
		return nil
	}
	return m.NakFunc(delay)
}

// Puller is the pipeline's view of the inbound transport.
type Puller interface {
	// Fetch pulls up to max messages, waiting at most the transport's
	// configured fetch window. An empty slice with a nil error means the
	// window elapsed with nothing to deliver.
	Fetch(ctx context.Context, max int) ([]*Message, error)

	// Close drains the connection.
	Close() error
}
