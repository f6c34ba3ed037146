// Package transport adapts physical bidirectional audio channels to the
// frame pipeline.
package transport

import (
	"context"
	"errors"

	"github.com/AltairaLabs/IntakeKit/pipeline/stage"
)

// ErrClosed is returned when sending on a transport that has shut down.
var ErrClosed = errors.New("transport closed")

// Observer receives transport lifecycle callbacks.
//
// OnConnected fires once the channel has completed its handshake and the
// stream and call identifiers are known; both are opaque correlation tokens.
// OnDisconnected fires exactly once when the channel ends, whether by an
// orderly stop or a failure.
type Observer interface {
	OnConnected(streamID, callID string)
	OnDisconnected(reason string)
}

// ObserverFuncs adapts plain functions to the Observer interface.
// Nil fields are ignored.
type ObserverFuncs struct {
	Connected    func(streamID, callID string)
	Disconnected func(reason string)
}

// OnConnected implements Observer.
func (o ObserverFuncs) OnConnected(streamID, callID string) {
	if o.Connected != nil {
		o.Connected(streamID, callID)
	}
}

// OnDisconnected implements Observer.
func (o ObserverFuncs) OnDisconnected(reason string) {
	if o.Disconnected != nil {
		o.Disconnected(reason)
	}
}

// Transport wraps one physical bidirectional audio channel.
//
// Frames yields inbound caller audio and control frames; the channel closes
// after the remote end disconnects. SendAudio writes one chunk of agent audio
// to the caller. Close releases the channel; it is safe to call more than
// once.
type Transport interface {
	Frames() <-chan stage.Frame
	SendAudio(ctx context.Context, chunk *stage.AudioChunk) error
	Close() error
}
