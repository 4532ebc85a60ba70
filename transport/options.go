package transport

import (
	"go.uber.org/zap"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on. Zero picks a free port, which is only useful with a
	// single listener.
	Port int

	// NumListeners is the number of SO_REUSEPORT listeners bound to the
	// address. Defaults to 1, a link only ever has one active peer.
	NumListeners int

	// Receiver gets every chunk of bytes read from the active link
	Receiver Receiver

	// WriteQueueSize is the number of frames that can wait to be written
	WriteQueueSize int

	Log *zap.Logger
}
