package device

import (
	"errors"
	"fmt"

	"github.com/luma/photon/protocol"
)

var (
	ErrNoDataAvailable   = errors.New("No data available")
	ErrNoDescriptorsLeft = errors.New("No link descriptors left")
	ErrUnknownPeer       = errors.New("No link registered for peer")
	ErrDuplicatePeer     = errors.New("A link is already registered for peer")
	ErrReplyPending      = errors.New("A packet is already queued on this link")
	ErrBufferTooSmall    = errors.New("Inbound buffer cannot hold a maximum size frame")
)

var errFirmwareFromUav = fmt.Errorf("Received firmware packet from uav: %w", protocol.ErrUnsupportedPacket)

func errNoHandler(t protocol.StreamType) error {
	return fmt.Errorf("Received %s packet but no handler is registered: %w", t, protocol.ErrUnsupportedPacket)
}

func errUnsupportedStream(t protocol.StreamType) error {
	return fmt.Errorf("Received %s packet, which is not supported in the uplink direction: %w",
		t, protocol.ErrUnsupportedPacket)
}
