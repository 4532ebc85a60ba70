package device

import (
	"io"

	"github.com/luma/photon/protocol"
)

// Generator writes the payload of an outbound packet. Returning
// ErrNoDataAvailable means there is nothing to send right now.
type Generator func(w io.Writer) error

// FirmwareHandler consumes firmware transfer commands and produces answers
// for the ground control station.
type FirmwareHandler interface {
	AcceptCommand(h protocol.Header, payload []byte, results io.Writer) error
	HasAnswers() bool
	GenAnswer(w io.Writer) error
}

// CommandHandler executes commands received on the Cmd stream. Anything
// written to results is returned to the sender in the Ok receipt of a
// reliable command.
type CommandHandler interface {
	ExecuteCommand(h protocol.Header, payload []byte, results io.Writer) error
}

// TelemetrySource produces the payload of unreliable telemetry packets.
type TelemetrySource interface {
	CollectMessages(w io.Writer) error
}

// AddressSource reports the address of this device. Registry implements it
// so that every link follows runtime address changes.
type AddressSource interface {
	SelfAddress() uint64
}

// StaticAddress is an AddressSource that never changes.
type StaticAddress uint64

func (a StaticAddress) SelfAddress() uint64 {
	return uint64(a)
}

type inboundHandler func(h protocol.Header, payload []byte, results io.Writer) error

// handlerFor resolves the inbound handler of a stream. Each stream type is
// its own case so a new stream cannot be added without deciding how the
// device treats it.
func (d *Device) handlerFor(t protocol.StreamType) (inboundHandler, error) {
	switch t {
	case protocol.Firmware:
		if d.role != GroundControl {
			return nil, errFirmwareFromUav
		}
		if d.firmware == nil {
			return nil, errNoHandler(t)
		}
		return d.firmware.AcceptCommand, nil

	case protocol.Cmd:
		if d.commands == nil {
			return nil, errNoHandler(t)
		}
		return d.commands.ExecuteCommand, nil

	case protocol.Telem, protocol.User:
		return nil, errUnsupportedStream(t)

	default:
		return nil, errUnsupportedStream(t)
	}
}
