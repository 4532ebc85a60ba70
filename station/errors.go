package station

import (
	"errors"
	"fmt"

	"github.com/luma/photon/protocol"
)

var (
	ErrExchangeClosed    = errors.New("Exchange is closed")
	ErrUnexpectedReceipt = errors.New("Received a receipt that matches no queued packet")

	ErrPacketRejected  = errors.New("Device rejected the packet")
	ErrPayloadRejected = fmt.Errorf("Device rejected the payload: %w", protocol.ErrPayloadRejected)
)
