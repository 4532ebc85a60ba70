package station

import (
	"context"
	"sync"

	"github.com/luma/photon/protocol"
)

// Response is the outcome of a reliable packet as reported by the device.
type Response struct {
	Type     protocol.ReceiptType `json:"type"`
	Counter  uint16               `json:"counter"`
	TickTime uint64               `json:"tickTime"`

	// Payload holds whatever followed the receipt type, i.e. the results
	// of the device's stream handler for Ok receipts. The receipt type byte
	// itself is not included, it is decoded into Type. An Ok receipt with
	// no results has an empty Payload.
	Payload []byte `json:"payload"`
}

// Err maps rejection receipts to errors.
func (r Response) Err() error {
	switch r.Type {
	case protocol.ReceiptPacketError:
		return ErrPacketRejected

	case protocol.ReceiptPayloadError:
		return ErrPayloadRejected

	default:
		return nil
	}
}

// Completion resolves once the receipt for a reliable packet arrives.
type Completion struct {
	once sync.Once
	done chan struct{}

	resp Response
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Done is closed once the completion has resolved.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the completion resolves or ctx is done. Rejection
// receipts are returned along with Response.Err.
func (c *Completion) Wait(ctx context.Context) (Response, error) {
	select {
	case <-c.done:
		if c.err != nil {
			return c.resp, c.err
		}

		return c.resp, c.resp.Err()

	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (c *Completion) resolve(resp Response, err error) {
	c.once.Do(func() {
		c.resp = resp
		c.err = err
		close(c.done)
	})
}
