package station

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/luma/photon/protocol"
	"github.com/luma/photon/stream"
)

type message interface{}

type (
	recvData struct {
		data []byte
	}

	// checkQueue is posted by retry timers. id is the stream's generation
	// when the timer was armed.
	checkQueue struct {
		stream protocol.StreamType
		id     uint64
	}

	sendUnreliable struct {
		stream  protocol.StreamType
		payload []byte
		result  chan error
	}

	sendReliable struct {
		stream     protocol.StreamType
		payload    []byte
		completion *Completion
	}

	subscribe struct {
		stream  protocol.StreamType
		handler PayloadHandler
	}

	ping struct{}

	snapshot struct {
		result chan []StreamStatus
	}
)

type queuedPacket struct {
	payload  []byte
	counter  uint16
	enqueued time.Time
	attempts int

	// frame is the encoding of payload with counter, reused for retries
	frame []byte

	completion *Completion
}

type streamState struct {
	*stream.State

	queue      []*queuedPacket
	generation uint64
	handler    PayloadHandler

	received    uint64
	lastPayload []byte
}

func (e *Exchange) loop(ctx context.Context) {
	defer e.failPending()
	defer e.closeStop()

	e.publishLink()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("Context cancelled, exiting...")
			return

		case <-e.stop:
			return

		case msg := <-e.inbox:
			e.handle(msg)
		}
	}
}

func (e *Exchange) handle(msg message) {
	switch m := msg.(type) {
	case recvData:
		e.acceptInput(m.data)

	case checkQueue:
		st := e.streams[m.stream]
		if m.id != st.generation {
			// A receipt or a newer enqueue got here first
			return
		}

		e.checkQueue(st)

	case sendUnreliable:
		m.result <- e.sendUnreliable(e.streams[m.stream], m.payload)

	case sendReliable:
		e.enqueue(e.streams[m.stream], m.payload, m.completion)

	case subscribe:
		e.streams[m.stream].handler = m.handler

	case ping:
		if !e.dataReceived {
			e.log.Debug("No data received, probing link")

			if err := e.sendUnreliable(e.streams[protocol.Cmd], nil); err != nil {
				e.errors(err)
			}
		}

		e.dataReceived = false

	case snapshot:
		status := make([]StreamStatus, 0, protocol.NumStreamTypes)
		for _, st := range e.streams {
			status = append(status, st.status())
		}

		m.result <- status

	default:
		e.log.Error("Unknown message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (e *Exchange) acceptInput(data []byte) {
	if size := e.ring.Cap(); len(data) > size {
		e.log.Warn("Input larger than the inbound buffer, dropping oldest bytes",
			zap.Int("bytes", len(data)-size))
		data = data[len(data)-size:]
	}

	if over := len(data) - e.ring.Free(); over > 0 {
		e.log.Debug("Received junk", zap.Int("bytes", over))
		e.ring.Erase(over)
	}

	e.ring.Write(data)

	for {
		frame, err := e.scanner.Next()
		if err != nil {
			e.errors(err)
			continue
		}

		if frame == nil {
			return
		}

		packet, err := protocol.DecodeFrame(frame)
		if err != nil {
			e.errors(err)
			e.scanner.Skip()
			continue
		}

		// Nothing below retains the staging buffer
		e.scanner.Consume()
		e.dataReceived = true

		if err := e.handlePacket(packet); err != nil {
			e.errors(err)
		}
	}
}

func (e *Exchange) handlePacket(packet protocol.Packet) error {
	h := packet.Header

	if h.SrcAddress != e.peer {
		return fmt.Errorf("Received packet from %d: %w", h.SrcAddress, protocol.ErrInvalidSrcAddress)
	}

	if h.DestAddress != e.self {
		return fmt.Errorf("Received packet for %d: %w", h.DestAddress, protocol.ErrInvalidDestAddress)
	}

	if h.Direction != protocol.Downlink {
		return fmt.Errorf("Received %s packet: %w", h.Direction, protocol.ErrInvalidDirection)
	}

	st := e.streams[h.StreamType]

	switch h.PacketType {
	case protocol.Unreliable:
		st.ObserveUnreliable(h.Counter)
		st.received++
		st.lastPayload = append(st.lastPayload[:0], packet.Payload...)

		if st.handler != nil {
			st.handler(h, append([]byte(nil), packet.Payload...))
		}

		e.publish(st)
		return nil

	case protocol.Reliable:
		return fmt.Errorf("Received reliable downlink %s packet: %w", h.StreamType, protocol.ErrUnsupportedPacket)

	default:
		return e.acceptReceipt(h, packet.Payload, st)
	}
}

// acceptReceipt matches a receipt against the head of the stream's queue.
// A receipt that does not match never changes the queue.
func (e *Exchange) acceptReceipt(h protocol.Header, payload []byte, st *streamState) error {
	receipt, err := protocol.DecodeReceipt(payload)
	if err != nil {
		return err
	}

	if receipt.Type == protocol.ReceiptCounterCorrection {
		e.log.Warn("Received counter correction",
			zap.Stringer("stream", st.Type),
			zap.Uint16("from", st.Reliable.Current),
			zap.Uint16("to", receipt.Counter))

		st.CorrectReliable(receipt.Counter)
		e.checkQueue(st)
		e.publish(st)
		return nil
	}

	if len(st.queue) == 0 {
		return fmt.Errorf("Received %s %s receipt for %d, but no packets are queued: %w",
			st.Type, receipt.Type, h.Counter, ErrUnexpectedReceipt)
	}

	head := st.queue[0]
	if head.counter != h.Counter {
		return fmt.Errorf("Received %s %s receipt for %d, but %d is queued: %w",
			st.Type, receipt.Type, h.Counter, head.counter, ErrUnexpectedReceipt)
	}

	if receipt.Type == protocol.ReceiptOk {
		st.AdvanceReliable()
	}

	resp := Response{
		Type:     receipt.Type,
		Counter:  h.Counter,
		TickTime: h.TickTime,
		Payload:  append([]byte(nil), receipt.Data...),
	}

	e.log.Debug("Received receipt",
		zap.Stringer("stream", st.Type),
		zap.Stringer("receipt", receipt.Type),
		zap.Uint16("counter", h.Counter),
		zap.Int("attempts", head.attempts),
		zap.Duration("latency", time.Since(head.enqueued)))

	st.queue[0] = nil
	st.queue = st.queue[1:]
	st.generation++
	head.completion.resolve(resp, nil)

	if err := resp.Err(); err != nil {
		e.errors(fmt.Errorf("Sent %s packet %d: %w", st.Type, h.Counter, err))
	}

	e.checkQueue(st)
	e.publish(st)
	return nil
}

// enqueue appends a reliable packet to the stream's queue, transmitting it
// straight away if the stream was idle.
func (e *Exchange) enqueue(st *streamState, payload []byte, completion *Completion) {
	packet := &queuedPacket{
		payload:    payload,
		counter:    st.Reliable.Current,
		enqueued:   time.Now(),
		completion: completion,
	}

	// Reject anything that could never be sent before it blocks the queue
	frame, err := e.encode(protocol.Reliable, st.Type, packet.counter, payload)
	if err != nil {
		completion.resolve(Response{}, err)
		return
	}

	packet.frame = frame
	st.queue = append(st.queue, packet)

	if len(st.queue) == 1 {
		e.checkQueue(st)
	} else {
		st.generation++
		e.arm(st)
	}

	e.publish(st)
}

// checkQueue (re)transmits the head of the queue and arms its retry timer.
// The head always goes out with the stream's current counter, which only
// differs from the one it was queued with after a counter correction or
// when it has just moved up the queue.
func (e *Exchange) checkQueue(st *streamState) {
	if len(st.queue) == 0 {
		return
	}

	head := st.queue[0]

	if head.counter != st.Reliable.Current || head.frame == nil {
		frame, err := e.encode(protocol.Reliable, st.Type, st.Reliable.Current, head.payload)
		if err != nil {
			st.queue = st.queue[1:]
			head.completion.resolve(Response{}, err)
			e.checkQueue(st)
			return
		}

		head.counter = st.Reliable.Current
		head.frame = frame
	}

	head.attempts++
	if head.attempts > 1 {
		e.log.Debug("Retransmitting",
			zap.Stringer("stream", st.Type),
			zap.Uint16("counter", head.counter),
			zap.Int("attempt", head.attempts))
	}

	if err := e.sink.SendData(head.frame); err != nil {
		e.errors(fmt.Errorf("Failed to send %s packet %d: %w", st.Type, head.counter, err))
	}

	st.generation++
	e.arm(st)
}

func (e *Exchange) arm(st *streamState) {
	msg := checkQueue{stream: st.Type, id: st.generation}

	time.AfterFunc(e.retryInterval, func() {
		// Fails once the exchange is closed, at which point nothing is
		// waiting for this timer anymore
		_ = e.post(context.Background(), msg)
	})
}

func (e *Exchange) sendUnreliable(st *streamState, payload []byte) error {
	frame, err := e.encode(protocol.Unreliable, st.Type, st.Unreliable.Current, payload)
	if err != nil {
		return err
	}

	st.NextUnreliable()

	if err := e.sink.SendData(frame); err != nil {
		return fmt.Errorf("Failed to send %s packet: %w", st.Type, err)
	}

	e.publish(st)
	return nil
}

func (e *Exchange) encode(pt protocol.PacketType, t protocol.StreamType, counter uint16, payload []byte) ([]byte, error) {
	header := protocol.Header{
		SrcAddress:  e.self,
		DestAddress: e.peer,
		Direction:   protocol.Uplink,
		PacketType:  pt,
		StreamType:  t,
		Counter:     counter,
		TickTime:    e.clock(),
	}

	return protocol.AppendFrame(nil, header, payload, e.maxFrameSize)
}

// failPending resolves every queued packet with ErrExchangeClosed. Only
// called once the exchange goroutine is done with its streams.
func (e *Exchange) failPending() {
	for _, st := range e.streams {
		for _, packet := range st.queue {
			packet.completion.resolve(Response{}, ErrExchangeClosed)
		}

		st.queue = nil
	}
}
