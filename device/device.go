// Package device implements the device side of a link: a synchronous engine
// that acknowledges reliable requests from its peer and generates telemetry
// and firmware answers when asked for the next outbound packet.
//
// A Device is not safe for concurrent use. It is meant to be owned by a
// single goroutine, see Run.
package device

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/luma/photon/internal/ringbuf"
	"github.com/luma/photon/protocol"
	"github.com/luma/photon/stream"
)

// Role is the kind of peer a link faces.
type Role int

const (
	// GroundControl links face a ground control station. They accept
	// firmware packets and emit telemetry.
	GroundControl Role = iota

	// Uav links face another vehicle.
	Uav
)

func (r Role) String() string {
	if r == GroundControl {
		return "groundControl"
	}

	return "uav"
}

// DefaultBufferFrames is the default capacity of the inbound ring buffer,
// in maximum size frames.
const DefaultBufferFrames = 2

type Options struct {
	// Peer is the address of the endpoint on the other side of the link
	Peer uint64

	Role Role

	// Address reports this device's own address. Defaults to
	// StaticAddress(2).
	Address AddressSource

	// MaxFrameSize defaults to protocol.DefaultMaxFrameSize
	MaxFrameSize int

	// BufferSize is the capacity of the inbound ring buffer. Defaults to
	// DefaultBufferFrames maximum size frames, and must hold at least one
	// maximum size frame plus its separator.
	BufferSize int

	Firmware  FirmwareHandler
	Commands  CommandHandler
	Telemetry TelemetrySource

	// Clock returns the tick time stamped on outbound packets. Defaults to
	// milliseconds since the device was created.
	Clock func() uint64

	Log *zap.Logger
}

// request is the single outbound packet a device may have queued.
type request struct {
	header protocol.Header
	gen    Generator

	// unreliable, if set, numbers the packet once its payload has been
	// generated
	unreliable *stream.State
}

type Device struct {
	peer    uint64
	role    Role
	address AddressSource

	maxFrameSize int

	ring    *ringbuf.RingBuf
	scanner *protocol.Scanner
	streams *stream.Registry

	firmware  FirmwareHandler
	commands  CommandHandler
	telemetry TelemetrySource

	hasQueued bool
	request   request

	// results collects handler output, receipt holds the encoded receipt
	// body of the queued reply, payload and out are generation scratch.
	results *protocol.Buffer
	receipt []byte
	payload *protocol.Buffer
	out     []byte

	clock func() uint64

	log *zap.Logger
}

func New(options Options) (*Device, error) {
	maxFrameSize := options.MaxFrameSize
	if maxFrameSize <= 0 {
		maxFrameSize = protocol.DefaultMaxFrameSize
	}

	bufferSize := options.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferFrames * maxFrameSize
	}

	if needed := maxFrameSize + 2; bufferSize < needed {
		return nil, fmt.Errorf("Failed to create device with a %d byte buffer, %d bytes are needed: %w",
			bufferSize, needed, ErrBufferTooSmall)
	}

	ring, err := ringbuf.New(bufferSize)
	if err != nil {
		return nil, fmt.Errorf("Failed to create inbound buffer: %w", err)
	}

	address := options.Address
	if address == nil {
		address = StaticAddress(2)
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	log = log.With(zap.Uint64("peer", options.Peer), zap.Stringer("role", options.Role))

	clock := options.Clock
	if clock == nil {
		started := time.Now()
		clock = func() uint64 {
			return uint64(time.Since(started).Milliseconds())
		}
	}

	return &Device{
		peer:         options.Peer,
		role:         options.Role,
		address:      address,
		maxFrameSize: maxFrameSize,
		ring:         ring,
		scanner:      protocol.NewScanner(ring, maxFrameSize, log.Named("scanner")),
		streams:      stream.NewRegistry(),
		firmware:     options.Firmware,
		commands:     options.Commands,
		telemetry:    options.Telemetry,
		results:      protocol.NewBuffer(maxFrameSize),
		payload:      protocol.NewBuffer(maxFrameSize),
		out:          make([]byte, 0, maxFrameSize+protocol.PrefixSize),
		clock:        clock,
		log:          log,
	}, nil
}

func (d *Device) Peer() uint64 {
	return d.peer
}

func (d *Device) Role() Role {
	return d.role
}

// Streams exposes the counters of every stream on this link.
func (d *Device) Streams() *stream.Registry {
	return d.streams
}

// HasQueued reports whether a packet is waiting for GenNextPacket.
func (d *Device) HasQueued() bool {
	return d.hasQueued
}

// AcceptInput appends bytes received from the peer and processes as many
// frames as possible. If data does not fit, the oldest buffered bytes are
// dropped to make room.
func (d *Device) AcceptInput(data []byte) {
	if size := d.ring.Cap(); len(data) > size {
		d.log.Warn("Input larger than the inbound buffer, dropping oldest bytes",
			zap.Int("bytes", len(data)-size))
		data = data[len(data)-size:]
	}

	if over := len(data) - d.ring.Free(); over > 0 {
		d.log.Debug("Received junk", zap.Int("bytes", over))
		d.ring.Erase(over)
	}

	d.ring.Write(data)
	d.Process()
}

// Process scans buffered input until either it runs out of complete frames
// or a reply has been queued. Once GenNextPacket has taken the reply the
// next call to Process or AcceptInput resumes scanning.
func (d *Device) Process() {
	for !d.hasQueued {
		frame, err := d.scanner.Next()
		if err != nil {
			// The scanner has already skipped past the false separator
			d.invalid(err)
			continue
		}

		if frame == nil {
			return
		}

		d.handleFrame(frame)
	}
}

func (d *Device) handleFrame(frame []byte) {
	packet, err := protocol.DecodeFrame(frame)
	if err != nil {
		d.skip(err)
		return
	}

	h := packet.Header

	if h.Direction != protocol.Uplink {
		d.skip(fmt.Errorf("Received %s packet: %w", h.Direction, protocol.ErrInvalidDirection))
		return
	}

	if h.SrcAddress != d.peer {
		d.skip(fmt.Errorf("Received packet from %d: %w", h.SrcAddress, protocol.ErrInvalidSrcAddress))
		return
	}

	if self := d.address.SelfAddress(); h.DestAddress != self {
		d.skip(fmt.Errorf("Received packet for %d but this device is %d: %w",
			h.DestAddress, self, protocol.ErrInvalidDestAddress))
		return
	}

	handler, err := d.handlerFor(h.StreamType)
	if err != nil {
		d.skip(err)
		return
	}

	state := d.streams.MustGet(h.StreamType)

	switch h.PacketType {
	case protocol.Unreliable:
		state.ObserveUnreliable(h.Counter)

		if h.StreamType == protocol.Cmd && len(packet.Payload) == 0 {
			d.log.Debug("Received link probe", zap.Uint16("counter", h.Counter))
			d.scanner.Consume()
			return
		}

		d.results.Reset()
		if err := handler(h, packet.Payload, d.results); err != nil {
			d.log.Warn("Failed to handle unreliable packet",
				zap.Stringer("stream", h.StreamType),
				zap.String("kind", string(protocol.KindPayload)),
				zap.Error(err))
		}

		d.scanner.Consume()

	case protocol.Reliable:
		if err := state.CheckReliable(h.Counter); err != nil {
			d.queueReceipt(h, protocol.ReceiptPayload{
				Type:    protocol.ReceiptCounterCorrection,
				Counter: state.Reliable.Expected,
			})
			d.skip(err)
			return
		}

		d.results.Reset()
		if err := handler(h, packet.Payload, d.results); err != nil {
			d.log.Warn("Rejected reliable packet payload",
				zap.Stringer("stream", h.StreamType),
				zap.Uint16("counter", h.Counter),
				zap.String("kind", string(protocol.KindPayload)),
				zap.Error(err))

			d.queueReceipt(h, protocol.ReceiptPayload{Type: protocol.ReceiptPayloadError})
			d.scanner.Consume()
			return
		}

		d.queueReceipt(h, protocol.ReceiptPayload{
			Type: protocol.ReceiptOk,
			Data: d.results.Bytes(),
		})
		state.AcceptReliable()
		d.scanner.Consume()

	default:
		d.skip(fmt.Errorf("Received uplink %s: %w", h.PacketType, protocol.ErrUnsupportedPacket))
	}
}

// skip logs an invalid candidate frame and resumes scanning one byte past
// its separator.
func (d *Device) skip(err error) {
	d.invalid(err)
	d.log.Debug("Continuing search with 1 byte offset")
	d.scanner.Skip()
}

func (d *Device) invalid(err error) {
	d.log.Warn("Received invalid packet",
		zap.String("kind", string(protocol.KindOf(err))),
		zap.Error(err))
}

func (d *Device) queueReceipt(incoming protocol.Header, r protocol.ReceiptPayload) {
	d.receipt = protocol.AppendReceipt(d.receipt[:0], r)
	body := d.receipt

	d.queue(request{
		header: protocol.Header{
			SrcAddress:  incoming.DestAddress,
			DestAddress: incoming.SrcAddress,
			Direction:   protocol.Downlink,
			PacketType:  protocol.Receipt,
			StreamType:  incoming.StreamType,
			Counter:     incoming.Counter,
		},
		gen: func(w io.Writer) error {
			_, err := w.Write(body)
			return err
		},
	})
}

func (d *Device) queue(r request) {
	d.request = r
	d.hasQueued = true
}

// QueueCommand queues an unreliable Cmd packet towards the peer. The payload
// is generated when the packet is taken by GenNextPacket.
func (d *Device) QueueCommand(gen Generator) error {
	if d.hasQueued {
		return ErrReplyPending
	}

	d.queue(request{
		header: protocol.Header{
			SrcAddress:  d.address.SelfAddress(),
			DestAddress: d.peer,
			Direction:   protocol.Uplink,
			PacketType:  protocol.Unreliable,
			StreamType:  protocol.Cmd,
		},
		gen:        gen,
		unreliable: d.streams.MustGet(protocol.Cmd),
	})

	return nil
}

// GenNextPacket returns the next frame to send to the peer, or
// ErrNoDataAvailable. The queued reply takes precedence, after that a
// ground control link sends firmware answers if there are any and
// telemetry otherwise.
//
// The returned frame is only valid until the next call.
func (d *Device) GenNextPacket() ([]byte, error) {
	if !d.hasQueued {
		if d.role != GroundControl {
			return nil, ErrNoDataAvailable
		}

		switch {
		case d.firmware != nil && d.firmware.HasAnswers():
			d.queueDownlink(protocol.Firmware, d.firmware.GenAnswer)

		case d.telemetry != nil:
			d.queueDownlink(protocol.Telem, d.telemetry.CollectMessages)

		default:
			return nil, ErrNoDataAvailable
		}
	}

	return d.genPacket()
}

func (d *Device) queueDownlink(t protocol.StreamType, gen Generator) {
	d.queue(request{
		header: protocol.Header{
			SrcAddress:  d.address.SelfAddress(),
			DestAddress: d.peer,
			Direction:   protocol.Downlink,
			PacketType:  protocol.Unreliable,
			StreamType:  t,
		},
		gen:        gen,
		unreliable: d.streams.MustGet(t),
	})
}

func (d *Device) genPacket() ([]byte, error) {
	req := d.request

	// Whatever happens next the request is done with
	d.hasQueued = false
	d.request = request{}

	d.payload.Reset()
	if err := req.gen(d.payload); err != nil {
		if errors.Is(err, ErrNoDataAvailable) {
			return nil, err
		}

		if errors.Is(err, protocol.ErrNotEnoughSpace) {
			d.log.Error("Critical: could not generate packet",
				zap.Stringer("stream", req.header.StreamType),
				zap.String("kind", string(protocol.KindCapacity)),
				zap.Error(err))
		}

		return nil, fmt.Errorf("Failed to generate %s %s packet: %w",
			req.header.StreamType, req.header.PacketType, err)
	}

	header := req.header
	header.TickTime = d.clock()
	if req.unreliable != nil {
		header.Counter = req.unreliable.Unreliable.Current
	}

	out, err := protocol.AppendFrame(d.out[:0], header, d.payload.Bytes(), d.maxFrameSize)
	if err != nil {
		d.log.Error("Critical: could not encode packet",
			zap.Stringer("stream", header.StreamType),
			zap.String("kind", string(protocol.KindOf(err))),
			zap.Error(err))
		return nil, err
	}

	if req.unreliable != nil {
		req.unreliable.NextUnreliable()
	}

	d.out = out
	return out, nil
}
