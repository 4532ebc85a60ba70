// Package station implements the control station side of a link.
//
// An Exchange owns every stream's queue and counters from a single goroutine
// and is driven entirely by messages: inbound bytes, send requests, retry
// timers and the liveness ping all arrive through its inbox. Retry timers
// are never cancelled. Each one carries the generation of its stream at the
// time it was armed and is ignored if the stream has moved on since.
package station

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/photon/internal/ringbuf"
	"github.com/luma/photon/protocol"
	"github.com/luma/photon/storage"
	"github.com/luma/photon/stream"
)

const (
	DefaultRetryInterval = time.Second
	DefaultPingInterval  = time.Second

	// InboxSize is the number of messages that can be waiting for the
	// exchange before senders block.
	InboxSize = 255
)

var ErrAlreadyStarted = errors.New("Exchange has already been started")

// Sink carries encoded frames to the device.
type Sink interface {
	SendData(data []byte) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(data []byte) error

func (f SinkFunc) SendData(data []byte) error {
	return f(data)
}

// ErrorSink receives a descriptive error for every malformed or unexpected
// input. It is called from the exchange goroutine and must not block.
type ErrorSink func(err error)

// PayloadHandler receives the payload of unreliable packets on the stream
// it is subscribed to. It is called from the exchange goroutine and must not
// block. payload is owned by the handler.
type PayloadHandler func(h protocol.Header, payload []byte)

type Options struct {
	SelfAddress uint64
	PeerAddress uint64

	// MaxFrameSize defaults to protocol.DefaultMaxFrameSize
	MaxFrameSize int

	// BufferSize is the capacity of the inbound ring buffer
	BufferSize int

	RetryInterval time.Duration
	PingInterval  time.Duration

	Sink Sink

	// Errors defaults to logging every error at Warn
	Errors ErrorSink

	// Store, if set, receives the status of every stream under
	// streams.<name>
	Store storage.Store

	// Clock returns the tick time stamped on outbound packets. Defaults to
	// milliseconds since the exchange was created.
	Clock func() uint64

	Log *zap.Logger
}

type Exchange struct {
	self uint64
	peer uint64

	maxFrameSize  int
	retryInterval time.Duration
	pingInterval  time.Duration

	sink   Sink
	errors ErrorSink
	store  storage.Store
	clock  func() uint64

	inbox chan message

	startOnce  sync.Once
	stopOnce   sync.Once
	stop       chan struct{}
	loopWaiter sync.WaitGroup

	// Everything below is owned by the exchange goroutine
	ring         *ringbuf.RingBuf
	scanner      *protocol.Scanner
	counters     *stream.Registry
	streams      [protocol.NumStreamTypes]*streamState
	dataReceived bool

	log *zap.Logger
}

func New(options Options) (*Exchange, error) {
	if options.Sink == nil {
		return nil, errors.New("Failed to create exchange: a sink is required")
	}

	maxFrameSize := options.MaxFrameSize
	if maxFrameSize <= 0 {
		maxFrameSize = protocol.DefaultMaxFrameSize
	}

	bufferSize := options.BufferSize
	if bufferSize <= 0 {
		bufferSize = 4 * maxFrameSize
	}

	ring, err := ringbuf.New(bufferSize)
	if err != nil {
		return nil, fmt.Errorf("Failed to create inbound buffer: %w", err)
	}

	retryInterval := options.RetryInterval
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}

	pingInterval := options.PingInterval
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	log = log.With(zap.Uint64("self", options.SelfAddress), zap.Uint64("peer", options.PeerAddress))

	clock := options.Clock
	if clock == nil {
		started := time.Now()
		clock = func() uint64 {
			return uint64(time.Since(started).Milliseconds())
		}
	}

	e := &Exchange{
		self:          options.SelfAddress,
		peer:          options.PeerAddress,
		maxFrameSize:  maxFrameSize,
		retryInterval: retryInterval,
		pingInterval:  pingInterval,
		sink:          options.Sink,
		errors:        options.Errors,
		store:         options.Store,
		clock:         clock,
		inbox:         make(chan message, InboxSize),
		stop:          make(chan struct{}),
		ring:          ring,
		scanner:       protocol.NewScanner(ring, maxFrameSize, log.Named("scanner")),
		counters:      stream.NewRegistry(),
		log:           log,
	}

	for _, t := range protocol.StreamTypes {
		e.streams[t] = &streamState{State: e.counters.MustGet(t)}
	}

	if e.errors == nil {
		e.errors = e.logError
	}

	return e, nil
}

// Start launches the exchange and its liveness ping. The exchange stops
// when ctx is cancelled or Close is called.
func (e *Exchange) Start(ctx context.Context) error {
	started := false
	e.startOnce.Do(func() {
		started = true
	})

	if !started {
		return ErrAlreadyStarted
	}

	e.log.Info("Starting exchange")

	e.loopWaiter.Add(2)

	go func() {
		defer e.loopWaiter.Done()
		e.loop(ctx)
	}()

	go func() {
		defer e.loopWaiter.Done()
		e.pingLoop(ctx)
	}()

	return nil
}

// Close stops the exchange. Every packet still waiting for a receipt is
// failed with ErrExchangeClosed.
func (e *Exchange) Close() error {
	e.closeStop()
	e.loopWaiter.Wait()

	// Nothing else reads the inbox anymore
	for {
		select {
		case msg := <-e.inbox:
			if req, ok := msg.(sendReliable); ok {
				req.completion.resolve(Response{}, ErrExchangeClosed)
			}

			if req, ok := msg.(sendUnreliable); ok {
				req.result <- ErrExchangeClosed
			}

		default:
			e.failPending()
			e.log.Info("Exchange stopped")
			return nil
		}
	}
}

func (e *Exchange) closeStop() {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
}

// AcceptInput hands bytes received from the device to the exchange.
func (e *Exchange) AcceptInput(data []byte) {
	msg := recvData{data: append([]byte(nil), data...)}

	if err := e.post(context.Background(), msg); err != nil {
		e.log.Debug("Dropped input", zap.Int("bytes", len(data)), zap.Error(err))
	}
}

// SendUnreliable sends payload once on stream t.
func (e *Exchange) SendUnreliable(ctx context.Context, t protocol.StreamType, payload []byte) error {
	if !t.Valid() {
		return fmt.Errorf("Failed to send on %s: %w", t, protocol.ErrUnknownStream)
	}

	result := make(chan error, 1)
	msg := sendUnreliable{
		stream:  t,
		payload: append([]byte(nil), payload...),
		result:  result,
	}

	if err := e.post(ctx, msg); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err

	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendReliable queues payload on stream t. The packet is retransmitted
// until the device acknowledges it, the returned Completion resolves with
// the device's receipt.
func (e *Exchange) SendReliable(ctx context.Context, t protocol.StreamType, payload []byte) (*Completion, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("Failed to send on %s: %w", t, protocol.ErrUnknownStream)
	}

	completion := newCompletion()
	msg := sendReliable{
		stream:     t,
		payload:    append([]byte(nil), payload...),
		completion: completion,
	}

	if err := e.post(ctx, msg); err != nil {
		return nil, err
	}

	return completion, nil
}

// Subscribe routes unreliable payloads received on stream t to handler,
// replacing any previous subscription. A nil handler unsubscribes.
func (e *Exchange) Subscribe(ctx context.Context, t protocol.StreamType, handler PayloadHandler) error {
	if !t.Valid() {
		return fmt.Errorf("Failed to subscribe to %s: %w", t, protocol.ErrUnknownStream)
	}

	return e.post(ctx, subscribe{stream: t, handler: handler})
}

// Status returns a snapshot of every stream in wire order.
func (e *Exchange) Status(ctx context.Context) ([]StreamStatus, error) {
	result := make(chan []StreamStatus, 1)

	if err := e.post(ctx, snapshot{result: result}); err != nil {
		return nil, err
	}

	select {
	case status := <-result:
		return status, nil

	case <-e.stop:
		return nil, ErrExchangeClosed

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Exchange) post(ctx context.Context, msg message) error {
	if !e.isRunning() {
		return ErrExchangeClosed
	}

	select {
	case e.inbox <- msg:
		return nil

	case <-e.stop:
		return ErrExchangeClosed

	case <-ctx.Done():
		return ctx.Err()
	}
}

// isRunning returns true if the exchange has not been stopped
func (e *Exchange) isRunning() bool {
	select {
	case <-e.stop:
		return false

	default:
		return true
	}
}

func (e *Exchange) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(e.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-e.stop:
			return

		case <-ticker.C:
			if err := e.post(ctx, ping{}); err != nil {
				return
			}
		}
	}
}

func (e *Exchange) logError(err error) {
	e.log.Warn("Exchange error",
		zap.String("kind", string(protocol.KindOf(err))),
		zap.Error(err))
}
