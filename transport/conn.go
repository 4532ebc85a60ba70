package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
)

const (
	DefaultWriteQueueSize = 127
	readBufferSize        = 4096
)

var (
	ErrConnClosed     = errors.New("Connection is closed")
	ErrWriteQueueFull = errors.New("Connection write queue is full")
	ErrNotConnected   = errors.New("No link is connected")
)

// Receiver consumes bytes read from a link. Chunks are owned by the
// receiver.
type Receiver interface {
	AcceptInput(data []byte)
}

// Conn runs a read loop and a write loop over a byte link such as a TCP
// connection or a serial port.
type Conn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup

	rw       io.ReadWriteCloser
	receiver Receiver

	writeQueue chan []byte

	closeOnce sync.Once
	closeErr  error

	log *zap.Logger
}

func NewConn(
	parentCtx context.Context,
	rw io.ReadWriteCloser,
	receiver Receiver,
	queueSize int,
	log *zap.Logger,
) *Conn {
	ctx, cancel := context.WithCancel(parentCtx)

	if queueSize <= 0 {
		queueSize = DefaultWriteQueueSize
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Conn{
		ctx:        ctx,
		cancel:     cancel,
		rw:         rw,
		receiver:   receiver,
		writeQueue: make(chan []byte, queueSize),
		log:        log,
	}
}

// Start launches the read and write loops. The connection stops when either
// loop fails, the parent context is cancelled or Close is called.
func (c *Conn) Start() {
	c.loopWaiter.Add(2)

	go func() {
		defer c.loopWaiter.Done()
		c.ReadLoop()
	}()

	go func() {
		defer c.loopWaiter.Done()
		c.WriteLoop()
	}()
}

// Wait blocks until both loops have exited, then releases the link.
func (c *Conn) Wait() error {
	c.loopWaiter.Wait()
	return c.closeLink()
}

// Done is closed once the connection has started shutting down.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Conn) Close() error {
	c.cancel()

	// Unblocks a read loop stuck in Read
	err := c.closeLink()

	c.loopWaiter.Wait()

	return err
}

func (c *Conn) closeLink() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rw.Close()
	})

	return c.closeErr
}

func (c *Conn) ReadLoop() {
	log := c.log.Named("readLoop")

	defer func() {
		// Our write loop goes down with us
		c.cancel()
		log.Debug("Read loop exited")
	}()

	buf := make([]byte, readBufferSize)

	for {
		n, err := c.rw.Read(buf)
		if n > 0 {
			c.receiver.AcceptInput(append([]byte(nil), buf[:n]...))
		}

		if err != nil {
			switch {
			case !c.isRunning():
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				log.Info("Link closed by peer")
			default:
				log.Warn("Failed to read from link", zap.Error(err))
			}

			return
		}
	}
}

func (c *Conn) WriteLoop() {
	log := c.log.Named("writeLoop")
	defer log.Debug("Write loop exited")

	for {
		select {
		case <-c.ctx.Done():
			return

		case data := <-c.writeQueue:
			if _, err := c.rw.Write(data); err != nil {
				if c.isRunning() {
					log.Error("Failed to write to link", zap.Int("bytes", len(data)), zap.Error(err))
					c.cancel()
				}

				return
			}
		}
	}
}

// SendData queues data for the write loop. It never blocks, a full queue
// drops the data.
func (c *Conn) SendData(data []byte) error {
	if !c.isRunning() {
		return ErrConnClosed
	}

	select {
	case c.writeQueue <- append([]byte(nil), data...):
		return nil

	default:
		return ErrWriteQueueFull
	}
}

// isRunning returns true if the connection has not started shutting down
func (c *Conn) isRunning() bool {
	select {
	case <-c.ctx.Done():
		return false

	default:
		return true
	}
}
