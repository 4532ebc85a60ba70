package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// TCP accepts device links. Only one link is active at a time, the most
// recently accepted connection replaces the previous one for outbound data
// while older connections keep feeding the receiver until they close.
type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr string

	numListeners int
	listeners    []*TCPListener

	receiver  Receiver
	queueSize int

	mu     sync.Mutex
	active *Conn
	conns  map[*Conn]struct{}

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners
	if numListeners < 1 {
		numListeners = 1
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &TCP{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		receiver:     options.Receiver,
		queueSize:    options.WriteQueueSize,
		conns:        make(map[*Conn]struct{}),
		log:          log,
	}
}

// Start binds every listener before returning, so the address accepts
// connections as soon as Start succeeds.
func (t *TCP) Start(parentCtx context.Context) error {
	if t.receiver == nil {
		return errors.New("Failed to start TCP link: a receiver is required")
	}

	ctx, cancel := context.WithCancel(parentCtx)
	t.cancel = cancel

	t.log.Info("Starting tcp listeners", zap.String("addr", t.addr), zap.Int("count", t.numListeners))

	for i := 0; i < t.numListeners; i++ {
		if err := t.startListener(ctx, i); err != nil {
			return multierr.Append(err, t.Close())
		}
	}

	return nil
}

func (t *TCP) startListener(ctx context.Context, id int) error {
	listener, err := reuseport.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("Failed to listen on %s: %w", t.addr, err)
	}

	l := &TCPListener{
		ctx:      ctx,
		listener: listener,
		link:     t,
		log:      t.log.Named("listener").With(zap.Int("listener", id)),
	}

	t.listeners = append(t.listeners, l)

	t.stopWaiter.Add(1)
	go func() {
		defer t.stopWaiter.Done()

		if err := l.Accept(); err != nil {
			t.log.Error("Listener failed", zap.Error(err))
		}
	}()

	return nil
}

// Addr is the address of the first listener.
func (t *TCP) Addr() net.Addr {
	if len(t.listeners) == 0 {
		return nil
	}

	return t.listeners[0].listener.Addr()
}

// SendData queues data on the active link.
func (t *TCP) SendData(data []byte) error {
	t.mu.Lock()
	active := t.active
	t.mu.Unlock()

	if active == nil {
		return ErrNotConnected
	}

	return active.SendData(data)
}

// Connected reports whether a link is active.
func (t *TCP) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.active != nil
}

// Close immediately closes all listeners and connections.
func (t *TCP) Close() (err error) {
	t.log.Info("Stopping TCP link")

	if t.cancel != nil {
		t.cancel()
	}

	for _, listener := range t.listeners {
		err = multierr.Append(err, listener.Close())
	}

	t.mu.Lock()
	conns := make([]*Conn, 0, len(t.conns))
	for conn := range t.conns {
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}

	t.stopWaiter.Wait()
	t.log.Info("TCP link stopped")

	return err
}

func (t *TCP) addConn(conn *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active != nil {
		t.log.Info("Replacing active link")
	}

	t.active = conn
	t.conns[conn] = struct{}{}
}

func (t *TCP) removeConn(conn *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.conns, conn)

	if t.active == conn {
		t.active = nil
	}
}

type TCPListener struct {
	ctx      context.Context
	listener net.Listener
	link     *TCP

	closeOnce sync.Once
	closeErr  error

	log *zap.Logger
}

func (l *TCPListener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.listener.Close()
	})

	return l.closeErr
}

func (l *TCPListener) Accept() error {
	var loopWaiter sync.WaitGroup

	defer func() {
		l.log.Info("Waiting for Read/Write loops to stop")
		loopWaiter.Wait()
		l.log.Info("Listener stopped")
	}()

	go func() {
		<-l.ctx.Done()

		if err := l.Close(); err != nil {
			l.log.Warn("TCP Listener did not close cleanly", zap.Error(err))
		}
	}()

	for {
		netConn, err := l.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// The listener was closed while we were waiting for new
				// connections, that's fine.
				return nil
			}

			return err
		}

		l.log.Info("Accepted link", zap.Stringer("remote", netConn.RemoteAddr()))

		conn := NewConn(l.ctx, netConn, l.link.receiver, l.link.queueSize, l.log.Named("conn"))
		l.link.addConn(conn)
		conn.Start()

		loopWaiter.Add(1)
		go func() {
			defer loopWaiter.Done()

			if err := conn.Wait(); err != nil && !errors.Is(err, net.ErrClosed) {
				l.log.Warn("Link did not close cleanly", zap.Error(err))
			}

			l.link.removeConn(conn)
		}()
	}
}
