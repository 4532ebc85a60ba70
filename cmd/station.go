package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/photon/internal/api"
	"github.com/luma/photon/internal/env"
	"github.com/luma/photon/protocol"
	"github.com/luma/photon/station"
	"github.com/luma/photon/storage"
	"github.com/luma/photon/transport"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for the device link on
	port int
)

func init() {
	flags := StationCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 7363, "The port to listen for the device link on, unless PHOTON_SERIAL_PORT is set")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
}

// stationLink is where the exchange sends its frames
type stationLink interface {
	SendData(data []byte) error
	Close() error
}

var StationCmd = &cobra.Command{
	Use:   "station",
	Short: "Run the control station side of a link",
	Long: `Run the control station side of a link

The station talks to a single device over a serial port (PHOTON_SERIAL_PORT)
or over TCP, and exposes an HTTP API to send packets and read link status.

Usage
	photon station
	PHOTON_SERIAL_PORT=/dev/ttyUSB0 photon station

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}

		defer func() {
			_ = log.Sync()
		}()

		store := storage.NewInmemoryStore()

		var link stationLink

		exchange, err := station.New(station.Options{
			SelfAddress:   conf.StationAddress,
			PeerAddress:   conf.DeviceAddress,
			MaxFrameSize:  conf.MaxFrameSize,
			RetryInterval: conf.RetryInterval,
			PingInterval:  conf.PingInterval,
			Store:         store,
			Log:           log.Named("exchange"),

			// The link is always up before the exchange starts
			Sink: station.SinkFunc(func(data []byte) error {
				return link.SendData(data)
			}),
		})
		if err != nil {
			return err
		}

		link, err = startLink(ctx, conf, exchange, log)
		if err != nil {
			return err
		}

		if err := subscribe(ctx, exchange, store, log); err != nil {
			return multierr.Append(err, link.Close())
		}

		if err := exchange.Start(ctx); err != nil {
			return multierr.Append(err, link.Close())
		}

		router := api.NewRouter(api.Options{
			DebugHTTP: conf.DebugHTTP,
			Exchange:  exchange,
			Store:     store,
			Log:       log.Named("http"),
		})

		s := &http.Server{
			Addr:    net.JoinHostPort(host, httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		log.Info("Listening",
			zap.Any("config", conf),
			zap.String("host", host),
			zap.Int("port", port),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := multierr.Combine(exchange.Close(), link.Close(), store.Close()); err != nil {
			log.Error("Station did not stop cleanly", zap.Error(err))
			return err
		}

		log.Info("Exiting")
		return nil
	},
}

func startLink(ctx context.Context, conf *env.Config, receiver transport.Receiver, log *zap.Logger) (stationLink, error) {
	if conf.SerialPort != "" {
		serialPort, err := transport.OpenSerial(conf.SerialPort, conf.BaudRate)
		if err != nil {
			return nil, err
		}

		log.Info("Opened serial link", zap.String("port", conf.SerialPort), zap.Int("baudRate", conf.BaudRate))

		conn := transport.NewConn(ctx, serialPort, receiver, 0, log.Named("serial"))
		conn.Start()

		return conn, nil
	}

	tcp := transport.NewTCP(transport.Options{
		Host:     host,
		Port:     port,
		Receiver: receiver,
		Log:      log.Named("transport"),
	})

	if err := tcp.Start(ctx); err != nil {
		return nil, err
	}

	return tcp, nil
}

// subscribe keeps the latest telemetry document in the store and logs
// everything else the device streams.
func subscribe(ctx context.Context, exchange *station.Exchange, store storage.Store, log *zap.Logger) error {
	telemetry := func(h protocol.Header, payload []byte) {
		if !gjson.ValidBytes(payload) {
			log.Debug("Received opaque telemetry", zap.Int("bytes", len(payload)))
			return
		}

		setCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		if err := store.SetRaw(setCtx, []byte("telemetry"), payload); err != nil {
			log.Warn("Failed to store telemetry", zap.Error(err))
		}
	}

	logPayload := func(h protocol.Header, payload []byte) {
		log.Debug("Received payload",
			zap.Stringer("stream", h.StreamType),
			zap.Uint16("counter", h.Counter),
			zap.Binary("payload", payload))
	}

	return multierr.Combine(
		exchange.Subscribe(ctx, protocol.Telem, telemetry),
		exchange.Subscribe(ctx, protocol.Firmware, logPayload),
		exchange.Subscribe(ctx, protocol.User, logPayload),
		exchange.Subscribe(ctx, protocol.Cmd, logPayload),
	)
}
