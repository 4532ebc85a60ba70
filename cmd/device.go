package cmd

import (
	"context"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/photon/device"
	"github.com/luma/photon/internal/env"
	"github.com/luma/photon/transport"
)

const dialTimeout = 5 * time.Second

var (
	// The station to dial when no serial port is configured
	stationAddr string
)

func init() {
	flags := DeviceCmd.PersistentFlags()

	flags.StringVarP(&stationAddr, "station", "s", "127.0.0.1:7363", "The station to dial, unless PHOTON_SERIAL_PORT is set")
}

var DeviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Run a simulated field device",
	Long: `Run a simulated field device

The device answers a small command set (echo, set address, status) on the
cmd stream, acknowledges firmware chunks and reports telemetry as JSON.

Usage
	photon device --station 127.0.0.1:7363
	PHOTON_SERIAL_PORT=/dev/ttyUSB1 photon device

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

		registry := device.NewRegistry(conf.DeviceAddress, device.Options{
			MaxFrameSize: conf.MaxFrameSize,
			Log:          log.Named("device"),
		})

		simulator := device.NewSimulator(registry, conf.TelemetryInterval)
		registry.SetHandlers(simulator, simulator, simulator)

		dev, err := registry.RegisterGroundControl(conf.StationAddress)
		if err != nil {
			return err
		}

		link, err := dialLink(ctx, conf, log)
		if err != nil {
			return err
		}

		defer func() {
			if cerr := link.Close(); cerr != nil {
				err = multierr.Append(err, cerr)
			}
		}()

		log.Info("Running device",
			zap.Any("config", conf),
			zap.Uint64("address", registry.SelfAddress()))

		return device.Run(ctx, link, dev, conf.TickInterval, log.Named("runner"))
	},
}

func dialLink(ctx context.Context, conf *env.Config, log *zap.Logger) (io.ReadWriteCloser, error) {
	if conf.SerialPort != "" {
		log.Info("Opening serial link", zap.String("port", conf.SerialPort), zap.Int("baudRate", conf.BaudRate))
		return transport.OpenSerial(conf.SerialPort, conf.BaudRate)
	}

	log.Info("Dialing station", zap.String("station", stationAddr))

	dialer := net.Dialer{Timeout: dialTimeout}
	return dialer.DialContext(ctx, "tcp", stationAddr)
}
