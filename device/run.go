package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

const DefaultTickInterval = 10 * time.Millisecond

// readChunkSize is how much a single read from the link may return.
const readChunkSize = 256

// Run drives dev over rw until ctx is cancelled or the link fails. Inbound
// bytes are read on a separate goroutine and handed over to the runner, so
// dev is only ever touched from the goroutine calling Run. On every tick the
// next outbound packet, if any, is written to rw.
func Run(ctx context.Context, rw io.ReadWriter, dev *Device, tick time.Duration, log *zap.Logger) error {
	if tick <= 0 {
		tick = DefaultTickInterval
	}

	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := make(chan []byte, 16)
	readErr := make(chan error, 1)

	go func() {
		buf := make([]byte, readChunkSize)

		for {
			n, err := rw.Read(buf)
			if n > 0 {
				data := append([]byte(nil), buf[:n]...)

				select {
				case inbound <- data:
				case <-ctx.Done():
					return
				}
			}

			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Context cancelled, exiting...")
			return nil

		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				log.Info("Link closed by peer")
				return nil
			}

			return fmt.Errorf("Failed to read from link: %w", err)

		case data := <-inbound:
			dev.AcceptInput(data)

		case <-ticker.C:
			frame, err := dev.GenNextPacket()
			if errors.Is(err, ErrNoDataAvailable) {
				continue
			}

			if err != nil {
				log.Warn("Failed to generate packet", zap.Error(err))
				continue
			}

			if _, err := rw.Write(frame); err != nil {
				return fmt.Errorf("Failed to write to link: %w", err)
			}

			// Frames may have arrived while the reply slot was taken
			dev.Process()
		}
	}
}
