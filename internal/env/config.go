package env

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	// Link addresses. The station process uses StationAddress as its own
	// address, the device process uses DeviceAddress.
	StationAddress uint64 `env:"PHOTON_STATION_ADDRESS,default=1"`
	DeviceAddress  uint64 `env:"PHOTON_DEVICE_ADDRESS,default=2"`

	MaxFrameSize int `env:"PHOTON_MAX_FRAME_SIZE,default=1024"`

	RetryInterval     time.Duration `env:"PHOTON_RETRY_INTERVAL,default=1s"`
	PingInterval      time.Duration `env:"PHOTON_PING_INTERVAL,default=1s"`
	TickInterval      time.Duration `env:"PHOTON_TICK_INTERVAL,default=10ms"`
	TelemetryInterval time.Duration `env:"PHOTON_TELEMETRY_INTERVAL,default=1s"`

	// SerialPort selects a serial link, TCP is used when it is empty
	SerialPort string `env:"PHOTON_SERIAL_PORT"`
	BaudRate   int    `env:"PHOTON_BAUD_RATE,default=115200"`

	DebugHTTP bool   `env:"PHOTON_DEBUG_HTTP"`
	LogLevel  string `env:"PHOTON_LOG_LEVEL,default=info"`
}

// LoadConfig reads .env.local, if there is one, then the process
// environment.
func LoadConfig(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("Failed to load .env.local: %w", err)
		}
	}

	return LoadConfigFrom(ctx, envconfig.OsLookuper())
}

func LoadConfigFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := envconfig.ProcessWith(ctx, &config, lookuper); err != nil {
		return nil, fmt.Errorf("Failed to load config: %w", err)
	}

	if config.MaxFrameSize < 8 {
		return nil, fmt.Errorf("Failed to load config: PHOTON_MAX_FRAME_SIZE of %d is too small", config.MaxFrameSize)
	}

	return &config, nil
}
