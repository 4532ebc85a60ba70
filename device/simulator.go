package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tidwall/sjson"

	"github.com/luma/photon/protocol"
)

// Simulator command opcodes, the first byte of a Cmd payload.
const (
	OpEcho       byte = 0x00
	OpSetAddress byte = 0x01
	OpStatus     byte = 0x02
)

var ErrUnknownCommand = errors.New("Unknown command")

// Simulator stands in for the onboard components behind a link: it executes
// a handful of commands, records firmware chunks and reports telemetry as a
// small JSON document.
type Simulator struct {
	mu sync.Mutex

	registry *Registry

	telemetryInterval time.Duration
	lastTelemetry     time.Time
	started           time.Time

	commands int
	chunks   int
	answers  [][]byte
}

func NewSimulator(registry *Registry, telemetryInterval time.Duration) *Simulator {
	return &Simulator{
		registry:          registry,
		telemetryInterval: telemetryInterval,
		started:           time.Now(),
	}
}

func (s *Simulator) ExecuteCommand(h protocol.Header, payload []byte, results io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(payload) == 0 {
		return fmt.Errorf("Failed to execute empty command: %w", ErrUnknownCommand)
	}

	switch payload[0] {
	case OpEcho:
		s.commands++
		_, err := results.Write(payload[1:])
		return err

	case OpSetAddress:
		address, n := binary.Uvarint(payload[1:])
		if n <= 0 {
			return fmt.Errorf("Failed to read address: %w", protocol.ErrPayloadRejected)
		}

		s.commands++
		s.registry.SetAddress(address)
		return nil

	case OpStatus:
		s.commands++
		doc, err := s.status()
		if err != nil {
			return err
		}

		_, err = results.Write(doc)
		return err

	default:
		return fmt.Errorf("Failed to execute %#02x: %w", payload[0], ErrUnknownCommand)
	}
}

func (s *Simulator) AcceptCommand(h protocol.Header, payload []byte, results io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks++

	// Each answer acknowledges a chunk by counter and size
	answer := make([]byte, 2+binary.MaxVarintLen64)
	binary.LittleEndian.PutUint16(answer, h.Counter)
	n := binary.PutUvarint(answer[2:], uint64(len(payload)))
	s.answers = append(s.answers, answer[:2+n])

	return nil
}

func (s *Simulator) HasAnswers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.answers) > 0
}

func (s *Simulator) GenAnswer(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.answers) == 0 {
		return ErrNoDataAvailable
	}

	if _, err := w.Write(s.answers[0]); err != nil {
		return err
	}

	s.answers = s.answers[1:]
	return nil
}

// CollectMessages emits the status document at most once per telemetry
// interval.
func (s *Simulator) CollectMessages(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastTelemetry) < s.telemetryInterval {
		return ErrNoDataAvailable
	}

	doc, err := s.status()
	if err != nil {
		return err
	}

	if _, err := w.Write(doc); err != nil {
		return err
	}

	s.lastTelemetry = now
	return nil
}

func (s *Simulator) status() (doc []byte, err error) {
	doc = []byte("{}")

	if doc, err = sjson.SetBytes(doc, "address", s.registry.SelfAddress()); err != nil {
		return nil, err
	}

	if doc, err = sjson.SetBytes(doc, "uptime", time.Since(s.started).Milliseconds()); err != nil {
		return nil, err
	}

	if doc, err = sjson.SetBytes(doc, "commands", s.commands); err != nil {
		return nil, err
	}

	if doc, err = sjson.SetBytes(doc, "firmware.chunks", s.chunks); err != nil {
		return nil, err
	}

	return sjson.SetBytes(doc, "firmware.pending", len(s.answers))
}

var (
	_ CommandHandler  = (*Simulator)(nil)
	_ FirmwareHandler = (*Simulator)(nil)
	_ TelemetrySource = (*Simulator)(nil)
)
