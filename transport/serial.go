package transport

import (
	"fmt"

	"go.bug.st/serial"
)

const DefaultBaudRate = 115200

// OpenSerial opens a serial port in 8N1 mode.
func OpenSerial(name string, baudRate int) (serial.Port, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("Failed to open %s at %d baud: %w", name, baudRate, err)
	}

	return port, nil
}

// SerialPorts lists the serial ports present on the system.
func SerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("Failed to list serial ports: %w", err)
	}

	return ports, nil
}
