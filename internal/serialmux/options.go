package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"

	"github.com/banshee-data/colocate/internal/config"
)

// DefaultBaudRate is the tracker bridge's native rate.
const DefaultBaudRate = 115200

// PortOptions are the line settings for the tracker bridge. Zero values
// mean 8N1 at DefaultBaudRate.
type PortOptions struct {
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
}

// PortOptionsFromSession reads the bridge line settings from the session.
func PortOptionsFromSession(c *config.SessionConfig) PortOptions {
	return PortOptions{BaudRate: c.GetSensorBaudRate()}
}

var parities = map[string]serial.Parity{
	"":     serial.NoParity,
	"N":    serial.NoParity,
	"NONE": serial.NoParity,
	"E":    serial.EvenParity,
	"EVEN": serial.EvenParity,
	"O":    serial.OddParity,
	"ODD":  serial.OddParity,
}

// Mode validates o and converts it for go.bug.st/serial.
func (o PortOptions) Mode() (*serial.Mode, error) {
	mode := &serial.Mode{BaudRate: o.BaudRate, DataBits: o.DataBits, StopBits: serial.OneStopBit}
	if mode.BaudRate <= 0 {
		mode.BaudRate = DefaultBaudRate
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}
	if mode.DataBits < 5 || mode.DataBits > 8 {
		return nil, fmt.Errorf("invalid data bits %d: must be between 5 and 8", o.DataBits)
	}

	switch o.StopBits {
	case 0, 1:
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", o.StopBits)
	}

	parity, ok := parities[strings.ToUpper(strings.TrimSpace(o.Parity))]
	if !ok {
		return nil, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	mode.Parity = parity
	return mode, nil
}

// Open opens the tracker bridge at path and wraps it in a SerialMux.
func Open(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	return NewSerialMux[serial.Port](port), nil
}
