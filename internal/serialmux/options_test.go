package serialmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/colocate/internal/config"
)

func TestPortOptionsDefaults(t *testing.T) {
	mode, err := PortOptions{}.Mode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}, mode)
}

func TestPortOptionsErrors(t *testing.T) {
	for _, opts := range []PortOptions{
		{DataBits: 4},
		{DataBits: 9},
		{StopBits: 3},
		{Parity: "mark"},
	} {
		_, err := opts.Mode()
		assert.Error(t, err, "%+v", opts)
	}
}

func TestPortOptionsParityAliases(t *testing.T) {
	for in, want := range map[string]serial.Parity{
		"even": serial.EvenParity,
		" o ":  serial.OddParity,
		"NONE": serial.NoParity,
	} {
		mode, err := PortOptions{Parity: in}.Mode()
		require.NoError(t, err, in)
		assert.Equal(t, want, mode.Parity, in)
	}
}

func TestPortOptionsExplicit(t *testing.T) {
	mode, err := PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}.Mode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 7, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)
}

func TestPortOptionsFromSession(t *testing.T) {
	assert.Equal(t, DefaultBaudRate, PortOptionsFromSession(config.EmptySessionConfig()).BaudRate)

	rate := 230400
	c := &config.SessionConfig{SensorBaudRate: &rate}
	assert.Equal(t, 230400, PortOptionsFromSession(c).BaudRate)
}

func TestOpenRejectsBadOptions(t *testing.T) {
	_, err := Open("/dev/null", PortOptions{Parity: "space"})
	assert.Error(t, err)
}
