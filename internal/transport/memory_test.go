package transport

import (
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryNetworkUnicastAndGroup(t *testing.T) {
	n := NewMemoryNetwork()
	a, err := n.ListenData("a")
	require.NoError(t, err)
	b, err := n.ListenData("b")
	require.NoError(t, err)
	g1, err := n.ListenGroup("g")
	require.NoError(t, err)
	g2, err := n.ListenGroup("g")
	require.NoError(t, err)

	_, err = n.ListenData("a")
	assert.Error(t, err, "duplicate address")

	_, err = a.WriteTo([]byte("direct"), b.LocalAddr())
	require.NoError(t, err)
	group, _ := n.ResolveGroup("g")
	_, err = a.WriteTo([]byte("shout"), group)
	require.NoError(t, err)

	buf := make([]byte, 64)
	for _, c := range []PacketConn{g1, g2} {
		c.SetReadDeadline(time.Now().Add(time.Second))
		nr, from, err := c.ReadFrom(buf)
		require.NoError(t, err)
		assert.Equal(t, "shout", string(buf[:nr]))
		assert.Equal(t, "a", from.String())
	}

	b.SetReadDeadline(time.Now().Add(time.Second))
	nb, _, err := b.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "direct", string(buf[:nb]))
}

func TestMemoryConnDeadlineAndClose(t *testing.T) {
	n := NewMemoryNetwork()
	c, err := n.ListenData("")
	require.NoError(t, err)

	c.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	_, _, err = c.ReadFrom(make([]byte, 8))
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded))
	assert.True(t, isTimeout(err))

	require.NoError(t, c.Close())
	c.SetReadDeadline(time.Time{})
	_, _, err = c.ReadFrom(make([]byte, 8))
	assert.ErrorIs(t, err, net.ErrClosed)
	_, err = c.WriteTo([]byte("x"), memAddr("nowhere"))
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestMemoryNetworkDrop(t *testing.T) {
	n := NewMemoryNetwork()
	a, _ := n.ListenData("a")
	b, _ := n.ListenData("b")
	n.SetDrop(func(from, to net.Addr, _ []byte) bool { return true })

	_, err := a.WriteTo([]byte("lost"), b.LocalAddr())
	require.NoError(t, err)

	b.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	_, _, err = b.ReadFrom(make([]byte, 8))
	assert.True(t, isTimeout(err))
}
