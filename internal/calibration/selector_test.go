package calibration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/colocate/internal/transport"
)

func TestSelectorPick(t *testing.T) {
	s := newSelector()
	a := transport.Peer{ID: transport.NewPeerID(), DisplayName: "a"}
	b := transport.Peer{ID: transport.NewPeerID(), DisplayName: "b"}

	_, err := s.pick(a.ID)
	assert.ErrorIs(t, err, ErrPeerNotConnected)
	assert.Empty(t, s.targetList())

	s.connect(b)
	s.connect(a)
	added, err := s.pick(a.ID)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.pick(a.ID)
	require.NoError(t, err)
	assert.False(t, added)

	assert.Equal(t, []transport.Peer{a, b}, s.connectedPeers())
	assert.Equal(t, []transport.PeerID{a.ID}, s.targetList())

	// Targets survive a disconnect.
	s.disconnect(a.ID)
	assert.False(t, s.isConnected(a.ID))
	assert.True(t, s.isTarget(a.ID))

	s.clearTargets()
	assert.Empty(t, s.targetList())
}
