package calibration

import (
	"fmt"
	"sort"

	"github.com/banshee-data/colocate/internal/transport"
)

// selector tracks the connected peers and the operator's chosen calibration
// targets. It is owned by the coordinator goroutine.
type selector struct {
	connected map[transport.PeerID]transport.Peer
	targets   []transport.PeerID
}

func newSelector() *selector {
	return &selector{connected: make(map[transport.PeerID]transport.Peer)}
}

func (s *selector) connect(p transport.Peer) {
	s.connected[p.ID] = p
}

func (s *selector) disconnect(id transport.PeerID) {
	delete(s.connected, id)
}

func (s *selector) isConnected(id transport.PeerID) bool {
	_, ok := s.connected[id]
	return ok
}

// pick adds id to the targets. Adding a target twice is a no-op; adding a
// peer that is not connected fails and changes nothing.
func (s *selector) pick(id transport.PeerID) (added bool, err error) {
	if !s.isConnected(id) {
		return false, fmt.Errorf("%w: %s", ErrPeerNotConnected, id)
	}
	if s.isTarget(id) {
		return false, nil
	}
	s.targets = append(s.targets, id)
	return true, nil
}

func (s *selector) isTarget(id transport.PeerID) bool {
	for _, t := range s.targets {
		if t == id {
			return true
		}
	}
	return false
}

func (s *selector) clearTargets() {
	s.targets = nil
}

// connectedPeers returns the connected set sorted by name then id.
func (s *selector) connectedPeers() []transport.Peer {
	out := make([]transport.Peer, 0, len(s.connected))
	for _, p := range s.connected {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *selector) targetList() []transport.PeerID {
	return append([]transport.PeerID(nil), s.targets...)
}
