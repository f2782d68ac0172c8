package calibration

import (
	"sort"
	"time"

	"github.com/banshee-data/colocate/internal/transport"
	"github.com/banshee-data/colocate/internal/wire"
)

// PeerProgress is what this device believes about one remote peer. The
// remote stage only moves when a message from that peer proves it.
type PeerProgress struct {
	Peer      transport.Peer               `json:"peer"`
	Stage     Stage                        `json:"stage"`
	Connected bool                         `json:"connected"`
	Target    bool                         `json:"target"`
	Failed    bool                         `json:"failed"`
	Single    *wire.SingleFingerCoordinate `json:"single,omitempty"`
	Dual      *wire.DualFingerCoordinate   `json:"dual,omitempty"`
}

func (p *PeerProgress) advance(to Stage) {
	if to > p.Stage {
		p.Stage = to
	}
}

func (p PeerProgress) clone() PeerProgress {
	if p.Single != nil {
		s := *p.Single
		p.Single = &s
	}
	if p.Dual != nil {
		d := *p.Dual
		p.Dual = &d
	}
	return p
}

// ChatLine is a greeting or chat message sent or received this session.
type ChatLine struct {
	Peer     transport.Peer `json:"peer"`
	Kind     string         `json:"kind"`
	Text     string         `json:"text"`
	Outgoing bool           `json:"outgoing"`
	At       time.Time      `json:"at"`
}

// Snapshot is a read-only copy of the coordinator state.
type Snapshot struct {
	// Seq increases with every published change.
	Seq         uint64                       `json:"seq"`
	Self        transport.Peer               `json:"self"`
	State       State                        `json:"state"`
	StateName   string                       `json:"state_name"`
	Connected   []transport.Peer             `json:"connected"`
	Targets     []transport.PeerID           `json:"targets"`
	Peers       []PeerProgress               `json:"peers"`
	LocalSingle *wire.SingleFingerCoordinate `json:"local_single,omitempty"`
	LocalDual   *wire.DualFingerCoordinate   `json:"local_dual,omitempty"`
	SingleFresh bool                         `json:"single_fresh"`
	DualFresh   bool                         `json:"dual_fresh"`
	Rounds      int                          `json:"rounds"`
	Chat        []ChatLine                   `json:"chat"`
}

// Peer returns the progress recorded for id.
func (s Snapshot) Peer(id transport.PeerID) (PeerProgress, bool) {
	for _, p := range s.Peers {
		if p.Peer.ID == id {
			return p, true
		}
	}
	return PeerProgress{}, false
}

// snapshotLocked copies the state. Called on the coordinator goroutine.
func (c *Coordinator) snapshotLocked() *Snapshot {
	s := &Snapshot{
		Seq:         c.seq,
		Self:        c.self,
		State:       c.state,
		StateName:   c.state.String(),
		Connected:   c.sel.connectedPeers(),
		Targets:     c.sel.targetList(),
		SingleFresh: c.singleFresh,
		DualFresh:   c.dualFresh,
		Rounds:      c.rounds,
		Chat:        append([]ChatLine(nil), c.chat...),
	}
	if c.localSingle != nil {
		v := *c.localSingle
		s.LocalSingle = &v
	}
	if c.localDual != nil {
		v := *c.localDual
		s.LocalDual = &v
	}
	s.Peers = make([]PeerProgress, 0, len(c.progress))
	for _, p := range c.progress {
		s.Peers = append(s.Peers, p.clone())
	}
	sort.Slice(s.Peers, func(i, j int) bool {
		a, b := s.Peers[i].Peer, s.Peers[j].Peer
		if a.DisplayName != b.DisplayName {
			return a.DisplayName < b.DisplayName
		}
		return a.ID.String() < b.ID.String()
	})
	return s
}
