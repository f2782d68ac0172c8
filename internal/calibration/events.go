package calibration

import (
	crand "crypto/rand"
	"encoding/hex"

	"github.com/banshee-data/colocate/internal/transport"
	"github.com/banshee-data/colocate/internal/wire"
)

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (c *Coordinator) handleEvent(ev transport.Event) {
	switch ev := ev.(type) {
	case transport.ConnectivityChanged:
		switch ev.State {
		case transport.Connected:
			c.peerConnected(ev.Peer)
		case transport.Connecting:
			logf("connecting to %s", ev.Peer)
		case transport.NotConnected:
			c.peerDisconnected(ev.Peer)
		}
	case transport.MessageReceived:
		c.handleMessage(ev.Peer, ev.Payload)
	}
}

func (c *Coordinator) peerConnected(p transport.Peer) {
	c.sel.connect(p)
	if pp, ok := c.progress[p.ID]; ok {
		// A failed relationship stays failed until Restart.
		pp.Peer = p
		pp.Connected = true
	} else {
		c.progress[p.ID] = &PeerProgress{
			Peer:      p,
			Stage:     StageSearching,
			Connected: true,
			Target:    c.sel.isTarget(p.ID),
		}
	}
	c.touch()
	logf("%s connected", p)
}

// peerDisconnected removes p from the connected set. Once the transport has
// started, the relationship is marked failed instead of forgotten; other
// peers carry on.
func (c *Coordinator) peerDisconnected(p transport.Peer) {
	c.sel.disconnect(p.ID)
	pp, ok := c.progress[p.ID]
	if !ok {
		return
	}
	c.touch()
	if c.state.Stage == StageInitial {
		delete(c.progress, p.ID)
		logf("%s disconnected", p)
		return
	}
	pp.Connected = false
	pp.Failed = true
	logf("%s disconnected during %s, marked failed", p, c.state)
}

// handleMessage applies one payload from a peer. Anything that does not
// decode, or arrives out of sequence, is logged and dropped without touching
// the state.
func (c *Coordinator) handleMessage(from transport.Peer, payload []byte) {
	m, err := wire.Decode(payload)
	if err != nil {
		logf("dropping payload from %s: %v", from, err)
		return
	}

	switch m.Kind {
	case wire.KindGreeting, wire.KindChatText:
		if !c.sel.isConnected(from.ID) {
			logf("dropping %s from unconnected %s", m.Kind, from)
			return
		}
		c.addChat(ChatLine{Peer: from, Kind: m.Kind.String(), Text: m.Text, At: c.cfg.Clock.Now()})
		logf("%s from %s: %q", m.Kind, from, m.Text)
		return
	}

	p, ok := c.progress[from.ID]
	switch {
	case !ok || !p.Target:
		logf("dropping %s from %s: not a calibration target", m.Kind, from)
		return
	case p.Failed:
		logf("dropping %s from %s: relationship failed", m.Kind, from)
		return
	case c.state.Role == RoleUnassigned:
		logf("dropping %s from %s: no local role", m.Kind, from)
		return
	}

	switch m.Kind {
	case wire.KindSingleFinger:
		v := m.Single
		p.Single = &v
		p.advance(StageSingleFinger)
		c.singleFresh = true
		c.touch()
		logf("single finger coordinate from %s at %d", from, v.UnixTime)
	case wire.KindDualFinger:
		if c.state.Stage < StageSingleFinger {
			logf("dropping dual finger coordinate from %s: local stage is %s", from, c.state)
			return
		}
		v := m.Dual
		p.Dual = &v
		p.advance(StageDualFinger)
		c.dualFresh = true
		c.touch()
		logf("dual finger coordinate from %s at %d", from, v.UnixTime)
		c.evaluatePrepared()
	}
}
