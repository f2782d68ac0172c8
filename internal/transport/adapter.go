// Package transport discovers nearby peers advertising the same service,
// keeps a connection set, and exchanges opaque payloads with them over UDP.
//
// Discovery is multicast: every adapter announces itself on a group address
// and listens there for others. Seeing an unknown peer triggers an invite,
// and every invite is accepted. There is no authentication; any device on
// the link advertising the same service type is trusted.
package transport

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/colocate/internal/config"
	"github.com/banshee-data/colocate/internal/monitoring"
	"github.com/banshee-data/colocate/internal/timeutil"
	"github.com/banshee-data/colocate/internal/version"
)

var logf = monitoring.Prefixed("transport")

// readTimeout bounds each blocking read so loops notice cancellation.
const readTimeout = 100 * time.Millisecond

// Config holds adapter settings. Zero values take the defaults of
// config.SessionConfig.
type Config struct {
	DisplayName      string
	ServiceType      string
	Group            string
	DataAddress      string
	AnnounceInterval time.Duration
	PeerTimeout      time.Duration
	InviteTimeout    time.Duration
	SendWorkers      int
	SendQueueSize    int

	// Network defaults to UDPNetwork{}.
	Network Network
	// Clock defaults to timeutil.RealClock{}.
	Clock timeutil.Clock
	// Tap, when set, records every datagram.
	Tap *Tap
}

// ConfigFromSession maps the session configuration onto adapter settings.
func ConfigFromSession(c *config.SessionConfig) Config {
	return Config{
		DisplayName:      c.GetDisplayName(),
		ServiceType:      c.GetServiceType(),
		Group:            c.GetDiscoveryGroup(),
		DataAddress:      c.GetDataAddress(),
		AnnounceInterval: c.GetAnnounceInterval(),
		PeerTimeout:      c.GetPeerTimeout(),
		InviteTimeout:    c.GetInviteTimeout(),
		SendWorkers:      c.GetSendWorkers(),
		SendQueueSize:    c.GetSendQueueSize(),
	}
}

func (c *Config) applyDefaults() {
	d := config.EmptySessionConfig()
	if c.DisplayName == "" {
		c.DisplayName = d.GetDisplayName()
	}
	if c.ServiceType == "" {
		c.ServiceType = d.GetServiceType()
	}
	if c.Group == "" {
		c.Group = d.GetDiscoveryGroup()
	}
	if c.DataAddress == "" {
		c.DataAddress = d.GetDataAddress()
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = d.GetAnnounceInterval()
	}
	if c.PeerTimeout <= 0 {
		c.PeerTimeout = d.GetPeerTimeout()
	}
	if c.InviteTimeout <= 0 {
		c.InviteTimeout = d.GetInviteTimeout()
	}
	if c.SendWorkers <= 0 {
		c.SendWorkers = d.GetSendWorkers()
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.GetSendQueueSize()
	}
	if c.Network == nil {
		c.Network = UDPNetwork{}
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
}

type peerEntry struct {
	peer      Peer
	state     PeerState
	addr      net.Addr
	lastSeen  time.Time
	invitedAt time.Time
}

// PeerInfo describes a known peer for diagnostics.
type PeerInfo struct {
	Peer     Peer      `json:"peer"`
	State    PeerState `json:"state"`
	Addr     string    `json:"addr"`
	LastSeen time.Time `json:"last_seen"`
}

// Adapter is the session transport for one local device.
type Adapter struct {
	cfg  Config
	self Peer

	mu        sync.RWMutex
	started   bool
	cancel    context.CancelFunc
	group     PacketConn
	data      PacketConn
	groupAddr net.Addr
	pool      *sendPool
	peers     map[PeerID]*peerEntry
	wg        sync.WaitGroup

	subscriberMu sync.Mutex
	subscribers  map[string]chan Event
}

// New creates an adapter with a fresh identity. Nothing touches the network
// until Start.
func New(cfg Config) *Adapter {
	cfg.applyDefaults()
	return &Adapter{
		cfg:         cfg,
		self:        Peer{ID: NewPeerID(), DisplayName: cfg.DisplayName},
		peers:       make(map[PeerID]*peerEntry),
		subscribers: make(map[string]chan Event),
	}
}

// Self returns the local identity.
func (a *Adapter) Self() Peer {
	return a.self
}

// Start begins advertising, browsing and sending. Calling Start on a
// started adapter does nothing.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	groupAddr, err := a.cfg.Network.ResolveGroup(a.cfg.Group)
	if err != nil {
		return fmt.Errorf("failed to resolve discovery group: %w", err)
	}
	group, err := a.cfg.Network.ListenGroup(a.cfg.Group)
	if err != nil {
		return err
	}
	data, err := a.cfg.Network.ListenData(a.cfg.DataAddress)
	if err != nil {
		group.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.group, a.data, a.groupAddr = group, data, groupAddr
	a.pool = newSendPool(data, a.cfg.SendWorkers, a.cfg.SendQueueSize, time.Minute, func(to net.Addr, b []byte) {
		a.record(data.LocalAddr(), to, b)
	})
	a.pool.start(ctx)

	// Tickers are created before the goroutines so a mock clock advanced
	// right after Start still reaches them.
	announce := a.cfg.Clock.NewTicker(a.cfg.AnnounceInterval)
	reap := a.cfg.Clock.NewTicker(a.cfg.AnnounceInterval)

	a.wg.Add(4)
	go a.readLoop(ctx, group)
	go a.readLoop(ctx, data)
	go a.announceLoop(ctx, announce)
	go a.reapLoop(ctx, reap)

	a.started = true
	a.sendLocked(frameAnnounce, groupAddr, nil)
	logf("started as %s on %s, discovery %s service %q", a.self, data.LocalAddr(), a.cfg.Group, a.cfg.ServiceType)
	return nil
}

// Stop says goodbye to every known peer, stops advertising and browsing,
// and waits for queued sends to complete or fail. Subscribers see a
// NotConnected event for each peer that was known.
func (a *Adapter) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	for id, e := range a.peers {
		a.sendLocked(frameBye, e.addr, nil)
		delete(a.peers, id)
		a.publish(ConnectivityChanged{Peer: e.peer, State: NotConnected})
	}
	a.started = false
	cancel, pool, group, data := a.cancel, a.pool, a.group, a.data
	a.mu.Unlock()

	cancel()
	pool.stop()
	a.wg.Wait()
	group.Close()
	data.Close()
	logf("stopped")
}

// Broadcast queues payload for every listed peer. An empty payload or peer
// list does nothing. Peers that are not connected are skipped. Delivery is
// best effort and failures are only logged.
func (a *Adapter) Broadcast(payload []byte, peers []PeerID) {
	if len(payload) == 0 || len(peers) == 0 {
		return
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.started {
		logf("broadcast ignored: adapter not started")
		return
	}

	b := a.frameBytes(frameData, payload)
	if len(b) > maxDatagram {
		logf("broadcast ignored: %d byte frame exceeds %d", len(b), maxDatagram)
		return
	}
	for _, id := range peers {
		e, ok := a.peers[id]
		if !ok || e.state != Connected {
			logf("skipping send to %s: not connected", id)
			continue
		}
		if !a.pool.enqueue(sendJob{to: e.addr, peer: id, frame: b}) {
			logf("send queue full, dropped message for %s", e.peer)
		}
	}
}

// ConnectedPeers returns the peers currently in the Connected state, sorted
// by display name then id.
func (a *Adapter) ConnectedPeers() []Peer {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Peer, 0, len(a.peers))
	for _, e := range a.peers {
		if e.state == Connected {
			out = append(out, e.peer)
		}
	}
	sortPeers(out)
	return out
}

// Peers lists every known peer with its state.
func (a *Adapter) Peers() []PeerInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]PeerInfo, 0, len(a.peers))
	for _, e := range a.peers {
		info := PeerInfo{Peer: e.peer, State: e.state, LastSeen: e.lastSeen}
		if e.addr != nil {
			info.Addr = e.addr.String()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return lessPeer(out[i].Peer, out[j].Peer) })
	return out
}

// SendStats returns cumulative send counters. It is zero before Start.
func (a *Adapter) SendStats() SendStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.pool == nil {
		return SendStats{}
	}
	return a.pool.stats()
}

func sortPeers(ps []Peer) {
	sort.Slice(ps, func(i, j int) bool { return lessPeer(ps[i], ps[j]) })
}

func lessPeer(a, b Peer) bool {
	if a.DisplayName != b.DisplayName {
		return a.DisplayName < b.DisplayName
	}
	return a.ID.String() < b.ID.String()
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a buffered event channel. Delivery never blocks the
// adapter; a subscriber that falls behind loses events.
func (a *Adapter) Subscribe() (string, <-chan Event) {
	id := randomID()
	ch := make(chan Event, 256)
	a.subscriberMu.Lock()
	defer a.subscriberMu.Unlock()
	a.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (a *Adapter) Unsubscribe(id string) {
	a.subscriberMu.Lock()
	defer a.subscriberMu.Unlock()
	if ch, ok := a.subscribers[id]; ok {
		close(ch)
		delete(a.subscribers, id)
	}
}

func (a *Adapter) publish(ev Event) {
	a.subscriberMu.Lock()
	defer a.subscriberMu.Unlock()
	for id, ch := range a.subscribers {
		select {
		case ch <- ev:
		default:
			logf("subscriber %s is full, dropped %T", id, ev)
		}
	}
}

func (a *Adapter) frameBytes(t frameType, payload []byte) []byte {
	return frame{
		Protocol: version.Protocol,
		Type:     t,
		Sender:   a.self.ID,
		Name:     a.self.DisplayName,
		Service:  a.cfg.ServiceType,
		Payload:  payload,
	}.marshal()
}

// sendLocked queues a control frame. a.mu must be held.
func (a *Adapter) sendLocked(t frameType, to net.Addr, payload []byte) {
	if to == nil {
		return
	}
	if !a.pool.enqueue(sendJob{to: to, frame: a.frameBytes(t, payload)}) {
		logf("send queue full, dropped %s to %s", t, to)
	}
}

func (a *Adapter) record(src, dst net.Addr, b []byte) {
	if err := a.cfg.Tap.Record(src, dst, b, a.cfg.Clock.Now()); err != nil {
		logf("capture write failed: %v", err)
	}
}

func (a *Adapter) readLoop(ctx context.Context, conn PacketConn) {
	defer a.wg.Done()
	buf := make([]byte, maxDatagram)

	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logf("read error: %v", err)
			continue
		}

		a.record(from, conn.LocalAddr(), buf[:n])
		f, err := unmarshalFrame(buf[:n])
		if err != nil {
			logf("ignoring datagram from %v: %v", from, err)
			continue
		}
		a.handleFrame(f, from)
	}
}

func (a *Adapter) handleFrame(f frame, from net.Addr) {
	if f.Service != a.cfg.ServiceType || f.Sender == a.self.ID {
		return
	}
	if f.Protocol != version.Protocol {
		logf("ignoring %s from %s: protocol %d, want %d", f.Type, f.Sender, f.Protocol, version.Protocol)
		return
	}

	now := a.cfg.Clock.Now()
	peer := Peer{ID: f.Sender, DisplayName: f.Name}

	// Events are published under a.mu so subscribers see them in the order
	// the state changed, whichever read loop made the change.
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return
	}

	e, known := a.peers[f.Sender]
	if known {
		e.lastSeen = now
		e.peer.DisplayName = f.Name
		e.addr = from
	}

	switch f.Type {
	case frameAnnounce:
		if known {
			return
		}
		a.peers[f.Sender] = &peerEntry{peer: peer, state: Connecting, addr: from, lastSeen: now, invitedAt: now}
		a.sendLocked(frameInvite, from, nil)
		a.publish(ConnectivityChanged{Peer: peer, State: Connecting})

	case frameInvite:
		a.sendLocked(frameAccept, from, nil)
		a.connectLocked(e, peer, from, now)

	case frameAccept:
		a.connectLocked(e, peer, from, now)

	case frameData:
		if !known || e.state != Connected {
			logf("dropping data from %s: not connected", peer)
			return
		}
		a.publish(MessageReceived{Peer: e.peer, Payload: f.Payload})

	case frameBye:
		if !known {
			return
		}
		delete(a.peers, f.Sender)
		a.publish(ConnectivityChanged{Peer: e.peer, State: NotConnected})
		logf("%s left", e.peer)
	}
}

// connectLocked moves a peer to Connected, creating the entry if needed.
func (a *Adapter) connectLocked(e *peerEntry, peer Peer, from net.Addr, now time.Time) {
	if e == nil {
		e = &peerEntry{peer: peer, addr: from, lastSeen: now}
		a.peers[peer.ID] = e
	}
	if e.state == Connected {
		return
	}
	e.state = Connected
	a.publish(ConnectivityChanged{Peer: e.peer, State: Connected})
	logf("connected to %s at %s", e.peer, from)
}

func (a *Adapter) announceLoop(ctx context.Context, ticker timeutil.Ticker) {
	defer a.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			a.mu.Lock()
			if a.started {
				a.sendLocked(frameAnnounce, a.groupAddr, nil)
			}
			a.mu.Unlock()
		}
	}
}

func (a *Adapter) reapLoop(ctx context.Context, ticker timeutil.Ticker) {
	defer a.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			a.reap(a.cfg.Clock.Now())
		}
	}
}

// reap drops peers whose announcements stopped and invites that were never
// answered. An expired invite is retried on the peer's next announcement.
func (a *Adapter) reap(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return
	}
	for id, e := range a.peers {
		switch {
		case now.Sub(e.lastSeen) > a.cfg.PeerTimeout:
			logf("lost %s: silent for %v", e.peer, now.Sub(e.lastSeen))
		case e.state == Connecting && now.Sub(e.invitedAt) > a.cfg.InviteTimeout:
			logf("invite to %s timed out", e.peer)
		default:
			continue
		}
		delete(a.peers, id)
		a.publish(ConnectivityChanged{Peer: e.peer, State: NotConnected})
	}
}
