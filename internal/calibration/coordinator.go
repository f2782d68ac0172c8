// Package calibration runs the colocation handshake between this device and
// the peers its operator selects.
//
// All state is owned by one goroutine (Run). Operator operations and
// transport events are both marshalled onto it; everyone else reads
// snapshots or subscribes to change notifications.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/colocate/internal/config"
	"github.com/banshee-data/colocate/internal/monitoring"
	"github.com/banshee-data/colocate/internal/pose"
	"github.com/banshee-data/colocate/internal/timeutil"
	"github.com/banshee-data/colocate/internal/transport"
	"github.com/banshee-data/colocate/internal/wire"
)

var logf = monitoring.Prefixed("calibration")

// Transport is the part of transport.Adapter the coordinator uses.
type Transport interface {
	Self() transport.Peer
	Broadcast(payload []byte, peers []transport.PeerID)
	ConnectedPeers() []transport.Peer
	Subscribe() (string, <-chan transport.Event)
	Unsubscribe(id string)
}

// Tracker reads the latest hand samples without blocking.
type Tracker interface {
	Latest(hand pose.Chirality) (pose.Sample, bool)
}

// Config tunes the handshake.
type Config struct {
	// SimultaneityTolerance is the largest gap between the left and right
	// samples of one dual capture.
	SimultaneityTolerance time.Duration
	// RoundWindow is the largest gap between local and remote dual
	// timestamps that still counts as the same round.
	RoundWindow time.Duration
	// ChatHistory bounds the retained greeting and chat lines.
	ChatHistory int
	Clock       timeutil.Clock
}

// ConfigFromSession maps session configuration onto coordinator settings.
func ConfigFromSession(c *config.SessionConfig) Config {
	return Config{
		SimultaneityTolerance: c.GetSimultaneityTolerance(),
		RoundWindow:           c.GetRoundWindow(),
	}
}

func (c *Config) applyDefaults() {
	d := config.EmptySessionConfig()
	if c.SimultaneityTolerance <= 0 {
		c.SimultaneityTolerance = d.GetSimultaneityTolerance()
	}
	if c.RoundWindow <= 0 {
		c.RoundWindow = d.GetRoundWindow()
	}
	if c.ChatHistory <= 0 {
		c.ChatHistory = 50
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
}

type op struct {
	fn    func() error
	reply chan error
}

type roundKey struct {
	local, remote int64
}

// Coordinator is the calibration state machine for the local device.
type Coordinator struct {
	transport Transport
	tracker   Tracker
	cfg       Config
	self      transport.Peer
	sinks     []Sink

	ops     chan op
	running atomic.Bool
	done    chan struct{}
	sinkCh  chan Correspondence

	// Owned by the Run goroutine.
	state       State
	sel         *selector
	progress    map[transport.PeerID]*PeerProgress
	localSingle *wire.SingleFingerCoordinate
	localDual   *wire.DualFingerCoordinate
	singleFresh bool
	dualFresh   bool
	rounds      int
	emitted     map[transport.PeerID]roundKey
	chat        []ChatLine
	seq         uint64
	dirty       bool

	current atomic.Pointer[Snapshot]

	subscriberMu sync.Mutex
	subscribers  map[string]chan Snapshot
}

// New creates a coordinator in the Initial stage. Nothing happens until Run.
func New(t Transport, tracker Tracker, cfg Config, sinks ...Sink) *Coordinator {
	cfg.applyDefaults()
	c := &Coordinator{
		transport:   t,
		tracker:     tracker,
		cfg:         cfg,
		self:        t.Self(),
		sinks:       sinks,
		ops:         make(chan op),
		done:        make(chan struct{}),
		sinkCh:      make(chan Correspondence, 64),
		sel:         newSelector(),
		progress:    make(map[transport.PeerID]*PeerProgress),
		emitted:     make(map[transport.PeerID]roundKey),
		subscribers: make(map[string]chan Snapshot),
	}
	c.current.Store(c.snapshotLocked())
	return c
}

// Run owns the calibration state until ctx is done. It may be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("calibration: Run called twice")
	}
	defer close(c.done)

	id, events := c.transport.Subscribe()
	defer c.transport.Unsubscribe(id)
	for _, p := range c.transport.ConnectedPeers() {
		c.peerConnected(p)
	}
	c.publish()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.runSinks(context.WithoutCancel(ctx))
	}()
	defer func() {
		close(c.sinkCh)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o := <-c.ops:
			err := o.fn()
			c.publishIfDirty()
			// Replying after publishing lets callers read their own change
			// through Snapshot.
			o.reply <- err
		case ev, ok := <-events:
			if !ok {
				logf("transport event stream closed")
				return nil
			}
			c.handleEvent(ev)
			c.publishIfDirty()
		}
	}
}

// do runs fn on the coordinator goroutine and returns its error.
func (c *Coordinator) do(ctx context.Context, fn func() error) error {
	o := op{fn: fn, reply: make(chan error, 1)}
	select {
	case c.ops <- o:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-o.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) touch() {
	c.dirty = true
}

// advance moves the local stage exactly one step forward.
func (c *Coordinator) advance(to Stage) {
	if to != c.state.Stage+1 {
		logf("refusing transition %s -> %s", c.state.Stage, to)
		return
	}
	from := c.state
	c.state.Stage = to
	c.touch()
	logf("%s -> %s", from, c.state)
}

// MarkSearching records that the transport has started.
func (c *Coordinator) MarkSearching(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.state.Stage == StageInitial {
			c.advance(StageSearching)
		}
		return nil
	})
}

// AssignRole sets the local role. It is allowed once per session, while
// searching.
func (c *Coordinator) AssignRole(ctx context.Context, role Role) error {
	if role != RoleHost && role != RoleClient {
		return fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}
	return c.do(ctx, func() error {
		if c.state.Role != RoleUnassigned {
			return fmt.Errorf("%w: already %s", ErrRoleAlreadyAssigned, c.state.Role)
		}
		if c.state.Stage != StageSearching {
			return fmt.Errorf("%w: roles are chosen while searching, stage is %s", ErrStageNotReached, c.state.Stage)
		}
		c.state.Role = role
		c.advance(StageRoleSelected)
		return nil
	})
}

// SelectPeer adds a connected peer to the calibration targets. Selecting a
// target again is a no-op.
func (c *Coordinator) SelectPeer(ctx context.Context, id transport.PeerID) error {
	return c.do(ctx, func() error {
		added, err := c.sel.pick(id)
		if err != nil {
			logf("cannot select %s: %v", id, err)
			return err
		}
		if added {
			if p, ok := c.progress[id]; ok {
				p.Target = true
			}
			c.touch()
			logf("selected %s as calibration target", id)
			c.evaluatePrepared()
		}
		return nil
	})
}

// CaptureSingle samples the right index fingertip. No sample is taken when
// the finger is not tracked.
func (c *Coordinator) CaptureSingle(ctx context.Context) (wire.SingleFingerCoordinate, error) {
	var out wire.SingleFingerCoordinate
	err := c.do(ctx, func() error {
		if c.state.Stage < StageRoleSelected {
			return fmt.Errorf("%w: choose a role first", ErrStageNotReached)
		}
		s, ok := c.tracker.Latest(pose.Right)
		if !ok {
			return fmt.Errorf("%w: right index finger", ErrUntracked)
		}
		out = wire.SingleFingerCoordinate{UnixTime: s.CapturedAt.UnixMilli(), Right: s.Transform}
		c.localSingle = &out
		c.singleFresh = true
		c.touch()
		if c.state.Stage == StageRoleSelected {
			c.advance(StageSingleFinger)
		}
		return nil
	})
	return out, err
}

// SendSingle broadcasts the latest local single-finger coordinate to the
// targets.
func (c *Coordinator) SendSingle(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.localSingle == nil {
			return ErrNoSample
		}
		c.broadcast(wire.Single(*c.localSingle))
		return nil
	})
}

// CaptureDual samples both index fingertips as one simultaneous pair and
// then checks whether a matching remote pair completes the round.
func (c *Coordinator) CaptureDual(ctx context.Context) (wire.DualFingerCoordinate, error) {
	var out wire.DualFingerCoordinate
	err := c.do(ctx, func() error {
		if c.state.Stage < StageSingleFinger {
			return fmt.Errorf("%w: capture a single finger first", ErrStageNotReached)
		}
		left, lok := c.tracker.Latest(pose.Left)
		right, rok := c.tracker.Latest(pose.Right)
		switch {
		case !lok && !rok:
			return fmt.Errorf("%w: both index fingers", ErrUntracked)
		case !lok:
			return fmt.Errorf("%w: left index finger", ErrUntracked)
		case !rok:
			return fmt.Errorf("%w: right index finger", ErrUntracked)
		}
		if skew := pose.Skew(left, right); skew > c.cfg.SimultaneityTolerance {
			return fmt.Errorf("%w: %v apart, limit %v", ErrNotSimultaneous, skew, c.cfg.SimultaneityTolerance)
		}

		at := right.CapturedAt
		if left.CapturedAt.After(at) {
			at = left.CapturedAt
		}
		out = wire.DualFingerCoordinate{UnixTime: at.UnixMilli(), Left: left.Transform, Right: right.Transform}
		c.localDual = &out
		c.dualFresh = true
		c.touch()
		if c.state.Stage == StageSingleFinger {
			c.advance(StageDualFinger)
		}
		c.evaluatePrepared()
		return nil
	})
	return out, err
}

// SendDual broadcasts the latest local dual-finger coordinate to the
// targets.
func (c *Coordinator) SendDual(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.localDual == nil {
			return ErrNoSample
		}
		c.broadcast(wire.Dual(*c.localDual))
		return nil
	})
}

// SendGreeting broadcasts a greeting to the targets. An empty text sends
// "Hello".
func (c *Coordinator) SendGreeting(ctx context.Context, text string) error {
	if text == "" {
		text = "Hello"
	}
	return c.sendText(ctx, wire.Greeting(text))
}

// SendChat broadcasts free text to the targets.
func (c *Coordinator) SendChat(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptyText
	}
	return c.sendText(ctx, wire.Chat(text))
}

func (c *Coordinator) sendText(ctx context.Context, m wire.Message) error {
	if _, err := wire.Encode(m); err != nil {
		return err
	}
	return c.do(ctx, func() error {
		if c.broadcast(m) {
			c.addChat(ChatLine{Peer: c.self, Kind: m.Kind.String(), Text: m.Text, Outgoing: true, At: c.cfg.Clock.Now()})
		}
		return nil
	})
}

// ClearFresh lowers a freshness flag once the consumer has used the
// coordinate.
func (c *Coordinator) ClearFresh(ctx context.Context, kind FreshKind) error {
	return c.do(ctx, func() error {
		switch kind {
		case FreshSingle:
			if c.singleFresh {
				c.singleFresh = false
				c.touch()
			}
		case FreshDual:
			if c.dualFresh {
				c.dualFresh = false
				c.touch()
			}
		}
		return nil
	})
}

// Restart abandons the current calibration: role, targets, coordinates and
// failed relationships are cleared and the stage returns to Searching.
func (c *Coordinator) Restart(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.state.Role = RoleUnassigned
		if c.state.Stage != StageInitial {
			c.state.Stage = StageSearching
		}
		c.sel.clearTargets()
		c.localSingle, c.localDual = nil, nil
		c.singleFresh, c.dualFresh = false, false
		c.emitted = make(map[transport.PeerID]roundKey)
		for id, p := range c.progress {
			if !c.sel.isConnected(id) {
				delete(c.progress, id)
				continue
			}
			*p = PeerProgress{Peer: p.Peer, Stage: StageSearching, Connected: true}
		}
		c.touch()
		logf("restarted: %s", c.state)
		return nil
	})
}

// broadcast encodes m and sends it to every live target. It reports whether
// anything was handed to the transport.
func (c *Coordinator) broadcast(m wire.Message) bool {
	payload, err := wire.Encode(m)
	if err != nil {
		logf("not sending %s: %v", m.Kind, err)
		return false
	}
	targets := c.liveTargets()
	if len(targets) == 0 {
		logf("not sending %s: no calibration targets", m.Kind)
		return false
	}
	c.transport.Broadcast(payload, targets)
	return true
}

func (c *Coordinator) liveTargets() []transport.PeerID {
	var out []transport.PeerID
	for _, id := range c.sel.targets {
		if p, ok := c.progress[id]; ok && !p.Failed && p.Connected {
			out = append(out, id)
		}
	}
	return out
}

func (c *Coordinator) addChat(l ChatLine) {
	c.chat = append(c.chat, l)
	if over := len(c.chat) - c.cfg.ChatHistory; over > 0 {
		c.chat = append([]ChatLine(nil), c.chat[over:]...)
	}
	c.touch()
}

// evaluatePrepared emits a correspondence for every target whose latest
// dual capture falls in the same round as the local one. The first match
// moves the local stage to Prepared.
func (c *Coordinator) evaluatePrepared() {
	if c.localDual == nil || c.state.Stage < StageDualFinger {
		return
	}
	window := c.cfg.RoundWindow.Milliseconds()
	for _, id := range c.sel.targets {
		p, ok := c.progress[id]
		if !ok || p.Failed || p.Dual == nil {
			continue
		}
		if d := p.Dual.UnixTime - c.localDual.UnixTime; d > window || d < -window {
			continue
		}
		key := roundKey{local: c.localDual.UnixTime, remote: p.Dual.UnixTime}
		if prev, seen := c.emitted[id]; seen && prev == key {
			continue
		}
		c.emitted[id] = key
		c.rounds++
		if c.state.Stage == StageDualFinger {
			c.advance(StagePrepared)
		}
		c.touch()
		c.emit(newCorrespondence(c.rounds, c.cfg.Clock.Now(), p.Peer, c.state.Role, *c.localDual, *p.Dual))
	}
}

func (c *Coordinator) emit(corr Correspondence) {
	if len(c.sinks) == 0 {
		return
	}
	select {
	case c.sinkCh <- corr:
	default:
		logf("sink queue full, dropped round %d", corr.Round)
	}
}

func (c *Coordinator) runSinks(ctx context.Context) {
	for corr := range c.sinkCh {
		for _, s := range c.sinks {
			if err := s.RecordRound(ctx, corr); err != nil {
				logf("sink failed for round %d: %v", corr.Round, err)
			}
		}
	}
}

// Snapshot returns the latest published state without blocking.
func (c *Coordinator) Snapshot() Snapshot {
	return *c.current.Load()
}

// Subscribe returns a channel that receives a snapshot after every change.
// A subscriber that falls behind misses intermediate snapshots, never the
// ability to read the latest one with Snapshot.
func (c *Coordinator) Subscribe() (string, <-chan Snapshot) {
	id := randomID()
	ch := make(chan Snapshot, 16)
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	c.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscription.
func (c *Coordinator) Unsubscribe(id string) {
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	if ch, ok := c.subscribers[id]; ok {
		close(ch)
		delete(c.subscribers, id)
	}
}

func (c *Coordinator) publishIfDirty() {
	if c.dirty {
		c.publish()
	}
}

func (c *Coordinator) publish() {
	c.dirty = false
	c.seq++
	s := c.snapshotLocked()
	c.current.Store(s)

	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- *s:
		default:
		}
	}
}
