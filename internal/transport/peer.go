package transport

import (
	"fmt"

	"github.com/google/uuid"
)

// PeerID identifies one running process. It is generated afresh on every
// start so a restarted device is a new peer.
type PeerID uuid.UUID

// NewPeerID returns a random identity.
func NewPeerID() PeerID {
	return PeerID(uuid.New())
}

// ParsePeerID parses the canonical textual form.
func ParsePeerID(s string) (PeerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return PeerID{}, fmt.Errorf("invalid peer id %q: %w", s, err)
	}
	return PeerID(u), nil
}

func (id PeerID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether id is the zero value.
func (id PeerID) IsZero() bool { return id == PeerID{} }

// MarshalText implements encoding.TextMarshaler.
func (id PeerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *PeerID) UnmarshalText(b []byte) error {
	p, err := ParsePeerID(string(b))
	if err != nil {
		return err
	}
	*id = p
	return nil
}

// Peer is the identity a device advertises.
type Peer struct {
	ID          PeerID `json:"id"`
	DisplayName string `json:"display_name"`
}

func (p Peer) String() string {
	if p.DisplayName == "" {
		return p.ID.String()
	}
	return fmt.Sprintf("%s (%s)", p.DisplayName, p.ID)
}

// PeerState is the connectivity of a remote peer as seen locally.
type PeerState int

const (
	NotConnected PeerState = iota
	Connecting
	Connected
)

func (s PeerState) String() string {
	switch s {
	case NotConnected:
		return "not_connected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s PeerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *PeerState) UnmarshalText(b []byte) error {
	for _, st := range []PeerState{NotConnected, Connecting, Connected} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown peer state %q", b)
}

// Event is delivered to subscribers. It is either a ConnectivityChanged or
// a MessageReceived.
type Event interface {
	event()
}

// ConnectivityChanged reports a peer entering a new PeerState.
type ConnectivityChanged struct {
	Peer  Peer
	State PeerState
}

// MessageReceived carries an opaque payload from a connected peer.
type MessageReceived struct {
	Peer    Peer
	Payload []byte
}

func (ConnectivityChanged) event() {}
func (MessageReceived) event()     {}
