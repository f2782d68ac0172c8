package calibration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/colocate/internal/transport"
	"github.com/banshee-data/colocate/internal/wire"
)

// Correspondence is one matched calibration round: the local and remote
// dual-finger captures, and the fingertip positions the solver aligns.
// Points are ordered left, right.
type Correspondence struct {
	ID           uuid.UUID                 `json:"id"`
	Round        int                       `json:"round"`
	At           time.Time                 `json:"at"`
	Peer         transport.Peer            `json:"peer"`
	Role         Role                      `json:"role"`
	Local        wire.DualFingerCoordinate `json:"local"`
	Remote       wire.DualFingerCoordinate `json:"remote"`
	LocalPoints  []r3.Vec                  `json:"local_points"`
	RemotePoints []r3.Vec                  `json:"remote_points"`
}

func newCorrespondence(round int, at time.Time, peer transport.Peer, role Role, local, remote wire.DualFingerCoordinate) Correspondence {
	return Correspondence{
		ID:           uuid.New(),
		Round:        round,
		At:           at,
		Peer:         peer,
		Role:         role,
		Local:        local,
		Remote:       remote,
		LocalPoints:  []r3.Vec{local.Left.Position(), local.Right.Position()},
		RemotePoints: []r3.Vec{remote.Left.Position(), remote.Right.Position()},
	}
}

// Sink receives every correspondence when the handshake reaches Prepared.
// Sinks run off the coordinator goroutine, one round at a time.
type Sink interface {
	RecordRound(ctx context.Context, c Correspondence) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, c Correspondence) error

// RecordRound calls f.
func (f SinkFunc) RecordRound(ctx context.Context, c Correspondence) error {
	return f(ctx, c)
}

// LogSink logs a one-line summary of each round.
func LogSink() Sink {
	return SinkFunc(func(_ context.Context, c Correspondence) error {
		logf("round %d with %s as %s: local L%v R%v remote L%v R%v (dt %dms)",
			c.Round, c.Peer, c.Role,
			c.LocalPoints[0], c.LocalPoints[1], c.RemotePoints[0], c.RemotePoints[1],
			c.Remote.UnixTime-c.Local.UnixTime)
		return nil
	})
}
