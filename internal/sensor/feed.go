// Package sensor holds the latest hand-tracking sample per hand. A single
// writer loop applies updates from a Source; readers never block and always
// see the most recent complete sample.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/banshee-data/colocate/internal/monitoring"
	"github.com/banshee-data/colocate/internal/pose"
	"github.com/banshee-data/colocate/internal/timeutil"
)

var logf = monitoring.Prefixed("sensor")

// RigidTolerance bounds how far a tracked rotation block may drift from
// orthonormal before the sample is treated as untracked.
const RigidTolerance = 1e-3

// Feed is a pair of last-write-wins registers, one per hand.
type Feed struct {
	staleAfter time.Duration
	clock      timeutil.Clock

	left    atomic.Pointer[pose.Sample]
	right   atomic.Pointer[pose.Sample]
	updates atomic.Uint64
}

// NewFeed returns an empty feed. Samples older than staleAfter read as
// untracked; zero disables the check. A nil clock uses the real clock.
func NewFeed(staleAfter time.Duration, clock timeutil.Clock) *Feed {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Feed{staleAfter: staleAfter, clock: clock}
}

func (f *Feed) register(hand pose.Chirality) *atomic.Pointer[pose.Sample] {
	if hand == pose.Left {
		return &f.left
	}
	return &f.right
}

// Update replaces the sample for s.Hand. A zero CapturedAt is stamped with
// the feed's clock. Tracked samples whose transform is not rigid are stored
// as untracked.
func (f *Feed) Update(s pose.Sample) {
	if s.CapturedAt.IsZero() {
		s.CapturedAt = f.clock.Now()
	}
	if s.Tracked && !s.Transform.IsRigid(RigidTolerance) {
		logf("dropping non-rigid %s transform", s.Hand)
		s.Tracked = false
	}
	f.register(s.Hand).Store(&s)
	f.updates.Add(1)
}

// Latest returns the newest sample for hand. ok is false when there is no
// sample, the hand is untracked, or the sample is stale.
func (f *Feed) Latest(hand pose.Chirality) (pose.Sample, bool) {
	p := f.register(hand).Load()
	if p == nil {
		return pose.Sample{Hand: hand}, false
	}
	s := *p
	if !s.Tracked {
		return s, false
	}
	if f.staleAfter > 0 && f.clock.Since(s.CapturedAt) > f.staleAfter {
		return s, false
	}
	return s, true
}

// Current returns the transform for hand if it is currently tracked.
func (f *Feed) Current(hand pose.Chirality) (pose.Transform, bool) {
	s, ok := f.Latest(hand)
	if !ok {
		return pose.Transform{}, false
	}
	return s.Transform, true
}

// Updates counts samples applied since the feed was created.
func (f *Feed) Updates() uint64 {
	return f.updates.Load()
}

// Source produces samples. Next blocks until a sample is ready, ctx is done,
// or the source is exhausted (io.EOF).
type Source interface {
	Next(ctx context.Context) (pose.Sample, error)
}

// Run applies samples from src until ctx is done or src ends. An exhausted
// source returns nil.
func (f *Feed) Run(ctx context.Context, src Source) error {
	for {
		s, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logf("source exhausted after %d updates", f.Updates())
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("sensor source: %w", err)
		}
		f.Update(s)
	}
}
