package sensor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/colocate/internal/monitoring"
	"github.com/banshee-data/colocate/internal/pose"
	"github.com/banshee-data/colocate/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

var epoch = time.Unix(1_700_000_000, 0)

func TestFeedEmptyIsUntracked(t *testing.T) {
	f := NewFeed(0, timeutil.NewMockClock(epoch))
	_, ok := f.Current(pose.Right)
	assert.False(t, ok)
	s, ok := f.Latest(pose.Left)
	assert.False(t, ok)
	assert.Equal(t, pose.Left, s.Hand)
}

func TestFeedLastWriteWins(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	f := NewFeed(0, clock)

	f.Update(pose.Sample{Hand: pose.Right, Transform: pose.Translation(1, 0, 0), Tracked: true})
	f.Update(pose.Sample{Hand: pose.Right, Transform: pose.Translation(2, 0, 0), Tracked: true})

	got, ok := f.Current(pose.Right)
	require.True(t, ok)
	assert.Equal(t, pose.Translation(2, 0, 0), got)

	_, ok = f.Current(pose.Left)
	assert.False(t, ok, "hands are independent")

	s, _ := f.Latest(pose.Right)
	assert.Equal(t, epoch, s.CapturedAt, "zero CapturedAt is stamped")
	assert.Equal(t, uint64(2), f.Updates())
}

func TestFeedUntrackedHidesTransform(t *testing.T) {
	f := NewFeed(0, timeutil.NewMockClock(epoch))
	f.Update(pose.Sample{Hand: pose.Left, Transform: pose.Identity(), Tracked: true})
	f.Update(pose.Sample{Hand: pose.Left, Tracked: false})

	_, ok := f.Current(pose.Left)
	assert.False(t, ok)
}

func TestFeedStaleness(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	f := NewFeed(250*time.Millisecond, clock)
	f.Update(pose.Sample{Hand: pose.Right, Transform: pose.Identity(), Tracked: true})

	clock.Advance(200 * time.Millisecond)
	_, ok := f.Current(pose.Right)
	assert.True(t, ok)

	clock.Advance(100 * time.Millisecond)
	_, ok = f.Current(pose.Right)
	assert.False(t, ok, "sample older than staleAfter")
}

func TestFeedRejectsNonFiniteTracked(t *testing.T) {
	f := NewFeed(0, timeutil.NewMockClock(epoch))
	bad := pose.Identity()
	bad[12] = float32(math.Inf(1))
	f.Update(pose.Sample{Hand: pose.Right, Transform: bad, Tracked: true})

	_, ok := f.Current(pose.Right)
	assert.False(t, ok)
}

func TestFeedRejectsNonRigidTracked(t *testing.T) {
	f := NewFeed(0, timeutil.NewMockClock(epoch))
	scaled := pose.Translation(1, 2, 3)
	scaled[0] = 2
	f.Update(pose.Sample{Hand: pose.Left, Transform: scaled, Tracked: true})

	s, ok := f.Latest(pose.Left)
	assert.False(t, ok)
	assert.False(t, s.Tracked)

	// Float32 rounding stays within tolerance.
	near := pose.Translation(1, 2, 3)
	near[0] = math.Float32frombits(0x3f7fffff)
	f.Update(pose.Sample{Hand: pose.Left, Transform: near, Tracked: true})
	_, ok = f.Current(pose.Left)
	assert.True(t, ok)
}

func TestFeedRunChannelSource(t *testing.T) {
	f := NewFeed(0, timeutil.NewMockClock(epoch))
	ch := make(chan pose.Sample, 2)
	ch <- pose.Sample{Hand: pose.Left, Transform: pose.Translation(0, 1, 0), Tracked: true}
	ch <- pose.Sample{Hand: pose.Right, Transform: pose.Translation(0, 2, 0), Tracked: true}
	close(ch)

	require.NoError(t, f.Run(context.Background(), ChannelSource(ch)))

	l, ok := f.Current(pose.Left)
	require.True(t, ok)
	assert.Equal(t, pose.Translation(0, 1, 0), l)
	r, ok := f.Current(pose.Right)
	require.True(t, ok)
	assert.Equal(t, pose.Translation(0, 2, 0), r)
}

func TestFeedRunStopsOnCancel(t *testing.T) {
	f := NewFeed(0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, ChannelSource(make(chan pose.Sample))) }()

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

type failingSource struct{}

func (failingSource) Next(context.Context) (pose.Sample, error) {
	return pose.Sample{}, errors.New("bridge unplugged")
}

func TestFeedRunSurfacesSourceErrors(t *testing.T) {
	err := NewFeed(0, nil).Run(context.Background(), failingSource{})
	assert.ErrorContains(t, err, "bridge unplugged")
}
