package main

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/colocate/internal/api"
	"github.com/banshee-data/colocate/internal/calibration"
	"github.com/banshee-data/colocate/internal/config"
	"github.com/banshee-data/colocate/internal/pose"
	"github.com/banshee-data/colocate/internal/sensor"
	"github.com/banshee-data/colocate/internal/transport"
)

type device struct {
	d       *daemon
	client  *api.Client
	samples chan pose.Sample
}

func sessionConfig(name string) *config.SessionConfig {
	s := func(v string) *string { return &v }
	return &config.SessionConfig{
		DisplayName:      s(name),
		ServiceType:      s("colocate-test"),
		DiscoveryGroup:   s("group"),
		DataAddress:      s(name + "-data"),
		AnnounceInterval: s("20ms"),
		PeerTimeout:      s("2s"),
		SensorStaleAfter: s("1m"),
		RoundWindow:      s("10s"),
	}
}

func startDevice(t *testing.T, net *transport.MemoryNetwork, name string) *device {
	t.Helper()
	samples := make(chan pose.Sample, 8)
	d, err := newDaemon(options{
		cfg:         sessionConfig(name),
		network:     net,
		source:      sensor.ChannelSource(samples),
		journalPath: filepath.Join(t.TempDir(), name+".db"),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	srv := httptest.NewServer(api.LoggingMiddleware(d.mux))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Errorf("%s did not shut down", name)
		}
	})
	return &device{d: d, client: api.NewClient(srv.URL, nil), samples: samples}
}

// track feeds both fingertips at once.
func (dv *device) track(x float32) {
	now := time.Now()
	dv.samples <- pose.Sample{Hand: pose.Right, Transform: pose.Translation(x, 0, 0), Tracked: true, CapturedAt: now}
	dv.samples <- pose.Sample{Hand: pose.Left, Transform: pose.Translation(x, 0, 0.1), Tracked: true, CapturedAt: now}
}

func (dv *device) state(t *testing.T) calibration.Snapshot {
	t.Helper()
	s, err := dv.client.State(context.Background())
	require.NoError(t, err)
	return s
}

func TestTwoDevicesReachPrepared(t *testing.T) {
	net := transport.NewMemoryNetwork()
	a := startDevice(t, net, "alpha")
	b := startDevice(t, net, "bravo")
	ctx := context.Background()

	// Each side sees the other.
	require.Eventually(t, func() bool {
		sa, err := a.client.State(ctx)
		if err != nil {
			return false
		}
		sb, err := b.client.State(ctx)
		if err != nil {
			return false
		}
		return len(sa.Connected) == 1 && len(sb.Connected) == 1 &&
			sa.State.Stage == calibration.StageSearching && sb.State.Stage == calibration.StageSearching
	}, 5*time.Second, 20*time.Millisecond)

	bravo := a.state(t).Connected[0]
	alpha := b.state(t).Connected[0]
	assert.Equal(t, "bravo", bravo.DisplayName)
	assert.Equal(t, "alpha", alpha.DisplayName)

	_, err := a.client.AssignRole(ctx, "host")
	require.NoError(t, err)
	_, err = b.client.AssignRole(ctx, "client")
	require.NoError(t, err)
	_, err = a.client.SelectPeer(ctx, bravo.ID.String())
	require.NoError(t, err)
	_, err = b.client.SelectPeer(ctx, alpha.ID.String())
	require.NoError(t, err)

	a.track(1)
	b.track(2)
	require.Eventually(t, func() bool {
		_, errA := a.client.CaptureSingle(ctx)
		_, errB := b.client.CaptureSingle(ctx)
		return errA == nil && errB == nil
	}, 2*time.Second, 10*time.Millisecond)
	_, err = a.client.SendSingle(ctx)
	require.NoError(t, err)
	_, err = b.client.SendSingle(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p, ok := a.state(t).Peer(bravo.ID)
		return ok && p.Stage == calibration.StageSingleFinger
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		p, ok := b.state(t).Peer(alpha.ID)
		return ok && p.Stage == calibration.StageSingleFinger
	}, 2*time.Second, 10*time.Millisecond)

	_, err = a.client.CaptureDual(ctx)
	require.NoError(t, err)
	_, err = b.client.CaptureDual(ctx)
	require.NoError(t, err)
	_, err = a.client.SendDual(ctx)
	require.NoError(t, err)
	_, err = b.client.SendDual(ctx)
	require.NoError(t, err)

	for _, dv := range []*device{a, b} {
		require.Eventually(t, func() bool {
			return dv.state(t).State.Stage == calibration.StagePrepared
		}, 2*time.Second, 10*time.Millisecond)
		require.Eventually(t, func() bool {
			rounds, err := dv.client.Rounds(ctx, 0)
			return err == nil && len(rounds) == 1
		}, 2*time.Second, 10*time.Millisecond)
	}

	rounds, err := a.client.Rounds(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, bravo.ID, rounds[0].PeerID)
	assert.Equal(t, "bravo", rounds[0].PeerName)
	assert.Equal(t, 1, rounds[0].Round)
}

func TestPeerLeavingFailsIt(t *testing.T) {
	net := transport.NewMemoryNetwork()
	a := startDevice(t, net, "alpha")
	ctx := context.Background()

	samples := make(chan pose.Sample)
	b, err := newDaemon(options{cfg: sessionConfig("bravo"), network: net, source: sensor.ChannelSource(samples)})
	require.NoError(t, err)
	bctx, stopB := context.WithCancel(context.Background())
	bdone := make(chan error, 1)
	go func() { bdone <- b.run(bctx) }()
	defer stopB()

	require.Eventually(t, func() bool {
		return len(a.state(t).Connected) == 1
	}, 5*time.Second, 20*time.Millisecond)
	bravo := a.state(t).Connected[0]

	_, err = a.client.AssignRole(ctx, "host")
	require.NoError(t, err)
	_, err = a.client.SelectPeer(ctx, bravo.ID.String())
	require.NoError(t, err)

	stopB()
	require.NoError(t, <-bdone)

	require.Eventually(t, func() bool {
		p, ok := a.state(t).Peer(bravo.ID)
		return ok && p.Failed && !p.Connected
	}, 5*time.Second, 20*time.Millisecond)
}
