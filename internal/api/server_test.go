package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/colocate/internal/calibration"
	"github.com/banshee-data/colocate/internal/journal"
	"github.com/banshee-data/colocate/internal/pose"
	"github.com/banshee-data/colocate/internal/transport"
	"github.com/banshee-data/colocate/internal/wire"
)

// fakeCalibrator records calls and fails every operation with err.
type fakeCalibrator struct {
	mu    sync.Mutex
	snap  calibration.Snapshot
	err   error
	calls []string

	role calibration.Role
	peer transport.PeerID
	text string
	kind calibration.FreshKind
}

func (f *fakeCalibrator) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeCalibrator) Snapshot() calibration.Snapshot { return f.snap }

func (f *fakeCalibrator) AssignRole(_ context.Context, role calibration.Role) error {
	f.role = role
	return f.record("role")
}

func (f *fakeCalibrator) SelectPeer(_ context.Context, id transport.PeerID) error {
	f.peer = id
	return f.record("select")
}

func (f *fakeCalibrator) CaptureSingle(context.Context) (wire.SingleFingerCoordinate, error) {
	return wire.SingleFingerCoordinate{UnixTime: 1000, Right: pose.Translation(1, 2, 3)}, f.record("capture_single")
}

func (f *fakeCalibrator) SendSingle(context.Context) error { return f.record("send_single") }

func (f *fakeCalibrator) CaptureDual(context.Context) (wire.DualFingerCoordinate, error) {
	return wire.DualFingerCoordinate{UnixTime: 2000, Left: pose.Identity(), Right: pose.Identity()}, f.record("capture_dual")
}

func (f *fakeCalibrator) SendDual(context.Context) error { return f.record("send_dual") }

func (f *fakeCalibrator) SendGreeting(_ context.Context, text string) error {
	f.text = text
	return f.record("greeting")
}

func (f *fakeCalibrator) SendChat(_ context.Context, text string) error {
	f.text = text
	return f.record("chat")
}

func (f *fakeCalibrator) ClearFresh(_ context.Context, kind calibration.FreshKind) error {
	f.kind = kind
	return f.record("clear_fresh")
}

func (f *fakeCalibrator) Restart(context.Context) error { return f.record("restart") }

type fakePeers []transport.PeerInfo

func (f fakePeers) Peers() []transport.PeerInfo { return f }

type fakeRounds struct {
	rounds []journal.Round
	limit  int
	err    error
}

func (f *fakeRounds) Rounds(_ context.Context, limit int) ([]journal.Round, error) {
	f.limit = limit
	return f.rounds, f.err
}

func testSnapshot() calibration.Snapshot {
	return calibration.Snapshot{
		Seq:       7,
		Self:      transport.Peer{ID: transport.NewPeerID(), DisplayName: "alpha"},
		State:     calibration.State{Stage: calibration.StageRoleSelected, Role: calibration.RoleHost},
		StateName: "selectingHost",
	}
}

func serve(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, req)
	return w
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.Error
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", calibration.ErrPeerNotConnected), http.StatusNotFound},
		{calibration.ErrRoleAlreadyAssigned, http.StatusConflict},
		{fmt.Errorf("%w: choose a role first", calibration.ErrStageNotReached), http.StatusConflict},
		{calibration.ErrNoSample, http.StatusConflict},
		{fmt.Errorf("%w: right index finger", calibration.ErrUntracked), http.StatusUnprocessableEntity},
		{calibration.ErrNotSimultaneous, http.StatusUnprocessableEntity},
		{calibration.ErrInvalidRole, http.StatusBadRequest},
		{calibration.ErrEmptyText, http.StatusBadRequest},
		{calibration.ErrStopped, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			s := NewServer(&fakeCalibrator{err: tt.err}, fakePeers(nil), nil)
			w := serve(t, s, http.MethodPost, "/api/send/single", "")
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, tt.err.Error(), errorMessage(t, w))
		})
	}
}

func TestAssignRole(t *testing.T) {
	f := &fakeCalibrator{snap: testSnapshot()}
	s := NewServer(f, fakePeers(nil), nil)

	w := serve(t, s, http.MethodPost, "/api/role", `{"role":"Host"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, calibration.RoleHost, f.role)

	var resp OKResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "selectingHost", resp.State.StateName)
	assert.Equal(t, calibration.StageRoleSelected, resp.State.State.Stage)

	for _, body := range []string{`{"role":"observer"}`, `{"role":`, `{"part":"host"}`, ``} {
		w = serve(t, s, http.MethodPost, "/api/role", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Equal(t, []string{"role"}, f.calls)
}

func TestSelectTarget(t *testing.T) {
	f := &fakeCalibrator{}
	s := NewServer(f, fakePeers(nil), nil)
	id := transport.NewPeerID()

	w := serve(t, s, http.MethodPost, "/api/targets", `{"peer":"`+id.String()+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, f.peer)

	w = serve(t, s, http.MethodPost, "/api/targets", `{"peer":"not-a-uuid"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, f.calls, 1)
}

func TestCaptureReturnsCoordinate(t *testing.T) {
	s := NewServer(&fakeCalibrator{}, fakePeers(nil), nil)

	w := serve(t, s, http.MethodPost, "/api/capture/single", "")
	require.Equal(t, http.StatusOK, w.Code)
	var single wire.SingleFingerCoordinate
	require.NoError(t, json.NewDecoder(w.Body).Decode(&single))
	assert.Equal(t, wire.SingleFingerCoordinate{UnixTime: 1000, Right: pose.Translation(1, 2, 3)}, single)

	w = serve(t, s, http.MethodPost, "/api/capture/dual", "")
	require.Equal(t, http.StatusOK, w.Code)
	var dual wire.DualFingerCoordinate
	require.NoError(t, json.NewDecoder(w.Body).Decode(&dual))
	assert.Equal(t, int64(2000), dual.UnixTime)
}

func TestTextAndFreshness(t *testing.T) {
	f := &fakeCalibrator{}
	s := NewServer(f, fakePeers(nil), nil)

	require.Equal(t, http.StatusOK, serve(t, s, http.MethodPost, "/api/greeting", "").Code)
	assert.Equal(t, "", f.text)
	require.Equal(t, http.StatusOK, serve(t, s, http.MethodPost, "/api/chat", `{"text":"ready?"}`).Code)
	assert.Equal(t, "ready?", f.text)

	require.Equal(t, http.StatusOK, serve(t, s, http.MethodPost, "/api/fresh/clear", `{"kind":"dual"}`).Code)
	assert.Equal(t, calibration.FreshDual, f.kind)
	assert.Equal(t, http.StatusBadRequest, serve(t, s, http.MethodPost, "/api/fresh/clear", `{"kind":"both"}`).Code)

	require.Equal(t, http.StatusOK, serve(t, s, http.MethodPost, "/api/send/dual", "").Code)
	require.Equal(t, http.StatusOK, serve(t, s, http.MethodPost, "/api/restart", "").Code)
	assert.Equal(t, []string{"greeting", "chat", "clear_fresh", "send_dual", "restart"}, f.calls)
}

func TestMethodNotAllowed(t *testing.T) {
	s := NewServer(&fakeCalibrator{}, fakePeers(nil), nil)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, s, http.MethodGet, "/api/restart", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, s, http.MethodPost, "/api/state", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, s, http.MethodDelete, "/api/peers", "").Code)
}

func TestListPeers(t *testing.T) {
	s := NewServer(&fakeCalibrator{}, fakePeers(nil), nil)
	w := serve(t, s, http.MethodGet, "/api/peers", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	bravo := transport.Peer{ID: transport.NewPeerID(), DisplayName: "bravo"}
	s = NewServer(&fakeCalibrator{}, fakePeers{{Peer: bravo, State: transport.Connected, Addr: "mem-1"}}, nil)
	w = serve(t, s, http.MethodGet, "/api/peers", "")
	var peers []transport.PeerInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&peers))
	require.Len(t, peers, 1)
	assert.Equal(t, bravo, peers[0].Peer)
	assert.Equal(t, transport.Connected, peers[0].State)
}

func TestListRounds(t *testing.T) {
	s := NewServer(&fakeCalibrator{}, fakePeers(nil), nil)
	assert.Equal(t, http.StatusNotFound, serve(t, s, http.MethodGet, "/api/rounds", "").Code)

	rounds := &fakeRounds{rounds: []journal.Round{{Round: 3, PeerName: "bravo", Role: calibration.RoleClient}}}
	s = NewServer(&fakeCalibrator{}, fakePeers(nil), rounds)

	w := serve(t, s, http.MethodGet, "/api/rounds?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, rounds.limit)
	var got []journal.Round
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, calibration.RoleClient, got[0].Role)

	assert.Equal(t, http.StatusBadRequest, serve(t, s, http.MethodGet, "/api/rounds?limit=0", "").Code)

	rounds.err = errors.New("disk full")
	assert.Equal(t, http.StatusInternalServerError, serve(t, s, http.MethodGet, "/api/rounds", "").Code)
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	var inner int
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lrw, ok := w.(*loggingResponseWriter)
		require.True(t, ok)
		w.WriteHeader(http.StatusTeapot)
		inner = lrw.statusCode
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, http.StatusTeapot, inner)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Contains(t, statusCodeColor(200), "200")
	assert.Contains(t, statusCodeColor(404), colorBoldRed)
	assert.Contains(t, statusCodeColor(301), colorYellow)
	assert.Equal(t, "100", statusCodeColor(100))
}
