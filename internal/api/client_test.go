package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/colocate/internal/calibration"
	"github.com/banshee-data/colocate/internal/httputil"
	"github.com/banshee-data/colocate/internal/transport"
)

func TestClientAgainstServer(t *testing.T) {
	f := &fakeCalibrator{snap: testSnapshot()}
	srv := httptest.NewServer(NewServer(f, fakePeers(nil), nil).ServeMux())
	defer srv.Close()

	c := NewClient(srv.URL+"/", nil)
	ctx := context.Background()

	state, err := c.State(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(f.snap, state); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	state, err = c.AssignRole(ctx, "client")
	require.NoError(t, err)
	assert.Equal(t, calibration.RoleClient, f.role)
	assert.Equal(t, f.snap.StateName, state.StateName)

	single, err := c.CaptureSingle(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), single.UnixTime)

	peers, err := c.Peers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)

	_, err = c.Rounds(ctx, 10)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "no journal configured", apiErr.Message)
}

func TestClientMapsErrors(t *testing.T) {
	f := &fakeCalibrator{err: calibration.ErrNoSample}
	srv := httptest.NewServer(NewServer(f, fakePeers(nil), nil).ServeMux())
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).SendDual(context.Background())
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Contains(t, apiErr.Error(), "409 Conflict")
}

func TestClientRequests(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusOK, `{"ok":true,"state":{"state_name":"searching"}}`).
		AddResponse(http.StatusBadGateway, `not json`).
		AddErrorResponse(errors.New("connection refused"))
	c := NewClient("http://colocate:8080", mock)
	ctx := context.Background()

	id := transport.NewPeerID()
	state, err := c.SelectPeer(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, "searching", state.StateName)
	req := mock.Requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "http://colocate:8080/api/targets", req.URL.String())
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"peer":"`+id.String()+`"}`, mock.Bodies[0])

	_, err = c.Restart(ctx)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "Bad Gateway", apiErr.Message)

	_, err = c.SendChat(ctx, "hi")
	assert.EqualError(t, err, "connection refused")
	assert.Equal(t, 3, mock.RequestCount())
}
