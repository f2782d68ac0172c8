package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/banshee-data/colocate/internal/calibration"
	"github.com/banshee-data/colocate/internal/httputil"
	"github.com/banshee-data/colocate/internal/journal"
	"github.com/banshee-data/colocate/internal/transport"
	"github.com/banshee-data/colocate/internal/wire"
)

// Error is a non-2xx reply from the daemon.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// Client calls a running daemon's operator API.
type Client struct {
	base string
	http httputil.HTTPClient
}

// NewClient returns a client for the daemon at base, for example
// "http://localhost:8080". A nil hc uses http.DefaultClient.
func NewClient(base string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = httputil.NewStandardClient(nil)
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e httputil.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in interface{}) (calibration.Snapshot, error) {
	var out OKResponse
	err := c.do(ctx, http.MethodPost, path, in, &out)
	return out.State, err
}

// State fetches the coordinator snapshot.
func (c *Client) State(ctx context.Context) (calibration.Snapshot, error) {
	var s calibration.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/state", nil, &s)
	return s, err
}

// Peers fetches the transport's peer table.
func (c *Client) Peers(ctx context.Context) ([]transport.PeerInfo, error) {
	var p []transport.PeerInfo
	err := c.do(ctx, http.MethodGet, "/api/peers", nil, &p)
	return p, err
}

// Rounds fetches up to limit recorded rounds, newest first.
func (c *Client) Rounds(ctx context.Context, limit int) ([]journal.Round, error) {
	path := "/api/rounds"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var r []journal.Round
	err := c.do(ctx, http.MethodGet, path, nil, &r)
	return r, err
}

func (c *Client) AssignRole(ctx context.Context, role string) (calibration.Snapshot, error) {
	return c.post(ctx, "/api/role", RoleRequest{Role: role})
}

func (c *Client) SelectPeer(ctx context.Context, id string) (calibration.Snapshot, error) {
	return c.post(ctx, "/api/targets", TargetRequest{Peer: id})
}

func (c *Client) CaptureSingle(ctx context.Context) (wire.SingleFingerCoordinate, error) {
	var out wire.SingleFingerCoordinate
	err := c.do(ctx, http.MethodPost, "/api/capture/single", nil, &out)
	return out, err
}

func (c *Client) SendSingle(ctx context.Context) (calibration.Snapshot, error) {
	return c.post(ctx, "/api/send/single", nil)
}

func (c *Client) CaptureDual(ctx context.Context) (wire.DualFingerCoordinate, error) {
	var out wire.DualFingerCoordinate
	err := c.do(ctx, http.MethodPost, "/api/capture/dual", nil, &out)
	return out, err
}

func (c *Client) SendDual(ctx context.Context) (calibration.Snapshot, error) {
	return c.post(ctx, "/api/send/dual", nil)
}

func (c *Client) SendGreeting(ctx context.Context, text string) (calibration.Snapshot, error) {
	return c.post(ctx, "/api/greeting", TextRequest{Text: text})
}

func (c *Client) SendChat(ctx context.Context, text string) (calibration.Snapshot, error) {
	return c.post(ctx, "/api/chat", TextRequest{Text: text})
}

func (c *Client) ClearFresh(ctx context.Context, kind string) (calibration.Snapshot, error) {
	return c.post(ctx, "/api/fresh/clear", FreshRequest{Kind: kind})
}

func (c *Client) Restart(ctx context.Context) (calibration.Snapshot, error) {
	return c.post(ctx, "/api/restart", nil)
}
