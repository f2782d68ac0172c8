package serialmux

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.Subscribe()
	if id1 == "" || id1 == id2 {
		t.Fatalf("subscription ids %q and %q should be unique and non-empty", id1, id2)
	}

	mux.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	// Unknown ids are ignored.
	mux.Unsubscribe("missing")

	if n := mux.subs.len(); n != 1 {
		t.Errorf("subscribers = %d, want 1", n)
	}
}

func TestSerialMux_MonitorFansOutLines(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.FeedLines("R 1 1 0 0 0 0 1 0 0 0 0 1 0 0 0 0 1")

	for name, ch := range map[string]chan string{"a": a, "b": b} {
		select {
		case line := <-ch:
			if !strings.HasPrefix(line, "R 1") {
				t.Errorf("subscriber %s got %q", name, line)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s got nothing", name)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not stop")
	}
}

func TestSerialMux_MonitorReturnsScanError(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	port.Close()

	err := mux.Monitor(context.Background())
	if !errors.Is(err, ErrPortClosed) {
		t.Errorf("Monitor returned %v, want ErrPortClosed", err)
	}
}

func TestSerialMux_SendCommandAppendsNewline(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("STREAM ON"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if err := mux.SendCommand("STREAM OFF\n"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if got, want := port.Written(), "STREAM ON\nSTREAM OFF\n"; got != want {
		t.Errorf("written = %q, want %q", got, want)
	}

	port.FailWrites(errors.New("boom"))
	if err := mux.SendCommand("X"); err == nil {
		t.Error("SendCommand should surface write errors")
	}
}

func TestSerialMux_Initialise(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.Initialise(); err != nil {
		t.Fatalf("Initialise: %v", err)
	}
	written := port.Written()
	for _, want := range []string{"SYNC ", "FMT POSE16\n", "HANDS LR\n", "STREAM ON\n"} {
		if !strings.Contains(written, want) {
			t.Errorf("Initialise did not send %q; wrote %q", want, written)
		}
	}

	port.FailWrites(errors.New("boom"))
	if err := mux.Initialise(); err == nil {
		t.Error("Initialise should fail when the port rejects writes")
	}
}

func TestSerialMux_CloseClosesSubscribers(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}
	if _, err := port.Write([]byte("x")); !errors.Is(err, ErrPortClosed) {
		t.Error("port should be closed")
	}
}

func TestAttachAdminRoutes_SendCommandAPI(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name       string
		method     string
		form       url.Values
		wantStatus int
	}{
		{"valid command", http.MethodPost, url.Values{"command": {"STREAM ON"}}, http.StatusOK},
		{"empty command", http.MethodPost, url.Values{"command": {"  "}}, http.StatusBadRequest},
		{"missing command", http.MethodPost, url.Values{}, http.StatusBadRequest},
		{"wrong method", http.MethodGet, nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := localHostRequest(tt.method, "/debug/send-command-api", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %q)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}

	if !strings.Contains(port.Written(), "STREAM ON\n") {
		t.Errorf("command not written to port: %q", port.Written())
	}
}

func TestAttachAdminRoutes_SendCommandPage(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/send-command", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "send-command-api") {
		t.Error("page should post to send-command-api")
	}
}

func TestServeSSE(t *testing.T) {
	ch := make(chan string, 2)
	ch <- "L 0"
	ch <- "skip"
	close(ch)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tail", nil)
	ServeSSE[string](w, req, ch, func(s string) (string, error) {
		if s == "skip" {
			return "", errors.New("unformattable")
		}
		return strings.ToLower(s), nil
	})

	body := w.Body.String()
	if !strings.HasPrefix(body, ": ping\n\n") {
		t.Errorf("missing initial ping: %q", body)
	}
	if !strings.Contains(body, "data: l 0\n\n") {
		t.Errorf("missing event: %q", body)
	}
	if strings.Contains(body, "skip") {
		t.Errorf("unformattable value should be skipped: %q", body)
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestAttachAdminRoutes_TrackerStatus(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	mux.Subscribe()

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/tracker", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, `"enabled":true`) || !strings.Contains(body, `"subscribers":1`) {
		t.Errorf("body = %s", body)
	}
}
