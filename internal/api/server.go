// Package api serves the operator's JSON HTTP interface to the calibration
// coordinator.
package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/colocate/internal/calibration"
	"github.com/banshee-data/colocate/internal/journal"
	"github.com/banshee-data/colocate/internal/transport"
	"github.com/banshee-data/colocate/internal/wire"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Calibrator is the operator surface of calibration.Coordinator.
type Calibrator interface {
	Snapshot() calibration.Snapshot
	AssignRole(ctx context.Context, role calibration.Role) error
	SelectPeer(ctx context.Context, id transport.PeerID) error
	CaptureSingle(ctx context.Context) (wire.SingleFingerCoordinate, error)
	SendSingle(ctx context.Context) error
	CaptureDual(ctx context.Context) (wire.DualFingerCoordinate, error)
	SendDual(ctx context.Context) error
	SendGreeting(ctx context.Context, text string) error
	SendChat(ctx context.Context, text string) error
	ClearFresh(ctx context.Context, kind calibration.FreshKind) error
	Restart(ctx context.Context) error
}

// PeerLister reports every peer the transport knows about.
type PeerLister interface {
	Peers() []transport.PeerInfo
}

// RoundLister reads recorded rounds.
type RoundLister interface {
	Rounds(ctx context.Context, limit int) ([]journal.Round, error)
}

type Server struct {
	calib  Calibrator
	peers  PeerLister
	rounds RoundLister
}

// NewServer creates the API server. rounds may be nil when no journal is
// configured.
func NewServer(calib Calibrator, peers PeerLister, rounds RoundLister) *Server {
	return &Server{
		calib:  calib,
		peers:  peers,
		rounds: rounds,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.get(s.showState))
	mux.HandleFunc("/api/peers", s.get(s.listPeers))
	mux.HandleFunc("/api/rounds", s.get(s.listRounds))
	mux.HandleFunc("/api/role", s.post(s.assignRole))
	mux.HandleFunc("/api/targets", s.post(s.selectTarget))
	mux.HandleFunc("/api/capture/single", s.post(s.captureSingle))
	mux.HandleFunc("/api/send/single", s.post(s.sendSingle))
	mux.HandleFunc("/api/capture/dual", s.post(s.captureDual))
	mux.HandleFunc("/api/send/dual", s.post(s.sendDual))
	mux.HandleFunc("/api/greeting", s.post(s.sendGreeting))
	mux.HandleFunc("/api/chat", s.post(s.sendChat))
	mux.HandleFunc("/api/fresh/clear", s.post(s.clearFresh))
	mux.HandleFunc("/api/restart", s.post(s.restart))
	return mux
}
