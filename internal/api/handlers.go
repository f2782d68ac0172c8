package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/banshee-data/colocate/internal/calibration"
	"github.com/banshee-data/colocate/internal/httputil"
	"github.com/banshee-data/colocate/internal/transport"
	"github.com/banshee-data/colocate/internal/wire"
)

// RoleRequest is the body of POST /api/role.
type RoleRequest struct {
	Role string `json:"role"`
}

// TargetRequest is the body of POST /api/targets.
type TargetRequest struct {
	Peer string `json:"peer"`
}

// TextRequest is the body of POST /api/greeting and /api/chat.
type TextRequest struct {
	Text string `json:"text"`
}

// FreshRequest is the body of POST /api/fresh/clear.
type FreshRequest struct {
	Kind string `json:"kind"`
}

// OKResponse acknowledges an operation and carries the resulting state.
type OKResponse struct {
	OK    bool                 `json:"ok"`
	State calibration.Snapshot `json:"state"`
}

func (s *Server) get(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		h(w, r)
	}
}

func (s *Server) post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		h(w, r)
	}
}

// writeError maps coordinator errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	msg := err.Error()
	switch {
	case errors.Is(err, calibration.ErrPeerNotConnected):
		httputil.NotFound(w, msg)
	case errors.Is(err, calibration.ErrRoleAlreadyAssigned),
		errors.Is(err, calibration.ErrStageNotReached),
		errors.Is(err, calibration.ErrNoSample):
		httputil.Conflict(w, msg)
	case errors.Is(err, calibration.ErrUntracked),
		errors.Is(err, calibration.ErrNotSimultaneous):
		httputil.UnprocessableEntity(w, msg)
	case errors.Is(err, calibration.ErrInvalidRole),
		errors.Is(err, calibration.ErrEmptyText),
		errors.Is(err, wire.ErrBadText):
		httputil.BadRequest(w, msg)
	case errors.Is(err, calibration.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		httputil.ServiceUnavailable(w, msg)
	default:
		httputil.InternalServerError(w, msg)
	}
}

func (s *Server) ok(w http.ResponseWriter) {
	httputil.WriteJSONOK(w, OKResponse{OK: true, State: s.calib.Snapshot()})
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.calib.Snapshot())
}

func (s *Server) listPeers(w http.ResponseWriter, r *http.Request) {
	peers := s.peers.Peers()
	if peers == nil {
		peers = []transport.PeerInfo{}
	}
	httputil.WriteJSONOK(w, peers)
}

func (s *Server) listRounds(w http.ResponseWriter, r *http.Request) {
	if s.rounds == nil {
		httputil.NotFound(w, "no journal configured")
		return
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = n
	}
	rounds, err := s.rounds.Rounds(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve rounds: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, rounds)
}

func (s *Server) assignRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	role, err := calibration.ParseRole(req.Role)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.calib.AssignRole(r.Context(), role); err != nil {
		writeError(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) selectTarget(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	id, err := transport.ParsePeerID(req.Peer)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.calib.SelectPeer(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) captureSingle(w http.ResponseWriter, r *http.Request) {
	c, err := s.calib.CaptureSingle(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, c)
}

func (s *Server) sendSingle(w http.ResponseWriter, r *http.Request) {
	if err := s.calib.SendSingle(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) captureDual(w http.ResponseWriter, r *http.Request) {
	c, err := s.calib.CaptureDual(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, c)
}

func (s *Server) sendDual(w http.ResponseWriter, r *http.Request) {
	if err := s.calib.SendDual(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) sendGreeting(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.calib.SendGreeting(r.Context(), req.Text); err != nil {
		writeError(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) sendChat(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.calib.SendChat(r.Context(), req.Text); err != nil {
		writeError(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) clearFresh(w http.ResponseWriter, r *http.Request) {
	var req FreshRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	kind, err := calibration.ParseFreshKind(req.Kind)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.calib.ClearFresh(r.Context(), kind); err != nil {
		writeError(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) restart(w http.ResponseWriter, r *http.Request) {
	if err := s.calib.Restart(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	s.ok(w)
}
