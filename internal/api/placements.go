package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/middleware"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/rotation"
)

var playbackActions = map[string]rotation.Event{
	"play":   rotation.EventPlay,
	"pause":  rotation.EventPause,
	"mute":   rotation.EventMute,
	"unmute": rotation.EventUnmute,
	"error":  rotation.EventPlaybackFailed,
}

// applyAction runs a client action against a placement. It backs both the
// REST endpoints and the stream.
func applyAction(p *rotation.Placement, action string) (string, error) {
	switch action {
	case "close":
		return "", p.Close()
	case "click":
		return p.Click()
	}
	ev, ok := playbackActions[action]
	if !ok {
		return "", errUnknownAction
	}
	return "", p.Playback(ev)
}

type mountResponse struct {
	ID   string        `json:"id"`
	View rotation.View `json:"view"`
}

// MountHandler handles POST /sessions/{identity}/placements.
func (s *Server) MountHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "MountHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/sessions/{identity}/placements"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "placement_mount"
	const method = "POST"

	var pc models.PlacementConfig
	if err := json.NewDecoder(r.Body).Decode(&pc); err != nil {
		s.fail(w, endpoint, method, start, http.StatusBadRequest, "invalid json")
		return
	}
	identity := mux.Vars(r)["identity"]
	p, err := s.Sessions.Mount(ctx, identity, pc, rotation.Hooks{})
	if err != nil {
		logger.Debug("mount rejected", zap.String("identity", identity), zap.Error(err))
		s.fail(w, endpoint, method, start, http.StatusBadRequest, err.Error())
		return
	}
	span.SetAttributes(attribute.String("placement.id", p.ID()), attribute.String("ad.position", p.Position()))
	s.respond(w, endpoint, method, start, http.StatusCreated, mountResponse{ID: p.ID(), View: p.Render(false)})
}

// lookup resolves the placement named by the route.
func (s *Server) lookup(r *http.Request) (*rotation.Placement, error) {
	vars := mux.Vars(r)
	return s.Sessions.Placement(vars["identity"], vars["id"])
}

// PlacementViewHandler handles GET /sessions/{identity}/placements/{id}.
func (s *Server) PlacementViewHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "placement_view"
	const method = "GET"

	p, err := s.lookup(r)
	if err != nil {
		s.fail(w, endpoint, method, start, statusFor(err), err.Error())
		return
	}
	mobile, err := s.isMobile(r)
	if err != nil {
		s.fail(w, endpoint, method, start, http.StatusBadRequest, err.Error())
		return
	}
	s.respond(w, endpoint, method, start, http.StatusOK, p.Render(mobile))
}

// CloseHandler handles POST /sessions/{identity}/placements/{id}/close.
func (s *Server) CloseHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "placement_close"
	const method = "POST"

	p, err := s.lookup(r)
	if err == nil {
		err = p.Close()
	}
	if err != nil {
		s.fail(w, endpoint, method, start, statusFor(err), err.Error())
		return
	}
	s.respond(w, endpoint, method, start, http.StatusOK, p.Render(false))
}

type clickResponse struct {
	TargetURL string        `json:"target_url,omitempty"`
	View      rotation.View `json:"view"`
}

// ClickHandler handles POST /sessions/{identity}/placements/{id}/click. The
// client opens target_url in a new tab when present.
func (s *Server) ClickHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "placement_click"
	const method = "POST"

	p, err := s.lookup(r)
	if err != nil {
		s.fail(w, endpoint, method, start, statusFor(err), err.Error())
		return
	}
	target, err := p.Click()
	if err != nil {
		s.fail(w, endpoint, method, start, statusFor(err), err.Error())
		return
	}
	logger.Debug("placement clicked", zap.String("placement_id", p.ID()), zap.String("target_url", target))
	s.respond(w, endpoint, method, start, http.StatusOK, clickResponse{TargetURL: target, View: p.Render(false)})
}

type playbackRequest struct {
	Action string `json:"action"`
}

// PlaybackHandler handles POST /sessions/{identity}/placements/{id}/playback.
func (s *Server) PlaybackHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "placement_playback"
	const method = "POST"

	var req playbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, endpoint, method, start, http.StatusBadRequest, "invalid json")
		return
	}
	ev, ok := playbackActions[req.Action]
	if !ok {
		s.fail(w, endpoint, method, start, http.StatusBadRequest, "unknown playback action")
		return
	}
	p, err := s.lookup(r)
	if err == nil {
		err = p.Playback(ev)
	}
	if err != nil {
		s.fail(w, endpoint, method, start, statusFor(err), err.Error())
		return
	}
	s.respond(w, endpoint, method, start, http.StatusOK, p.Render(false))
}

// UnmountHandler handles DELETE /sessions/{identity}/placements/{id}.
func (s *Server) UnmountHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "placement_unmount"
	const method = "DELETE"

	vars := mux.Vars(r)
	if err := s.Sessions.Unmount(vars["identity"], vars["id"]); err != nil {
		s.fail(w, endpoint, method, start, statusFor(err), err.Error())
		return
	}
	s.respond(w, endpoint, method, start, http.StatusNoContent, nil)
}
