package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/patrickwarner/adrotator/internal/catalog"
	"github.com/patrickwarner/adrotator/internal/device"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/rotation"
	"github.com/patrickwarner/adrotator/internal/session"
)

var errUnknownAction = errors.New("unknown action")

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrPlacementNotFound),
		errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rotation.ErrNotVisible):
		return http.StatusConflict
	case errors.Is(err, rotation.ErrUnmounted):
		return http.StatusGone
	case errors.Is(err, errUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// observe records request count and latency.
func (s *Server) observe(endpoint, method string, status int, start time.Time) {
	s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(status))
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}

// fail writes a JSON error and records the request.
func (s *Server) fail(w http.ResponseWriter, endpoint, method string, start time.Time, status int, msg string) {
	s.observe(endpoint, method, status, start)
	writeJSON(w, status, errorResponse{Error: msg})
}

// respond writes v and records the request.
func (s *Server) respond(w http.ResponseWriter, endpoint, method string, start time.Time, status int, v interface{}) {
	s.observe(endpoint, method, status, start)
	if v == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, v)
}

// isMobile applies the viewport width query parameter, falling back to the
// User-Agent when the width is absent.
func (s *Server) isMobile(r *http.Request) (bool, error) {
	width := 0
	if v := r.URL.Query().Get("viewport_width"); v != "" {
		w, err := strconv.Atoi(v)
		if err != nil || w < 0 {
			return false, errors.New("invalid viewport_width")
		}
		width = w
	}
	return device.IsMobile(width, r.UserAgent(), s.Config.MobileBreakpoint), nil
}
