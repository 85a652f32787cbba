package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/logic"
	"github.com/patrickwarner/adrotator/internal/middleware"
	"github.com/patrickwarner/adrotator/internal/models"
)

type nextAdResponse struct {
	Ad    *models.Advertisement `json:"ad"`
	Debug interface{}           `json:"debug,omitempty"`
}

// NextAdHandler handles GET /sessions/{identity}/positions/{position}/next.
// It answers 204 when the position has no candidates.
func (s *Server) NextAdHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	identity, position := vars["identity"], vars["position"]

	ctx, span := tracer.Start(r.Context(), "NextAdHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/sessions/{identity}/positions/{position}/next"),
			attribute.String("ad.position", position),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "next_ad"
	const method = "GET"

	var selTrace *logic.SelectionTrace
	if s.DebugTrace {
		selTrace = &logic.SelectionTrace{}
	}
	ad := s.Sessions.NextFor(ctx, identity, position, selTrace)
	if ad == nil {
		logger.Debug("no candidates", zap.String("identity", identity), zap.String("position", position))
		s.respond(w, endpoint, method, start, http.StatusNoContent, nil)
		return
	}
	span.SetAttributes(attribute.String("ad.id", ad.ID))

	resp := nextAdResponse{Ad: ad}
	if selTrace != nil {
		resp.Debug = map[string]interface{}{"trace": selTrace}
	}
	s.respond(w, endpoint, method, start, http.StatusOK, resp)
}

type shownResponse struct {
	Identity string   `json:"identity"`
	IDs      []string `json:"ids"`
}

// ShownHandler handles GET /sessions/{identity}/shown.
func (s *Server) ShownHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "shown"
	const method = "GET"

	identity := mux.Vars(r)["identity"]
	sess := s.Sessions.GetOrCreate(r.Context(), identity)
	s.respond(w, endpoint, method, start, http.StatusOK, shownResponse{Identity: identity, IDs: sess.Shown.IDs()})
}

// ResetShownHandler handles POST /sessions/{identity}/shown/reset. Without a
// position query parameter the whole shown-set is cleared.
func (s *Server) ResetShownHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "shown_reset"
	const method = "POST"

	identity := mux.Vars(r)["identity"]
	position := r.URL.Query().Get("position")
	s.Sessions.ResetShown(r.Context(), identity, position)
	logger.Info("shown-set reset", zap.String("identity", identity), zap.String("position", position))
	s.respond(w, endpoint, method, start, http.StatusNoContent, nil)
}

// EndSessionHandler handles DELETE /sessions/{identity}.
func (s *Server) EndSessionHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "session_end"
	const method = "DELETE"

	if err := s.Sessions.End(mux.Vars(r)["identity"]); err != nil {
		s.fail(w, endpoint, method, start, statusFor(err), err.Error())
		return
	}
	s.respond(w, endpoint, method, start, http.StatusNoContent, nil)
}
