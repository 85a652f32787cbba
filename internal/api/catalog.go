package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/catalog"
	"github.com/patrickwarner/adrotator/internal/middleware"
	"github.com/patrickwarner/adrotator/internal/models"
)

// catalogStatus reports the refresher state, or the bare store contents
// when no refresher is configured.
func (s *Server) catalogStatus() catalog.Status {
	if s.Refresher != nil {
		return s.Refresher.Status()
	}
	st := catalog.Status{Positions: make(map[string]int), RefreshedAt: s.Catalog.RefreshedAt()}
	for _, pos := range s.Catalog.Positions() {
		st.Positions[pos] = len(s.Catalog.GetForPosition(pos))
	}
	return st
}

// CatalogStatusHandler handles GET /catalog.
func (s *Server) CatalogStatusHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "catalog_status"
	const method = "GET"

	s.respond(w, endpoint, method, start, http.StatusOK, s.catalogStatus())
}

// RefreshHandler handles POST /catalog/refresh. A failed refresh leaves the
// catalog as it was and is reported as a bad gateway.
func (s *Server) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "RefreshHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/catalog/refresh"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "catalog_refresh"
	const method = "POST"

	if s.Refresher == nil {
		s.fail(w, endpoint, method, start, http.StatusServiceUnavailable, "refresher unavailable")
		return
	}
	if err := s.Refresher.Refresh(ctx); err != nil {
		logger.Warn("manual catalog refresh failed", zap.Error(err))
		span.RecordError(err)
		s.fail(w, endpoint, method, start, http.StatusBadGateway, err.Error())
		return
	}
	s.respond(w, endpoint, method, start, http.StatusOK, s.Refresher.Status())
}

// PositionAdsHandler handles GET /positions/{position}/ads.
func (s *Server) PositionAdsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "position_ads"
	const method = "GET"

	position := mux.Vars(r)["position"]
	s.respond(w, endpoint, method, start, http.StatusOK, s.Catalog.GetForPosition(position))
}

type registerResponse struct {
	Registered bool                 `json:"registered"`
	Ad         models.Advertisement `json:"ad"`
}

// RegisterAdHandler handles POST /catalog/ads. The body uses the remote
// backend's record format and gets the same defaults. Ads that a refresh
// would discard are rejected.
func (s *Server) RegisterAdHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "catalog_register"
	const method = "POST"

	var raw models.RawAdvertisement
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		s.fail(w, endpoint, method, start, http.StatusBadRequest, "invalid json")
		return
	}
	ad, err := raw.Normalize()
	if err != nil {
		s.fail(w, endpoint, method, start, http.StatusBadRequest, err.Error())
		return
	}
	if !ad.Eligible(time.Now()) {
		s.fail(w, endpoint, method, start, http.StatusUnprocessableEntity, "advertisement is inactive, outside its window, or at its display cap")
		return
	}

	if !s.Catalog.RegisterAd(ad) {
		s.respond(w, endpoint, method, start, http.StatusOK, registerResponse{Registered: false, Ad: ad})
		return
	}
	logger.Info("advertisement registered", zap.String("ad_id", ad.ID), zap.String("position", ad.Position))

	if err := s.Broadcaster.Publish(r.Context(), catalog.ActionRegister, ad.ID, &ad); err != nil {
		logger.Warn("broadcast registration", zap.Error(err))
	}
	if s.Sessions != nil {
		s.Sessions.OfferAll()
	}
	s.respond(w, endpoint, method, start, http.StatusCreated, registerResponse{Registered: true, Ad: ad})
}

// UnregisterAdHandler handles DELETE /catalog/ads/{id}.
func (s *Server) UnregisterAdHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "catalog_unregister"
	const method = "DELETE"

	id := mux.Vars(r)["id"]
	if err := s.Catalog.UnregisterAd(id); err != nil {
		s.fail(w, endpoint, method, start, statusFor(err), err.Error())
		return
	}
	logger.Info("advertisement unregistered", zap.String("ad_id", id))

	if err := s.Broadcaster.Publish(r.Context(), catalog.ActionUnregister, id, nil); err != nil {
		logger.Warn("broadcast unregistration", zap.Error(err))
	}
	if s.Sessions != nil {
		s.Sessions.OfferAll()
	}
	s.respond(w, endpoint, method, start, http.StatusNoContent, nil)
}
