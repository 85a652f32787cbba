package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/patrickwarner/adrotator/internal/middleware"
)

// Router registers every route of the service.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger))

	r.HandleFunc("/health", s.HealthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	r.HandleFunc("/catalog", s.CatalogStatusHandler).Methods("GET")
	r.HandleFunc("/catalog/refresh", s.RefreshHandler).Methods("POST")
	r.HandleFunc("/catalog/ads", s.RegisterAdHandler).Methods("POST")
	r.HandleFunc("/catalog/ads/{id}", s.UnregisterAdHandler).Methods("DELETE")
	r.HandleFunc("/positions/{position}/ads", s.PositionAdsHandler).Methods("GET")

	sessions := r.PathPrefix("/sessions/{identity}").Subrouter()
	sessions.HandleFunc("", s.EndSessionHandler).Methods("DELETE")
	sessions.HandleFunc("/positions/{position}/next", s.NextAdHandler).Methods("GET")
	sessions.HandleFunc("/shown", s.ShownHandler).Methods("GET")
	sessions.HandleFunc("/shown/reset", s.ResetShownHandler).Methods("POST")

	sessions.HandleFunc("/placements", s.MountHandler).Methods("POST")
	sessions.HandleFunc("/placements/{id}", s.PlacementViewHandler).Methods("GET")
	sessions.HandleFunc("/placements/{id}", s.UnmountHandler).Methods("DELETE")
	sessions.HandleFunc("/placements/{id}/close", s.CloseHandler).Methods("POST")
	sessions.HandleFunc("/placements/{id}/click", s.ClickHandler).Methods("POST")
	sessions.HandleFunc("/placements/{id}/playback", s.PlaybackHandler).Methods("POST")
	sessions.HandleFunc("/placements/{id}/stream", s.PlacementStreamHandler).Methods("GET")

	return r
}
