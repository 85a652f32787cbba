package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status      string    `json:"status"`
	Sessions    int       `json:"sessions"`
	RefreshedAt time.Time `json:"catalog_refreshed_at"`
}

// HealthHandler responds with a simple status check.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "health"
	const method = "GET"

	resp := healthResponse{Status: "ok"}
	if s.Sessions != nil {
		resp.Sessions = s.Sessions.Len()
	}
	if s.Catalog != nil {
		resp.RefreshedAt = s.Catalog.RefreshedAt()
	}
	s.respond(w, endpoint, method, start, http.StatusOK, resp)
}
