package main

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// fakeAd is a record in the remote backend's wire format.
type fakeAd struct {
	ID           string     `json:"_id"`
	Title        string     `json:"title"`
	Description  *string    `json:"description,omitempty"`
	ImageURL     *string    `json:"imageUrl,omitempty"`
	VideoURL     *string    `json:"videoUrl,omitempty"`
	TargetURL    *string    `json:"targetUrl,omitempty"`
	Position     string     `json:"position"`
	Priority     *int       `json:"priority,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	DisplayCap   *int       `json:"displayCap,omitempty"`
	DisplayCount int        `json:"displayCount"`
	IsActive     *bool      `json:"isActive,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

type activeResponse struct {
	Success        bool     `json:"success"`
	Advertisements []fakeAd `json:"advertisements"`
	Message        string   `json:"message,omitempty"`
}

// backend serves the advertisement API the rotator consumes and counts
// the engagement it reports.
type backend struct {
	mu          sync.Mutex
	ads         []fakeAd
	clicks      map[string]int
	failRate    float64
	rng         *rand.Rand
	logger      *zap.Logger
	fetches     int
	impressions int
	closes      int
}

func newBackend(ads []fakeAd, failRate float64, rng *rand.Rand, logger *zap.Logger) *backend {
	return &backend{ads: ads, clicks: make(map[string]int), failRate: failRate, rng: rng, logger: logger}
}

func (b *backend) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/advertisements/active", b.activeHandler).Methods("GET")
	api.HandleFunc("/advertisements/{id}/impression", b.impressionHandler).Methods("POST")
	api.HandleFunc("/advertisements/{id}/click", b.clickHandler).Methods("POST")
	api.HandleFunc("/advertisements/{id}/close", b.closeHandler).Methods("POST")
	return r
}

func (b *backend) activeHandler(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++

	w.Header().Set("Content-Type", "application/json")
	if b.failRate > 0 && b.rng.Float64() < b.failRate {
		b.logger.Info("simulating backend failure")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(activeResponse{Success: false, Message: "simulated failure"})
		return
	}
	_ = json.NewEncoder(w).Encode(activeResponse{Success: true, Advertisements: b.ads})
}

func (b *backend) impressionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.ads {
		if b.ads[i].ID == id {
			b.ads[i].DisplayCount++
			b.impressions++
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	http.Error(w, "advertisement not found", http.StatusNotFound)
}

func (b *backend) clickHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clicks[id]++
	w.WriteHeader(http.StatusNoContent)
}

func (b *backend) closeHandler(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	w.WriteHeader(http.StatusNoContent)
}

func (b *backend) logStats() {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.clicks {
		total += n
	}
	b.logger.Info("backend stats",
		zap.Int("fetches", b.fetches),
		zap.Int("impressions", b.impressions),
		zap.Int("clicks", total),
		zap.Int("closes", b.closes))
}
