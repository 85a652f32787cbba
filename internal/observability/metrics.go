package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adrotator_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// catalog refreshes labelled by outcome (success, failure)
	CatalogRefreshCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_catalog_refresh_total",
			Help: "Total catalog refresh attempts",
		},
		[]string{"outcome"},
	)

	CatalogRefreshLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adrotator_catalog_refresh_duration_seconds",
			Help:    "Duration of catalog refresh fetches",
			Buckets: prometheus.DefBuckets,
		},
	)

	// eligible advertisements per position after the last rebuild
	CatalogSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adrotator_catalog_ads",
			Help: "Eligible advertisements per position",
		},
		[]string{"position"},
	)

	// engagement reports labelled by kind (impression, click) and outcome
	EngagementReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_engagement_reports_total",
			Help: "Total engagement reports sent to the backend",
		},
		[]string{"kind", "outcome"},
	)

	// placement state machine transitions labelled by entered phase
	PlacementTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_placement_transitions_total",
			Help: "Total placement state transitions",
		},
		[]string{"phase"},
	)

	// ads made visible, per position
	AdsShown = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_ads_shown_total",
			Help: "Total advertisements displayed",
		},
		[]string{"position"},
	)

	ActivePlacements = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adrotator_active_placements",
			Help: "Currently mounted placements",
		},
	)

	// shown-set storage errors labelled by operation (load, save, delete)
	StorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_storage_errors_total",
			Help: "Total durable storage errors",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		CatalogRefreshCount,
		CatalogRefreshLatency,
		CatalogSize,
		EngagementReports,
		PlacementTransitions,
		AdsShown,
		ActivePlacements,
		StorageErrors,
	)
}
