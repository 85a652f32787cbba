package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics
// so components never touch the global Prometheus collectors directly.
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Catalog metrics
	IncrementCatalogRefresh(outcome string)
	RecordCatalogRefreshLatency(duration time.Duration)
	SetCatalogSize(position string, size int)

	// Engagement metrics
	IncrementEngagementReports(kind, outcome string)

	// Placement metrics
	IncrementPlacementTransitions(phase string)
	IncrementAdsShown(position string)
	AddActivePlacements(delta int)

	// Storage metrics
	IncrementStorageErrors(op string)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementCatalogRefresh(outcome string) {
	CatalogRefreshCount.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) RecordCatalogRefreshLatency(duration time.Duration) {
	CatalogRefreshLatency.Observe(duration.Seconds())
}

func (r *PrometheusRegistry) SetCatalogSize(position string, size int) {
	CatalogSize.WithLabelValues(position).Set(float64(size))
}

func (r *PrometheusRegistry) IncrementEngagementReports(kind, outcome string) {
	EngagementReports.WithLabelValues(kind, outcome).Inc()
}

func (r *PrometheusRegistry) IncrementPlacementTransitions(phase string) {
	PlacementTransitions.WithLabelValues(phase).Inc()
}

func (r *PrometheusRegistry) IncrementAdsShown(position string) {
	AdsShown.WithLabelValues(position).Inc()
}

func (r *PrometheusRegistry) AddActivePlacements(delta int) {
	ActivePlacements.Add(float64(delta))
}

func (r *PrometheusRegistry) IncrementStorageErrors(op string) {
	StorageErrors.WithLabelValues(op).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementCatalogRefresh(outcome string)                               {}
func (r *NoOpRegistry) RecordCatalogRefreshLatency(duration time.Duration)                   {}
func (r *NoOpRegistry) SetCatalogSize(position string, size int)                             {}
func (r *NoOpRegistry) IncrementEngagementReports(kind, outcome string)                      {}
func (r *NoOpRegistry) IncrementPlacementTransitions(phase string)                           {}
func (r *NoOpRegistry) IncrementAdsShown(position string)                                    {}
func (r *NoOpRegistry) AddActivePlacements(delta int)                                        {}
func (r *NoOpRegistry) IncrementStorageErrors(op string)                                     {}
