package observability

import (
	"sync"
	"time"
)

var _ MetricsRegistry = (*MockMetricsRegistry)(nil)

// MockMetricsRegistry counts calls so tests can assert on recorded outcomes.
type MockMetricsRegistry struct {
	mu       sync.Mutex
	Refresh  map[string]int
	Reports  map[string]int // "kind/outcome"
	Phases   map[string]int
	Shown    map[string]int
	Storage  map[string]int
	Active   int
	Requests map[string]int // "endpoint/method/status"
}

// NewMockMetricsRegistry returns an empty counting registry.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{
		Refresh:  make(map[string]int),
		Reports:  make(map[string]int),
		Phases:   make(map[string]int),
		Shown:    make(map[string]int),
		Storage:  make(map[string]int),
		Requests: make(map[string]int),
	}
}

func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests[endpoint+"/"+method+"/"+status]++
}

func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

func (m *MockMetricsRegistry) IncrementCatalogRefresh(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Refresh[outcome]++
}

func (m *MockMetricsRegistry) RecordCatalogRefreshLatency(duration time.Duration) {}
func (m *MockMetricsRegistry) SetCatalogSize(position string, size int)           {}

func (m *MockMetricsRegistry) IncrementEngagementReports(kind, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reports[kind+"/"+outcome]++
}

func (m *MockMetricsRegistry) IncrementPlacementTransitions(phase string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Phases[phase]++
}

func (m *MockMetricsRegistry) IncrementAdsShown(position string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Shown[position]++
}

func (m *MockMetricsRegistry) AddActivePlacements(delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Active += delta
}

func (m *MockMetricsRegistry) IncrementStorageErrors(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Storage[op]++
}

// Count returns a snapshot of one counter map entry.
func (m *MockMetricsRegistry) Count(counter map[string]int, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return counter[key]
}
