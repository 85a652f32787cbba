package models

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotFound is returned when an entity is not found in the catalog
var ErrNotFound = errors.New("entity not found")

// CatalogStore provides thread-safe access to the position-bucketed ad catalog.
// Reads never block; every write publishes a new immutable snapshot.
type CatalogStore interface {
	// Read operations (hot path)
	GetForPosition(position string) []Advertisement
	GetAd(id string) *Advertisement
	Positions() []string
	RefreshedAt() time.Time

	// Write operations (refresh path)
	ReplaceAll(ads []Advertisement) error

	// Local registration of caller-supplied fallback ads
	RegisterAd(ad Advertisement) bool
	UnregisterAd(id string) error
}

// catalogSnapshot represents an immutable snapshot of the catalog
type catalogSnapshot struct {
	remote      map[string][]Advertisement // last refresh, position -> sorted ads
	registered  map[string][]Advertisement // local registrations, position -> ads
	byPosition  map[string][]Advertisement // remote merged with registered, sorted
	index       map[string]*Advertisement  // ad ID -> ad
	refreshedAt time.Time
}

// InMemoryCatalogStore implements CatalogStore with atomic snapshot updates
type InMemoryCatalogStore struct {
	data atomic.Pointer[catalogSnapshot]
	// writeMu serialises writers so a registration never races a refresh
	// into losing the other's update.
	writeMu sync.Mutex
}

// NewInMemoryCatalogStore creates an empty catalog
func NewInMemoryCatalogStore() *InMemoryCatalogStore {
	store := &InMemoryCatalogStore{}
	store.data.Store(&catalogSnapshot{
		remote:     make(map[string][]Advertisement),
		registered: make(map[string][]Advertisement),
		byPosition: make(map[string][]Advertisement),
		index:      make(map[string]*Advertisement),
	})
	return store
}

// GetForPosition returns the ordered candidates for a position, or an empty slice.
func (s *InMemoryCatalogStore) GetForPosition(position string) []Advertisement {
	data := s.data.Load()
	items := data.byPosition[position]
	// Return a copy to prevent external modification
	result := make([]Advertisement, len(items))
	copy(result, items)
	return result
}

// GetAd looks an advertisement up by ID across all positions
func (s *InMemoryCatalogStore) GetAd(id string) *Advertisement {
	data := s.data.Load()
	if ad, ok := data.index[id]; ok {
		cp := *ad
		return &cp
	}
	return nil
}

// Positions returns every position with at least one candidate, sorted.
func (s *InMemoryCatalogStore) Positions() []string {
	data := s.data.Load()
	positions := make([]string, 0, len(data.byPosition))
	for pos := range data.byPosition {
		positions = append(positions, pos)
	}
	sort.Strings(positions)
	return positions
}

// RefreshedAt returns when the remote part of the catalog was last replaced.
func (s *InMemoryCatalogStore) RefreshedAt() time.Time {
	return s.data.Load().refreshedAt
}

// ReplaceAll swaps in a freshly fetched set of eligible ads. Ads must already
// be filtered; grouping, de-duplication and ordering happen here.
func (s *InMemoryCatalogStore) ReplaceAll(ads []Advertisement) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.data.Load()
	remote := GroupByPosition(ads)
	now := time.Now()
	s.data.Store(buildSnapshot(remote, current.registered, now, now))
	return nil
}

// RegisterAd adds a local advertisement. It is a no-op, returning false, when
// the ad's position already lists an ad with the same ID. Registered ads are
// listed only while they are eligible; eligibility is re-evaluated on every
// rebuild.
func (s *InMemoryCatalogStore) RegisterAd(ad Advertisement) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.data.Load()
	if containsID(current.byPosition[ad.Position], ad.ID) || containsID(current.registered[ad.Position], ad.ID) {
		return false
	}

	registered := copyBuckets(current.registered)
	registered[ad.Position] = append(registered[ad.Position], ad)
	s.data.Store(buildSnapshot(current.remote, registered, current.refreshedAt, time.Now()))
	return true
}

// UnregisterAd removes an advertisement from every position. Remote ads come
// back on the next refresh if the backend still lists them.
func (s *InMemoryCatalogStore) UnregisterAd(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.data.Load()
	if _, ok := current.index[id]; !ok && !bucketsContain(current.registered, id) {
		return ErrNotFound
	}

	s.data.Store(buildSnapshot(
		withoutID(current.remote, id),
		withoutID(current.registered, id),
		current.refreshedAt,
		time.Now(),
	))
	return nil
}

// buildSnapshot merges remote and registered buckets and rebuilds the index.
// Remote entries win when both carry the same ID in a position. Remote ads
// arrive pre-filtered; registered ones are dropped unless eligible at now.
func buildSnapshot(remote, registered map[string][]Advertisement, refreshedAt, now time.Time) *catalogSnapshot {
	merged := make(map[string][]Advertisement, len(remote)+len(registered))
	for pos, items := range remote {
		merged[pos] = append([]Advertisement(nil), items...)
	}
	for pos, items := range registered {
		for _, ad := range items {
			if !ad.Eligible(now) || containsID(merged[pos], ad.ID) {
				continue
			}
			merged[pos] = append(merged[pos], ad)
		}
	}

	index := make(map[string]*Advertisement)
	for pos := range merged {
		SortAdvertisements(merged[pos])
		for i := range merged[pos] {
			if _, ok := index[merged[pos][i].ID]; !ok {
				index[merged[pos][i].ID] = &merged[pos][i]
			}
		}
	}

	return &catalogSnapshot{
		remote:      remote,
		registered:  registered,
		byPosition:  merged,
		index:       index,
		refreshedAt: refreshedAt,
	}
}

func copyBuckets(in map[string][]Advertisement) map[string][]Advertisement {
	out := make(map[string][]Advertisement, len(in))
	for pos, items := range in {
		out[pos] = append([]Advertisement(nil), items...)
	}
	return out
}

func withoutID(in map[string][]Advertisement, id string) map[string][]Advertisement {
	out := make(map[string][]Advertisement, len(in))
	for pos, items := range in {
		kept := make([]Advertisement, 0, len(items))
		for _, ad := range items {
			if ad.ID != id {
				kept = append(kept, ad)
			}
		}
		if len(kept) > 0 {
			out[pos] = kept
		}
	}
	return out
}

func bucketsContain(buckets map[string][]Advertisement, id string) bool {
	for _, items := range buckets {
		if containsID(items, id) {
			return true
		}
	}
	return false
}

func containsID(ads []Advertisement, id string) bool {
	for _, ad := range ads {
		if ad.ID == id {
			return true
		}
	}
	return false
}
