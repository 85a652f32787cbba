package models

// NewTestCatalogStore creates an in-memory catalog seeded with ads for tests.
// The ads go through the same grouping and ordering as a remote refresh.
func NewTestCatalogStore(ads ...Advertisement) *InMemoryCatalogStore {
	store := NewInMemoryCatalogStore()
	_ = store.ReplaceAll(ads)
	return store
}
