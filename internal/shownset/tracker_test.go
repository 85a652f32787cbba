package shownset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/patrickwarner/adrotator/internal/db"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *db.RedisStore) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return s, &db.RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: s.Addr()}),
		Ctx:    context.Background(),
	}
}

func testCatalog() *models.InMemoryCatalogStore {
	return models.NewTestCatalogStore(
		models.Advertisement{ID: "a1", Position: "posA", Priority: 1},
		models.Advertisement{ID: "a2", Position: "posA", Priority: 2},
		models.Advertisement{ID: "b1", Position: "posB", Priority: 1},
	)
}

func TestTracker_MarkShownPersistsAcrossReload(t *testing.T) {
	mr, store := setupTestRedis(t)
	ctx := context.Background()

	tr := New(store, "ad_shown_ids", testCatalog(), WithLogger(zaptest.NewLogger(t)))
	tr.Load(ctx)
	tr.MarkShown(ctx, "a1")
	tr.MarkShown(ctx, "b1")
	tr.MarkShown(ctx, "a1")

	assert.True(t, tr.IsShown("a1"))
	assert.Equal(t, []string{"a1", "b1"}, tr.IDs())

	raw, err := mr.Get("ad_shown_ids")
	require.NoError(t, err)
	assert.JSONEq(t, `["a1","b1"]`, raw)

	reloaded := New(store, "ad_shown_ids", testCatalog())
	reloaded.Load(ctx)
	assert.True(t, reloaded.IsShown("a1"))
	assert.True(t, reloaded.IsShown("b1"))
	assert.False(t, reloaded.IsShown("a2"))
}

func TestTracker_LoadCorruptDataStartsEmpty(t *testing.T) {
	mr, store := setupTestRedis(t)
	require.NoError(t, mr.Set("ad_shown_ids", "{not json"))

	tr := New(store, "ad_shown_ids", nil)
	tr.Load(context.Background())

	assert.Empty(t, tr.IDs())
}

func TestTracker_ResetPositionScoping(t *testing.T) {
	store := db.NewMemoryStore()
	ctx := context.Background()
	tr := New(store, "ad_shown_ids", testCatalog())
	tr.Load(ctx)

	for _, id := range []string{"a1", "b1", "a2", "gone"} {
		tr.MarkShown(ctx, id)
	}
	tr.Reset(ctx, "posA")

	assert.False(t, tr.IsShown("a1"))
	assert.False(t, tr.IsShown("a2"))
	assert.True(t, tr.IsShown("b1"))
	// Ids no longer in the catalog are not un-marked.
	assert.True(t, tr.IsShown("gone"))

	raw, err := store.Get(ctx, "ad_shown_ids")
	require.NoError(t, err)
	assert.JSONEq(t, `["b1","gone"]`, raw)
}

func TestTracker_ResetAllDeletesKey(t *testing.T) {
	store := db.NewMemoryStore()
	ctx := context.Background()
	tr := New(store, "ad_shown_ids", testCatalog())
	tr.MarkShown(ctx, "a1")

	tr.Reset(ctx, "")

	assert.Empty(t, tr.IDs())
	_, err := store.Get(ctx, "ad_shown_ids")
	assert.True(t, errors.Is(err, db.ErrKeyNotFound))
}

func TestTracker_TTL(t *testing.T) {
	mr, store := setupTestRedis(t)
	tr := New(store, Key("ad_shown_ids", "u1"), nil, WithTTL(time.Hour))
	tr.MarkShown(context.Background(), "x")

	assert.Equal(t, time.Hour, mr.TTL("ad_shown_ids:u1"))
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, error) { return "", errors.New("down") }
func (failingStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("down")
}
func (failingStore) Delete(context.Context, string) error { return errors.New("down") }

func TestTracker_StorageErrorsAreSwallowed(t *testing.T) {
	metrics := observability.NewMockMetricsRegistry()
	tr := New(failingStore{}, "k", nil, WithMetrics(metrics))
	ctx := context.Background()

	tr.Load(ctx)
	tr.MarkShown(ctx, "a")
	tr.Reset(ctx, "")

	assert.False(t, tr.IsShown("a"))
	assert.Equal(t, 1, metrics.Count(metrics.Storage, "read"))
	assert.Equal(t, 1, metrics.Count(metrics.Storage, "write"))
	assert.Equal(t, 1, metrics.Count(metrics.Storage, "delete"))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "ad_shown_ids", Key("ad_shown_ids", ""))
	assert.Equal(t, "ad_shown_ids:abc", Key("ad_shown_ids", "abc"))
}
