package session

import (
	"context"
	"errors"
	"sync"
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
	"github.com/patrickwarner/adrotator/internal/rotation"
)

type countingReporter struct {
	mu          sync.Mutex
	impressions []string
	clicks      []string
	closes      []string
}

func (c *countingReporter) ReportImpression(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.impressions = append(c.impressions, id)
}

func (c *countingReporter) ReportClick(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clicks = append(c.clicks, id)
}

func (c *countingReporter) ReportClose(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes = append(c.closes, id)
}

func newRegistry(t *testing.T, store db.KVStore) (*Registry, *rotation.ManualScheduler, *models.InMemoryCatalogStore, *countingReporter) {
	t.Helper()
	catalog := models.NewTestCatalogStore(
		models.Advertisement{ID: "A", Position: "home_top", Priority: 1, IsActive: true},
		models.Advertisement{ID: "B", Position: "home_top", Priority: 2, IsActive: true},
		models.Advertisement{ID: "S", Position: "sidebar", Priority: 1, IsActive: true},
	)
	sched := rotation.NewManualScheduler()
	rep := &countingReporter{}
	reg := NewRegistry(Config{
		Catalog:   catalog,
		Store:     store,
		Reporter:  rep,
		Scheduler: sched,
		Logger:    zaptest.NewLogger(t),
		Metrics:   observability.NewMockMetricsRegistry(),
	})
	return reg, sched, catalog, rep
}

func TestRegistry_MountSharesShownSetAcrossPlacements(t *testing.T) {
	reg, sched, _, rep := newRegistry(t, db.NewMemoryStore())
	ctx := context.Background()

	p1, err := reg.Mount(ctx, "u1", models.PlacementConfig{Position: "home_top"}, rotation.Hooks{})
	require.NoError(t, err)
	sched.Advance(time.Second)
	require.Equal(t, "A", p1.State().Current.ID)

	// A second placement of the same identity skips the globally shown ad.
	p2, err := reg.Mount(ctx, "u1", models.PlacementConfig{Position: "home_top"}, rotation.Hooks{})
	require.NoError(t, err)
	assert.Equal(t, "B", p2.State().Current.ID)

	// Another identity starts fresh.
	p3, err := reg.Mount(ctx, "u2", models.PlacementConfig{Position: "home_top"}, rotation.Hooks{})
	require.NoError(t, err)
	assert.Equal(t, "A", p3.State().Current.ID)

	sched.Advance(time.Second)
	assert.ElementsMatch(t, []string{"A", "B", "A"}, rep.impressions)
}

func TestRegistry_MountValidates(t *testing.T) {
	reg, _, _, _ := newRegistry(t, db.NewMemoryStore())
	_, err := reg.Mount(context.Background(), "u1", models.PlacementConfig{}, rotation.Hooks{})
	assert.Error(t, err)
	_, err = reg.Mount(context.Background(), "u1", models.PlacementConfig{Position: "p", Size: "huge"}, rotation.Hooks{})
	assert.Error(t, err)
}

func TestRegistry_ShownSetSurvivesRestart(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	store := &db.RedisStore{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}), Ctx: context.Background()}

	reg, sched, _, _ := newRegistry(t, store)
	_, err = reg.Mount(context.Background(), AnonymousIdentity, models.PlacementConfig{Position: "home_top"}, rotation.Hooks{})
	require.NoError(t, err)
	sched.Advance(time.Second)
	reg.Close()

	raw, err := mr.Get("ad_shown_ids")
	require.NoError(t, err)
	assert.JSONEq(t, `["A"]`, raw)

	restarted, _, _, _ := newRegistry(t, store)
	next := restarted.NextFor(context.Background(), AnonymousIdentity, "home_top", nil)
	require.NotNil(t, next)
	assert.Equal(t, "B", next.ID)
}

func TestRegistry_PlacementLookupAndUnmount(t *testing.T) {
	reg, sched, _, _ := newRegistry(t, db.NewMemoryStore())
	ctx := context.Background()
	p, err := reg.Mount(ctx, "u1", models.PlacementConfig{Position: "sidebar"}, rotation.Hooks{})
	require.NoError(t, err)

	got, err := reg.Placement("u1", p.ID())
	require.NoError(t, err)
	assert.Same(t, p, got)

	_, err = reg.Placement("u1", "missing")
	assert.True(t, errors.Is(err, ErrPlacementNotFound))
	_, err = reg.Placement("nobody", p.ID())
	assert.True(t, errors.Is(err, ErrSessionNotFound))

	require.NoError(t, reg.Unmount("u1", p.ID()))
	assert.True(t, errors.Is(reg.Unmount("u1", p.ID()), ErrPlacementNotFound))
	assert.Equal(t, 0, sched.Pending())
}

func TestRegistry_ResetShown(t *testing.T) {
	reg, sched, _, _ := newRegistry(t, db.NewMemoryStore())
	ctx := context.Background()
	home, _ := reg.Mount(ctx, "u1", models.PlacementConfig{Position: "home_top"}, rotation.Hooks{})
	_, _ = reg.Mount(ctx, "u1", models.PlacementConfig{Position: "sidebar"}, rotation.Hooks{})
	sched.Advance(time.Second)

	s, err := reg.Get("u1")
	require.NoError(t, err)
	require.True(t, s.Shown.IsShown("A"))
	require.True(t, s.Shown.IsShown("S"))

	reg.ResetShown(ctx, "u1", "home_top")
	assert.False(t, s.Shown.IsShown("A"))
	assert.True(t, s.Shown.IsShown("S"))
	assert.Equal(t, rotation.PhaseVisible, home.State().Phase)

	reg.ResetShown(ctx, "u1", "")
	assert.Empty(t, s.Shown.IDs())
	st := home.State()
	assert.Equal(t, rotation.PhaseArmed, st.Phase)
	assert.Equal(t, 0, st.SessionShownCount)
}

func TestRegistry_OfferAllPicksUpNewAds(t *testing.T) {
	reg, sched, catalog, _ := newRegistry(t, db.NewMemoryStore())
	ctx := context.Background()
	p, err := reg.Mount(ctx, "u1", models.PlacementConfig{Position: "footer"}, rotation.Hooks{})
	require.NoError(t, err)
	require.Equal(t, rotation.PhaseIdle, p.State().Phase)

	catalog.RegisterAd(models.Advertisement{ID: "F", Position: "footer", IsActive: true})
	reg.OfferAll()
	sched.Advance(time.Second)

	assert.Equal(t, rotation.PhaseVisible, p.State().Phase)
	assert.Equal(t, "F", p.State().Current.ID)
}

func TestRegistry_EndAndExpire(t *testing.T) {
	reg, sched, _, _ := newRegistry(t, db.NewMemoryStore())
	ctx := context.Background()
	p, _ := reg.Mount(ctx, "u1", models.PlacementConfig{Position: "home_top"}, rotation.Hooks{})
	_, _ = reg.Mount(ctx, "u2", models.PlacementConfig{Position: "home_top"}, rotation.Hooks{})

	require.NoError(t, reg.End("u1"))
	assert.True(t, p.State().Unmounted)
	assert.True(t, errors.Is(reg.End("u1"), ErrSessionNotFound))

	assert.Equal(t, 1, reg.ExpireIdle(0))
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, sched.Pending())
}

func TestRegistry_ExpireIdleKeepsActiveSessions(t *testing.T) {
	reg, sched, _, rep := newRegistry(t, db.NewMemoryStore())
	ctx := context.Background()
	p, err := reg.Mount(ctx, "u1", models.PlacementConfig{Position: "home_top"}, rotation.Hooks{})
	require.NoError(t, err)
	_, err = reg.Mount(ctx, "u2", models.PlacementConfig{Position: "home_top"}, rotation.Hooks{})
	require.NoError(t, err)
	sched.Advance(time.Second)

	time.Sleep(60 * time.Millisecond)
	got, err := reg.Placement("u1", p.ID())
	require.NoError(t, err)
	require.NoError(t, got.Close())

	assert.Equal(t, 1, reg.ExpireIdle(50*time.Millisecond))
	assert.False(t, p.State().Unmounted)
	_, err = reg.Get("u2")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	rep.mu.Lock()
	assert.Equal(t, []string{"A"}, rep.closes)
	rep.mu.Unlock()
}

func TestRegistry_ExpireIdleKeepsStreamingSessions(t *testing.T) {
	reg, _, _, _ := newRegistry(t, db.NewMemoryStore())
	p, err := reg.Mount(context.Background(), "u1", models.PlacementConfig{Position: "home_top"}, rotation.Hooks{})
	require.NoError(t, err)

	_, cancel := p.Subscribe(1)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, reg.ExpireIdle(10*time.Millisecond))
	assert.False(t, p.State().Unmounted)

	cancel()
	assert.Equal(t, 1, reg.ExpireIdle(10*time.Millisecond))
	assert.True(t, p.State().Unmounted)

	reg.Touch("u1")
	assert.Equal(t, 0, reg.Len())
}
