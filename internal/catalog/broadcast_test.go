package catalog

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/patrickwarner/adrotator/internal/models"
)

func TestBroadcaster_PeersApplyRegistrations(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	localStore := models.NewInMemoryCatalogStore()
	peerStore := models.NewInMemoryCatalogStore()
	local := NewBroadcaster(redis.NewClient(&redis.Options{Addr: mr.Addr()}), localStore, zaptest.NewLogger(t))
	peer := NewBroadcaster(redis.NewClient(&redis.Options{Addr: mr.Addr()}), peerStore, zaptest.NewLogger(t))

	var applied atomic.Int32
	peer.OnApply(func() { applied.Add(1) })

	<-local.Listen(ctx)
	<-peer.Listen(ctx)

	ad := models.Advertisement{ID: "fallback", Position: "sidebar", IsActive: true}
	localStore.RegisterAd(ad)
	require.NoError(t, local.Publish(ctx, ActionRegister, ad.ID, &ad))

	require.Eventually(t, func() bool { return peerStore.GetAd("fallback") != nil }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return applied.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, local.Publish(ctx, ActionUnregister, ad.ID, nil))
	require.Eventually(t, func() bool { return peerStore.GetAd("fallback") == nil }, 2*time.Second, 10*time.Millisecond)

	// The origin ignores its own messages, so its local state is untouched.
	require.NotNil(t, localStore.GetAd("fallback"))
	require.Eventually(t, func() bool { return applied.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcaster_LogsIgnoredPeerRegistration(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	store := models.NewInMemoryCatalogStore()
	store.RegisterAd(models.Advertisement{ID: "house", Position: "sidebar", IsActive: true})

	b := NewBroadcaster(nil, store, zap.New(core))
	var applied int
	b.OnApply(func() { applied++ })

	dup := models.Advertisement{ID: "house", Position: "sidebar", IsActive: true, Title: "peer copy"}
	payload, err := json.Marshal(UpdateMessage{Origin: "peer", Action: ActionRegister, ID: dup.ID, Ad: &dup})
	require.NoError(t, err)
	b.apply(string(payload))

	entries := logs.FilterMessage("peer registration ignored, id already listed").All()
	require.Len(t, entries, 1)
	require.Equal(t, "house", entries[0].ContextMap()["ad_id"])
	require.Equal(t, 0, applied)
	require.Equal(t, "", store.GetAd("house").Title)

	payload, err = json.Marshal(UpdateMessage{Origin: "peer", Action: ActionUnregister, ID: "missing"})
	require.NoError(t, err)
	b.apply(string(payload))
	require.Len(t, logs.FilterMessage("peer unregistration ignored").All(), 1)
	require.Equal(t, 0, applied)
}

func TestBroadcaster_NilIsNoop(t *testing.T) {
	var b *Broadcaster
	b.OnApply(func() {})
	require.NoError(t, b.Publish(context.Background(), ActionRegister, "x", nil))
	<-b.Listen(context.Background())
}
