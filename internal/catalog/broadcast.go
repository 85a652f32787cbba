package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/models"
)

// UpdateChannel carries local registrations between service instances.
const UpdateChannel = "adrotator:catalog-updates"

// Registration actions.
const (
	ActionRegister   = "register"
	ActionUnregister = "unregister"
)

// UpdateMessage is one local catalog mutation.
type UpdateMessage struct {
	Origin string                `json:"origin"`
	Action string                `json:"action"`
	ID     string                `json:"id"`
	Ad     *models.Advertisement `json:"ad,omitempty"`
}

// Broadcaster publishes local registrations so peer instances apply them
// too, and applies the ones peers publish.
type Broadcaster struct {
	client *redis.Client
	store  models.CatalogStore
	origin string
	logger *zap.Logger

	mu      sync.Mutex
	onApply []func()
}

// NewBroadcaster creates a broadcaster with a random origin id.
func NewBroadcaster(client *redis.Client, store models.CatalogStore, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{client: client, store: store, origin: uuid.NewString(), logger: logger}
}

// Origin identifies this instance in published messages.
func (b *Broadcaster) Origin() string { return b.origin }

// OnApply registers fn to run after a peer update is applied.
func (b *Broadcaster) OnApply(fn func()) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.onApply = append(b.onApply, fn)
	b.mu.Unlock()
}

// Publish sends a registration change to peers.
func (b *Broadcaster) Publish(ctx context.Context, action, id string, ad *models.Advertisement) error {
	if b == nil || b.client == nil {
		return nil
	}
	payload, err := json.Marshal(UpdateMessage{Origin: b.origin, Action: action, ID: id, Ad: ad})
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	if err := b.client.Publish(ctx, UpdateChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish update: %w", err)
	}
	return nil
}

// Listen applies peer updates until ctx is done. The returned channel is
// closed once the subscription is established.
func (b *Broadcaster) Listen(ctx context.Context) <-chan struct{} {
	ready := make(chan struct{})
	if b == nil || b.client == nil {
		close(ready)
		return ready
	}
	sub := b.client.Subscribe(ctx, UpdateChannel)
	go func() {
		defer func() {
			if err := sub.Close(); err != nil {
				b.logger.Warn("close catalog subscription", zap.Error(err))
			}
		}()
		if _, err := sub.Receive(ctx); err != nil {
			b.logger.Error("catalog subscription failed", zap.Error(err))
			close(ready)
			return
		}
		close(ready)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.apply(msg.Payload)
			}
		}
	}()
	return ready
}

func (b *Broadcaster) apply(payload string) {
	var msg UpdateMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		b.logger.Warn("invalid catalog update", zap.Error(err))
		return
	}
	if msg.Origin == b.origin {
		return
	}
	switch msg.Action {
	case ActionRegister:
		if msg.Ad == nil {
			return
		}
		if !b.store.RegisterAd(*msg.Ad) {
			b.logger.Info("peer registration ignored, id already listed",
				zap.String("ad_id", msg.ID),
				zap.String("position", msg.Ad.Position),
				zap.String("origin", msg.Origin))
			return
		}
	case ActionUnregister:
		if err := b.store.UnregisterAd(msg.ID); err != nil {
			b.logger.Info("peer unregistration ignored",
				zap.String("ad_id", msg.ID),
				zap.String("origin", msg.Origin),
				zap.Error(err))
			return
		}
	default:
		b.logger.Warn("unknown catalog update action", zap.String("action", msg.Action))
		return
	}
	b.logger.Debug("applied peer catalog update",
		zap.String("action", msg.Action),
		zap.String("ad_id", msg.ID),
		zap.String("origin", msg.Origin))

	b.mu.Lock()
	hooks := append([]func(){}, b.onApply...)
	b.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
