// Package shownset tracks which advertisements an identity has already seen
// and persists that set across restarts.
package shownset

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/db"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
)

// PositionLister returns the current candidate list of a position.
type PositionLister interface {
	GetForPosition(position string) []models.Advertisement
}

// Tracker holds the shown-set of one browsing identity. MarkShown never
// reports engagement; impressions are reported by the rotation controller.
type Tracker struct {
	store   db.KVStore
	key     string
	ttl     time.Duration
	catalog PositionLister
	logger  *zap.Logger
	metrics observability.MetricsRegistry

	mu    sync.RWMutex
	order []string
	ids   map[string]struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTTL sets an expiry on the persisted entry.
func WithTTL(ttl time.Duration) Option { return func(t *Tracker) { t.ttl = ttl } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(t *Tracker) { t.logger = l } }

// WithMetrics sets the metrics registry.
func WithMetrics(m observability.MetricsRegistry) Option { return func(t *Tracker) { t.metrics = m } }

// Key returns the storage key for identity. The empty identity uses the
// base key unchanged.
func Key(base, identity string) string {
	if identity == "" {
		return base
	}
	return base + ":" + identity
}

// New creates an empty tracker persisting under key. Call Load before use.
func New(store db.KVStore, key string, catalog PositionLister, opts ...Option) *Tracker {
	t := &Tracker{
		store:   store,
		key:     key,
		catalog: catalog,
		logger:  zap.NewNop(),
		metrics: observability.NewNoOpRegistry(),
		ids:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Load reads the persisted set. Missing or unreadable data leaves the set empty.
func (t *Tracker) Load(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = nil
	t.ids = make(map[string]struct{})

	if t.store == nil {
		return
	}
	raw, err := t.store.Get(ctx, t.key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			t.metrics.IncrementStorageErrors("read")
			t.logger.Warn("shown-set load failed", zap.String("key", t.key), zap.Error(err))
		}
		return
	}
	var stored []string
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.logger.Warn("shown-set parse failed", zap.String("key", t.key), zap.Error(err))
		return
	}
	for _, id := range stored {
		if _, ok := t.ids[id]; ok {
			continue
		}
		t.ids[id] = struct{}{}
		t.order = append(t.order, id)
	}
}

// MarkShown adds id to the set and persists the full set.
func (t *Tracker) MarkShown(ctx context.Context, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ids[id]; !ok {
		t.ids[id] = struct{}{}
		t.order = append(t.order, id)
	}
	t.persistLocked(ctx)
}

// IsShown reports membership.
func (t *Tracker) IsShown(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ids[id]
	return ok
}

// IDs returns the set in insertion order.
func (t *Tracker) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.order...)
}

// Reset clears the whole set when position is empty. Otherwise it removes
// only the ids currently listed for that position in the catalog.
func (t *Tracker) Reset(ctx context.Context, position string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if position == "" {
		t.order = nil
		t.ids = make(map[string]struct{})
		if t.store == nil {
			return
		}
		if err := t.store.Delete(ctx, t.key); err != nil {
			t.metrics.IncrementStorageErrors("delete")
			t.logger.Warn("shown-set delete failed", zap.String("key", t.key), zap.Error(err))
		}
		return
	}

	if t.catalog == nil {
		return
	}
	drop := make(map[string]struct{})
	for _, ad := range t.catalog.GetForPosition(position) {
		drop[ad.ID] = struct{}{}
	}
	kept := t.order[:0:0]
	for _, id := range t.order {
		if _, ok := drop[id]; ok {
			delete(t.ids, id)
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
	t.persistLocked(ctx)
}

func (t *Tracker) persistLocked(ctx context.Context) {
	if t.store == nil {
		return
	}
	order := t.order
	if order == nil {
		order = []string{}
	}
	b, err := json.Marshal(order)
	if err != nil {
		t.logger.Error("shown-set encode failed", zap.Error(err))
		return
	}
	if err := t.store.Set(ctx, t.key, string(b), t.ttl); err != nil {
		t.metrics.IncrementStorageErrors("write")
		t.logger.Warn("shown-set persist failed", zap.String("key", t.key), zap.Error(err))
	}
}
