// Package session keeps the per-identity state shared by an identity's
// placements: one shown-set and the set of mounted placements.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/db"
	logic "github.com/patrickwarner/adrotator/internal/logic"
	"github.com/patrickwarner/adrotator/internal/logic/selectors"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
	"github.com/patrickwarner/adrotator/internal/rotation"
	"github.com/patrickwarner/adrotator/internal/shownset"
)

// AnonymousIdentity maps to the unscoped shown-set key.
const AnonymousIdentity = "anonymous"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrPlacementNotFound = errors.New("placement not found")
)

// Session is one browsing identity.
type Session struct {
	Identity string
	Shown    *shownset.Tracker

	mu         sync.Mutex
	placements map[string]*rotation.Placement
	lastSeen   time.Time
}

// Placements returns the mounted placements sorted by id.
func (s *Session) Placements() []*rotation.Placement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*rotation.Placement, 0, len(s.placements))
	for _, p := range s.placements {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (s *Session) streaming() bool {
	for _, p := range s.Placements() {
		if p.Subscribed() {
			return true
		}
	}
	return false
}

// Config wires a Registry.
type Config struct {
	Catalog          models.CatalogStore
	Selector         selectors.Selector
	Store            db.KVStore
	Reporter         rotation.Reporter
	Scheduler        rotation.Scheduler
	Defaults         rotation.Config
	ShownSetKey      string
	ShownSetTTL      time.Duration
	TransitionSample float64
	Logger           *zap.Logger
	Metrics          observability.MetricsRegistry
}

// Registry owns every live session.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoOpRegistry()
	}
	if cfg.Selector == nil {
		cfg.Selector = selectors.NewPositionSelector(cfg.Catalog)
	}
	if cfg.ShownSetKey == "" {
		cfg.ShownSetKey = "ad_shown_ids"
	}
	if cfg.Defaults == (rotation.Config{}) {
		cfg.Defaults = rotation.DefaultConfig()
	}
	return &Registry{cfg: cfg, sessions: make(map[string]*Session)}
}

// GetOrCreate returns the identity's session, loading its shown-set from
// storage on first use.
func (r *Registry) GetOrCreate(ctx context.Context, identity string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[identity]; ok {
		s.lastSeen = time.Now()
		return s
	}

	key := shownset.Key(r.cfg.ShownSetKey, identity)
	if identity == AnonymousIdentity {
		key = r.cfg.ShownSetKey
	}
	tracker := shownset.New(r.cfg.Store, key, r.cfg.Catalog,
		shownset.WithTTL(r.cfg.ShownSetTTL),
		shownset.WithLogger(r.cfg.Logger.With(zap.String("identity", identity))),
		shownset.WithMetrics(r.cfg.Metrics),
	)
	tracker.Load(ctx)

	s := &Session{
		Identity:   identity,
		Shown:      tracker,
		placements: make(map[string]*rotation.Placement),
		lastSeen:   time.Now(),
	}
	r.sessions[identity] = s
	return s
}

// Get returns an existing session and marks it as used.
func (r *Registry) Get(identity string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[identity]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.lastSeen = time.Now()
	return s, nil
}

// Touch marks identity's session as used. Unknown identities are ignored.
func (r *Registry) Touch(identity string) {
	_, _ = r.Get(identity)
}

// NextFor runs the position selector against the identity's shown-set.
func (r *Registry) NextFor(ctx context.Context, identity, position string, trace *logic.SelectionTrace) *models.Advertisement {
	s := r.GetOrCreate(ctx, identity)
	return r.cfg.Selector.NextForWithTrace(position, s.Shown, trace)
}

// Mount creates and starts a placement for identity.
func (r *Registry) Mount(ctx context.Context, identity string, pc models.PlacementConfig, hooks rotation.Hooks) (*rotation.Placement, error) {
	if err := pc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid placement: %w", err)
	}
	s := r.GetOrCreate(ctx, identity)

	id := uuid.NewString()
	logger := r.cfg.Logger.With(zap.String("identity", identity), zap.String("placement_id", id))
	p := rotation.NewPlacement(rotation.Options{
		ID:               id,
		Position:         pc.Position,
		Size:             pc.EffectiveSize(),
		ShowOnMobile:     pc.ShowOnMobile,
		Config:           r.cfg.Defaults.WithPlacement(pc),
		Hooks:            hooks,
		TransitionSample: r.cfg.TransitionSample,
	}, rotation.Deps{
		Catalog:   r.cfg.Catalog,
		Selector:  r.cfg.Selector,
		Shown:     s.Shown,
		Reporter:  r.cfg.Reporter,
		Scheduler: r.cfg.Scheduler,
		Logger:    logger,
		Metrics:   r.cfg.Metrics,
	})

	s.mu.Lock()
	s.placements[id] = p
	s.mu.Unlock()

	p.Mount()
	logger.Info("placement mounted", zap.String("position", pc.Position))
	return p, nil
}

// Placement looks up a mounted placement.
func (r *Registry) Placement(identity, id string) (*rotation.Placement, error) {
	s, err := r.Get(identity)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.placements[id]
	if !ok {
		return nil, ErrPlacementNotFound
	}
	return p, nil
}

// Unmount stops a placement and forgets it.
func (r *Registry) Unmount(identity, id string) error {
	s, err := r.Get(identity)
	if err != nil {
		return err
	}
	s.mu.Lock()
	p, ok := s.placements[id]
	delete(s.placements, id)
	s.mu.Unlock()
	if !ok {
		return ErrPlacementNotFound
	}
	p.Unmount()
	return nil
}

// ResetShown clears the identity's shown-set, or only the part belonging to
// position. A global reset also restarts every placement's session.
func (r *Registry) ResetShown(ctx context.Context, identity, position string) {
	s := r.GetOrCreate(ctx, identity)
	s.Shown.Reset(ctx, position)
	if position != "" {
		return
	}
	for _, p := range s.Placements() {
		p.Reset()
	}
}

// End unmounts every placement of identity and drops the session. The
// persisted shown-set is kept.
func (r *Registry) End(identity string) error {
	r.mu.Lock()
	s, ok := r.sessions[identity]
	delete(r.sessions, identity)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	for _, p := range s.Placements() {
		p.Unmount()
	}
	return nil
}

// OfferAll re-offers candidates to every placement. Used after a catalog
// refresh so idle placements pick up new ads.
func (r *Registry) OfferAll() {
	for _, s := range r.snapshot() {
		for _, p := range s.Placements() {
			p.Offer()
		}
	}
}

// ExpireIdle ends sessions not used for longer than ttl. Sessions with a
// placement that still has a stream subscriber are kept.
func (r *Registry) ExpireIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	var stale []*Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.lastSeen.After(cutoff) || s.streaming() {
			continue
		}
		stale = append(stale, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range stale {
		for _, p := range s.Placements() {
			p.Unmount()
		}
		r.cfg.Logger.Debug("idle session expired", zap.String("identity", s.Identity))
	}
	return len(stale)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close ends every session.
func (r *Registry) Close() {
	for _, s := range r.snapshot() {
		_ = r.End(s.Identity)
	}
}

func (r *Registry) snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
