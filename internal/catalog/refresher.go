// Package catalog keeps the advertisement catalog in sync with the remote
// backend.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
)

// ErrUnavailable is returned when the backend answers without success.
var ErrUnavailable = errors.New("advertisement backend unavailable")

var tracer = observability.Tracer("catalog")

// Status is the surfaced state of the catalog.
type Status struct {
	Positions   map[string]int `json:"positions"`
	RefreshedAt time.Time      `json:"refreshed_at"`
	LastAttempt time.Time      `json:"last_attempt"`
	LastError   string         `json:"last_error,omitempty"`
	Refreshing  bool           `json:"refreshing"`
}

// Refresher fetches active advertisements and replaces the catalog. A failed
// refresh leaves the catalog at its last good state.
type Refresher struct {
	baseURL    string
	store      models.CatalogStore
	httpClient *http.Client
	logger     *zap.Logger
	metrics    observability.MetricsRegistry
	now        func() time.Time

	mu          sync.Mutex
	lastErr     string
	lastAttempt time.Time
	inFlight    int
	listeners   []func()
}

// NewRefresher creates a refresher writing into store.
func NewRefresher(baseURL string, store models.CatalogStore, timeout time.Duration, logger *zap.Logger, metrics observability.MetricsRegistry) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Refresher{
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   store,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// OnUpdate registers fn to run after every successful replacement.
func (r *Refresher) OnUpdate(fn func()) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Refresh fetches the active advertisements once. Concurrent calls are not
// sequenced; whichever finishes last determines the catalog.
func (r *Refresher) Refresh(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "catalog.refresh")
	start := r.now()
	r.mu.Lock()
	r.lastAttempt = start
	r.inFlight++
	r.mu.Unlock()

	var kept int
	defer func() {
		outcome := "success"
		r.mu.Lock()
		r.inFlight--
		if err != nil {
			outcome = "failure"
			r.lastErr = err.Error()
		} else {
			r.lastErr = ""
		}
		listeners := append([]func(){}, r.listeners...)
		r.mu.Unlock()

		r.metrics.IncrementCatalogRefresh(outcome)
		r.metrics.RecordCatalogRefreshLatency(time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.logger.Error("catalog refresh failed", zap.Error(err))
		} else {
			span.SetAttributes(attribute.Int("catalog.ads", kept))
			for _, fn := range listeners {
				fn()
			}
		}
		span.End()
	}()

	raw, err := r.fetch(ctx)
	if err != nil {
		return err
	}

	now := r.now()
	ads := make([]models.Advertisement, 0, len(raw))
	for _, rec := range raw {
		ad, nerr := rec.Normalize()
		if nerr != nil {
			r.logger.Debug("skipping advertisement", zap.Error(nerr))
			continue
		}
		if !ad.Eligible(now) {
			continue
		}
		ads = append(ads, ad)
	}
	if err := r.store.ReplaceAll(ads); err != nil {
		return fmt.Errorf("replace catalog: %w", err)
	}
	kept = len(ads)

	for _, pos := range r.store.Positions() {
		r.metrics.SetCatalogSize(pos, len(r.store.GetForPosition(pos)))
	}
	r.logger.Info("catalog refreshed",
		zap.Int("received", len(raw)),
		zap.Int("eligible", kept),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (r *Refresher) fetch(ctx context.Context) ([]models.RawAdvertisement, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/advertisements/active", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			r.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload models.ActiveAdsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !payload.Success {
		if payload.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, payload.Message)
		}
		return nil, ErrUnavailable
	}
	return payload.Advertisements, nil
}

// Start refreshes immediately and then every interval until ctx is done.
func (r *Refresher) Start(ctx context.Context, interval time.Duration) {
	_ = r.Refresh(ctx)
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = r.Refresh(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Status reports the catalog contents and the last refresh outcome.
func (r *Refresher) Status() Status {
	positions := make(map[string]int)
	for _, pos := range r.store.Positions() {
		positions[pos] = len(r.store.GetForPosition(pos))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Positions:   positions,
		RefreshedAt: r.store.RefreshedAt(),
		LastAttempt: r.lastAttempt,
		LastError:   r.lastErr,
		Refreshing:  r.inFlight > 0,
	}
}
