package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/config"
	"github.com/patrickwarner/adrotator/internal/observability"
)

var (
	port         = flag.String("port", "9090", "port to serve the fake backend on")
	positionsCSV = flag.String("positions", "home_top,sidebar,footer,video", "comma-separated positions")
	adsPer       = flag.Int("ads", 4, "advertisements per position")
	videoShare   = flag.Float64("video-share", 0.25, "fraction of advertisements with video media")
	capShare     = flag.Float64("cap-share", 0.2, "fraction of advertisements with a display cap")
	failRate     = flag.Float64("fail-rate", 0, "probability that a catalog fetch fails with 500")
	seed         = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	skipRefresh  = flag.Bool("skip-refresh", false, "skip the adrotator catalog refresh after startup")
)

func main() {
	flag.Parse()

	logger, err := observability.InitLoggerWithService("fake-backend")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	r := rand.New(rand.NewSource(*seed))

	positions := strings.Split(*positionsCSV, ",")
	for i := range positions {
		positions[i] = strings.TrimSpace(positions[i])
	}
	ads := generateAds(r, positions, *adsPer, *videoShare, *capShare)
	backend := newBackend(ads, *failRate, r, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := ":" + *port
	srv := &http.Server{Addr: addr, Handler: backend.Router(), ReadTimeout: 5 * time.Second}
	logger.Info("fake backend running",
		zap.String("addr", addr),
		zap.Int("advertisements", len(ads)),
		zap.Strings("positions", positions))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if !*skipRefresh {
		go func() {
			time.Sleep(500 * time.Millisecond)
			if err := callRefreshEndpoint(&cfg); err != nil {
				logger.Warn("adrotator refresh failed", zap.Error(err))
			} else {
				logger.Info("adrotator catalog refreshed")
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Fatal("listen", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	backend.logStats()
}

var nameAdjectives = []string{"Sunny", "Coastal", "Urban", "Quiet", "Grand", "Modern"}
var nameNouns = []string{"Villa", "Loft", "Retreat", "Residence", "Studio", "Cottage"}

func fakeTitle(r *rand.Rand) string {
	return fmt.Sprintf("%s %s %d", nameAdjectives[r.Intn(len(nameAdjectives))], nameNouns[r.Intn(len(nameNouns))], r.Intn(100))
}

func fakeCampaignName(r *rand.Rand) string {
	seasons := []string{"Spring", "Summer", "Fall", "Winter", "Holiday"}
	products := []string{"Sale", "Launch", "Promo", "Special"}
	return fmt.Sprintf("%s %s", seasons[r.Intn(len(seasons))], products[r.Intn(len(products))])
}

func randomString(r *rand.Rand, n int) string {
	letters := []rune("abcdef0123456789")
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b)
}

// generateAds builds a catalog that exercises every media kind, optional
// fields left out, display caps, and a few records the rotator must drop.
func generateAds(r *rand.Rand, positions []string, per int, videoShare, capShare float64) []fakeAd {
	now := time.Now().UTC()
	var ads []fakeAd
	for _, pos := range positions {
		for i := 0; i < per; i++ {
			ad := fakeAd{
				ID:        randomString(r, 24),
				Title:     fakeTitle(r),
				Position:  pos,
				CreatedAt: now.Add(-time.Duration(r.Intn(72)) * time.Hour),
			}
			if r.Float64() < 0.8 {
				desc := fakeCampaignName(r)
				ad.Description = &desc
			}
			if r.Float64() < 0.7 {
				p := 1 + r.Intn(9)
				ad.Priority = &p
			}
			target := fmt.Sprintf("https://example.com/listings/%s?utm_source=adrotator&utm_medium=%s", ad.ID[:8], pos)
			ad.TargetURL = &target

			switch {
			case r.Float64() < videoShare:
				media := fmt.Sprintf("https://cdn.example.com/tours/%s.mp4", ad.ID[:8])
				if r.Intn(3) == 0 {
					media = fmt.Sprintf("https://stream.example.com/live/%s/index.m3u8", ad.ID[:8])
				}
				ad.VideoURL = &media
			default:
				media := fmt.Sprintf("https://cdn.example.com/banners/%s.jpg", ad.ID[:8])
				ad.ImageURL = &media
			}
			if r.Float64() < capShare {
				c := 5 + r.Intn(20)
				ad.DisplayCap = &c
			}
			ads = append(ads, ad)
		}
	}

	if len(positions) > 0 {
		// One inactive and one expired record per run.
		inactive := false
		expired := now.Add(-24 * time.Hour)
		ads = append(ads,
			fakeAd{ID: randomString(r, 24), Title: "Paused listing", Position: positions[0], IsActive: &inactive, CreatedAt: now},
			fakeAd{ID: randomString(r, 24), Title: "Expired promo", Position: positions[0], EndDate: &expired, CreatedAt: now},
		)
	}
	return ads
}

func callRefreshEndpoint(cfg *config.Config) error {
	refreshURL := fmt.Sprintf("http://localhost:%s/catalog/refresh", cfg.Port)
	req, err := http.NewRequest("POST", refreshURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
