package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/patrickwarner/adrotator/internal/config"
	"github.com/patrickwarner/adrotator/internal/db"
	"github.com/patrickwarner/adrotator/internal/observability"
	"github.com/patrickwarner/adrotator/internal/rotation"
)

var (
	server       string
	users        int
	positionCSV  string
	totalVisits  int
	conc         int
	duration     time.Duration
	rate         float64
	clickRate    float64
	mobileShare  float64
	showTimeout  time.Duration
	stats        bool
	flush        bool
	redisAddr    string
	debug        bool
	label        string
	jitter       float64
	showOnMobile bool
)

var logger *zap.Logger

var httpClient *http.Client

var positions = []string{"home_top", "sidebar"}

// viewport widths sampled per visit; the first two are below the mobile breakpoint
var viewports = []int{390, 412, 1024, 1280, 1440, 1920}

const statsInterval = 5 * time.Second

var (
	countSent       uint64
	countShown      uint64
	countSuppressed uint64
	countNoShow     uint64
	countErrors     uint64
	countClicks     uint64
)

func main() {
	flag.StringVar(&server, "server", "http://localhost:8787", "adrotator base URL")
	flag.IntVar(&users, "users", 100, "number of unique visitor identities")
	flag.StringVar(&positionCSV, "positions", "home_top,sidebar", "comma-separated positions")
	flag.IntVar(&totalVisits, "visits", 1000, "total placement visits to simulate")
	flag.IntVar(&conc, "concurrency", 20, "concurrent visits")
	flag.DurationVar(&duration, "duration", 0, "how long to run traffic (0 to disable)")
	flag.Float64Var(&rate, "rate", 0, "visits per second (0 for unlimited)")
	flag.Float64Var(&clickRate, "click-rate", 0.05, "probability of a click per displayed ad")
	flag.Float64Var(&mobileShare, "mobile-share", 0.3, "fraction of visits from mobile viewports")
	flag.DurationVar(&showTimeout, "show-timeout", 5*time.Second, "how long to wait for an ad to be displayed")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&flush, "flush", false, "delete persisted shown-sets before sending traffic")
	flag.StringVar(&redisAddr, "redis", "", "redis address (defaults to REDIS_ADDR)")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.Float64Var(&jitter, "jitter", 0.0, "random jitter factor for visit spacing")
	flag.BoolVar(&showOnMobile, "show-on-mobile", false, "mount placements with show_on_mobile")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "traffic-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			MaxConnsPerHost:       50,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}

	if flush {
		flushShownSets()
	}

	positions = strings.Split(positionCSV, ",")
	for i := range positions {
		positions[i] = strings.TrimSpace(positions[i])
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var rmu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, conc)
	done := make(chan struct{})

	var baseInterval time.Duration
	if rate > 0 {
		baseInterval = time.Duration(float64(time.Second) / rate)
	} else if duration > 0 && totalVisits > 0 {
		baseInterval = duration / time.Duration(totalVisits)
	}

	start := time.Now()
	next := start

	if stats {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					printStats()
				case <-done:
					printStats()
					return
				}
			}
		}()
	}
	for i := 0; ; i++ {
		if totalVisits > 0 && i >= totalVisits {
			break
		}
		if duration > 0 && time.Since(start) >= duration {
			break
		}
		if baseInterval > 0 {
			effective := baseInterval
			if jitter > 0 {
				jf := 1 + (r.Float64()*2-1)*jitter
				if jf < 0.1 {
					jf = 0.1
				}
				effective = time.Duration(float64(effective) * jf)
			}
			now := time.Now()
			if now.Before(next) {
				time.Sleep(next.Sub(now))
			}
			next = next.Add(effective)
		}

		rmu.Lock()
		v := visit{
			identity: fmt.Sprintf("user%d", r.Intn(users)),
			position: positions[r.Intn(len(positions))],
			viewport: pickViewport(r),
			click:    r.Float64() < clickRate,
		}
		rmu.Unlock()

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			atomic.AddUint64(&countSent, 1)
			if err := v.run(); err != nil {
				atomic.AddUint64(&countErrors, 1)
				logger.Error("visit failed", zap.String("identity", v.identity), zap.String("position", v.position), zap.Error(err))
			}
		}()
	}
	wg.Wait()
	close(done)
	if !stats {
		printStats()
	}
}

func pickViewport(r *rand.Rand) int {
	if r.Float64() < mobileShare {
		return viewports[r.Intn(2)]
	}
	return viewports[2+r.Intn(len(viewports)-2)]
}

// flushShownSets deletes every persisted shown-set so visitors start fresh.
func flushShownSets() {
	cfg := config.Load()
	addr := redisAddr
	if addr == "" {
		addr = cfg.RedisAddr
	}
	store, err := db.InitRedis(addr)
	if err != nil {
		logger.Fatal("redis connect", zap.Error(err))
	}
	defer store.Close()

	keys, err := store.Client.Keys(store.Ctx, cfg.ShownSetKey+"*").Result()
	if err != nil {
		logger.Fatal("list shown-set keys", zap.Error(err))
	}
	if len(keys) > 0 {
		if err := store.Client.Del(store.Ctx, keys...).Err(); err != nil {
			logger.Fatal("delete shown-set keys", zap.Error(err))
		}
	}
	logger.Info("shown-sets flushed", zap.String("addr", addr), zap.Int("keys_deleted", len(keys)))
}

type visit struct {
	identity string
	position string
	viewport int
	click    bool
}

// run mounts a placement, waits on its stream for the first display,
// clicks or closes it, then unmounts.
func (v visit) run() error {
	ctx, cancel := context.WithTimeout(context.Background(), showTimeout+15*time.Second)
	defer cancel()

	id, err := v.mount(ctx)
	if err != nil {
		return err
	}
	defer v.unmount(id)

	wsURL := "ws" + strings.TrimPrefix(server, "http") +
		fmt.Sprintf("/sessions/%s/placements/%s/stream?viewport_width=%d", v.identity, id, v.viewport)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer func() { _ = conn.Close() }()

	show, err := readUntil(conn, rotation.UpdateShow, showTimeout)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			// Exhausted or capped sessions stay dark.
			atomic.AddUint64(&countNoShow, 1)
			return nil
		}
		return err
	}
	if show.View.Suppressed {
		atomic.AddUint64(&countSuppressed, 1)
		logger.Debug("display suppressed on mobile", zap.String("ad_id", show.AdID), zap.Int("viewport", v.viewport))
		return nil
	}
	atomic.AddUint64(&countShown, 1)

	action := "close"
	if v.click {
		action = "click"
	}
	if err := conn.WriteJSON(map[string]string{"action": action}); err != nil {
		return fmt.Errorf("send %s: %w", action, err)
	}
	if v.click {
		if _, err := readUntil(conn, rotation.UpdateClick, showTimeout); err != nil {
			return fmt.Errorf("await click: %w", err)
		}
		atomic.AddUint64(&countClicks, 1)
	}
	logger.Debug("visit", zap.String("identity", v.identity), zap.String("position", v.position),
		zap.String("ad_id", show.AdID), zap.String("action", action))
	return nil
}

func (v visit) mount(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]interface{}{"position": v.position, "show_on_mobile": showOnMobile})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/sessions/%s/placements", server, v.identity), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build mount request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("mount: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("mount: unexpected status %d", resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode mount: %w", err)
	}
	return out.ID, nil
}

func (v visit) unmount(id string) {
	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/sessions/%s/placements/%s", server, v.identity, id), nil)
	if err != nil {
		return
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		logger.Debug("unmount failed", zap.Error(err))
		return
	}
	_ = resp.Body.Close()
}

func readUntil(conn *websocket.Conn, typ string, timeout time.Duration) (rotation.Update, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return rotation.Update{}, err
	}
	for {
		var u rotation.Update
		if err := conn.ReadJSON(&u); err != nil {
			return rotation.Update{}, err
		}
		if u.Type == typ {
			return u, nil
		}
	}
}

func printStats() {
	sent := atomic.LoadUint64(&countSent)
	shown := atomic.LoadUint64(&countShown)
	supp := atomic.LoadUint64(&countSuppressed)
	noShow := atomic.LoadUint64(&countNoShow)
	errs := atomic.LoadUint64(&countErrors)
	clk := atomic.LoadUint64(&countClicks)
	var ctr float64
	if shown > 0 {
		ctr = float64(clk) / float64(shown)
	}
	logger.Info("stats", zap.String("run", label), zap.Uint64("sent", sent), zap.Uint64("shown", shown),
		zap.Uint64("suppressed", supp), zap.Uint64("no_show", noShow), zap.Uint64("errors", errs),
		zap.Uint64("clicks", clk), zap.Float64("ctr", ctr))
}
