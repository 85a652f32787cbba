package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/catalog"
	"github.com/patrickwarner/adrotator/internal/config"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
	"github.com/patrickwarner/adrotator/internal/session"
)

var tracer = observability.Tracer("api")

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger      *zap.Logger
	Catalog     models.CatalogStore
	Refresher   *catalog.Refresher
	Sessions    *session.Registry
	Broadcaster *catalog.Broadcaster
	Metrics     observability.MetricsRegistry
	Config      config.Config
	DebugTrace  bool

	upgrader websocket.Upgrader
}

// NewServer constructs a Server. refresher and broadcaster may be nil.
func NewServer(logger *zap.Logger, store models.CatalogStore, refresher *catalog.Refresher, sessions *session.Registry, broadcaster *catalog.Broadcaster, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Server{
		Logger:      logger,
		Catalog:     store,
		Refresher:   refresher,
		Sessions:    sessions,
		Broadcaster: broadcaster,
		Metrics:     metrics,
		Config:      cfg,
		DebugTrace:  cfg.DebugTrace,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Placements are embedded in arbitrary publisher pages.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}
