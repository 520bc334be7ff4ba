package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/franz/listen-stats/internal/ingest"
	"github.com/franz/listen-stats/internal/report"
	"github.com/franz/listen-stats/internal/stats"
	"github.com/franz/listen-stats/internal/store"
	"github.com/franz/listen-stats/internal/util"
)

// Config holds the server configuration
type Config struct {
	Debug        bool
	ListenAddr   string
	QueryTimeout time.Duration // Deadline for every read query
	ChunkSize    int           // Default upload chunk size
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Deps are the services the handlers call into. History and Events are optional.
type Deps struct {
	Store      *store.Store
	Reconciler *ingest.Reconciler
	History    ingest.HistorySource
	Events     *report.EventLogger
}

// Server wraps the HTTP server
type Server struct {
	config     Config
	handler    *handler
	router     *gin.Engine
	httpServer *http.Server
}

// New creates a new API server
func New(cfg Config, deps Deps) *Server {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = util.DefaultQueryTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = util.DefaultChunkSize
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = util.DefaultListenAddr
	}

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	h := &handler{
		store:        deps.Store,
		engine:       stats.New(deps.Store),
		reconciler:   deps.Reconciler,
		history:      deps.History,
		events:       deps.Events,
		queryTimeout: cfg.QueryTimeout,
		chunkSize:    cfg.ChunkSize,
	}

	router := gin.New()
	router.Use(recovery())
	router.Use(requestLogger())
	router.Use(corsMiddleware())
	setupRoutes(router, h)

	return &Server{config: cfg, handler: h, router: router}
}

func setupRoutes(router *gin.Engine, h *handler) {
	router.GET("/health", h.health)

	listening := router.Group("/api/listening")
	{
		listening.GET("/top-albums", h.topAlbums)
		listening.GET("/top-artists", h.topArtists)
		listening.GET("/top-tracks", h.topTracks)
		listening.GET("/album", h.albumDetail)
		listening.GET("/artist", h.artistDetail)
		listening.GET("/recent", h.recent)
	}

	router.GET("/api/search", h.search)
	router.POST("/api/upload/import", h.importUpload)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	util.Logger().Info("Starting API server", zap.String("address", s.config.ListenAddr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	util.Logger().Info("Shutting down API server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}
	return nil
}
