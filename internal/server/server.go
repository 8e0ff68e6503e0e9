package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jamespud/barrage-rush-sub001/internal/config"
	"github.com/jamespud/barrage-rush-sub001/internal/model"
	"github.com/jamespud/barrage-rush-sub001/internal/registry"
	"github.com/jamespud/barrage-rush-sub001/internal/storage"
	"github.com/jamespud/barrage-rush-sub001/internal/ws"
)

// Publisher is the ingest side the HTTP handlers need.
type Publisher interface {
	Publish(ctx context.Context, msg *model.DanmakuMessage) (bool, error)
}

// IDSource stamps new messages.
type IDSource interface {
	NextID() (uint64, error)
}

// Server wires the REST and WebSocket endpoints onto one listener.
type Server struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	producer Publisher
	ids      IDSource
	registry *registry.Registry
	manager  *ws.Manager
	cache    *storage.RecentCache
	history  storage.MessageStore // nil disables the database fallback

	engine   *gin.Engine
	http     *http.Server
	upgrader websocket.Upgrader
}

// New assembles the Server and its routes.
func New(cfg config.ServerConfig, producer Publisher, ids IDSource, reg *registry.Registry,
	manager *ws.Manager, cache *storage.RecentCache, history storage.MessageStore,
	logger *slog.Logger) *Server {

	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		producer: producer,
		ids:      ids,
		registry: reg,
		manager:  manager,
		cache:    cache,
		history:  history,
		engine:   engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Overlay clients come from arbitrary stream pages.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.engine.Group("/api/v1")
	{
		api.POST("/danmaku/send/:roomId", s.handleSend)
		api.GET("/danmaku/recent/:roomId", s.handleRecent)
		api.GET("/rooms/:roomId/online", s.handleOnlineCount)
	}

	s.engine.GET("/ws/danmaku/:roomId", s.handleDataSocket)
	s.engine.GET("/ws/heartbeat/:roomId", s.handleHeartbeatSocket)
}

// Handler exposes the route tree; tests drive it directly.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving. Non-blocking; listen errors surface through the log.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "addr", s.cfg.Addr, "error", err)
		}
	}()

	s.logger.Info("server started", "addr", s.cfg.Addr)
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("server shutdown incomplete", "error", err)
		return err
	}
	s.logger.Info("server stopped")
	return nil
}
