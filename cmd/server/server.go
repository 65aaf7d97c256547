package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/ghostroom/internal/config"
	"github.com/thereayou/ghostroom/internal/database"
	"github.com/thereayou/ghostroom/internal/handlers"
	"github.com/thereayou/ghostroom/internal/metrics"
	"github.com/thereayou/ghostroom/internal/middleware"
	"github.com/thereayou/ghostroom/internal/store"
	"github.com/thereayou/ghostroom/internal/websocket"
	"go.uber.org/zap"
)

type Server struct {
	Config  *config.Config
	Log     *zap.Logger
	Router  *gin.Engine
	HTTP    *http.Server
	DB      *database.Database
	Hub     *websocket.Hub
	Metrics *metrics.Metrics
}

// NewServer connects to Redis and wires every component.
func NewServer(cfg *config.Config, log *zap.Logger) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, store.ClientOptions{
		URL:      cfg.Redis.URL,
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	}, cfg.RoomTTL, log.Named("database"))
	if err != nil {
		return nil, err
	}
	return New(cfg, log, db), nil
}

// New wires the server around an already connected registry.
func New(cfg *config.Config, log *zap.Logger, db *database.Database) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	m := metrics.New()
	hub := websocket.NewHub(log.Named("hub"), m)

	relay := handlers.NewRelayHandler(db, hub, log.Named("relay"), m)
	h := Handlers{
		Health: handlers.NewHealthHandler(db),
		Files:  handlers.NewFileHandler(db, hub, cfg.MaxUploadBytes, log.Named("files"), m),
		WebSocket: handlers.NewWebSocketHandler(hub, relay, cfg.CORSOrigins, websocket.ClientConfig{
			MaxMessageSize: cfg.MaxMessageSize,
			RatePerSecond:  cfg.RateLimit.RPS,
			Burst:          cfg.RateLimit.Burst,
		}, log.Named("ws")),
		Metrics:   m.Handler(),
		RateLimit: middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst, m.RateLimited.Inc),
	}

	router := gin.New()
	router.Use(
		middleware.Recovery(log),
		middleware.Logger(log.Named("http")),
		middleware.CORS(cfg.CORSOrigins),
	)
	APIEndpoints(router, h)

	return &Server{
		Config: cfg,
		Log:    log,
		Router: router,
		HTTP: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		DB:      db,
		Hub:     hub,
		Metrics: m,
	}
}

// Run starts the hub and serves HTTP until Shutdown is called.
func (s *Server) Run() error {
	go s.Hub.Run()

	s.Log.Info("server starting", zap.String("addr", s.HTTP.Addr), zap.Duration("room_ttl", s.DB.TTL()))
	if err := s.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes every socket and then the
// store connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Log.Info("shutting down")

	var errs []error
	if err := s.HTTP.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.Hub.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.DB.Store().Close(); err != nil {
		errs = append(errs, err)
	}
	_ = s.Log.Sync()
	return errors.Join(errs...)
}
