// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"quantumbulls-session/internal/config"
	"quantumbulls-session/internal/db"
	authHandler "quantumbulls-session/internal/handlers/auth"
	sessionHandler "quantumbulls-session/internal/handlers/session"
	wsHandler "quantumbulls-session/internal/handlers/websocket"
	"quantumbulls-session/internal/middleware"
	"quantumbulls-session/internal/pkg/jwt"
	"quantumbulls-session/internal/pkg/metrics"
	"quantumbulls-session/internal/pkg/session"
	"quantumbulls-session/internal/repository/postgres"
	authUsecase "quantumbulls-session/internal/service/auth"
	sessionUsecase "quantumbulls-session/internal/service/session"
	"quantumbulls-session/internal/websocket"
	wsHandlers "quantumbulls-session/internal/websocket/handler"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg    config.AppConfig
	logger *zap.Logger
}

func NewServer(cfg config.AppConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, logger: logger}
}

// deps are the external resources the HTTP surface is built on.
type deps struct {
	identity authUsecase.IdentityRepository
	store    session.Store
	redis    *redis.Client
	jwt      *jwt.Manager
	metrics  *metrics.Metrics
}

// components is everything buildEngine wires together.
type components struct {
	engine      *gin.Engine
	hub         *websocket.Hub
	authService *authUsecase.AuthService
}

// Start connects to Postgres and Redis, serves HTTP until ctx ends, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	// ----- PostgreSQL -----
	pool, err := db.ConnectDB(ctx, s.cfg.DatabaseURL, int32(s.cfg.DBMaxConns))
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()
	s.logger.Info("connected to PostgreSQL")

	// ----- Redis -----
	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Address:  s.cfg.RedisAddr,
		Password: s.cfg.RedisPass,
		DB:       s.cfg.RedisDB,
		PoolSize: 10,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()
	s.logger.Info("connected to Redis", zap.String("addr", s.cfg.RedisAddr))

	// ----- JWT Manager -----
	jwtManager, err := jwt.LoadAndBuild(s.cfg.JWT)
	if err != nil {
		return fmt.Errorf("failed to load JWT manager: %w", err)
	}
	if s.cfg.JWT.PrivPath == "" {
		s.logger.Warn("JWT_PRIVATE_KEY_PATH not set, using an ephemeral signing key")
	}

	store, err := s.authorityStore(pool, redisClient)
	if err != nil {
		return err
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}
	s.logger.Info("session authority store ready", zap.String("driver", s.cfg.SessionStore))

	comp, err := buildEngine(s.cfg, deps{
		identity: postgres.NewAuthRepository(postgres.NewDB(pool)),
		store:    store,
		redis:    redisClient,
		jwt:      jwtManager,
		metrics:  metrics.New(),
	}, s.logger)
	if err != nil {
		return err
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		comp.hub.Run(hubCtx)
	}()
	defer func() {
		stopHub()
		<-hubDone
	}()

	// ----- Demo Account -----
	if err := s.seedDemoAccount(ctx, comp.authService); err != nil {
		// Don't fail startup, just log the error
		s.logger.Error("failed to seed demo account", zap.Error(err))
	}

	// ----- Start HTTP -----
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           comp.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server running", zap.String("addr", s.cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not covered by Shutdown; the hub
	// closes them when stopHub runs.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) authorityStore(pool *pgxpool.Pool, redisClient *redis.Client) (session.Store, error) {
	switch s.cfg.SessionStore {
	case config.StoreRedis:
		return session.NewRedisStore(redisClient, s.cfg.AuthorityPrefix, s.logger), nil
	case config.StorePostgres:
		return session.NewPostgresStore(pool, s.logger), nil
	case config.StoreMemory:
		s.logger.Warn("memory authority store only arbitrates devices served by this process")
		return session.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown SESSION_STORE %q", s.cfg.SessionStore)
}

func buildEngine(cfg config.AppConfig, d deps, logger *zap.Logger) (*components, error) {
	// ----- Services -----
	issuer := sessionUsecase.NewIssuer(d.store, d.metrics, logger)
	rateLimiter := session.NewRateLimiter(d.redis, cfg.LoginMaxAttempts, cfg.LoginWindow)
	blacklist := session.NewBlacklist(d.redis)
	authService := authUsecase.NewAuthService(d.identity, d.jwt, issuer, rateLimiter, blacklist, logger)

	// ----- WebSocket Hub -----
	hub := websocket.NewHub(d.store, d.metrics, logger, cfg.ResubscribeDelay)
	if err := hub.RegisterHandler(wsHandlers.NewSessionHandler(issuer)); err != nil {
		return nil, fmt.Errorf("failed to register websocket handler: %w", err)
	}

	// ----- Handlers & Middlewares -----
	engine := gin.New()
	engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(cfg.CORSOrigins),
	)

	SetupRouter(engine, &Handlers{
		AuthHandler:    authHandler.NewAuthHandler(authService, logger),
		SessionHandler: sessionHandler.NewSessionHandler(authService, logger),
		WSHandler:      wsHandler.NewWebSocketHandler(hub, cfg.CORSOrigins, logger),
		AuthMiddleware: middleware.NewAuthMiddleware(authService, d.metrics),
		Metrics:        d.metrics,
		ReauthPath:     cfg.ReauthPath,
	})

	return &components{engine: engine, hub: hub, authService: authService}, nil
}

// seedDemoAccount creates the demo login if one is configured.
func (s *Server) seedDemoAccount(ctx context.Context, authService *authUsecase.AuthService) error {
	if s.cfg.DemoAccountEmail == "" {
		return nil
	}
	if len(s.cfg.DemoAccountPassword) < 8 {
		return fmt.Errorf("demo account password must be at least 8 characters")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := authService.EnsureDemoAccount(ctx, s.cfg.DemoAccountEmail, s.cfg.DemoAccountPassword); err != nil {
		return fmt.Errorf("failed to ensure demo account exists: %w", err)
	}
	s.logger.Info("demo account ready", zap.String("email", s.cfg.DemoAccountEmail))
	return nil
}
