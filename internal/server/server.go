// Package server wires the settlement components into one HTTP service.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/zapspay/settlement/internal/audit"
	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/config"
	"github.com/zapspay/settlement/internal/escrow"
	"github.com/zapspay/settlement/internal/fx"
	"github.com/zapspay/settlement/internal/health"
	"github.com/zapspay/settlement/internal/host"
	"github.com/zapspay/settlement/internal/identity"
	"github.com/zapspay/settlement/internal/logging"
	"github.com/zapspay/settlement/internal/metrics"
	"github.com/zapspay/settlement/internal/ratelimit"
	"github.com/zapspay/settlement/internal/realtime"
	"github.com/zapspay/settlement/internal/registry"
	"github.com/zapspay/settlement/internal/router"
	"github.com/zapspay/settlement/internal/security"
	"github.com/zapspay/settlement/internal/token"
	"github.com/zapspay/settlement/internal/traces"
	"github.com/zapspay/settlement/internal/validation"
	"github.com/zapspay/settlement/internal/vault"
	"github.com/zapspay/settlement/internal/webhooks"
	"github.com/zapspay/settlement/migrations"
)

// Version is reported by /health. Set by cmd/server from ldflags.
var Version = "dev"

// registryRef is the directory name the payment router resolves its
// merchant registry by.
const registryRef = "merchants"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  host.Clock

	db      *sql.DB // nil unless DATABASE_URL is set
	backend host.Backend
	host    *host.Host
	authz   auth.Authorizer

	ledger     *token.Ledger
	identities *identity.Service
	merchants  *registry.Service
	vault      *vault.Vault
	fx         *fx.Router
	payments   *router.Router
	escrow     *escrow.Service
	sweeper    *escrow.Sweeper

	auditStore   audit.Store
	webhookStore webhooks.Store
	dispatcher   *webhooks.Dispatcher
	hub          *realtime.Hub
	health       *health.Registry
	limiter      *ratelimit.Limiter

	router        *gin.Engine
	httpSrv       *http.Server
	cancelRunCtx  context.CancelFunc
	traceShutdown func(context.Context) error
	drainDelay    time.Duration
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock replaces the host clock (tests).
func WithClock(c host.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithBackend supplies the committed-state backend instead of opening one
// from the configuration.
func WithBackend(b host.Backend) Option {
	return func(s *Server) { s.backend = b }
}

// WithDrainDelay sets how long Shutdown waits for load balancers before
// closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) { s.drainDelay = d }
}

// New creates a new server instance: storage, components, bootstrap and
// routes.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		clock:      host.SystemClock{},
		drainDelay: 5 * time.Second,
		health:     health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdown, err := traces.Init(ctx, traces.Config{Endpoint: cfg.OTLPEndpoint, Version: Version}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	s.traceShutdown = shutdown

	if err := s.openStorage(ctx); err != nil {
		return nil, err
	}
	s.buildComponents()

	if err := s.bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// openStorage picks PostgreSQL, SQLite or memory for committed state and
// the matching audit and webhook stores.
func (s *Server) openStorage(ctx context.Context) error {
	if s.cfg.UsePostgres() {
		db, err := sql.Open("postgres", s.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := migrations.Up(ctx, db); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		s.db = db
		if s.backend == nil {
			s.backend = host.NewPostgresBackend(db)
		}
		s.auditStore = audit.NewPostgresStore(db)
		s.webhookStore = webhooks.NewPostgresStore(db)
		s.health.Register(health.PingChecker("postgres", pinger{db}))
		s.logger.Info("using postgres storage", "dsn", maskDSN(s.cfg.DatabaseURL))
		return nil
	}

	if s.backend == nil && s.cfg.SQLitePath != "" {
		b, err := host.OpenSQLite(ctx, s.cfg.SQLitePath)
		if err != nil {
			return err
		}
		s.backend = b
		s.health.Register(health.PingChecker("sqlite", b))
		s.logger.Info("using sqlite state", "path", s.cfg.SQLitePath)
	}
	if s.backend == nil {
		s.backend = host.NewMemoryBackend()
		s.logger.Warn("using in-memory state; nothing survives a restart")
	}
	s.auditStore = audit.NewMemoryStore()
	s.webhookStore = webhooks.NewMemoryStore()
	return nil
}

type pinger struct{ db *sql.DB }

func (p pinger) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (s *Server) buildComponents() {
	cfg := s.cfg

	s.hub = realtime.NewHub(s.logger)
	s.dispatcher = webhooks.NewDispatcher(s.webhookStore, s.logger)
	s.host = host.New(s.backend,
		host.WithClock(s.clock),
		host.WithLogger(s.logger),
		host.WithSink(audit.NewSink(s.auditStore, s.logger)),
		host.WithSink(s.hub),
		host.WithSink(webhooks.NewEmitter(s.dispatcher, s.logger)),
	)

	s.authz = authorizerFor(cfg.AuthMode)
	s.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimitRPM,
		BurstSize:         cfg.RateLimitBurst,
		CleanupInterval:   time.Minute,
	})

	s.ledger = token.NewLedger(s.host, s.authz, cfg.AdminAddress).WithLogger(s.logger)
	s.identities = identity.NewService(s.host, s.authz).WithLogger(s.logger)
	s.merchants = registry.NewService(s.host, s.authz).WithIdentity(s.identities).WithLogger(s.logger)
	s.vault = vault.New(s.host, s.authz, cfg.VaultAddress).WithLogger(s.logger)
	s.fx = fx.NewRouter(s.host, s.authz, s.ledger, cfg.FXAddress, cfg.AdminAddress).WithLogger(s.logger)

	dir := router.NewStaticDirectory().
		AddRegistry(registryRef, s.merchants).
		AddVault(s.vault).
		AddFX(s.fx)
	s.payments = router.New(s.host, s.authz, s.ledger, dir, cfg.RouterAddress).WithLogger(s.logger)

	s.escrow = escrow.NewService(s.host, s.authz, s.ledger, cfg.EscrowAddress).
		WithRefundTimeout(cfg.EscrowRefundTimeout).
		WithLogger(s.logger)
	s.sweeper = escrow.NewSweeper(s.escrow, cfg.KeeperAddress, s.logger).
		WithInterval(cfg.EscrowSweepInterval)
}

func authorizerFor(mode string) auth.Authorizer {
	switch mode {
	case config.AuthAllowAll:
		return auth.AllowAll{}
	case config.AuthHeader:
		return auth.ContextAuthorizer{}
	default:
		return auth.SignatureAuthorizer{}
	}
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware & routes
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(logging.RequestIDMiddleware(s.logger))
	s.router.Use(logging.AccessLogMiddleware())
	s.router.Use(auth.Middleware(auth.MiddlewareConfig{
		MaxSkew:            s.cfg.AuthSkew,
		TrustAddressHeader: s.cfg.AuthMode != config.AuthSignature,
	}))
	s.router.Use(s.limiter.Middleware())
}

type routeSet interface {
	RegisterRoutes(r *gin.RouterGroup)
	RegisterProtectedRoutes(r *gin.RouterGroup)
}

func (s *Server) setupRoutes() {
	s.health.RegisterRoutes(s.router, Version)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/ws", func(c *gin.Context) { s.hub.HandleWebSocket(c.Writer, c.Request) })

	v1 := s.router.Group("/v1")
	protected := v1.Group("", auth.RequireAuth())

	for _, h := range []routeSet{
		token.NewHandler(s.ledger),
		identity.NewHandler(s.identities),
		registry.NewHandler(s.merchants),
		vault.NewHandler(s.vault),
		fx.NewHandler(s.fx),
		router.NewHandler(s.payments),
		escrow.NewHandler(s.escrow),
	} {
		h.RegisterRoutes(v1)
		h.RegisterProtectedRoutes(protected)
	}
	audit.NewHandler(s.auditStore).RegisterRoutes(v1)
	webhooks.NewHandler(s.webhookStore).RegisterProtectedRoutes(protected)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background workers, and blocks until a
// signal, ctx cancellation or a listener error.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "auth_mode", s.cfg.AuthMode)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.sweeper.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.health.SetReady(true)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}
	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.health.SetReady(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var firstErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			firstErr = err
		}
	}

	s.sweeper.Stop()
	s.limiter.Stop()
	s.dispatcher.Wait()

	if err := s.traceShutdown(ctx); err != nil {
		s.logger.Error("trace shutdown error", "error", err)
	}
	// The postgres backend shares s.db, so closing the backend closes both.
	if err := s.backend.Close(); err != nil {
		s.logger.Error("state backend close error", "error", err)
	}

	s.logger.Info("server stopped")
	return firstErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Host exposes the execution host (tests, admin tooling).
func (s *Server) Host() *host.Host {
	return s.host
}
