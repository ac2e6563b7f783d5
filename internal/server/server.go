// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"golang.org/x/sync/errgroup"

	"github.com/mbd888/spendguard/internal/auth"
	"github.com/mbd888/spendguard/internal/config"
	"github.com/mbd888/spendguard/internal/events"
	"github.com/mbd888/spendguard/internal/health"
	"github.com/mbd888/spendguard/internal/idgen"
	"github.com/mbd888/spendguard/internal/ledger"
	"github.com/mbd888/spendguard/internal/logging"
	"github.com/mbd888/spendguard/internal/metrics"
	"github.com/mbd888/spendguard/internal/ratelimit"
	"github.com/mbd888/spendguard/internal/realtime"
	"github.com/mbd888/spendguard/internal/risk"
	"github.com/mbd888/spendguard/internal/security"
	"github.com/mbd888/spendguard/internal/traces"
	"github.com/mbd888/spendguard/internal/users"
	"github.com/mbd888/spendguard/internal/validation"
	"github.com/mbd888/spendguard/migrations"
)

// Version is reported by the health endpoint. Set by ldflags in cmd/server.
var Version = "dev"

// dbStatsInterval is how often connection pool stats are sampled.
const dbStatsInterval = 15 * time.Second

// eventDrainTimeout bounds how long shutdown waits for queued event
// deliveries before closing the publisher.
const eventDrainTimeout = 10 * time.Second

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	db          *sql.DB // nil if using in-memory
	users       *users.Service
	ledger      *ledger.Ledger
	publisher   events.Publisher
	realtimeHub *realtime.Hub
	rateLimiter *ratelimit.Limiter
	health      *health.Registry
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	drainDelay  time.Duration

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPublisher sets the event publisher instead of building one from config
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// WithDrainDelay sets how long shutdown waits for load balancers to stop
// sending traffic before closing the listener
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	var (
		userStore users.Store
		txStore   ledger.Store
	)

	// Postgres if DATABASE_URL set, otherwise in-memory
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		applied, err := migrations.Up(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		if len(applied) > 0 {
			s.logger.Info("applied migrations", "count", len(applied))
		}

		s.db = db
		userStore, txStore = users.NewPostgresStore(db), ledger.NewPostgresStore(db)
		s.health.Register("database", health.PingCheck("database", db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		userStore, txStore = users.NewMemoryStore(), ledger.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if s.publisher == nil {
		p, err := events.New(cfg, s.logger)
		if err != nil {
			s.closeDB()
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		s.publisher = p
	}
	if cfg.EventsBackend != "" && cfg.EventsBackend != config.EventsNone {
		s.health.Register("events", health.PingCheck("events", s.publisher))
		s.logger.Info("event publishing enabled", "backend", cfg.EventsBackend)
	}

	s.realtimeHub = realtime.NewHub(s.logger, cfg.AllowedOrigins)

	s.ledger = ledger.New(txStore, risk.NewEngine(), s.logger).
		WithPublisher(s.publisher).
		WithBroadcaster(s.realtimeHub).
		WithDefaultCurrency(cfg.DefaultCurrency)
	s.users = users.NewService(userStore, s.ledger, cfg.AdminEmails, s.logger)
	s.ledger.WithOwners(s.users)

	rl := ratelimit.DefaultConfig()
	if cfg.RateLimitRPM > 0 {
		rl.RequestsPerMinute = int(cfg.RateLimitRPM)
	}
	s.rateLimiter = ratelimit.New(rl)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
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
// Middleware
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
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(s.rateLimiter.Middleware())
	s.router.Use(metrics.Middleware())
	s.router.Use(traces.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())

	// Identity last so lookups log with the request ID
	s.router.Use(auth.Middleware(s.users))
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream ID (load balancer, gateway) when present
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Request()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
		}
		if uid := auth.GetUserID(c); uid != "" {
			attrs = append(attrs, logging.FieldUserID, uid)
		}

		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	ledgerHandler := ledger.NewHandler(s.ledger, s.logger)
	usersHandler := users.NewHandler(s.users, s.logger)

	v1 := s.router.Group("/v1")

	// Called by the auth gateway before the user has an ID
	gateway := v1.Group("")
	gateway.Use(auth.RequireGatewaySecret(s.cfg.GatewaySecret))
	usersHandler.RegisterGatewayRoutes(gateway)

	authed := v1.Group("")
	authed.Use(auth.RequireAuth())
	ledgerHandler.RegisterRoutes(authed)
	usersHandler.RegisterRoutes(authed)

	admin := v1.Group("/admin")
	admin.Use(auth.RequireAdmin())
	ledgerHandler.RegisterAdminRoutes(admin)
	usersHandler.RegisterAdminRoutes(admin)
	admin.GET("/feed", s.feedHandler)
	admin.GET("/feed/stats", s.feedStatsHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) feedHandler(c *gin.Context) {
	s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
}

func (s *Server) feedStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run serves HTTP and the background loops until ctx is cancelled or a
// shutdown signal arrives, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	s.ready.Store(true)

	g.Go(func() error {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.realtimeHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return s.rateLimiter.Run(gctx)
	})

	if s.db != nil {
		g.Go(func() error {
			metrics.StartDBStatsCollector(gctx, s.db, dbStatsInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return s.shutdownHTTP()
	})

	s.logger.Info("server ready")

	err := g.Wait()
	s.close()
	return err
}

func (s *Server) shutdownHTTP() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to notice readiness dropped
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", logging.FieldError, err)
		return err
	}
	return nil
}

func (s *Server) close() {
	if s.ledger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), eventDrainTimeout)
		if err := s.ledger.Drain(ctx); err != nil {
			s.logger.Warn("event deliveries still pending at shutdown", logging.FieldError, err)
		}
		cancel()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("event publisher close error", logging.FieldError, err)
		}
	}
	s.closeDB()
	s.logger.Info("server stopped")
}

func (s *Server) closeDB() {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("database close error", logging.FieldError, err)
	} else {
		s.logger.Info("database connection closed")
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
