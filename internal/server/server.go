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
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/swipefi/swipefi/internal/activity"
	"github.com/swipefi/swipefi/internal/cache"
	"github.com/swipefi/swipefi/internal/config"
	"github.com/swipefi/swipefi/internal/credit"
	"github.com/swipefi/swipefi/internal/events"
	"github.com/swipefi/swipefi/internal/health"
	"github.com/swipefi/swipefi/internal/ledger"
	"github.com/swipefi/swipefi/internal/logging"
	"github.com/swipefi/swipefi/internal/metrics"
	"github.com/swipefi/swipefi/internal/ratelimit"
	"github.com/swipefi/swipefi/internal/realtime"
	"github.com/swipefi/swipefi/internal/security"
	"github.com/swipefi/swipefi/internal/traces"
	"github.com/swipefi/swipefi/internal/validation"
	"github.com/swipefi/swipefi/internal/webhooks"
)

// Version is reported by /health and the info endpoint.
const Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	source         activity.Source
	ledger         *ledger.Ledger
	cache          cache.Cache
	realtimeHub    *realtime.Hub
	kafka          *events.KafkaPublisher
	webhookStore   webhooks.Store
	webhooks       *webhooks.Dispatcher
	creditService  *credit.Service
	creditTimer    *credit.Timer
	rateLimiter    *ratelimit.Limiter
	health         *health.Registry
	db             *sql.DB           // nil if using in-memory
	redis          *redis.Client     // nil if using in-memory cache
	eth            *ethclient.Client // nil without RPC_URL
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	shutdownTraces func(context.Context) error
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

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

// WithSource replaces the activity source (for testing)
func WithSource(src activity.Source) Option {
	return func(s *Server) {
		s.source = src
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		health: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdown, err := traces.Init(ctx, cfg.OTelEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.shutdownTraces = shutdown

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		ledgerStore   ledger.Store
		snapshotStore activity.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db

		pgLedger := ledger.NewPostgresStore(db)
		if err := pgLedger.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate ledger: %w", err)
		}
		pgSnapshots := activity.NewPostgresSource(db)
		if err := pgSnapshots.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate wallet snapshots: %w", err)
		}
		pgWebhooks := webhooks.NewPostgresStore(db)
		if err := pgWebhooks.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate webhooks: %w", err)
		}
		ledgerStore, snapshotStore, s.webhookStore = pgLedger, pgSnapshots, pgWebhooks

		s.health.Register("postgres", health.Ping("postgres", 0, db.PingContext))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		ledgerStore = ledger.NewMemoryStore()
		snapshotStore = activity.NewMemorySource()
		s.webhookStore = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.ledger = ledger.New(ledgerStore, ledger.WithTerm(cfg.RepaymentTerm()))

	// Feature extraction: chain scan when RPC_URL is set, otherwise ingested snapshots
	ingest := snapshotStore
	if s.source == nil {
		if cfg.RPCURL != "" {
			chainCfg := activity.DefaultChainConfig()
			chainCfg.ChainID = cfg.ChainID
			chainCfg.ScanBlocks = cfg.ScanBlocks
			chainCfg.Protocols = cfg.KnownProtocols

			src, client, err := activity.DialChainSource(ctx, cfg.RPCURL, chainCfg, s.logger)
			if err != nil {
				return nil, err
			}
			s.eth = client
			s.source = src
			ingest = nil
			s.health.Register("rpc", health.Ping("rpc", 5*time.Second, func(ctx context.Context) error {
				_, err := client.BlockNumber(ctx)
				return err
			}))
			s.logger.Info("scanning chain for wallet activity", "chain_id", cfg.ChainID, "scan_blocks", cfg.ScanBlocks)
		} else {
			s.source = snapshotStore
			s.logger.Info("scoring ingested wallet snapshots (no RPC_URL set)")
		}
	}
	source := activity.NewLendingOverlay(s.source, s.ledger)

	// Score cache
	if cfg.RedisURL != "" {
		rdb, err := cache.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s.redis = rdb
		s.cache = cache.NewRedisCache(rdb)
		s.health.Register("redis", health.Ping("redis", 0, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
		s.logger.Info("using Redis score cache")
	} else {
		s.cache = cache.NewMemoryCache()
	}

	// Events: websocket dashboard and wallet webhooks, plus Kafka when brokers are configured
	s.realtimeHub = realtime.NewHub(s.logger, cfg.CORSOrigins...)
	s.webhooks = webhooks.NewDispatcher(s.webhookStore, s.logger)
	sinks := []events.Sink{
		{Name: "websocket", Publisher: s.realtimeHub},
		{Name: "webhook", Publisher: s.webhooks},
	}
	if len(cfg.KafkaBrokers) > 0 {
		s.kafka = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, events.Sink{Name: "kafka", Publisher: s.kafka})
		s.logger.Info("publishing credit events to Kafka", "topic", cfg.KafkaTopic)
	}
	publisher := events.NewMulti(s.logger, sinks...)

	s.creditService = credit.NewService(source, s.ledger, s.cache, publisher, credit.Config{
		BalanceMode:           credit.BalanceMode(cfg.BalanceMode),
		FallbackOnSourceError: cfg.FallbackOnSourceError,
		CacheTTL:              cfg.ScoreCacheTTL,
	}, s.logger)
	if ingest != nil {
		s.creditService.WithIngest(ingest)
	}
	s.creditTimer = credit.NewTimer(s.creditService, time.Hour, s.logger)

	if !cfg.IsDevelopment() {
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
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
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
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rl := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = float64(s.cfg.RateLimitRPS)
	}
	if s.cfg.RateLimitBurst > 0 {
		rl.BurstSize = s.cfg.RateLimitBurst
	}
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
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

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/", s.infoHandler)
	s.router.GET("/feed", feedPageHandler)

	// WebSocket for the live dashboard
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	creditHandler := credit.NewHandler(s.creditService)

	v1 := s.router.Group("/v1")
	creditHandler.RegisterRoutes(v1)

	admin := v1.Group("/admin")
	admin.Use(security.RequireAdmin(s.cfg.AdminSecret))
	creditHandler.RegisterAdminRoutes(admin)
	webhooks.NewHandler(s.webhookStore, s.webhooks).RegisterAdminRoutes(admin)
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
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ok, checks := s.health.CheckAll(ctx)

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

func (s *Server) infoHandler(c *gin.Context) {
	source := "ingest"
	if s.eth != nil {
		source = "chain"
	}
	c.JSON(http.StatusOK, gin.H{
		"name":        "SwipeFi",
		"description": "Wallet credit scoring and credit-limit enforcement",
		"version":     Version,
		"chainId":     s.cfg.ChainID,
		"source":      source,
		"balanceMode": s.cfg.BalanceMode,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go s.creditTimer.Start(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
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
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.creditTimer.Stop()
	s.rateLimiter.Stop()
	s.webhooks.Wait()

	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			s.logger.Error("kafka writer close error", "error", err)
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	if s.eth != nil {
		s.eth.Close()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
