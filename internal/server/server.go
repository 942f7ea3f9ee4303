// Package server exposes claim runs over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"claimflow/internal/claim"
	"claimflow/internal/config"
	"claimflow/internal/logging"
	"claimflow/internal/orchestrator"
)

const defaultResultCacheSize = 256

// Runner processes one claim. *orchestrator.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, files []string, opts ...orchestrator.RunOption) claim.Result
}

// Server is the gin-backed HTTP surface.
type Server struct {
	runner  Runner
	config  config.ServerConfig
	results *lru.Cache[string, claim.Result]

	engine     *gin.Engine
	httpServer *http.Server
	wsUpgrader websocket.Upgrader

	breakers       func() map[string]string
	stageNames     []string
	version        string
	metricsHandler http.Handler
	debug          bool
	logger         logging.Logger
	startTime      time.Time
}

// Option customises the server.
type Option func(*Server)

// WithBreakerStates reports remote circuit breaker states on /api/health.
func WithBreakerStates(states func() map[string]string) Option {
	return func(s *Server) {
		s.breakers = states
	}
}

// WithStageNames lists the registered stages on /api/health.
func WithStageNames(names []string) Option {
	return func(s *Server) {
		s.stageNames = append([]string(nil), names...)
	}
}

// WithVersion sets the version reported on /api/health.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithMetricsHandler replaces the default Prometheus handler on /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) {
		if handler != nil {
			s.metricsHandler = handler
		}
	}
}

// WithDebug keeps gin in debug mode.
func WithDebug(debug bool) Option {
	return func(s *Server) {
		s.debug = debug
	}
}

// WithLogger sets the server logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		s.logger = logging.OrNop(logger)
	}
}

// New builds a server for cfg that hands runs to runner.
func New(cfg config.ServerConfig, runner Runner, opts ...Option) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("server: runner is required")
	}

	s := &Server{
		runner:         runner,
		config:         cfg,
		version:        "dev",
		metricsHandler: promhttp.Handler(),
		logger:         logging.NewComponentLogger("server"),
		startTime:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	size := cfg.ResultCacheSize
	if size <= 0 {
		size = defaultResultCacheSize
	}
	results, err := lru.New[string, claim.Result](size)
	if err != nil {
		return nil, fmt.Errorf("server: result cache: %w", err)
	}
	s.results = results

	if !s.debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Logger())
	engine.Use(gin.Recovery())
	if corsConfig, ok := buildCORS(cfg.CORSAllowedOrigins); ok {
		engine.Use(cors.New(corsConfig))
	}
	s.engine = engine

	s.wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(cfg.CORSAllowedOrigins, r.Header.Get("Origin"))
		},
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 30 * time.Second,
	}
	return s, nil
}

func buildCORS(origins []string) (cors.Config, bool) {
	if len(origins) == 0 {
		return cors.Config{}, false
	}
	corsConfig := cors.DefaultConfig()
	if containsWildcard(origins) {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	corsConfig.AllowWebSockets = true
	return corsConfig, true
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if strings.TrimSpace(origin) == "*" {
			return true
		}
	}
	return false
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" || containsWildcard(allowed) {
		return true
	}
	for _, candidate := range allowed {
		if strings.EqualFold(strings.TrimSpace(candidate), origin) {
			return true
		}
	}
	return false
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.handleHealth)

	claims := api.Group("/claims")
	{
		claims.POST("", s.handleUpload)
		claims.POST("/paths", s.handlePaths)
		claims.GET("/stream", s.handleStream)
		claims.GET("/:id", s.handleGetResult)
	}

	s.engine.GET("/metrics", gin.WrapH(s.metricsHandler))
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting claimflow server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight runs up to the
// configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping claimflow server...")
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Error shutting down HTTP server: %v", err)
		return err
	}
	s.logger.Info("claimflow server stopped")
	return nil
}

func (s *Server) remember(result claim.Result) {
	if result.RunID != "" {
		s.results.Add(result.RunID, result)
	}
}
