// Package server exposes a session pool over HTTP. Clients post SQL to
// /query and /execute; /health, /stats and /metrics report pool state.
package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
	"github.com/go-i2p/dbcp/lib/metrics"
	"github.com/go-i2p/dbcp/lib/pool"
)

// Default server values
const (
	DefaultListenAddr       = "127.0.0.1:8080"
	DefaultStatementTimeout = 30 * time.Second
	DefaultMaxBodyBytes     = 1 << 20
)

// Pool is the subset of *pool.Pool the server uses.
type Pool interface {
	Do(ctx context.Context, fn func(*pool.Lease) error) error
	Stats() pool.Stats
}

// Config holds HTTP server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "127.0.0.1:8080")
	ListenAddr string
	// AuthToken is the bearer token required on every route but /health.
	// Empty disables authentication.
	AuthToken string
	// RateLimit configures per-client limiting. A zero RequestsPerSecond
	// disables it.
	RateLimit RateLimitConfig
	// TrustedProxies lists proxies whose forwarding headers are honoured
	// when identifying clients. Nil trusts none.
	TrustedProxies []string
	// StatementTimeout bounds each request's statement. Default: 30s
	StatementTimeout time.Duration
	// MaxBodyBytes caps request bodies. Default: 1 MiB
	MaxBodyBytes int64
	// MaxConnections caps concurrent connections. Zero means
	// DefaultMaxConnections; negative disables the cap.
	MaxConnections int
	// Logger is the structured logger
	Logger *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	pool       Pool
	cfg        Config
	limiter    *RateLimiter
	connLimit  *ConnectionLimiter
	logger     *slog.Logger
	mu         sync.RWMutex
	running    bool
	addr       net.Addr
}

// New creates a server for p. It does not listen until Start.
func New(p Pool, cfg Config) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("server: nil pool: %w", apperrors.ErrConfiguration)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.StatementTimeout <= 0 {
		cfg.StatementTimeout = DefaultStatementTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		pool:   p,
		cfg:    cfg,
		logger: cfg.Logger,
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("server: trusted proxies: %w: %w", apperrors.ErrConfiguration, err)
	}
	engine.Use(gin.CustomRecovery(s.recoverPanic), s.withLogging(), securityHeaders())

	if cfg.RateLimit.RequestsPerSecond > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit)
		s.limiter.SetOnReject(func(ip, path string) {
			s.logger.Warn("rate limited", "ip", ip, "path", path)
		})
		engine.Use(s.limiter.Middleware())
	}

	if cfg.MaxConnections >= 0 {
		s.connLimit = NewConnectionLimiter(cfg.MaxConnections)
		s.connLimit.SetOnReject(func(addr net.Addr) {
			s.logger.Warn("connection limit reached", "remote", addr.String(), "max", s.connLimit.MaxConnections())
		})
	}

	// Health is reachable without credentials.
	engine.GET("/health", s.handleHealth)

	api := engine.Group("/", s.requireToken())
	api.GET("/stats", s.handleStats)
	api.GET("/metrics", s.handleMetrics)
	api.POST("/query", s.handleQuery)
	api.POST("/execute", s.handleExecute)

	engine.NoRoute(func(c *gin.Context) {
		abortWithError(c, http.StatusNotFound, apperrors.New(apperrors.CodeInvalidRequest, "not found"))
	})

	if cfg.AuthToken == "" {
		s.logger.Warn("authentication disabled: no auth token configured")
	}

	s.engine = engine
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           engine,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.StatementTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start starts listening and serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server: %w", apperrors.ErrAlreadyOpen)
	}
	s.running = true
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("listen: %w", err)
	}

	if s.connLimit != nil {
		ln = s.connLimit.Listener(ln)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.logger.Info("http server started", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr != nil {
		return s.addr.String()
	}
	return s.cfg.ListenAddr
}

// Stop stops the server gracefully, waiting for in-flight requests until
// ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.limiter != nil {
		defer s.limiter.Close()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// withLogging logs each request at debug level and counts it.
func (s *Server) withLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"remote", c.Request.RemoteAddr,
		)

		c.Next()

		metrics.HTTPRequestsTotal.Inc()
		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			metrics.HTTPErrorsTotal.Inc()
		}
		s.logger.Debug("response",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
		)
	}
}

func (s *Server) recoverPanic(c *gin.Context, recovered any) {
	s.logger.Error("handler panic", "path", c.Request.URL.Path, "panic", recovered)
	abortWithError(c, http.StatusInternalServerError, apperrors.WrapInternal(fmt.Errorf("panic: %v", recovered)))
}

// securityHeaders sets common response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// requireToken enforces "Authorization: Bearer <token>".
func (s *Server) requireToken() gin.HandlerFunc {
	want := []byte(s.cfg.AuthToken)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.Header("WWW-Authenticate", `Bearer realm="dbcp"`)
			abortWithError(c, http.StatusUnauthorized, apperrors.FromSentinel(apperrors.ErrUnauthorized))
			return
		}
		c.Next()
	}
}
