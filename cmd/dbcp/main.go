// dbcp is a bounded database session pool with an HTTP front end.
//
// It keeps between min_size and max_size open sessions to a single MySQL,
// PostgreSQL or SQLite backend, replaces dead sessions on borrow, and
// evicts sessions idle beyond max_idle_time.
//
// Usage:
//
//	dbcp [flags]                   Serve the pool over HTTP
//	dbcp [flags] bench [options]   Compare pooled and unpooled throughput
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "dbcp.toml")
//	-listen string
//	    HTTP listen address (overrides config)
//	-token string
//	    Bearer token for HTTP clients (overrides config)
//	-v
//	    Enable verbose logging
//	-version
//	    Print version and exit
//
// See https://github.com/go-i2p/dbcp for more information.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-i2p/dbcp/lib/config"
	"github.com/go-i2p/dbcp/lib/metrics"
	"github.com/go-i2p/dbcp/lib/pool"
	"github.com/go-i2p/dbcp/lib/server"
	"github.com/go-i2p/dbcp/lib/session"
	"github.com/go-i2p/dbcp/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "dbcp.toml", "Path to configuration file (.toml, .yaml or key=value)")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	token := flag.String("token", "", "Bearer token for HTTP clients (overrides config)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "dbcp - Bounded database session pool\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  dbcp [flags]                  Serve the pool over HTTP\n")
		fmt.Fprintf(os.Stderr, "  dbcp [flags] bench [options]  Compare pooled and unpooled throughput\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("dbcp version %s\n", version.Full())
		return 0
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		return 1
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *token != "" {
		cfg.Server.AuthToken = *token
	}

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "serve":
		case "bench":
			return handleBench(args[1:], cfg, logger)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
			flag.Usage()
			return 2
		}
	}

	return serve(cfg, logger)
}

func serve(cfg *config.Config, logger *slog.Logger) int {
	metrics.RecordStartTime()

	dialer, err := session.NewSQLDialer(cfg.DialerConfig())
	if err != nil {
		logger.Error("failed to prepare driver", "driver", cfg.Database.Driver, "error", err)
		return 1
	}
	defer dialer.Close()

	p, err := pool.New(session.NewCircuitDialer(dialer, nil), cfg.PoolConfig())
	if err != nil {
		logger.Error("failed to create pool", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Start fills the pool to min_size; a backend that cannot be reached
	// here is fatal.
	if err := p.Start(ctx); err != nil {
		logger.Error("failed to start pool", "addr", cfg.DialerConfig().Addr(), "error", err)
		return 1
	}
	defer p.Close()

	srv, err := server.New(p, server.Config{
		ListenAddr: cfg.Server.Listen,
		AuthToken:  cfg.Server.AuthToken,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimit,
			BurstSize:         cfg.Server.RateBurst,
		},
		MaxConnections: cfg.Server.MaxConnections,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to create server", "error", err)
		return 1
	}
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "listen", cfg.Server.Listen, "error", err)
		return 1
	}

	st := p.Stats()
	logger.Info("dbcp started",
		"version", version.Full(),
		"driver", cfg.Database.Driver,
		"listen", srv.Addr(),
		"min_size", st.MinSize,
		"max_size", st.MaxSize,
	)

	sig := <-sigChan
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()

	code := 0
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		code = 1
	}
	if err := p.Close(); err != nil {
		logger.Warn("pool shutdown error", "error", err)
	}

	st = p.Stats()
	logger.Info("dbcp stopped",
		"total_requests", st.TotalRequests,
		"timeouts", st.TimeoutCount,
		"created", st.Created,
		"destroyed", st.Destroyed,
	)
	return code
}
