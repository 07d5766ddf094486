package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/shenzihan666/search/config"
	"github.com/shenzihan666/search/conversations"
	"github.com/shenzihan666/search/llm"
	launcherlogger "github.com/shenzihan666/search/logger"
	"github.com/shenzihan666/search/mcp"
	"github.com/shenzihan666/search/migrations"
	"github.com/shenzihan666/search/providers"
	"github.com/shenzihan666/search/query"
	"github.com/shenzihan666/search/runtime"
	"github.com/shenzihan666/search/server"
	"github.com/shenzihan666/search/service"
)

// shutdownGrace bounds how long in-flight answers may finish after a signal.
const shutdownGrace = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		socketPath = flag.String("socket", "", "Unix socket path for gRPC server (overrides config)")
		tcpAddress = flag.String("tcp", "", "TCP address to listen on (e.g., localhost:50051). If set, disables Unix socket")
		logFile    = flag.String("logfile", "", "Path to log file. If not set, logs to stdout (stderr when serving MCP)")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
		dbPath     = flag.String("db", "", "Path to SQLite database file (overrides config)")
		serveMCP   = flag.Bool("mcp", false, "Serve MCP tools over stdin/stdout")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	// A missing .env is normal.
	_ = godotenv.Load()

	appConfig, err := config.LoadServerConfig(config.GetServerConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load server configuration: %w", err)
	}
	if *socketPath != "" {
		appConfig.Server.Socket = *socketPath
	}
	if *tcpAddress != "" {
		appConfig.Server.TCP = *tcpAddress
	}
	if *dbPath != "" {
		appConfig.Database.Path = *dbPath
	}
	mcpEnabled := *serveMCP || appConfig.MCP.Enabled

	// stdout belongs to the MCP transport when it is enabled.
	var logger zerolog.Logger
	if mcpEnabled && *logFile == "" {
		logger = launcherlogger.Stderr().Level(zerolog.InfoLevel)
	} else if logger, err = launcherlogger.InitWithOptions(*logFile, *pretty); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info().
		Str("socket", appConfig.Server.Socket).
		Str("tcp", appConfig.Server.TCP).
		Str("db", appConfig.Database.Path).
		Bool("mcp", mcpEnabled).
		Msg("launcherd starting")

	// ---------------------------
	// 1. Open SQLite + stores
	// ---------------------------

	db, err := migrations.Open(appConfig.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close() //nolint:errcheck // No remedy for db close errors

	providerStore := providers.NewStore(db)
	sessionStore := conversations.NewStore(db)

	seeds := lo.Map(appConfig.SeedProviders(), func(s config.ProviderSeed, _ int) providers.CreateRequest {
		return providers.CreateRequest{
			Name:    s.Name,
			Type:    llm.ParseProviderType(s.Type),
			BaseURL: s.BaseURL,
			Model:   s.Model,
			APIKey:  s.APIKey,
		}
	})
	seeded, err := providerStore.Seed(context.Background(), seeds)
	if err != nil {
		return fmt.Errorf("failed to seed providers: %w", err)
	}
	if seeded > 0 {
		logger.Info().Int("count", seeded).Msg("Seeded providers")
	}

	// ---------------------------
	// 2. Query engine + service
	// ---------------------------

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine := query.NewEngine(logger,
		query.WithTimeouts(query.Timeouts{
			Stream:   appConfig.Timeouts.StreamTimeout(),
			Fallback: appConfig.Timeouts.FallbackTimeout(),
			Probe:    appConfig.Timeouts.ProbeTimeout(),
		}),
		query.WithMetrics(query.NewMetrics(registry)),
	)

	svc := service.New(engine, providerStore, logger,
		service.WithSessions(sessionStore),
		service.WithProviderAdmin(providerStore),
		service.WithProbeConcurrency(appConfig.Probe.Concurrency),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---------------------------
	// 3. Background work
	// ---------------------------

	if appConfig.Probe.Schedule != "" {
		scheduler, err := runtime.NewProbeScheduler(svc, appConfig.Probe.Schedule, logger)
		if err != nil {
			return fmt.Errorf("failed to create probe scheduler: %w", err)
		}
		go scheduler.Start(ctx)
		logger.Info().Str("schedule", appConfig.Probe.Schedule).Msg("Probe scheduler started")
	}

	var metricsServer *http.Server
	if appConfig.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:              appConfig.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("address", appConfig.Metrics.Listen).Msg("Serving metrics")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	mcpDone := make(chan error, 1)
	if mcpEnabled {
		go func() {
			mcpDone <- mcp.NewServer(svc, logger).ServeStdio(ctx, os.Stdin, os.Stdout)
		}()
	}

	// ---------------------------
	// 4. Create and Start gRPC Server
	// ---------------------------

	srv := server.New(server.Config{
		SocketPath: appConfig.Server.Socket,
		Logger:     logger,
	}, svc)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		if appConfig.Server.TCP != "" {
			logger.Info().Str("address", appConfig.Server.TCP).Msg("Starting gRPC server on TCP")
			serverErr <- srv.ServeTCP(appConfig.Server.TCP)
			return
		}
		logger.Info().Str("socket", appConfig.Server.Socket).Msg("Starting gRPC server on Unix socket")
		serverErr <- srv.ServeUnix(appConfig.Server.Socket)
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-mcpDone:
		// The MCP host closed stdin.
		logger.Info().Err(err).Msg("MCP transport closed")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	cancel()
	srv.Shutdown(shutdownGrace)
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	if appConfig.Server.TCP == "" {
		if err := os.Remove(appConfig.Server.Socket); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("socket", appConfig.Server.Socket).Msg("Failed to remove socket file on shutdown")
		}
	}

	logger.Info().Msg("launcherd shutdown complete")
	return runErr
}
