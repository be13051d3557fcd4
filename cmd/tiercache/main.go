// Package main implements the entry point for the tiercache server.
// tiercache is a multi-tier caching engine that layers an in-process
// cache over a NATS JetStream durable store, with scheduled warming,
// performance monitoring and an HTTP admin surface.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/tiercache/admin"
	"github.com/c360/tiercache/cache"
	"github.com/c360/tiercache/config"
	"github.com/c360/tiercache/errors"
	"github.com/c360/tiercache/metric"
	"github.com/c360/tiercache/monitor"
	"github.com/c360/tiercache/natsclient"
	"github.com/c360/tiercache/store"
	"github.com/c360/tiercache/warm"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "tiercache"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	// Parse and validate CLI flags
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	// Load and validate configuration
	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	// Connect to NATS and build the durable store
	registry := metric.NewRegistry()
	natsClient, err := setupNATS(ctx, cfg, logger, registry)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	durable, err := store.NewNATSStore(natsClient)
	if err != nil {
		return fmt.Errorf("create durable store: %w", err)
	}

	// Assemble the caching engine
	eng, err := buildEngine(cfg, durable, logger, registry)
	if err != nil {
		return err
	}

	if err := eng.start(ctx, cfg); err != nil {
		return err
	}

	// Run until a shutdown signal arrives
	return runWithSignalHandling(ctx, eng, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting tiercache (multi-tier caching engine)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// initializeConfiguration loads and validates configuration
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setupNATS creates the NATS client and waits for the connection
func setupNATS(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	registry *metric.Registry,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(&natsLogger{logger: logger.With("component", "natsclient")}),
		natsclient.WithCoreMetrics(registry.Core),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithTimeout(cfg.NATS.ConnectTimeout.Std()),
	}
	if cfg.NATS.Name != "" {
		opts = append(opts, natsclient.WithName(cfg.NATS.Name))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}

	natsClient, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "urls", cfg.NATS.URLs)
	if err := natsClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := natsClient.WaitForConnection(connCtx); err != nil {
		_ = natsClient.Close(ctx)
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	return natsClient, nil
}

// engine bundles the running pieces so shutdown can walk them in reverse
type engine struct {
	manager       *cache.Manager
	warmer        *warm.Warmer
	monitor       *monitor.Monitor
	facade        *admin.Facade
	metricsServer *metric.Server
	adminServer   *http.Server
}

// buildEngine wires the cache manager, warmer, monitor and admin facade
// from configuration
func buildEngine(
	cfg *config.Config,
	durable store.Store,
	logger *slog.Logger,
	registry *metric.Registry,
) (*engine, error) {
	manager, err := cache.NewManager(durable,
		cache.WithLogger(logger),
		cache.WithMetrics(registry),
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL.Std()),
		cache.WithCleanupInterval(cfg.Cache.CleanupInterval.Std()),
		cache.WithStatsInterval(cfg.Cache.StatsInterval.Std()),
		cache.WithStoreTimeout(cfg.Cache.StoreTimeout.Std()),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache manager: %w", err)
	}

	warmer, err := warm.NewWarmer(manager, durable,
		warm.WithLogger(logger),
		warm.WithMetrics(registry),
		warm.WithTickInterval(cfg.Warming.TickInterval.Std()),
		warm.WithRateLimit(rate.Limit(cfg.Warming.RateLimit), cfg.Warming.RateBurst),
	)
	if err != nil {
		return nil, fmt.Errorf("create warmer: %w", err)
	}

	mon, err := monitor.NewMonitor(manager, durable,
		monitor.WithLogger(logger),
		monitor.WithMetrics(registry),
		monitor.WithCheckInterval(cfg.Monitor.CheckInterval.Std()),
		monitor.WithThresholds(monitor.Thresholds{
			MinHitRate:      cfg.Monitor.MinHitRate,
			MaxResponseTime: cfg.Monitor.MaxResponseTime.Std(),
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create monitor: %w", err)
	}

	facade, err := admin.NewFacade(manager, warmer, mon, durable,
		admin.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create admin facade: %w", err)
	}

	eng := &engine{
		manager: manager,
		warmer:  warmer,
		monitor: mon,
		facade:  facade,
	}

	if cfg.Metrics.Enabled {
		eng.metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
	}

	if cfg.Admin.Enabled {
		mux := http.NewServeMux()
		facade.RegisterHTTPHandlers(cfg.Admin.PathPrefix, mux)
		eng.adminServer = &http.Server{
			Addr:              cfg.Admin.Address,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return eng, nil
}

// start brings up background loops and servers in dependency order
func (e *engine) start(ctx context.Context, cfg *config.Config) error {
	if err := e.manager.Start(ctx); err != nil {
		return fmt.Errorf("start cache manager: %w", err)
	}

	if cfg.Warming.Enabled {
		if err := e.warmer.Start(ctx); err != nil {
			return fmt.Errorf("start warmer: %w", err)
		}

		if cfg.Warming.WarmOnStartup {
			slog.Info("Running startup warming")
			if err := e.warmer.WarmAll(ctx); err != nil {
				slog.Warn("Startup warming incomplete", "error", err)
			}
		}
	}

	if cfg.Monitor.Enabled {
		if err := e.monitor.Start(ctx); err != nil {
			return fmt.Errorf("start monitor: %w", err)
		}
	}

	if e.metricsServer != nil {
		if err := e.metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		slog.Info("Metrics server listening", "address", e.metricsServer.Address())
	}

	if e.adminServer != nil {
		go func() {
			slog.Info("Admin server listening", "address", e.adminServer.Addr)
			if err := e.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Admin server failed", "error", err)
			}
		}()
	}

	return nil
}

// stop tears down servers and loops in reverse start order
func (e *engine) stop(ctx context.Context) error {
	var firstErr error

	if e.adminServer != nil {
		if err := e.adminServer.Shutdown(ctx); err != nil {
			slog.Error("Admin server shutdown failed", "error", err)
			firstErr = err
		}
	}

	if e.metricsServer != nil {
		if err := e.metricsServer.Stop(); err != nil {
			slog.Error("Metrics server shutdown failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for _, c := range []struct {
		name string
		stop func() error
	}{
		{"monitor", e.monitor.Stop},
		{"warmer", e.warmer.Stop},
		{"cache manager", e.manager.Stop},
	} {
		// Disabled components were never started
		if err := c.stop(); err != nil && !stderrors.Is(err, errors.ErrNotStarted) {
			slog.Error("Component stop failed", "component", c.name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// runWithSignalHandling blocks until SIGINT or SIGTERM, then shuts down
func runWithSignalHandling(ctx context.Context, eng *engine, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	slog.Info("tiercache started successfully")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := eng.stop(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("tiercache shutdown complete")
	return nil
}
