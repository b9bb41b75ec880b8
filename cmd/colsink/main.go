// Package main implements the colsink binary: it loads configuration, builds
// the configured sink components and runs them until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"syscall"
	"time"

	"github.com/c360/colsink/component"
	"github.com/c360/colsink/componentregistry"
	"github.com/c360/colsink/config"
	"github.com/c360/colsink/health"
	"github.com/c360/colsink/metric"
	"github.com/c360/colsink/natsclient"
	"github.com/c360/colsink/output/columnstore"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "colsink"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp(fs)
		return nil
	}

	cfg, err := loadConfig(cliCfg.ConfigPaths)
	if err != nil {
		return err
	}

	logger := setupLogger(os.Stdout, cfg.Service.Name,
		firstNonEmpty(cliCfg.LogLevel, cfg.Service.LogLevel),
		firstNonEmpty(cliCfg.LogFormat, cfg.Service.LogFormat))
	slog.SetDefault(logger)

	logger.Info("Starting colsink",
		"version", Version,
		"build_time", BuildTime,
		"config_paths", cliCfg.ConfigPaths,
		"components", len(cfg.EnabledComponents()))

	ctx := context.Background()
	metricsRegistry := metric.NewMetricsRegistry()

	if cliCfg.Validate {
		// factories validate without connecting
		if _, err := createComponents(cfg, component.Dependencies{Logger: logger}); err != nil {
			return err
		}
		logger.Info("Configuration is valid")
		return nil
	}

	var natsClient *natsclient.Client
	if requiresNATS(cfg) {
		natsClient, err = connectNATS(ctx, cfg, logger, metricsRegistry)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := natsClient.Close(closeCtx); err != nil {
				logger.Warn("NATS close failed", "error", err)
			}
		}()
	}

	manager, err := createComponents(cfg, component.Dependencies{
		NATSClient:      natsClient,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	return runWithSignalHandling(ctx, cfg, manager, metricsRegistry, cliCfg.ShutdownTimeout, logger)
}

// loadConfig layers every file over the defaults and validates the result
func loadConfig(paths []string) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(true)
	for _, path := range paths {
		loader.AddLayer(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// requiresNATS reports whether any enabled component reads from JetStream
func requiresNATS(cfg *config.Config) bool {
	for _, name := range cfg.EnabledComponents() {
		cc := cfg.Components[name]
		if cc.Type == "columnstore" && columnstore.RequiresNATS(cc.Config) {
			return true
		}
	}
	return false
}

// connectNATS creates the shared NATS client and waits for the connection
func connectNATS(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithName(cfg.Service.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithMetrics(registry),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "urls", cfg.NATS.URLs)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	return client, nil
}

// createComponents registers the factories and creates every enabled
// component in name order.
func createComponents(cfg *config.Config, deps component.Dependencies) (*component.Manager, error) {
	registry := component.NewRegistry()
	if err := componentregistry.Register(registry); err != nil {
		return nil, fmt.Errorf("register components: %w", err)
	}

	manager := component.NewManager(registry, deps)

	names := cfg.EnabledComponents()
	sort.Strings(names)
	for _, name := range names {
		cc := cfg.Components[name]
		if err := manager.Create(name, cc.Type, cc.Config); err != nil {
			return nil, fmt.Errorf("create component %s: %w", name, err)
		}
	}
	if len(names) == 0 {
		slog.Warn("No enabled components configured")
	}

	return manager, nil
}

// runWithSignalHandling starts the components and the metrics server and
// blocks until SIGINT or SIGTERM.
func runWithSignalHandling(
	ctx context.Context,
	cfg *config.Config,
	manager *component.Manager,
	registry *metric.MetricsRegistry,
	shutdownTimeout time.Duration,
	logger *slog.Logger,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := manager.Start(signalCtx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}

	var server *metric.Server
	if cfg.Metrics.Enabled {
		monitor := health.NewMonitor(cfg.Service.Name, manager.Health)
		server = metric.NewServer(cfg.Metrics.ServerConfig(), registry, monitor.Check)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		logger.Info("Metrics server started", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
	}

	logger.Info("colsink started")
	<-signalCtx.Done()
	logger.Info("Received shutdown signal")

	stopErr := manager.Stop(shutdownTimeout)
	if stopErr != nil {
		logger.Error("Error stopping components", "error", stopErr)
	}

	if server != nil {
		serverCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(serverCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}

	if stopErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", stopErr)
	}
	logger.Info("colsink shutdown complete")
	return nil
}
