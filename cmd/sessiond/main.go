// Sessiond is a session coordination daemon for multi-agent workflows,
// served over the MCP stdio transport.
//
// This binary starts the sessiond MCP server with full service
// initialization: the file-based session store, gate evaluation, evidence
// chain assembly, session templates, and secret scrubbing.
//
// Configuration is loaded from ~/.sessiond.yaml (or the path given with
// -config) with SESSIOND_* environment overrides. See internal/config for
// details.
//
// Usage:
//
//	# Start the daemon with defaults
//	sessiond
//
//	# Use an explicit config file
//	sessiond -config /etc/sessiond/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessiond/internal/config"
	"github.com/fyrsmithlabs/sessiond/internal/events"
	"github.com/fyrsmithlabs/sessiond/internal/evidence"
	"github.com/fyrsmithlabs/sessiond/internal/gate"
	"github.com/fyrsmithlabs/sessiond/internal/logging"
	"github.com/fyrsmithlabs/sessiond/internal/mcp"
	"github.com/fyrsmithlabs/sessiond/internal/runner"
	"github.com/fyrsmithlabs/sessiond/internal/scrub"
	"github.com/fyrsmithlabs/sessiond/internal/session"
	"github.com/fyrsmithlabs/sessiond/internal/telemetry"
	"github.com/fyrsmithlabs/sessiond/internal/template"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// shutdownTimeout bounds graceful teardown of telemetry exporters.
const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  sessiond           Start the sessiond daemon\n")
			fmt.Fprintf(os.Stderr, "  sessiond version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("sessiond by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the sessiond MCP server and blocks until context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the structured logger
//  3. Opens the session store and the event bus
//  4. Creates gate, evidence, and template services
//  5. Wires the MCP server and serves on stdio
//  6. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Printf("Telemetry shutdown: %v", err)
		}
	}()

	logCfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "Starting sessiond",
		zap.String("version", version),
		zap.String("storage", cfg.Storage.BasePath),
		zap.Bool("telemetry", cfg.Telemetry.Enabled))

	deps, err := initDependencies(cfg, logger.Underlying())
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info(ctx, "Dependencies initialized",
		zap.Bool("events_enabled", deps.bus != nil),
		zap.Bool("scrub_enabled", cfg.Scrub.Enabled))

	services, err := initServices(cfg, deps, logger.Underlying())
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	srv, err := mcp.NewServer(
		&mcp.Config{
			Name:    "sessiond",
			Version: version,
			Logger:  logger.Underlying(),
		},
		deps.store,
		services.gateSvc,
		services.evidenceSvc,
		services.templateSvc,
		deps.scrubber,
	)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Warn(ctx, "MCP server close", zap.Error(err))
		}
	}()

	logger.Info(ctx, "Server configured", zap.String("transport", "stdio"))

	// Serve stdio (blocks until the client disconnects or ctx is cancelled)
	return srv.Run(ctx)
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	store    *session.Store
	bus      *events.Bus
	scrubber scrub.Scrubber
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.bus != nil {
		_ = d.bus.Close()
	}
}

// services holds all business services.
type services struct {
	gateSvc     gate.Service
	evidenceSvc evidence.Service
	templateSvc *template.Service
}

// initDependencies opens the session store, the in-process event bus, and
// the secret scrubber.
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	store, err := session.NewStore(session.Config{
		BasePath:   cfg.Storage.BasePath,
		HistoryMax: cfg.Storage.HistoryMax,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	var bus *events.Bus
	if cfg.Events.Enabled {
		bus, err = events.NewBus(logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start event bus: %w", err)
		}
	}

	scrubber, err := scrub.New(&scrub.Config{
		Enabled:       cfg.Scrub.Enabled,
		ProjectPath:   cfg.Scrub.ProjectPath,
		AllowlistPath: cfg.Scrub.AllowlistPath,
	})
	if err != nil {
		if bus != nil {
			_ = bus.Close()
		}
		return nil, fmt.Errorf("failed to create scrubber: %w", err)
	}

	return &dependencies{
		store:    store,
		bus:      bus,
		scrubber: scrubber,
	}, nil
}

// initServices creates the gate, evidence, and template services on top of
// the shared store.
func initServices(cfg *config.Config, deps *dependencies, logger *zap.Logger) (*services, error) {
	gateCfg := gate.DefaultConfig()
	if cfg.Gates.TypecheckCommand != "" {
		gateCfg.TypecheckCommand = cfg.Gates.TypecheckCommand
	}
	if d := cfg.Gates.TypecheckTimeout.Duration(); d > 0 {
		gateCfg.TypecheckTimeout = d
	}
	if cfg.Gates.TestsCommand != "" {
		gateCfg.TestsCommand = cfg.Gates.TestsCommand
	}
	if d := cfg.Gates.TestsTimeout.Duration(); d > 0 {
		gateCfg.TestsTimeout = d
	}
	gateCfg.EnforceCooldown = cfg.Gates.EnforceCooldown.Duration()
	gateCfg.CacheTTL = cfg.Gates.CacheTTL.Duration()
	gateCfg.CacheMaxEntries = cfg.Gates.CacheMaxEntries
	gateCfg.Bus = deps.bus

	gateSvc, err := gate.NewService(gateCfg, deps.store, runner.New(cfg.Gates.WorkDir), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate service: %w", err)
	}

	evidenceSvc, err := evidence.NewService(deps.store, deps.bus, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create evidence service: %w", err)
	}

	templateSvc := template.NewService(deps.store, logger)

	return &services{
		gateSvc:     gateSvc,
		evidenceSvc: evidenceSvc,
		templateSvc: templateSvc,
	}, nil
}
