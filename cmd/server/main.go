/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the indicator engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, overlay on config file
  2. Initialize SQLite store and rebuild the dependency graph
  3. Wire access evaluator, engine, reconstructor, ingestion runner
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Optional YAML config file
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: indicators.db)
           Use ":memory:" for in-memory database
  -admin   Comma-separated superuser emails

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the ingestion runner
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/indicators.db"

  # Run with a config file and an admin
  ./server -config=server.yaml -admin=admin@ucy.ac.cy

SEE ALSO:
  - config/config.go: File-based configuration
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/indicator-engine/api"
	"github.com/warp/indicator-engine/config"
	"github.com/warp/indicator-engine/core"
	"github.com/warp/indicator-engine/ingest"
	"github.com/warp/indicator-engine/store/sqlite"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file")
		port       = flag.Int("port", 0, "HTTP server port")
		dbPath     = flag.String("db", "", "SQLite database path")
		admins     = flag.String("admin", "", "comma-separated superuser emails")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger := newLogger(cfg.LogMode)
	defer logger.Sync()

	// Store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Dependency graph from the persisted definitions
	graph := core.NewGraph()
	defs, err := store.ListDefinitions(context.Background())
	if err != nil {
		logger.Fatal("failed to load derived definitions", zap.Error(err))
	}
	if err := graph.Rebuild(defs); err != nil {
		logger.Fatal("persisted definitions contain a cycle", zap.Error(err))
	}

	// Core wiring
	access := core.NewAccessEvaluator(store, graph)
	engine := core.NewEngine(store, graph, access)
	engine.Log = logger.Named("engine")
	recon := core.NewReconstructor(store, access, engine)

	// Ingestion: sources register here as they are implemented.
	runner := ingest.NewRunner(engine, store, logger.Named("ingest"))
	runner.Interval = cfg.IngestInterval
	runner.Start()
	defer runner.Stop()

	// HTTP
	identity := api.NewHeaderIdentity(cfg.OrgDomain, splitAdmins(*admins)...)
	handler := api.NewHandler(store, engine, access, recon, runner, identity, logger.Named("api"))
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
			zap.Int("derived_indicators", len(defs)))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(mode string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if mode == "prod" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func splitAdmins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
