/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the bartab billing server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration (YAML file + BARTAB_* env overrides)
  3. Set up structured logging
  4. Initialize SQLite store
  5. Wire billing service, invoicer, and reminder scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config       Path to YAML config file (default: config.yaml)
  -migrate-only Migrate the database and exit, without serving

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (configurable timeout)
  3. Stop the reminder scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with defaults (./data/bartab.db, port 8080)
  ./server

  # Run with a config file and a port override
  BARTAB_SERVER_PORT=3000 ./server -config=./deploy/config.yaml

SEE ALSO:
  - config/config.go: Configuration loading
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
	"syscall"

	"github.com/warp/bartab/api"
	"github.com/warp/bartab/billing"
	"github.com/warp/bartab/config"
	"github.com/warp/bartab/pkg/logging"
	"github.com/warp/bartab/store/sqlite"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	migrateOnly := flag.Bool("migrate-only", false, "migrate the database and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.Setup(cfg.Log.Level, cfg.Log.Pretty)

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Error("failed to initialize database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if *migrateOnly {
		log.Info("database migrated", "path", cfg.Database.Path)
		return
	}

	policy, err := cfg.AutolockPolicy()
	if err != nil {
		log.Error("invalid autolock policy", "error", err)
		os.Exit(1)
	}

	svc := billing.NewService(store, log)
	invoicer := billing.NewInvoicer(store, nil, policy, log)
	handler := api.NewHandler(svc, invoicer, log)

	scheduler := api.NewReminderScheduler(invoicer, log)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server starting", "addr", server.Addr, "db", cfg.Database.Path)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
