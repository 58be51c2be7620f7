/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the supply ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file, .env, LEDGER_* variables)
  2. Open the store (memory, sqlite, postgres or mysql) and migrate it
  3. Connect the Redis locker when enabled
  4. Build the ledger Service with metrics and logging
  5. Optionally seed a demo scenario
  6. Start the advance deadline scheduler
  7. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML/TOML/JSON config file (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store and Redis connection
  5. Exit

EXAMPLES:
  # Run with the default SQLite file
  ./server

  # Run in memory with a demo scenario
  LEDGER_STORE_DRIVER=memory LEDGER_SEED=supply-chain ./server

  # Run against Postgres with a shared Redis lock
  LEDGER_STORE_DRIVER=postgres LEDGER_STORE_DSN=postgres://... \
  LEDGER_REDIS_ENABLED=true ./server

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqlstore: SQL store and migrations
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/supply-ledger/api"
	"github.com/warp/supply-ledger/config"
	"github.com/warp/supply-ledger/ledger"
	"github.com/warp/supply-ledger/ledger/store"
	"github.com/warp/supply-ledger/metrics"
	"github.com/warp/supply-ledger/store/mysql"
	"github.com/warp/supply-ledger/store/postgres"
	"github.com/warp/supply-ledger/store/redislock"
	"github.com/warp/supply-ledger/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg)

	ctx := context.Background()

	// Initialize store
	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize store")
	}
	defer closeStore()

	opts := []ledger.Option{ledger.WithLogger(log)}

	// Cross-instance locking
	if cfg.Redis.Enabled {
		locker, rdb, err := redislock.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Prefix, log)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to redis")
		}
		defer rdb.Close()
		opts = append(opts, ledger.WithLocker(locker))
		log.WithField("addr", cfg.Redis.Addr).Info("using redis locks")
	}

	var routerOpts api.RouterOptions
	routerOpts.AllowedOrigins = cfg.HTTP.AllowedOrigins
	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(nil)
		opts = append(opts, ledger.WithObserver(collector))
		routerOpts.Metrics = collector.Handler()
	}

	svc := ledger.NewService(st, opts...)

	// Initialize handler
	handler := api.NewHandler(svc, log)

	if cfg.Seed != "" {
		if _, _, err := handler.LoadScenarioByID(ctx, cfg.Seed); err != nil {
			log.WithError(err).Fatal("failed to seed scenario")
		}
	}

	scheduler := api.NewAdvanceScheduler(svc, log)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.Interval
	handler.Scheduler = scheduler
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewRouter(handler, routerOpts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.HTTP.Addr, "store": cfg.Store.Driver}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	log.Info("server stopped")
}

// openStore opens the configured backend. The returned func closes it.
func openStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (ledger.Store, func(), error) {
	nop := func() {}
	closer := func(c interface{ Close() error }) func() {
		return func() {
			if err := c.Close(); err != nil {
				log.WithError(err).Warn("failed to close store")
			}
		}
	}

	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), nop, nil
	case "sqlite":
		if cfg.Store.DSN != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Store.DSN), 0o755); err != nil {
				return nil, nop, fmt.Errorf("create data dir: %w", err)
			}
		}
		s, err := sqlite.New(ctx, cfg.Store.DSN, log)
		if err != nil {
			return nil, nop, err
		}
		return s, closer(s), nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.Store.DSN, log)
		if err != nil {
			return nil, nop, err
		}
		return s, closer(s), nil
	case "mysql":
		s, err := mysql.New(ctx, cfg.Store.DSN, log)
		if err != nil {
			return nil, nop, err
		}
		return s, closer(s), nil
	}
	return nil, nop, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
