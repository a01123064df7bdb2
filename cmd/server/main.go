/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the movimientos server: the ledger API, the
  Inkwell billing sync and the notification inbox.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment), then apply flags
  2. Build the zap logger
  3. Open the SQLite store (migrations run on open)
  4. Build notification plumbing: inbox, rate limiter, outbound notifier
  5. Create API handler and router
  6. Start the retention worker and the HTTP server

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DATABASE_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the retention worker
  4. Wait for in-flight outbound notifications
  5. Close database connection

ENVIRONMENT:
  See config/config.go for every key and its default.

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
  - store/sqlite/sqlite.go: Database implementation
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
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/movimientos/api"
	"github.com/warp/movimientos/config"
	"github.com/warp/movimientos/ledger"
	"github.com/warp/movimientos/logging"
	"github.com/warp/movimientos/metrics"
	"github.com/warp/movimientos/notify"
	"github.com/warp/movimientos/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DatabasePath, "SQLite database path")
	flag.Parse()
	cfg.Port, cfg.DatabasePath = *port, *dbPath
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	clock := ledger.SystemClock{}

	// Initialize store
	store, err := sqlite.New(cfg.DatabasePath, sqlite.WithClock(clock))
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	m := metrics.New()
	n := cfg.Notifications

	inbox := notify.NewInbox(store, notify.NewSlidingWindow(n.RateLimit, n.RateWindow, clock), clock,
		notify.InboxConfig{
			Secret:          n.SharedSecret,
			AllowedSources:  n.AllowedSourceApps,
			TimestampWindow: n.TimestampWindow,
		}, logger.Named("notify"))

	opts := api.Options{
		Clock:          clock,
		Inbox:          inbox,
		Metrics:        m,
		Logger:         logger,
		APIKey:         cfg.BillingAPIKey,
		AllowedOrigins: cfg.AllowedOrigins,
	}

	var async *notify.Async
	if n.OutboundEnabled() {
		httpNotifier, err := notify.NewHTTPNotifier(notify.OutboundConfig{
			BaseURL:   n.PeerBaseURL,
			Secret:    n.SharedSecret,
			SourceApp: n.SourceApp,
			Timeout:   n.Timeout,
		}, clock)
		if err != nil {
			return err
		}
		async = notify.NewAsync(httpNotifier, n.Timeout, logger.Named("notify"), m)
		opts.Notifier = async
	} else {
		logger.Info("outbound notifications disabled", zap.String("reason", "PEER_BASE_URL not set"))
	}
	if cfg.BillingAPIKey == "" {
		logger.Warn("BILLING_API_KEY not set, billing sync requests will be rejected")
	}

	handler := api.NewHandler(store, opts)
	router := api.NewRouter(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	retention := notify.NewRetentionWorker(store, clock, logger.Named("retention"))
	retention.Retention = n.Retention
	retention.Interval = n.RetentionInterval
	retention.Start(ctx)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port), zap.String("db", cfg.DatabasePath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	retention.Stop()
	if async != nil {
		async.Wait()
	}

	logger.Info("server stopped")
	return nil
}
