/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and environment, then parse command-line flags
  2. Build the logger
  3. Initialize SQLite store
  4. Choose the key locker: Redis when REDIS_ADDR is set, in-process otherwise
  5. Build ledger, catalog and the export dispatcher with its sinks
  6. Configure HTTP router and start the snapshot scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port
  -db      SQLite database path; ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections, wait for active requests (30s)
  2. Stop the scheduler
  3. Drain the export dispatcher
  4. Close Pub/Sub, Redis and the database

EXAMPLES:
  ./server -db="./data/stock.db"
  REDIS_ADDR=localhost:6379 EXPORT_DIR=./exports ./server -port=3000

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/stock-ledger/api"
	"github.com/warp/stock-ledger/channel"
	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/export"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/lock"
	"github.com/warp/stock-ledger/store/sqlite"
	"google.golang.org/api/option"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.Port, cfg.DBPath = *port, *dbPath

	logger := config.NewLogger(cfg.Log)
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatalf("Invalid business timezone: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	calendar := ledger.NewCalendar(loc)
	l := ledger.NewLedger(store, calendar)
	l.MaxRetries = cfg.MaxRetries
	l.Log = logger.WithField("component", "ledger")

	var cache channel.SelectionCache = channel.NewMemoryCache()
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatalf("Failed to reach redis at %s: %v", cfg.Redis.Addr, err)
		}
		locker := lock.NewRedisLocker(rdb, lock.WithTTL(cfg.Redis.LockTTL), lock.WithLogger(logger))
		l.Locker = locker
		l.Rollup.Locker = locker
		cache = channel.NewRedisCache(rdb)
		logger.WithField("addr", cfg.Redis.Addr).Info("using redis locks and selection cache")
	}

	catalog := &ledger.Catalog{Repo: store}

	// Export sinks
	sinks := []export.Sink{export.NewLogSink(logger)}
	if cfg.ExportDir != "" {
		sinks = append(sinks, &export.FileSink{
			Dir:      cfg.ExportDir,
			Workbook: &export.Workbook{Snapshots: l.Rollup, Catalog: catalog},
			Calendar: calendar,
		})
	}
	if cfg.PubSubProjectID != "" {
		var opts []option.ClientOption
		if cfg.PubSubCredentials != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.PubSubCredentials))
		}
		ps, err := export.NewPubSubSink(context.Background(), cfg.PubSubProjectID, cfg.PubSubTopic, opts...)
		if err != nil {
			logger.Fatalf("Failed to initialize pubsub: %v", err)
		}
		defer func() {
			if err := ps.Close(); err != nil {
				config.LogError(logger, "main", "main", "close pubsub", nil, err)
			}
		}()
		sinks = append(sinks, ps)
	}
	dispatcher := export.NewDispatcher(logger, 1024, sinks...)
	dispatcher.Start()
	l.Notifier = dispatcher

	// Initialize handler
	handler := api.NewHandler(l, catalog, store, logger)
	adapter := channel.NewAdapter(l, catalog, cache, logger)
	adapter.TTL = cfg.SelectionTTL
	handler.Channel = adapter
	handler.Scenarios = cfg.EnableScenarios

	scheduler := api.NewSnapshotScheduler(catalog, l.Rollup, logger)
	scheduler.Start()

	// Create router
	router := api.NewRouter(handler, cfg.CORSOrigins)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * api.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.WithFields(logrus.Fields{
			"port":  cfg.Port,
			"db":    cfg.DBPath,
			"today": calendar.Today().String(),
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		config.LogError(logger, "main", "main", "server shutdown", nil, err)
	}
	scheduler.Stop()
	dispatcher.Stop()

	logger.Info("server stopped")
}
