package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/atriumdigital/spliosync/internal/api"
	"github.com/atriumdigital/spliosync/internal/config"
	"github.com/atriumdigital/spliosync/internal/deadletter"
	"github.com/atriumdigital/spliosync/internal/mapping"
	"github.com/atriumdigital/spliosync/internal/payload"
	"github.com/atriumdigital/spliosync/internal/queue"
	"github.com/atriumdigital/spliosync/internal/record"
	"github.com/atriumdigital/spliosync/internal/resolve"
	"github.com/atriumdigital/spliosync/internal/splio"
	"github.com/atriumdigital/spliosync/internal/store"
	"github.com/atriumdigital/spliosync/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "spliosync",
	Short: "Spliosync - Splio entity synchronization service",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	initLogger(cfg.Log)
	slog.Info("configuration loaded", "version", Version)

	// 4. Initialize store (migrations, WAL mode)
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Wire the sync engine
	source := record.NewSQLiteSource(db)
	catalog := mapping.NewStore(db)
	resolver := resolve.New(source)
	builder := payload.NewBuilder(catalog, source, resolver, cfg.Entities)
	client := splio.NewClient(cfg.Splio, nil)
	events := splio.NewEvents()
	connector := splio.NewConnector(client, builder, catalog, source, resolver,
		events, cfg.Entities, cfg.Sync.Concurrency)
	q := queue.New(db, "sync")

	archiver, err := deadletter.NewArchiver(cfg.DeadLetter)
	if err != nil {
		return fmt.Errorf("dead-letter archive: %w", err)
	}

	// 6. Initialize HTTP router
	handler := api.NewHandler(connector, client, source, q, cfg.Auth.APIKey)
	router := api.NewRouter(handler)

	// 7. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 8. Start the sync worker
	var wg sync.WaitGroup
	syncWorker := worker.NewSyncWorker(q, connector, archiver,
		time.Duration(cfg.Sync.WorkerInterval), cfg.Sync.WorkerBatch)
	startWorker(ctx, &wg, "sync", syncWorker.Run)

	// 9. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called
		// gracefully. Anything else is a real failure.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 10. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 11. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 11a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 11b. Wait for the worker to complete
	wg.Wait()

	// 11c. Close store
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func initLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects
// context cancellation. Workers are tracked via WaitGroup for graceful
// shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
