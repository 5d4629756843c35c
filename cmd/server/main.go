// Command server runs the ApplicationAccess core service: the in-memory
// AccessManager, its event buffer and flush strategy, the Temporal Bulk
// Persister, and the JSON/HTTP boundary (spec.md §6). Grounded on the
// teacher's cmd/kernel/main.go for its configuration-from-environment,
// mux routing, and graceful-shutdown shape.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/applicationaccess/core/internal/accessmanager"
	"github.com/applicationaccess/core/internal/appconfig"
	"github.com/applicationaccess/core/internal/events"
	"github.com/applicationaccess/core/internal/httpapi"
	"github.com/applicationaccess/core/internal/persistence"
	"github.com/applicationaccess/core/internal/persistence/dgraphstore"
	"github.com/applicationaccess/core/internal/tripswitch"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := appconfig.Load()
	logger.Info("starting applicationaccess core", zap.String("port", cfg.HTTPPort))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := dgraphstore.NewStore(ctx, dgraphstore.Config{
		Address:        cfg.DGraphAddress,
		MaxRetries:     cfg.PersistenceMaxRetries,
		RetryInterval:  cfg.PersistenceRetryDelay,
		RequestTimeout: cfg.PersistenceTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("failed to connect to persistence store", zap.Error(err))
	}
	defer store.Close()

	manager := accessmanager.NewConcurrent(accessmanager.New(), accessmanager.NoopObserver{})
	trip := tripswitch.New(logger)

	bootstrapAccessManager(ctx, manager, store, logger, trip)

	sequencer := accessmanager.NewEventSequencer(time.Now)

	// strategy is wired into the buffer's size hook before it exists, and
	// assigned once the writer (which the flush func needs) is built.
	var strategy *events.Strategy
	buffer := events.New(func(kind events.Kind, size int) {
		if strategy != nil {
			strategy.OnQueueSize(kind, size)
		}
	})
	writer := events.NewPersisterBuffer(manager, sequencer, buffer, store, cfg.DependencyFreeWriter, logger)

	strategy = events.NewStrategy(events.Config{
		Policy:            events.PolicyCombined,
		BufferSizeLimit:   cfg.EventBufferSizeLimit,
		FlushLoopInterval: cfg.EventBufferFlushPeriod,
	}, writer.Flush, logger)
	strategy.Start()
	defer strategy.Stop()

	jwt := httpapi.NewJWTMiddleware(cfg.JWTSigningKey, logger)
	server := httpapi.NewServer(manager, writer, trip, jwt, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if _, err := writer.Flush(shutdownCtx); err != nil {
		logger.Error("failed to flush pending events during shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// bootstrapAccessManager replays the persisted event history into manager
// so the in-memory AccessManager reflects durable state before the service
// starts accepting requests. An empty store (first run) is not fatal.
func bootstrapAccessManager(ctx context.Context, manager *accessmanager.Concurrent, store *dgraphstore.Store, logger *zap.Logger, trip *tripswitch.Switch) {
	_, evts, err := store.Load(ctx, nil)
	if err != nil {
		logger.Warn("no prior persisted state to bootstrap from", zap.Error(err))
		return
	}
	if _, err := persistence.Replay(manager, evts); err != nil {
		logger.Error("failed to replay persisted events at startup", zap.Error(err))
		trip.Trip("failed to replay persisted event history at startup")
	}
}
