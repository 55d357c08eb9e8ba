package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ippclub/rustdist/internal/handler"
	"github.com/ippclub/rustdist/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog API and sync periodically",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts)
		},
	}
}

func runServe(opts *rootOptions) error {
	a, err := setup(opts)
	if err != nil {
		return err
	}
	defer a.close()
	log := a.log
	cfg := a.cfg

	syncService := a.syncService(cfg.Sync.Limit, cfg.Sync.Force)

	ctx, cancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	// Initialize API handler
	api := handler.NewAPI(ctx, cfg, log, a.store, syncService)

	// in-flight runs finish before the store is closed
	defer func() {
		cancel()
		workers.Wait()
		api.Close()
	}()

	// Create router
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	// Create server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	serverErr := make(chan error, 1)

	// Start server in a goroutine
	go func() {
		log.Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Start periodic sync
	workers.Add(1)
	go func() {
		defer workers.Done()
		ticker := time.NewTicker(cfg.Sync.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				report, err := syncService.Run(ctx)
				switch {
				case errors.Is(err, service.ErrSyncInProgress):
					log.Info("periodic sync skipped; a run is already in progress")
				case err != nil:
					log.Error("periodic sync failed", zap.Error(err))
				default:
					log.Info("periodic sync completed", zap.String("run_id", report.RunID))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	// Graceful shutdown
	log.Info("shutting down server...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited properly")
	return nil
}
