package main

import (
	"context"
	"errors"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"shortlink/pkg/config"
	"shortlink/pkg/http"
	"shortlink/pkg/logging"
	"shortlink/pkg/qr"
	"shortlink/pkg/service"
	"shortlink/pkg/storage"

	"github.com/go-chi/chi/v5"
)

func main() {
	cfg := config.Load()
	logger := logging.NewLogger(logging.LogLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(ctx, "failed to open store", "backend", storage.Backend(cfg.DatabaseURL), "error", err)
		os.Exit(1)
	}
	defer store.Close()

	srv := &stdhttp.Server{
		Addr:    ":" + cfg.Port,
		Handler: newRouter(store, cfg, logger),
	}

	go func() {
		logger.Info(ctx, "starting API server", "addr", srv.Addr, "backend", storage.Backend(cfg.DatabaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			logger.Error(ctx, "API server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "graceful shutdown failed", "error", err)
	}
	logger.Info(shutdownCtx, "API server stopped")
}

func newRouter(store storage.Store, cfg *config.Config, logger *logging.Logger) *chi.Mux {
	linkService := service.NewLinkService(store, logger, service.Options{
		AllocationAttempts: cfg.AllocationAttempts,
		AllowedSchemes:     cfg.AllowedSchemes,
	})
	handler := http.NewHandler(linkService, qr.NewEncoder(cfg.QRSize), cfg.BaseURL, logger)

	r := chi.NewRouter()
	http.SetupRoutes(r, handler, logger)
	return r
}
