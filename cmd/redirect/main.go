package main

import (
	"context"
	"errors"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"shortlink/pkg/config"
	httphandler "shortlink/pkg/http"
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
		logger.Error(ctx, "failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	linkService := service.NewLinkService(store, logger, service.Options{
		AllocationAttempts: cfg.AllocationAttempts,
		AllowedSchemes:     cfg.AllowedSchemes,
	})
	handler := httphandler.NewHandler(linkService, qr.NewEncoder(cfg.QRSize), cfg.BaseURL, logger)

	r := chi.NewRouter()
	httphandler.SetupRedirectRoutes(r, handler, logger)

	srv := &stdhttp.Server{Addr: ":" + cfg.RedirectPort, Handler: r}
	go func() {
		logger.Info(ctx, "starting redirect server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			logger.Error(ctx, "redirect server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "graceful shutdown failed", "error", err)
	}
}
