package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgallion1/regcheck/internal/api"
	"github.com/dgallion1/regcheck/internal/app"
	"github.com/dgallion1/regcheck/internal/config"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if cfg.LoadOnStart {
		go func() {
			res := a.Ingester.LoadConfigured(ctx)
			for _, f := range res.Failed {
				log.Warn("configured document not loaded", "file", f.File, "error", f.Error)
			}
		}()
	}

	a.Orchestrator.Start(ctx)

	srv := api.NewServer(a, log)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // reload and assessment wait on the providers
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		cancel()
		if err := a.Close(); err != nil {
			log.Error("close failed", "error", err)
		}
	}()

	log.Info("starting regcheck", "port", cfg.Port, "documents", cfg.DocumentPaths)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
}
