// Command websentry starts the scan API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wrenlabs/websentry/internal/app"
	"github.com/wrenlabs/websentry/internal/cache"
	"github.com/wrenlabs/websentry/internal/config"
	"github.com/wrenlabs/websentry/internal/dnscheck"
	"github.com/wrenlabs/websentry/internal/history"
	"github.com/wrenlabs/websentry/internal/logging"
	"github.com/wrenlabs/websentry/internal/server"
	"github.com/wrenlabs/websentry/internal/target"
	"github.com/wrenlabs/websentry/internal/webclient"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "websentry:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closeLogger, err := logging.NewProduction()
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer closeLogger()

	validator := target.NewValidator(nil, cfg.AllowPrivateTargets, logger)

	client, err := webclient.NewSafeClient(webclient.Config{
		ConnectTimeout:   cfg.ConnectTimeout,
		ReadTimeout:      cfg.ReadTimeout,
		MaxRedirects:     cfg.MaxRedirects,
		MaxResponseBytes: cfg.MaxResponseBytes,
		RetryMax:         cfg.RetryMax,
		UserAgent:        cfg.UserAgent,
	}, validator, logger, nil)
	if err != nil {
		return fmt.Errorf("building http client: %w", err)
	}

	store, err := history.NewSQLiteStore(cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer store.Close()

	resultCache := cache.NewMemory(time.Minute)
	dns := dnscheck.NewChecker(nil, cfg.DNSTimeout, logger)

	orch := app.NewOrchestrator(cfg, validator, client, dns, resultCache, store, logger)
	srv := server.NewServer(server.Config{ListenAddr: cfg.ListenAddr, Logger: logger}, orch, store)
	defer srv.Close()

	httpServer := srv.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", logging.Field{Key: "addr", Value: cfg.ListenAddr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", logging.Field{Key: "signal", Value: sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
