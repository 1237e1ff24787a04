package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/api"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/app"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/cli"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/config"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/logger"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	if err := cfg.EnsureDataDir(); err != nil {
		zl.Fatal("create data directory", zap.Error(err))
	}

	db, err := database.Open(cfg)
	if err != nil {
		zl.Fatal("open database", zap.Error(err))
	}

	a, err := app.New(db, cfg, zl)
	if err != nil {
		zl.Fatal("build application", zap.Error(err))
	}
	defer a.Close()

	// Check if running CLI command
	if len(os.Args) > 1 {
		cli.Execute(a)
		return
	}

	srv := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           api.SetupRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	zl.Info("starting executive secretary",
		zap.String("port", cfg.APIPort),
		zap.String("data_dir", cfg.DataDir),
		zap.Bool("postgres", cfg.IsPostgres()),
		zap.Bool("google", cfg.GoogleConfigured()),
		zap.Duration("sync_interval", cfg.SyncInterval))
	if cfg.RequireAPIKey {
		zl.Info("api key required", zap.String("api_key", a.Auth.APIKeyManager.GetCurrentKey()))
	}

	a.Scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		zl.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			zl.Error("server failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zl.Warn("graceful shutdown", zap.Error(err))
	}
	a.Scheduler.Stop()
}
