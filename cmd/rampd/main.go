// Command rampd is the accessibility pipeline daemon: it serves the ingest
// and status API and drives queued content through its stages.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"

	"ramp/internal/api"
	"ramp/internal/batch"
	"ramp/internal/config"
	"ramp/internal/enhance"
	"ramp/internal/logging"
	"ramp/internal/pipeline"
	"ramp/internal/queue"
	"ramp/internal/stage"
	"ramp/internal/status"
	"ramp/internal/workflow"
)

const shutdownGrace = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("rampd: %v", err)
	}
}

func run() error {
	// Local overrides (RAMP_CONFIG, developer settings); absence is fine.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, configPath, exists, err := config.Load(os.Getenv("RAMP_CONFIG"))
	if err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	if exists {
		logger.Info("configuration loaded", logging.String("path", configPath))
	} else {
		logger.Info("no configuration file found, using defaults", logging.String("path", configPath))
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	// One daemon per data directory; a second instance would race the queue
	// claims and double the API surface.
	lock := flock.New(filepath.Join(cfg.Paths.DataDir, "rampd.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		return errors.New("another rampd instance already holds " + lock.Path())
	}
	defer lock.Unlock() //nolint:errcheck

	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := stage.NewRegistry()
	if err := enhance.Register(registry, enhance.Options{
		DefaultLanguage: cfg.Pipeline.DefaultLanguage,
	}); err != nil {
		return err
	}
	registry.Seal()

	engine := pipeline.New(store, registry, logger, workflow.PipelineConfig(cfg))
	coordinator := batch.NewCoordinator(store, logger)
	engine.SetObserver(coordinator)

	manager := workflow.NewManager(cfg, store, engine, logger)
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer manager.Stop()

	server := api.NewServer(store, coordinator, status.NewService(store), logger, api.Options{
		Bind:            cfg.Paths.APIBind,
		DefaultLanguage: cfg.Pipeline.DefaultLanguage,
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("rampd shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", logging.Error(err))
	}
	return nil
}
