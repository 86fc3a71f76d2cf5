package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"webhook-delivery/internal/common/logging"
	"webhook-delivery/internal/config"
)

// Run is the main entry point for the delivery engine.
func Run() error {
	_ = godotenv.Load()

	runtime.GOMAXPROCS(runtime.NumCPU())

	logging.InitGlobalLogger()
	defer logging.MustSync()

	logging.Info("starting webhook delivery engine",
		logging.Int("cpus", runtime.NumCPU()))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("configuration validation failed", err)
		return err
	}

	app, err := New(cfg)
	if err != nil {
		logging.Error("failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	if err := app.Start(context.Background()); err != nil {
		logging.Error("failed to start delivery engine", err)
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logging.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		logging.Error("shutdown did not finish cleanly", err)
		return err
	}

	logging.Info("delivery engine exited")
	return nil
}
