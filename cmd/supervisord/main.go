// Command supervisord is the full service process: HTTP control surface,
// the agent websocket, the run orchestrator, and the event-sourced store,
// all held behind internal/application.App. Shutdown follows the
// teacher's cmd/gateway/main.go pattern exactly: SIGINT/SIGTERM triggers a
// bounded-timeout graceful Stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/choiros/supervisor/internal/application"
	"github.com/choiros/supervisor/internal/infrastructure/config"
	"github.com/choiros/supervisor/internal/infrastructure/logger"
)

const (
	appName    = "supervisord"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("%s v%s\n", appName, appVersion)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	log, err := logger.New(logger.Config{Level: "info", Format: "json", OutputPath: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting supervisord", zap.String("version", appVersion))

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.New(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(ctx); err != nil {
		log.Fatal("failed to start application", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	log.Info("supervisord stopped cleanly")
}

func printUsage() {
	fmt.Printf(`%s v%s

Usage:
  supervisord           Start the supervisor service (default)
  supervisord version   Show version
  supervisord help      Show this help

Environment:
  CHOIR_*               Configuration overrides (see config/config.yaml)
`, appName, appVersion)
}
