package main

import (
	"context"
	"log"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/thereayou/ghostroom/cmd/server"
	"github.com/thereayou/ghostroom/internal/config"
	"github.com/thereayou/ghostroom/internal/logging"
	"go.uber.org/zap"
)

func main() {
	envFile := config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	if envFile == "" {
		logger.Info(".env not found, using environment variables")
	}

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("redis connect failed", zap.Error(err))
	}

	go func() {
		if err := srv.Run(); err != nil {
			logger.Fatal("server run error", zap.Error(err))
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"server": srv.Shutdown,
		},
	)

	exitCode := <-wait
	logger.Info("exited", zap.Int("code", exitCode))
	os.Exit(exitCode)
}
