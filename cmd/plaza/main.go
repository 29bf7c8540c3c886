package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/plazaworld/plaza/internals/config"
	"github.com/plazaworld/plaza/internals/server"
	"github.com/plazaworld/plaza/internals/utils"
)

func main() {
	cfg := config.LoadConfig()

	if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger := utils.GetLogger()
	logger.Info("Starting Plaza server")

	srv, err := server.New(cfg)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-sigChan
	logger.Info("Received shutdown signal")

	srv.Stop()
	logger.Info("Plaza server stopped")
}
