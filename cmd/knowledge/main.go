package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aihub/knowledge-retrieval/internal/config"
	"github.com/aihub/knowledge-retrieval/internal/logger"
	"github.com/aihub/knowledge-retrieval/internal/registry"
	"go.uber.org/zap"
)

func main() {
	if err := logger.InitLogger(); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	if err := config.LoadConfig(); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	reg, err := registry.Get()
	if err != nil {
		logger.Fatal("failed to initialize service registry", zap.Error(err))
	}

	logger.Info("knowledge retrieval core ready",
		zap.String("env", config.AppConfig.Server.Env),
		zap.String("vector_store_provider", config.AppConfig.VectorStore.Provider),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal, tearing down service registry", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	reg.Shutdown(ctx)

	logger.Info("shutdown complete")
}
