package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clearcart/support-agents/internal/agents"
	"github.com/clearcart/support-agents/internal/conversation"
	"github.com/clearcart/support-agents/internal/llm"
	"github.com/clearcart/support-agents/internal/orchestrator"
	"github.com/clearcart/support-agents/internal/router"
	"github.com/clearcart/support-agents/internal/server"
	"github.com/clearcart/support-agents/internal/storage"
	"github.com/clearcart/support-agents/internal/tools"
	"github.com/clearcart/support-agents/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.DBName,
			SSLMode:     cfg.Database.SSLMode,
			UseInMemory: cfg.Database.UseInMemory,
		}
		store, err = storage.NewPostgresStorage(dbConfig)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Language-model client shared by router, summarizer and agents
	llmClient := llm.NewOpenAIClient(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.MaxTokens,
		cfg.OpenAI.Temperature,
	)

	toolService := tools.NewService(store, logger)
	conversations := conversation.NewService(store, llmClient, logger)
	intentRouter := router.New(llmClient, logger)
	catalog := agents.NewCatalog(toolService, llmClient, logger)
	orch := orchestrator.New(conversations, intentRouter, catalog, logger)

	limiter := server.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, time.Minute, logger)
	limiter.Start()
	defer limiter.Stop()

	srv := server.New(server.Options{
		Addr:         cfg.Server.Addr,
		UserIDHeader: cfg.Server.UserIDHeader,
	}, orch, conversations, catalog, limiter, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Shutdown error", zap.Error(err))
		}
	}
}
