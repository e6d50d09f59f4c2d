// Package main provides the API server entry point for the MyBadgeLife backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mybadgelife/internal/api"
	"github.com/mybadgelife/internal/app"
	"github.com/mybadgelife/internal/auth"
	"github.com/mybadgelife/internal/config"
	"github.com/mybadgelife/internal/logging"
)

func main() {
	fmt.Println("MyBadgeLife API Server")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx := logging.WithLogger(context.Background(), logger)

	logger.Info("Connecting to databases...")
	infra, err := app.Connect(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to databases")
	}
	defer infra.Close()

	backend, err := app.New(cfg, infra)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize services")
	}

	logger.WithFields(map[string]interface{}{
		"replicate":  backend.Replicate.Configured(),
		"perplexity": backend.Perplexity.Configured(),
		"serpapi":    backend.SerpAPI.Configured(),
		"discord":    backend.Discord.Configured(),
	}).Info("Provider clients initialized")

	serverConfig := backend.ServerConfig()
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	server := api.NewServer(serverConfig, backend.APIServices(), verifier)

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("Shutting down server...")
	case err := <-serverErr:
		logger.WithError(err).Error("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
