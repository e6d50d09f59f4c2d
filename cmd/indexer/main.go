// Package main provides the embedding indexer entry point. It drains the
// Redis index queue, embedding badge images with Replicate CLIP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/mybadgelife/internal/app"
	"github.com/mybadgelife/internal/config"
	"github.com/mybadgelife/internal/logging"
	"github.com/mybadgelife/internal/ratelimit"
	"github.com/mybadgelife/internal/worker"
)

func main() {
	backfill := flag.Bool("backfill", false, "Enqueue every stored badge image before starting")
	flag.Parse()

	fmt.Println("MyBadgeLife Embedding Indexer")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)
	// background embeddings draw from the shared Replicate budget
	ctx = ratelimit.WithPriority(ctx, ratelimit.PriorityLow)

	infra, err := app.Connect(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to databases")
	}
	defer infra.Close()

	backend, err := app.New(cfg, infra)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize services")
	}
	if !backend.Replicate.Configured() {
		logger.Warn("REPLICATE_API_TOKEN is not set, every job will fail until it is configured")
	}

	if *backfill {
		queued, err := backend.Matching.ReindexAll(ctx)
		if err != nil {
			logger.WithError(err).Fatal("Failed to enqueue backfill")
		}
		logger.WithField("queued", queued).Info("Backfill enqueued")
	}

	indexer, err := worker.NewEmbeddingIndexer(&worker.EmbeddingIndexerConfig{
		Queue:       backend.Queue,
		Indexer:     backend.Matching,
		Workers:     cfg.Indexer.Workers,
		MaxAttempts: cfg.Indexer.MaxAttempts,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create indexer")
	}

	logger.WithFields(map[string]interface{}{
		"workers":     cfg.Indexer.Workers,
		"maxAttempts": cfg.Indexer.MaxAttempts,
	}).Info("Indexer started")

	if err := indexer.Run(ctx); err != nil {
		logger.WithError(err).Error("Indexer stopped with error")
	}

	stats := indexer.Stats()
	logger.WithFields(map[string]interface{}{
		"processed": stats.Processed,
		"retried":   stats.Retried,
		"dropped":   stats.Dropped,
	}).Info("Indexer exited")
}
