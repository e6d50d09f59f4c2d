// Package app wires configuration, storage, provider clients and services
// into the dependency graph shared by the server, indexer and badgectl
// binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/mybadgelife/internal/adapter"
	"github.com/mybadgelife/internal/api"
	"github.com/mybadgelife/internal/circuitbreaker"
	"github.com/mybadgelife/internal/config"
	"github.com/mybadgelife/internal/logging"
	"github.com/mybadgelife/internal/ratelimit"
	"github.com/mybadgelife/internal/service"
	"github.com/mybadgelife/internal/storage"
)

// researchTTL is how long per-badge research answers stay cached
const researchTTL = 24 * time.Hour

// Infra holds the database connections. ClickHouse is nil when analytics
// are disabled.
type Infra struct {
	Postgres   *storage.PostgresDB
	Redis      *storage.RedisCache
	ClickHouse *storage.ClickHouseDB
}

// Connect opens every configured database
func Connect(ctx context.Context, cfg *config.Config) (*Infra, error) {
	logger := logging.FromContext(ctx)

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		postgres.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	infra := &Infra{Postgres: postgres, Redis: redis}

	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		infra.ClickHouse = clickhouse
	} else {
		logger.Info("ClickHouse disabled, match analytics will not be recorded")
	}

	logger.Info("Database connections established")
	return infra, nil
}

// Close releases every open connection
func (i *Infra) Close() {
	logger := logging.GetGlobalLogger()
	if i.ClickHouse != nil {
		if err := i.ClickHouse.Close(); err != nil {
			logger.WithError(err).Warn("Error closing ClickHouse")
		}
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			logger.WithError(err).Warn("Error closing Redis")
		}
	}
	if i.Postgres != nil {
		i.Postgres.Close()
	}
}

// Providers are the outbound API clients, sharing one breaker manager
type Providers struct {
	Breakers   *circuitbreaker.Manager
	Replicate  *adapter.ReplicateClient
	Perplexity *adapter.PerplexityClient
	SerpAPI    *adapter.SerpAPIClient
	Discord    *adapter.DiscordClient
}

// NewProviders builds the provider clients. It needs no database; gate may
// be nil.
func NewProviders(cfg *config.Config, gate adapter.PredictionGate) *Providers {
	breakers := circuitbreaker.NewManager()
	opts := &adapter.ProviderOptions{Breakers: breakers}

	return &Providers{
		Breakers: breakers,
		Replicate: adapter.NewReplicateClient(adapter.ReplicateConfig{
			APIToken:     cfg.Replicate.APIToken,
			BaseURL:      cfg.Replicate.BaseURL,
			Version:      cfg.Replicate.ClipVersion,
			PollInterval: cfg.Matching.PollInterval,
			PollAttempts: cfg.Matching.PollAttempts,
			Gate:         gate,
		}, opts),
		Perplexity: adapter.NewPerplexityClient(cfg.Perplexity.APIKey, cfg.Perplexity.BaseURL, cfg.Perplexity.Model, opts),
		SerpAPI:    adapter.NewSerpAPIClient(cfg.SerpAPI.APIKey, cfg.SerpAPI.BaseURL, opts),
		Discord:    adapter.NewDiscordClient(cfg.Discord.WebhookURL, cfg.Discord.Username, opts),
	}
}

// App is the assembled backend
type App struct {
	Config   *config.Config
	Infra    *Infra
	Blobs    *storage.BlobStore
	Queue    *storage.IndexQueue
	Breakers *circuitbreaker.Manager

	Replicate  *adapter.ReplicateClient
	Perplexity *adapter.PerplexityClient
	SerpAPI    *adapter.SerpAPIClient
	Discord    *adapter.DiscordClient

	Profiles      *service.ProfileService
	Badges        *service.BadgeService
	Ownership     *service.OwnershipService
	Uploads       *service.UploadService
	Teams         *service.TeamService
	Preferences   *service.PreferenceService
	Matching      *service.MatchService
	Notifications *service.NotificationService
	Search        *service.SearchService
	Diagnostics   *service.DiagnosticsService
	Admin         *service.AdminService
}

// New builds repositories, provider clients and services over infra
func New(cfg *config.Config, infra *Infra) (*App, error) {
	blobs, err := storage.NewBlobStore(cfg.Storage.Dir, cfg.Server.PublicBaseURL, cfg.Storage.MaxUploadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	var gate adapter.PredictionGate
	if cfg.RateLimit.ReplicatePerMinute > 0 {
		budget, err := ratelimit.NewPredictionBudget(&ratelimit.BudgetConfig{
			Redis:    infra.Redis.Client(),
			Total:    cfg.RateLimit.ReplicatePerMinute,
			Reserved: cfg.RateLimit.ReplicateReserved,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create prediction budget: %w", err)
		}
		gate = budget
	}

	providers := NewProviders(cfg, gate)
	replicate := providers.Replicate
	perplexity := providers.Perplexity
	serp := providers.SerpAPI
	discord := providers.Discord
	breakers := providers.Breakers

	// Repositories
	profileRepo := storage.NewProfileRepository(infra.Postgres)
	badgeRepo := storage.NewBadgeRepository(infra.Postgres)
	imageRepo := storage.NewBadgeImageRepository(infra.Postgres)
	ownershipRepo := storage.NewOwnershipRepository(infra.Postgres)
	uploadRepo := storage.NewUploadRepository(infra.Postgres)
	embeddingRepo := storage.NewEmbeddingRepository(infra.Postgres)
	prefRepo := storage.NewEmailPreferenceRepository(infra.Postgres)
	teamRepo := storage.NewTeamRepository(infra.Postgres)

	var (
		events service.MatchEventRecorder
		stats  service.MatchStatsReader
	)
	if infra.ClickHouse != nil {
		eventRepo := storage.NewMatchEventRepository(infra.ClickHouse)
		events = eventRepo
		stats = eventRepo
	}

	// Caching and queueing
	cacheService := storage.NewCacheService(infra.Redis, cfg.Cache.TTL)
	loadingCache := storage.NewCoalescingCache(cacheService, cfg.Cache.LoadTimeout)
	queue := storage.NewIndexQueue(infra.Redis)

	notifications := service.NewNotificationService(discord, nil)

	matching := service.NewMatchService(service.MatchConfig{
		Threshold: cfg.Matching.Threshold,
		TopK:      cfg.Matching.TopK,
		CacheTTL:  cfg.Cache.MatchTTL,
		MaxBytes:  cfg.Storage.MaxUploadBytes,
	}, replicate, embeddingRepo, badgeRepo, imageRepo, blobs, loadingCache, cacheService, events, queue)

	a := &App{
		Config:     cfg,
		Infra:      infra,
		Blobs:      blobs,
		Queue:      queue,
		Breakers:   breakers,
		Replicate:  replicate,
		Perplexity: perplexity,
		SerpAPI:    serp,
		Discord:    discord,

		Profiles:      service.NewProfileService(profileRepo, ownershipRepo, notifications),
		Badges:        service.NewBadgeService(badgeRepo, imageRepo, ownershipRepo, blobs, queue, cacheService, notifications),
		Ownership:     service.NewOwnershipService(ownershipRepo, badgeRepo),
		Uploads:       service.NewUploadService(uploadRepo, badgeRepo, blobs, queue, notifications),
		Teams:         service.NewTeamService(teamRepo, badgeRepo, notifications),
		Preferences:   service.NewPreferenceService(prefRepo),
		Matching:      matching,
		Notifications: notifications,
		Search:        service.NewSearchService(perplexity, serp, badgeRepo, loadingCache, cacheService, cfg.Cache.TTL, researchTTL),
		Diagnostics:   service.NewDiagnosticsService(replicate, perplexity, serp, breakers, matching),
		Admin: service.NewAdminService(service.AdminCounters{
			Profiles:   profileRepo,
			Badges:     badgeRepo,
			Uploads:    uploadRepo,
			Teams:      teamRepo,
			Embeddings: embeddingRepo,
		}, stats),
	}
	return a, nil
}

// APIServices returns the service set the HTTP server routes to
func (a *App) APIServices() *api.Services {
	health := map[string]api.HealthChecker{
		"postgres": a.Infra.Postgres,
		"redis":    a.Infra.Redis,
	}
	if a.Infra.ClickHouse != nil {
		health["clickhouse"] = a.Infra.ClickHouse
	}

	return &api.Services{
		Profiles:      a.Profiles,
		Badges:        a.Badges,
		Ownership:     a.Ownership,
		Uploads:       a.Uploads,
		Teams:         a.Teams,
		Preferences:   a.Preferences,
		Matching:      a.Matching,
		Notifications: a.Notifications,
		Search:        a.Search,
		Diagnostics:   a.Diagnostics,
		Admin:         a.Admin,
		Media:         a.Blobs,
		Health:        health,
	}
}

// ServerConfig maps configuration onto the HTTP server settings
func (a *App) ServerConfig() *api.ServerConfig {
	cfg := a.Config
	return &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    90 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		AnonymousRPS:    cfg.RateLimit.AnonymousRPS,
		UserRPS:         cfg.RateLimit.UserRPS,
		AdminRPS:        cfg.RateLimit.AdminRPS,
		RateBurst:       cfg.RateLimit.Burst,
		MaxUploadBytes:  cfg.Storage.MaxUploadBytes,
	}
}
