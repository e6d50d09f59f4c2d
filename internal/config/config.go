// Package config provides configuration management for the MyBadgeLife backend.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Cache      CacheConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
	Replicate  ReplicateConfig
	Matching   MatchingConfig
	Perplexity PerplexityConfig
	SerpAPI    SerpAPIConfig
	Discord    DiscordConfig
	Storage    StorageConfig
	Indexer    IndexerConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string
	Host           string
	PublicBaseURL  string
	AllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the postgres:// connection URL used by migrations
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration. Match analytics are
// skipped entirely when Enabled is false.
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	TTL         time.Duration
	MatchTTL    time.Duration
	LoadTimeout time.Duration
}

// AuthConfig holds the hosted-auth JWT verification settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// RateLimitConfig holds per-identity request rates (requests per second)
type RateLimitConfig struct {
	AnonymousRPS float64
	UserRPS      float64
	AdminRPS     float64
	Burst        int
	// Replicate predictions per minute across all processes, 0 disables
	ReplicatePerMinute int
	// Part of ReplicatePerMinute reserved for interactive matches
	ReplicateReserved int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// ReplicateConfig holds Replicate API configuration
type ReplicateConfig struct {
	APIToken    string
	BaseURL     string
	ClipVersion string
}

// MatchingConfig holds the image matching pipeline parameters
type MatchingConfig struct {
	Threshold    float64
	TopK         int
	PollInterval time.Duration
	PollAttempts int
}

// PerplexityConfig holds Perplexity API configuration
type PerplexityConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// SerpAPIConfig holds SerpAPI configuration
type SerpAPIConfig struct {
	APIKey  string
	BaseURL string
}

// DiscordConfig holds Discord webhook configuration
type DiscordConfig struct {
	WebhookURL string
	Username   string
}

// StorageConfig holds blob storage configuration
type StorageConfig struct {
	Dir            string
	MaxUploadBytes int64
}

// IndexerConfig holds embedding indexer worker configuration
type IndexerConfig struct {
	Workers     int
	MaxAttempts int
}

// defaultClipVersion is the andreasjansson/clip-features model version
const defaultClipVersion = "75b33f253f7714a281ad3e9b28f63e3232d583716ef6718f2e46641077ea040a"

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional; environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "mybadgelife"),
				User:           getEnv("POSTGRES_USER", "badgelife"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 25),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "mybadgelife"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Cache: CacheConfig{
			TTL:         getEnvAsDuration("CACHE_TTL", 5*time.Minute),
			MatchTTL:    getEnvAsDuration("MATCH_CACHE_TTL", time.Hour),
			LoadTimeout: getEnvAsDuration("CACHE_LOAD_TIMEOUT", 90*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_JWT_ISSUER", ""),
			Audience:  getEnv("AUTH_JWT_AUDIENCE", "authenticated"),
		},
		RateLimit: RateLimitConfig{
			AnonymousRPS: getEnvAsFloat("RATE_LIMIT_ANON_RPS", 2),
			UserRPS:      getEnvAsFloat("RATE_LIMIT_USER_RPS", 10),
			AdminRPS:     getEnvAsFloat("RATE_LIMIT_ADMIN_RPS", 50),
			Burst:        getEnvAsInt("RATE_LIMIT_BURST", 20),

			ReplicatePerMinute: getEnvAsInt("REPLICATE_PREDICTIONS_PER_MINUTE", 0),
			ReplicateReserved:  getEnvAsInt("REPLICATE_RESERVED_PER_MINUTE", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Replicate: ReplicateConfig{
			APIToken:    getEnv("REPLICATE_API_TOKEN", ""),
			BaseURL:     strings.TrimRight(getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"), "/"),
			ClipVersion: getEnv("REPLICATE_CLIP_VERSION", defaultClipVersion),
		},
		Matching: MatchingConfig{
			Threshold:    getEnvAsFloat("MATCH_THRESHOLD", 0.85),
			TopK:         getEnvAsInt("MATCH_TOP_K", 3),
			PollInterval: getEnvAsDuration("MATCH_POLL_INTERVAL", time.Second),
			PollAttempts: getEnvAsInt("MATCH_POLL_ATTEMPTS", 30),
		},
		Perplexity: PerplexityConfig{
			APIKey:  getEnv("PERPLEXITY_API_KEY", ""),
			BaseURL: strings.TrimRight(getEnv("PERPLEXITY_BASE_URL", "https://api.perplexity.ai"), "/"),
			Model:   getEnv("PERPLEXITY_MODEL", "sonar"),
		},
		SerpAPI: SerpAPIConfig{
			APIKey:  getEnv("SERPAPI_API_KEY", ""),
			BaseURL: strings.TrimRight(getEnv("SERPAPI_BASE_URL", "https://serpapi.com"), "/"),
		},
		Discord: DiscordConfig{
			WebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
			Username:   getEnv("DISCORD_USERNAME", "MyBadgeLife"),
		},
		Storage: StorageConfig{
			Dir:            getEnv("STORAGE_DIR", "./data/media"),
			MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_BYTES", 10<<20)),
		},
		Indexer: IndexerConfig{
			Workers:     getEnvAsInt("INDEXER_WORKERS", 2),
			MaxAttempts: getEnvAsInt("INDEXER_MAX_ATTEMPTS", 3),
		},
	}

	return config, nil
}

// Validate checks the settings the API server cannot run without
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	if c.Matching.Threshold <= 0 || c.Matching.Threshold > 1 {
		return fmt.Errorf("MATCH_THRESHOLD must be in (0, 1], got %v", c.Matching.Threshold)
	}
	if c.Matching.TopK <= 0 {
		return fmt.Errorf("MATCH_TOP_K must be positive, got %d", c.Matching.TopK)
	}
	if c.Matching.PollAttempts <= 0 {
		return fmt.Errorf("MATCH_POLL_ATTEMPTS must be positive, got %d", c.Matching.PollAttempts)
	}
	// the indexer only draws from the shared part, so it must be non-empty
	if rl := c.RateLimit; rl.ReplicateReserved < 0 || (rl.ReplicatePerMinute > 0 && rl.ReplicateReserved >= rl.ReplicatePerMinute) {
		return fmt.Errorf("REPLICATE_RESERVED_PER_MINUTE must be at least 0 and below REPLICATE_PREDICTIONS_PER_MINUTE")
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated variable, dropping empty entries
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
