package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CacheService provides JSON caching on top of Redis
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyMatch is for identification results keyed by image digest
	CacheKeyMatch CacheKeyType = "match"
	// CacheKeyResearch is for per-badge web research answers
	CacheKeyResearch CacheKeyType = "research"
	// CacheKeySearch is for search tester responses
	CacheKeySearch CacheKeyType = "search"
)

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := append([]string{string(keyType)}, params...)
	return strings.Join(parts, ":")
}

// Digest returns the hex sha256 of data, used to key content-addressed entries
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MatchKey keys an identification by the digest of the image bytes or URL
func (c *CacheService) MatchKey(digest string) string {
	return c.GenerateCacheKey(CacheKeyMatch, digest)
}

// ResearchKey keys the research answer for a badge
func (c *CacheService) ResearchKey(badgeID string) string {
	return c.GenerateCacheKey(CacheKeyResearch, badgeID)
}

// SearchKey keys a search tester response by provider and normalized query
func (c *CacheService) SearchKey(provider, query string) string {
	return c.GenerateCacheKey(CacheKeySearch, provider, Digest([]byte(strings.ToLower(strings.TrimSpace(query)))))
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value in cache with a custom TTL
func (c *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.redis.Set(ctx, key, data, ttl)
}

// Get retrieves a value from cache and deserializes it. A miss is reported
// as (false, nil).
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// InvalidateMatches drops every cached identification. Called when the
// embedding set changes so stale rankings are not served.
func (c *CacheService) InvalidateMatches(ctx context.Context) error {
	_, err := c.redis.DeletePattern(ctx, string(CacheKeyMatch)+":*")
	return err
}
